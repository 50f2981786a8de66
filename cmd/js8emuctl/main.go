package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/dougsko/js8emu/pkg/client"
)

var port = pflag.IntP("port", "p", 2442, "Interface port to connect to")

func usage() {
	fmt.Fprintf(os.Stderr, `js8emuctl - control client for a running js8emu

Usage: js8emuctl [-p port] <command>

Commands:
  callsign          Query the interface callsign
  freq              Query dial/offset/frequency
  setfreq <dial>    Retune the interface dial
  send <text...>    Transmit a message and print the PTT sequence
  listen            Print every frame the interface emits
`)
	os.Exit(2)
}

func main() {
	pflag.Parse()
	args := pflag.Args()
	if len(args) == 0 {
		usage()
	}

	c := client.NewClient(*port)
	if err := c.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "js8emuctl: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	var err error
	switch args[0] {
	case "callsign":
		var callsign string
		if callsign, err = c.GetCallsign(); err == nil {
			fmt.Println(callsign)
		}

	case "freq":
		var dial, offset, freq int
		if dial, offset, freq, err = c.GetFrequency(); err == nil {
			fmt.Printf("dial=%d offset=%d freq=%d\n", dial, offset, freq)
		}

	case "setfreq":
		if len(args) != 2 {
			usage()
		}
		var dial int
		if dial, err = strconv.Atoi(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "js8emuctl: invalid dial %q\n", args[1])
			os.Exit(1)
		}
		reply, rerr := c.SetFrequency(dial)
		if rerr != nil {
			err = rerr
			break
		}
		fmt.Printf("%s DIAL=%v FREQ=%v\n", reply.Type, reply.Params["DIAL"], reply.Params["FREQ"])

	case "send":
		if len(args) < 2 {
			usage()
		}
		if err = c.SendMessage(strings.Join(args[1:], " ")); err != nil {
			break
		}
		// Print the PTT sequence until the interface goes quiet.
		for {
			msg, rerr := c.Read()
			if rerr != nil {
				break
			}
			fmt.Printf("%s %s\n", msg.Type, msg.Value)
		}

	case "listen":
		for {
			msg, rerr := c.Read()
			if rerr != nil {
				err = rerr
				break
			}
			fmt.Printf("%s value=%q params=%v\n", msg.Type, msg.Value, msg.Params)
		}

	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "js8emuctl: %v\n", err)
		os.Exit(1)
	}
}
