package engine

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dougsko/js8emu/pkg/clock"
	"github.com/dougsko/js8emu/pkg/config"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/protocol"
)

// jobGrace bounds how long Stop waits for in-flight transmit jobs.
const jobGrace = 10 * time.Second

// connGrace bounds how long Stop waits for write queues to drain.
const connGrace = 1 * time.Second

// Handler processes one decoded message on the connection it arrived on.
type Handler func(*Conn, *protocol.Message)

// Engine is the multi-interface broadcast core: one TCP listener per
// emulated station, a dispatch table for the request/response protocol,
// and the transmit scheduler that fans a sender's payload out to every
// co-frequency interface.
type Engine struct {
	config *config.Config
	noise  *clock.Noise
	sink   EventSink

	interfaces map[int]*Interface
	order      []*Interface
	handlers   map[string]Handler
	listeners  []net.Listener

	jobs     sync.WaitGroup
	quit     chan struct{}
	stopOnce sync.Once
	mutex    sync.RWMutex
	running  bool
}

// NewEngine creates an engine from configuration. Listeners are not
// bound until Start.
func NewEngine(cfg *config.Config) *Engine {
	e := &Engine{
		config:     cfg,
		noise:      clock.NewClockNoise(),
		interfaces: make(map[int]*Interface),
		handlers:   make(map[string]Handler),
		quit:       make(chan struct{}),
	}

	for _, ic := range cfg.Interfaces {
		iface := NewInterface(ic)
		e.interfaces[ic.Port] = iface
		e.order = append(e.order, iface)
	}

	e.RegisterHandler(protocol.TypeGetCallsign, e.handleGetCallsign)
	e.RegisterHandler(protocol.TypeGetFreq, e.handleGetFreq)
	e.RegisterHandler(protocol.TypeSetFreq, e.handleSetFreq)
	e.RegisterHandler(protocol.TypeSendMessage, e.handleSendMessage)

	return e
}

// RegisterHandler installs the handler for a message type. New types
// can be added without touching the read loop.
func (e *Engine) RegisterHandler(msgType string, h Handler) {
	e.handlers[msgType] = h
}

// SetNoise replaces the SNR/TDRIFT source, for deterministic tests.
func (e *Engine) SetNoise(n *clock.Noise) {
	e.noise = n
}

// SetEventSink installs an observer for every frame the engine sees.
func (e *Engine) SetEventSink(sink EventSink) {
	e.sink = sink
}

// Interfaces returns the interfaces in configuration order.
func (e *Engine) Interfaces() []*Interface {
	return append([]*Interface(nil), e.order...)
}

// InterfaceByPort returns the interface listening on the given port.
func (e *Engine) InterfaceByPort(port int) *Interface {
	return e.interfaces[port]
}

// Start binds one listener per interface and begins accepting clients.
// A refused port is fatal: everything bound so far is closed again and
// the error names the offending interface.
func (e *Engine) Start() error {
	e.mutex.Lock()
	e.running = true
	e.mutex.Unlock()

	for _, iface := range e.order {
		addr := fmt.Sprintf("127.0.0.1:%d", iface.Port())
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, bound := range e.listeners {
				bound.Close()
			}
			return fmt.Errorf("[%s] failed to listen on %s: %w", iface.Name(), addr, err)
		}
		e.listeners = append(e.listeners, ln)
		logging.Infof("engine", "%s listening on %s callsign=%s dial=%d offset=%d grid=%s",
			iface.Name(), addr, iface.Callsign(), iface.Dial(), iface.Offset(), iface.Grid())

		go e.acceptLoop(iface, ln)
	}

	return nil
}

// Stop shuts the engine down: listeners close immediately, in-flight
// transmit jobs run to completion within a grace period, and
// connections close once their write queues drain.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		e.mutex.Lock()
		e.running = false
		e.mutex.Unlock()

		for _, ln := range e.listeners {
			ln.Close()
		}

		done := make(chan struct{})
		go func() {
			e.jobs.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(jobGrace):
			logging.Warn("engine", "transmit jobs still running after grace period")
		}
		close(e.quit)

		var wg sync.WaitGroup
		for _, iface := range e.order {
			for _, c := range iface.Conns() {
				wg.Add(1)
				go func(c *Conn) {
					defer wg.Done()
					c.DrainAndClose(connGrace)
				}(c)
			}
		}
		wg.Wait()
	})

	return nil
}

func (e *Engine) isRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

func (e *Engine) acceptLoop(iface *Interface, ln net.Listener) {
	for {
		sock, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !e.isRunning() {
				return
			}
			logging.Errorf("engine", "%s accept: %v", iface.Name(), err)
			continue
		}

		c := newConn(iface, sock, e.publish)
		iface.attach(c)
		logging.Infof("engine", "%s accepted connection from %s", iface.Name(), c.RemoteAddr())
		go c.readLoop(e.dispatch)
	}
}

// dispatch routes a decoded message through the handler table. Unknown
// types are logged and ignored.
func (e *Engine) dispatch(c *Conn, msg *protocol.Message) {
	handler, ok := e.handlers[msg.Type]
	if !ok {
		logging.Debugf("engine", "%s: unknown message type %q ignored", c.Interface().Name(), msg.Type)
		return
	}
	handler(c, msg)
}

func (e *Engine) publish(ev Event) {
	if e.sink != nil {
		e.sink.Publish(ev)
	}
}

// sleepFrame waits out one frame duration. It returns false only when
// the engine is tearing down hard and the job should abandon its
// remaining frames.
func (e *Engine) sleepFrame(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-e.quit:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.quit:
		return false
	}
}
