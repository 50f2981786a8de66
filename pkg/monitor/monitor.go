package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dougsko/js8emu/pkg/config"
	"github.com/dougsko/js8emu/pkg/engine"
	"github.com/dougsko/js8emu/pkg/logging"
)

// subscriberDepth bounds each websocket client's event backlog; a
// client that falls this far behind starts losing events.
const subscriberDepth = 64

// Monitor exposes a read-only HTTP view of a running emulator: a JSON
// status API and a websocket tap streaming every frame the engine sees.
type Monitor struct {
	engine    *engine.Engine
	version   string
	server    *http.Server
	startTime time.Time

	mutex       sync.Mutex
	subscribers map[chan engine.Event]struct{}
}

// interfaceSummary is the API view of one emulated station.
type interfaceSummary struct {
	Name        string `json:"name"`
	Port        int    `json:"port"`
	Callsign    string `json:"callsign"`
	Grid        string `json:"grid"`
	Dial        int    `json:"dial"`
	Offset      int    `json:"offset"`
	Freq        int    `json:"freq"`
	Connections int    `json:"connections"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// New creates a monitor serving the given engine.
func New(cfg *config.Config, eng *engine.Engine, version string) *Monitor {
	m := &Monitor{
		engine:      eng,
		version:     version,
		startTime:   time.Now(),
		subscribers: make(map[chan engine.Event]struct{}),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	api.GET("/status", m.handleStatus)
	api.GET("/interfaces", m.handleInterfaces)
	router.GET("/ws", m.handleWebSocket)

	m.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Monitor.BindAddress, cfg.Monitor.Port),
		Handler: router,
	}
	return m
}

// Start serves the monitor in the background.
func (m *Monitor) Start() {
	go func() {
		logging.Infof("monitor", "serving on http://%s", m.server.Addr)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("monitor", "server error: %v", err)
		}
	}()
}

// Stop shuts the monitor down gracefully.
func (m *Monitor) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		logging.Errorf("monitor", "shutdown error: %v", err)
	}
}

// Publish implements engine.EventSink. Slow subscribers lose events
// rather than stalling the engine.
func (m *Monitor) Publish(ev engine.Event) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Monitor) subscribe() chan engine.Event {
	ch := make(chan engine.Event, subscriberDepth)
	m.mutex.Lock()
	m.subscribers[ch] = struct{}{}
	m.mutex.Unlock()
	return ch
}

func (m *Monitor) unsubscribe(ch chan engine.Event) {
	m.mutex.Lock()
	delete(m.subscribers, ch)
	m.mutex.Unlock()
}

func (m *Monitor) summaries() []interfaceSummary {
	var out []interfaceSummary
	for _, iface := range m.engine.Interfaces() {
		dial, offset, freq := iface.Snapshot()
		out = append(out, interfaceSummary{
			Name:        iface.Name(),
			Port:        iface.Port(),
			Callsign:    iface.Callsign(),
			Grid:        iface.Grid(),
			Dial:        dial,
			Offset:      offset,
			Freq:        freq,
			Connections: iface.ConnCount(),
		})
	}
	return out
}

func (m *Monitor) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    m.version,
		"uptime":     time.Since(m.startTime).String(),
		"interfaces": m.summaries(),
	})
}

func (m *Monitor) handleInterfaces(c *gin.Context) {
	c.JSON(http.StatusOK, m.summaries())
}

// handleWebSocket streams engine events to the client until it goes
// away.
func (m *Monitor) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Errorf("monitor", "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := m.subscribe()
	defer m.unsubscribe(ch)

	logging.Infof("monitor", "websocket client connected from %s", conn.RemoteAddr())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
