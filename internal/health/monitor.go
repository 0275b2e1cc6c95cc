// Package health provides operational counters and the status endpoint for
// the bridge.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Status represents the health status of the bridge.
type Status struct {
	UptimeSeconds      int64     `json:"uptime_seconds"`
	RealtimeConnected  bool      `json:"realtime_connected"`
	ReconnectCount     int64     `json:"reconnect_count"`
	Refreshes          int64     `json:"refreshes"`
	EnrichmentPolls    int64     `json:"enrichment_polls"`
	MessagesSent       int64     `json:"messages_sent"`
	SendFailures       int64     `json:"send_failures"`
	LastRefresh        time.Time `json:"last_refresh"`
	ActiveConversation string    `json:"active_conversation,omitempty"`
}

// ConnectionProbe reports whether the realtime link is up.
type ConnectionProbe interface {
	Connected() bool
}

// ConversationProbe reports the conversation currently being reconciled.
type ConversationProbe interface {
	ActiveConversation() string
}

// Monitor tracks bridge counters. It satisfies the metrics sinks of the
// timeline, composer and realtime packages.
type Monitor struct {
	log *slog.Logger

	startTime       time.Time
	refreshes       atomic.Int64
	enrichmentPolls atomic.Int64
	messagesSent    atomic.Int64
	sendFailures    atomic.Int64
	reconnects      atomic.Int64

	mu          sync.RWMutex
	lastRefresh time.Time

	connProbe ConnectionProbe
	convProbe ConversationProbe
}

// NewMonitor creates a new health monitor.
func NewMonitor(log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		log:       log.With("component", "health"),
		startTime: time.Now(),
	}
}

// SetProbes wires the optional liveness probes after construction.
func (m *Monitor) SetProbes(conn ConnectionProbe, conv ConversationProbe) {
	m.connProbe = conn
	m.convProbe = conv
}

// RecordRefresh counts a completed timeline refresh.
func (m *Monitor) RecordRefresh() {
	m.refreshes.Add(1)
	m.mu.Lock()
	m.lastRefresh = time.Now()
	m.mu.Unlock()
}

// RecordEnrichmentPoll counts a media-enrichment poll tick.
func (m *Monitor) RecordEnrichmentPoll() {
	m.enrichmentPolls.Add(1)
}

// RecordMessageSent counts a successful outbound send.
func (m *Monitor) RecordMessageSent() {
	m.messagesSent.Add(1)
}

// RecordSendFailure counts a failed outbound send.
func (m *Monitor) RecordSendFailure() {
	m.sendFailures.Add(1)
}

// RecordRealtimeReconnect counts a websocket reconnect attempt.
func (m *Monitor) RecordRealtimeReconnect() {
	m.reconnects.Add(1)
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	lastRefresh := m.lastRefresh
	m.mu.RUnlock()

	status := Status{
		UptimeSeconds:   int64(time.Since(m.startTime).Seconds()),
		ReconnectCount:  m.reconnects.Load(),
		Refreshes:       m.refreshes.Load(),
		EnrichmentPolls: m.enrichmentPolls.Load(),
		MessagesSent:    m.messagesSent.Load(),
		SendFailures:    m.sendFailures.Load(),
		LastRefresh:     lastRefresh,
	}
	if m.connProbe != nil {
		status.RealtimeConnected = m.connProbe.Connected()
	}
	if m.convProbe != nil {
		status.ActiveConversation = m.convProbe.ActiveConversation()
	}
	return status
}

// Routes returns the HTTP handler exposing the status endpoints.
func (m *Monitor) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.GetStatus()); err != nil {
			m.log.Error("failed to encode status", "error", err)
		}
	})

	return r
}
