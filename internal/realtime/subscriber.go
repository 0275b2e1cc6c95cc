// Package realtime subscribes to row-insert notifications over a websocket
// so the timeline refreshes promptly instead of waiting for the next poll.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Notifier receives a push signal for a conversation. The reconciler's
// NotifyPush satisfies this.
type Notifier interface {
	NotifyPush(conversationID string)
}

// Metrics counts reconnects for the health monitor.
type Metrics interface {
	RecordRealtimeReconnect()
}

// Config tunes the subscriber's connection behavior.
type Config struct {
	URL            string
	APIKey         string
	ReconnectBase  time.Duration
	ReconnectMax   time.Duration
	PingInterval   time.Duration
	HandshakeLimit time.Duration
}

// insertPayload is the shape of a row-insert notification. Only inserts on
// the watched tables carry a conversation id; everything else is ignored.
type insertPayload struct {
	Type  string `json:"type"`
	Table string `json:"table"`
	New   struct {
		ConversationID string `json:"conversation_id"`
	} `json:"new"`
}

// Subscriber maintains a websocket connection and forwards insert
// notifications to the reconciler.
type Subscriber struct {
	cfg      Config
	notifier Notifier
	metrics  Metrics
	log      *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSubscriber creates a subscriber. It does not connect until Start.
func NewSubscriber(cfg Config, notifier Notifier, metrics Metrics, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.HandshakeLimit <= 0 {
		cfg.HandshakeLimit = 10 * time.Second
	}
	return &Subscriber{
		cfg:      cfg,
		notifier: notifier,
		metrics:  metrics,
		log:      log.With("component", "realtime"),
	}
}

// Start runs the connect/read loop in the background until Stop or context
// cancellation. Reconnects use exponential backoff, reset after a successful
// connection.
func (s *Subscriber) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(ctx)
	}()
}

// Stop closes the connection and waits for the loop to exit.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

// Connected reports whether the websocket is currently established.
func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Subscriber) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectBase
	bo.MaxInterval = s.cfg.ReconnectMax
	bo.MaxElapsedTime = 0

	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !first {
			if s.metrics != nil {
				s.metrics.RecordRealtimeReconnect()
			}
			wait := bo.NextBackOff()
			s.log.Info("reconnecting", "wait", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		first = false

		if err := s.connectAndRead(ctx); err != nil {
			s.log.Warn("connection lost", "error", err)
			continue
		}
		// Clean shutdown.
		return
	}
}

func (s *Subscriber) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeLimit}
	header := http.Header{}
	if s.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.connected = false
		s.mu.Unlock()
		conn.Close()
	}()

	s.log.Info("connected", "url", s.cfg.URL)

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(conn, pingDone)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.handleMessage(data)
	}
}

func (s *Subscriber) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Subscriber) handleMessage(data []byte) {
	var payload insertPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.log.Debug("ignoring unparseable frame", "error", err)
		return
	}
	if payload.Type != "" && payload.Type != "INSERT" {
		return
	}
	if payload.New.ConversationID == "" {
		return
	}
	s.log.Debug("insert notification", "table", payload.Table, "conversation_id", payload.New.ConversationID)
	s.notifier.NotifyPush(payload.New.ConversationID)
}
