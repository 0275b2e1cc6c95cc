package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// MessageSource fetches message rows for a conversation.
type MessageSource interface {
	FetchMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	FetchProfilePhoto(ctx context.Context, conversationID string) (string, error)
}

// EventSource fetches admin/audit event rows for a conversation.
type EventSource interface {
	FetchEvents(ctx context.Context, conversationID string, limit int) ([]Event, error)
}

// Cache persists reconciled timelines so a conversation can render history
// before its first poll completes. Implementations must tolerate concurrent
// use; all methods are best-effort from the reconciler's point of view.
type Cache interface {
	SaveMessages(ctx context.Context, conversationID string, msgs []Message) error
	SaveEvents(ctx context.Context, conversationID string, evts []Event) error
	LoadMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	LoadEvents(ctx context.Context, conversationID string, limit int) ([]Event, error)
}

// Metrics receives counters for the health monitor.
type Metrics interface {
	RecordRefresh()
	RecordEnrichmentPoll()
}

// Options tunes refresh behavior.
type Options struct {
	FetchLimit         int
	DebounceWindow     time.Duration
	EnrichPollInterval time.Duration
	EnrichPollBudget   int
}

// session holds all per-conversation state: the merged snapshot, optimistic
// local inserts, and every timer and counter that must not leak across a
// conversation switch.
type session struct {
	conversationID string
	ctx            context.Context
	cancel         context.CancelFunc

	messages  []Message
	events    []Event
	locals    []Message
	avatarURL string

	refreshing  bool
	debounce    *time.Timer
	pollTimer   *time.Timer
	pollBackoff backoff.BackOff
}

func (s *session) stopTimers() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	s.pollBackoff = nil
}

// Reconciler merges polled messages, realtime push notifications, and polled
// events into one ordered timeline per conversation.
type Reconciler struct {
	source  MessageSource
	events  EventSource
	cache   Cache
	metrics Metrics
	log     *slog.Logger
	opts    Options

	// baseCtx outlives any single caller; sessions derive from it so
	// background refreshes keep running after the triggering request ends.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	sess      *session
	listeners []func(conversationID string, items []Item)
}

// NewReconciler creates a reconciler. cache and metrics may be nil.
func NewReconciler(source MessageSource, events EventSource, cache Cache, metrics Metrics, log *slog.Logger, opts Options) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 100
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = time.Second
	}
	if opts.EnrichPollInterval <= 0 {
		opts.EnrichPollInterval = 5 * time.Second
	}
	if opts.EnrichPollBudget <= 0 {
		opts.EnrichPollBudget = 12
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Reconciler{
		source:     source,
		events:     events,
		cache:      cache,
		metrics:    metrics,
		log:        log,
		opts:       opts,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// OnUpdate registers a callback invoked whenever the displayed timeline of
// the active conversation changes.
func (r *Reconciler) OnUpdate(fn func(conversationID string, items []Item)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// SwitchConversation makes conversationID the active conversation. The
// previous session's fetches are cancelled and its timers and poll budget
// discarded; late results for it are never applied. The cached timeline is
// loaded synchronously and a network refresh starts in the background. The
// session lives until the next switch or Close, never tied to the caller.
func (r *Reconciler) SwitchConversation(conversationID string) {
	sctx, cancel := context.WithCancel(r.baseCtx)
	s := &session{
		conversationID: conversationID,
		ctx:            sctx,
		cancel:         cancel,
	}

	r.mu.Lock()
	if old := r.sess; old != nil {
		old.stopTimers()
		old.cancel()
	}
	r.sess = s
	r.mu.Unlock()

	if r.cache != nil {
		msgs, err := r.cache.LoadMessages(sctx, conversationID, r.opts.FetchLimit)
		if err != nil {
			r.log.Warn("cache load failed", "conversation", conversationID, "error", err)
		}
		evts, err := r.cache.LoadEvents(sctx, conversationID, r.opts.FetchLimit)
		if err != nil {
			r.log.Warn("cache load failed", "conversation", conversationID, "error", err)
		}
		r.mu.Lock()
		if r.sess == s {
			s.messages = msgs
			s.events = evts
		}
		r.mu.Unlock()
	}

	go r.refreshSession(s)
	go r.fetchAvatar(s)
}

// ActiveConversation returns the id of the active conversation, or "".
func (r *Reconciler) ActiveConversation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return ""
	}
	return r.sess.conversationID
}

// Timeline returns the ordered timeline of the active conversation.
func (r *Reconciler) Timeline() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	return r.buildLocked(r.sess)
}

// AvatarURL returns the cached profile photo URL of the active conversation.
func (r *Reconciler) AvatarURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return ""
	}
	return r.sess.avatarURL
}

// NotifyPush handles a realtime row-insert notification. Notifications for
// other conversations are ignored; bursts within the debounce window
// coalesce into a single refresh.
func (r *Reconciler) NotifyPush(conversationID string) {
	r.mu.Lock()
	s := r.sess
	if s == nil || s.conversationID != conversationID {
		r.mu.Unlock()
		return
	}
	if s.debounce != nil {
		s.debounce.Reset(r.opts.DebounceWindow)
		r.mu.Unlock()
		return
	}
	s.debounce = time.AfterFunc(r.opts.DebounceWindow, func() {
		r.mu.Lock()
		if r.sess == s {
			s.debounce = nil
		}
		r.mu.Unlock()
		r.refreshSession(s)
	})
	r.mu.Unlock()
}

// RequestRefresh triggers an immediate refresh of the active conversation.
func (r *Reconciler) RequestRefresh() {
	r.mu.Lock()
	s := r.sess
	r.mu.Unlock()
	if s != nil {
		go r.refreshSession(s)
	}
}

// AppendLocal inserts an optimistic local message, visible immediately
// without any network round-trip. Returns the (possibly generated) local id.
func (r *Reconciler) AppendLocal(msg Message) (string, error) {
	if msg.ID == "" {
		msg.ID = "local-" + uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	r.mu.Lock()
	s := r.sess
	if s == nil || s.conversationID != msg.ConversationID {
		r.mu.Unlock()
		return "", fmt.Errorf("conversation %s is not active", msg.ConversationID)
	}
	s.locals = append(s.locals, msg)
	items := r.buildLocked(s)
	r.mu.Unlock()

	r.notify(s.conversationID, items)
	return msg.ID, nil
}

// MarkLocalSent records provider acceptance of an optimistic insert and
// refreshes so the server row replaces the placeholder.
func (r *Reconciler) MarkLocalSent(localID string, providerMessageID int64) {
	r.mu.Lock()
	s := r.sess
	if s == nil {
		r.mu.Unlock()
		return
	}
	for i := range s.locals {
		if s.locals[i].ID == localID {
			s.locals[i].Status = StatusSent
			s.locals[i].ProviderMessageID = providerMessageID
			break
		}
	}
	items := r.buildLocked(s)
	r.mu.Unlock()

	r.notify(s.conversationID, items)
	go r.refreshSession(s)
}

// MarkLocalFailed transitions an optimistic insert to failed. The message
// stays on the timeline; it is never silently dropped.
func (r *Reconciler) MarkLocalFailed(localID string) {
	r.mu.Lock()
	s := r.sess
	if s == nil {
		r.mu.Unlock()
		return
	}
	for i := range s.locals {
		if s.locals[i].ID == localID {
			s.locals[i].Status = StatusFailed
			break
		}
	}
	items := r.buildLocked(s)
	r.mu.Unlock()

	r.notify(s.conversationID, items)
}

// refreshSession fetches both sources and applies the merge. A refresh
// already in flight suppresses this one; results arriving after a
// conversation switch are discarded.
func (r *Reconciler) refreshSession(s *session) {
	r.mu.Lock()
	if r.sess != s || s.refreshing {
		r.mu.Unlock()
		return
	}
	s.refreshing = true
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordRefresh()
	}

	msgs, msgErr := r.source.FetchMessages(s.ctx, s.conversationID, r.opts.FetchLimit)
	evts, evtErr := r.events.FetchEvents(s.ctx, s.conversationID, r.opts.FetchLimit)

	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		return
	}
	s.refreshing = false

	if msgErr != nil {
		r.log.Warn("message poll failed", "conversation", s.conversationID, "error", msgErr)
	} else {
		s.messages = MergeMessages(s.messages, msgs)
		s.locals = dropConfirmedLocals(s.locals, s.messages)
	}
	if evtErr != nil {
		r.log.Warn("event poll failed", "conversation", s.conversationID, "error", evtErr)
	} else {
		s.events = evts
	}

	r.scheduleEnrichmentPollLocked(s)
	items := r.buildLocked(s)
	r.mu.Unlock()

	if r.cache != nil && msgErr == nil {
		if err := r.cache.SaveMessages(s.ctx, s.conversationID, msgs); err != nil {
			r.log.Warn("cache save failed", "conversation", s.conversationID, "error", err)
		}
	}
	if r.cache != nil && evtErr == nil {
		if err := r.cache.SaveEvents(s.ctx, s.conversationID, evts); err != nil {
			r.log.Warn("cache save failed", "conversation", s.conversationID, "error", err)
		}
	}

	r.notify(s.conversationID, items)
}

// scheduleEnrichmentPollLocked arms the bounded background poll while any
// message is still waiting on media mirroring. The poll runs at a fixed
// interval with a capped attempt count, and stops within one cycle once
// nothing is pending. Caller holds r.mu.
func (r *Reconciler) scheduleEnrichmentPollLocked(s *session) {
	if !anyEnrichmentPending(s.messages) {
		if s.pollTimer != nil {
			s.pollTimer.Stop()
			s.pollTimer = nil
		}
		s.pollBackoff = nil
		return
	}

	if s.pollBackoff == nil {
		s.pollBackoff = backoff.WithMaxRetries(
			backoff.NewConstantBackOff(r.opts.EnrichPollInterval),
			uint64(r.opts.EnrichPollBudget),
		)
	}

	delay := s.pollBackoff.NextBackOff()
	if delay == backoff.Stop {
		r.log.Info("enrichment poll budget exhausted", "conversation", s.conversationID)
		return
	}

	// A refresh completing while a poll is already armed re-arms it; the
	// old timer must not keep firing alongside the new one.
	if s.pollTimer != nil {
		s.pollTimer.Stop()
	}
	s.pollTimer = time.AfterFunc(delay, func() {
		if r.metrics != nil {
			r.metrics.RecordEnrichmentPoll()
		}
		r.refreshSession(s)
	})
}

func (r *Reconciler) fetchAvatar(s *session) {
	url, err := r.source.FetchProfilePhoto(s.ctx, s.conversationID)
	if err != nil {
		r.log.Debug("profile photo fetch failed", "conversation", s.conversationID, "error", err)
		return
	}
	r.mu.Lock()
	if r.sess == s {
		s.avatarURL = url
	}
	r.mu.Unlock()
}

// buildLocked assembles the displayed timeline. Caller holds r.mu.
func (r *Reconciler) buildLocked(s *session) []Item {
	msgs := make([]Message, 0, len(s.messages)+len(s.locals))
	msgs = append(msgs, s.messages...)
	msgs = append(msgs, s.locals...)
	return BuildTimeline(msgs, s.events)
}

func (r *Reconciler) notify(conversationID string, items []Item) {
	r.mu.Lock()
	listeners := make([]func(string, []Item), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(conversationID, items)
	}
}

// Close cancels the active session and stops all timers.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseCancel()
	if r.sess != nil {
		r.sess.stopTimers()
		r.sess.cancel()
		r.sess = nil
	}
}
