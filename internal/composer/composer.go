// Package composer stages the next outgoing message: free text plus at most
// one attachment. Validation happens on attach; on a failed send all state
// is preserved so the operator can retry without retyping.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/communityhub/telegram-bridge/internal/capture"
	"github.com/communityhub/telegram-bridge/internal/timeline"
	"github.com/communityhub/telegram-bridge/internal/transport"
)

// Attachment kinds accepted by the provider.
const (
	KindPhoto     = "photo"
	KindVideo     = "video"
	KindVideoNote = "video_note"
	KindAudio     = "audio"
	KindVoice     = "voice"
	KindDocument  = "document"
)

// Limits holds per-kind attachment size ceilings in bytes. Video and
// video-note payloads are allowed larger than images and documents.
type Limits struct {
	PhotoMaxBytes    int64
	DocumentMaxBytes int64
	VideoMaxBytes    int64
}

func (l Limits) ceiling(kind string) int64 {
	switch kind {
	case KindPhoto:
		return l.PhotoMaxBytes
	case KindVideo, KindVideoNote:
		return l.VideoMaxBytes
	default:
		return l.DocumentMaxBytes
	}
}

// ErrTooLarge is returned when an attachment exceeds its kind's ceiling.
type ErrTooLarge struct {
	Kind    string
	Size    int64
	Ceiling int64
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("%s attachment of %d bytes exceeds the %d byte limit", e.Kind, e.Size, e.Ceiling)
}

// Sender sends the staged message through the remote messaging function.
type Sender interface {
	SendMessage(ctx context.Context, conversationID, text string, file *transport.Attachment) (int64, error)
}

// TimelineSink receives the optimistic insert and its resolution.
type TimelineSink interface {
	AppendLocal(msg timeline.Message) (string, error)
	MarkLocalSent(localID string, providerMessageID int64)
	MarkLocalFailed(localID string)
}

// Metrics counts send outcomes for the health monitor.
type Metrics interface {
	RecordMessageSent()
	RecordSendFailure()
}

// Composer holds pending text and at most one attachment.
type Composer struct {
	sender   Sender
	sink     TimelineSink
	metrics  Metrics
	limits   Limits
	identity string // admin display name for optimistic inserts
	log      *slog.Logger

	mu         sync.Mutex
	text       string
	attachment *transport.Attachment
	attachMime string
}

// New creates a composer. sink may be nil when no timeline is attached.
func New(sender Sender, sink TimelineSink, limits Limits, identity string, log *slog.Logger) *Composer {
	if log == nil {
		log = slog.Default()
	}
	return &Composer{
		sender:   sender,
		sink:     sink,
		limits:   limits,
		identity: identity,
		log:      log,
	}
}

// SetMetrics wires the optional metrics sink after construction.
func (c *Composer) SetMetrics(m Metrics) {
	c.metrics = m
}

// SetText replaces the pending text.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
}

// Text returns the pending text.
func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Attach stages a file for the next send, replacing any staged attachment.
// Files over the kind's ceiling are rejected and never reach the transport.
func (c *Composer) Attach(name, kind, mimeType string, data []byte) error {
	ceiling := c.limits.ceiling(kind)
	if ceiling > 0 && int64(len(data)) > ceiling {
		return &ErrTooLarge{Kind: kind, Size: int64(len(data)), Ceiling: ceiling}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachment = &transport.Attachment{Type: kind, Name: name, Data: data}
	c.attachMime = mimeType
	return nil
}

// AttachRecording stages a confirmed camera recording as a video note.
func (c *Composer) AttachRecording(rec *capture.Recording) error {
	if rec == nil {
		return fmt.Errorf("no recording to attach")
	}
	return c.Attach(rec.FileName, KindVideoNote, rec.MimeType, rec.Data)
}

// Attachment returns the staged attachment, or nil.
func (c *Composer) Attachment() *transport.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachment
}

// ClearAttachment discards the staged attachment.
func (c *Composer) ClearAttachment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachment = nil
	c.attachMime = ""
}

// Send submits the staged message. The timeline shows the message as
// pending before any network round-trip. On success both text and
// attachment are cleared; on failure both are preserved and the optimistic
// insert transitions to failed.
func (c *Composer) Send(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	text := c.text
	attachment := c.attachment
	attachMime := c.attachMime
	c.mu.Unlock()

	if text == "" && attachment == nil {
		return fmt.Errorf("nothing to send")
	}

	var localID string
	if c.sink != nil {
		msg := timeline.Message{
			ConversationID: conversationID,
			Direction:      timeline.DirectionOutgoing,
			Text:           text,
			Status:         timeline.StatusPending,
			CreatedAt:      time.Now(),
			SenderDisplay:  c.identity,
		}
		if attachment != nil {
			mimeType := attachMime
			if mimeType == "" {
				mimeType = mimeTypeFor(attachment)
			}
			msg.Media = &timeline.MediaDescriptor{
				Kind:         attachment.Type,
				FileName:     attachment.Name,
				MimeType:     mimeType,
				UploadStatus: timeline.UploadPending,
			}
		}
		id, err := c.sink.AppendLocal(msg)
		if err != nil {
			return err
		}
		localID = id
	}

	providerID, err := c.sender.SendMessage(ctx, conversationID, text, attachment)
	if err != nil {
		if c.sink != nil {
			c.sink.MarkLocalFailed(localID)
		}
		if c.metrics != nil {
			c.metrics.RecordSendFailure()
		}
		c.log.Warn("send failed", "conversation", conversationID, "error", err)
		return err
	}

	c.mu.Lock()
	c.text = ""
	c.attachment = nil
	c.attachMime = ""
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordMessageSent()
	}
	if c.sink != nil {
		c.sink.MarkLocalSent(localID, providerID)
	}
	return nil
}

func mimeTypeFor(a *transport.Attachment) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(a.Name))); t != "" {
		return t
	}
	switch a.Type {
	case KindPhoto:
		return "image/jpeg"
	case KindVideo, KindVideoNote:
		return "video/mp4"
	case KindAudio, KindVoice:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
