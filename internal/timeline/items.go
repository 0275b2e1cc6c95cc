// Package timeline reconciles polled messages, realtime inserts, and admin
// events into one chronologically ordered conversation timeline.
package timeline

import (
	"time"
)

// Direction indicates which side of the conversation produced a message.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// MessageStatus tracks the delivery lifecycle of a message.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
	StatusDeleted MessageStatus = "deleted"
)

// UploadStatus tracks the server-side media mirroring job. An empty value
// marks a legacy record written before the enrichment pipeline existed.
type UploadStatus string

const (
	UploadPending     UploadStatus = "pending"
	UploadOK          UploadStatus = "ok"
	UploadError       UploadStatus = "error"
	UploadUnavailable UploadStatus = "unavailable"
)

// MediaDescriptor describes media attached to a message. DirectURL and the
// storage coordinates are independently optional: enrichment fills them in
// out-of-band and the client only ever re-reads them via polling.
type MediaDescriptor struct {
	Kind         string       `json:"kind,omitempty"`
	FileName     string       `json:"file_name,omitempty"`
	MimeType     string       `json:"mime_type,omitempty"`
	DirectURL    string       `json:"direct_url,omitempty"`
	Bucket       string       `json:"bucket,omitempty"`
	Path         string       `json:"path,omitempty"`
	UploadStatus UploadStatus `json:"upload_status,omitempty"`
	UploadError  string       `json:"upload_error,omitempty"`
}

// HasStorageRef reports whether mirroring has at least been scheduled.
func (m *MediaDescriptor) HasStorageRef() bool {
	return m != nil && m.Bucket != "" && m.Path != ""
}

// Resolved reports whether the media has been mirrored to durable storage.
func (m *MediaDescriptor) Resolved() bool {
	return m != nil && m.DirectURL != ""
}

// Message is a single chat turn.
type Message struct {
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversation_id"`
	Direction         Direction        `json:"direction"`
	Text              string           `json:"text,omitempty"`
	ProviderMessageID int64            `json:"provider_message_id,omitempty"`
	Status            MessageStatus    `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
	Edited            bool             `json:"edited"`
	Deleted           bool             `json:"deleted"`
	SenderDisplay     string           `json:"sender_display,omitempty"`
	Media             *MediaDescriptor `json:"media,omitempty"`
}

// EnrichmentPending reports whether this message is still waiting on the
// server-side mirroring job.
func (m *Message) EnrichmentPending() bool {
	return m.Media != nil && m.Media.UploadStatus == UploadPending && !m.Media.Resolved()
}

// CanEdit reports whether the provider will accept an edit: only outgoing,
// still-sent, provider-id-bearing messages qualify.
func (m *Message) CanEdit() bool {
	return m.Direction == DirectionOutgoing &&
		m.Status == StatusSent &&
		!m.Deleted &&
		m.ProviderMessageID > 0
}

// CanDelete reports whether the provider will accept a delete.
func (m *Message) CanDelete() bool {
	return m.CanEdit()
}

// Event is an admin/audit log entry shown inline in the timeline.
type Event struct {
	ID               string            `json:"id"`
	ConversationID   string            `json:"conversation_id"`
	Action           string            `json:"action"`
	Status           string            `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	NotificationText string            `json:"notification_text,omitempty"`
	Meta             map[string]string `json:"meta,omitempty"`
}

// Event action tags.
const (
	ActionLinkSuccess  = "link_success"
	ActionLinkFailure  = "link_failure"
	ActionAccessGrant  = "access_grant"
	ActionAccessRevoke = "access_revoke"
	ActionAccessExtend = "access_extend"
	ActionKick         = "kick"
	ActionMerge        = "merge"
	ActionUnmerge      = "unmerge"
	ActionNotification = "manual_notification"
)

// ItemKind discriminates the timeline item union.
type ItemKind int

const (
	ItemMessage ItemKind = iota
	ItemEvent
)

// Item is a closed sum of Message and Event. Exactly one of the two fields
// is non-nil, selected by Kind. The variants share only a timestamp, which
// is the sole ordering signal.
type Item struct {
	Kind    ItemKind
	Message *Message
	Event   *Event
}

// CreatedAt returns the timestamp used for global ordering.
func (it Item) CreatedAt() time.Time {
	switch it.Kind {
	case ItemMessage:
		return it.Message.CreatedAt
	default:
		return it.Event.CreatedAt
	}
}
