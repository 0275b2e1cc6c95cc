// Package store persists reconciled conversation timelines so the console
// can render history before the first poll completes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/communityhub/telegram-bridge/internal/timeline"
)

// SQLiteStore implements the timeline cache using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	Messages *SQLiteMessageRepo
	Events   *SQLiteEventRepo
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{
		db:       db,
		Messages: &SQLiteMessageRepo{db: db},
		Events:   &SQLiteEventRepo{db: db},
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMessages upserts a polled message snapshot.
func (s *SQLiteStore) SaveMessages(ctx context.Context, conversationID string, msgs []timeline.Message) error {
	return s.Messages.UpsertBatch(ctx, conversationID, msgs)
}

// SaveEvents upserts a polled event snapshot.
func (s *SQLiteStore) SaveEvents(ctx context.Context, conversationID string, evts []timeline.Event) error {
	return s.Events.UpsertBatch(ctx, conversationID, evts)
}

// LoadMessages returns the newest cached messages, oldest first.
func (s *SQLiteStore) LoadMessages(ctx context.Context, conversationID string, limit int) ([]timeline.Message, error) {
	return s.Messages.List(ctx, conversationID, limit, "")
}

// LoadEvents returns the newest cached events, oldest first.
func (s *SQLiteStore) LoadEvents(ctx context.Context, conversationID string, limit int) ([]timeline.Event, error) {
	return s.Events.List(ctx, conversationID, limit)
}

func runMigrations(db *sql.DB) error {
	migration := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		provider_message_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'sent',
		created_at TIMESTAMP NOT NULL,
		edited BOOLEAN NOT NULL DEFAULT FALSE,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		sender_display TEXT NOT NULL DEFAULT '',
		media_kind TEXT NOT NULL DEFAULT '',
		media_file_name TEXT NOT NULL DEFAULT '',
		media_mime_type TEXT NOT NULL DEFAULT '',
		media_url TEXT NOT NULL DEFAULT '',
		media_bucket TEXT NOT NULL DEFAULT '',
		media_path TEXT NOT NULL DEFAULT '',
		upload_status TEXT NOT NULL DEFAULT '',
		upload_error TEXT NOT NULL DEFAULT '',
		has_media BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (id, conversation_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		notification_text TEXT NOT NULL DEFAULT '',
		meta TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (id, conversation_id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_conversation_created
		ON events(conversation_id, created_at DESC);
	`
	_, err := db.Exec(migration)
	return err
}

// SQLiteMessageRepo persists cached messages.
type SQLiteMessageRepo struct {
	db *sql.DB
}

// UpsertBatch writes a snapshot in one transaction. The upsert applies the
// same URL monotonicity as the in-memory merge: a resolved media URL is
// never overwritten by an empty one.
func (r *SQLiteMessageRepo) UpsertBatch(ctx context.Context, conversationID string, msgs []timeline.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO messages
		(id, conversation_id, direction, text, provider_message_id, status, created_at, edited, deleted, sender_display,
		 media_kind, media_file_name, media_mime_type, media_url, media_bucket, media_path, upload_status, upload_error, has_media)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, conversation_id) DO UPDATE SET
			direction = excluded.direction,
			text = excluded.text,
			provider_message_id = excluded.provider_message_id,
			status = excluded.status,
			created_at = excluded.created_at,
			edited = excluded.edited,
			deleted = excluded.deleted,
			sender_display = excluded.sender_display,
			media_kind = excluded.media_kind,
			media_file_name = excluded.media_file_name,
			media_mime_type = excluded.media_mime_type,
			media_url = CASE
				WHEN excluded.media_url = '' AND messages.media_url != '' THEN messages.media_url
				ELSE excluded.media_url
			END,
			media_bucket = excluded.media_bucket,
			media_path = excluded.media_path,
			upload_status = excluded.upload_status,
			upload_error = excluded.upload_error,
			has_media = excluded.has_media
	`
	for _, msg := range msgs {
		var m timeline.MediaDescriptor
		hasMedia := msg.Media != nil
		if hasMedia {
			m = *msg.Media
		}
		_, err := tx.ExecContext(ctx, query,
			msg.ID, conversationID, msg.Direction, msg.Text, msg.ProviderMessageID, msg.Status,
			msg.CreatedAt, msg.Edited, msg.Deleted, msg.SenderDisplay,
			m.Kind, m.FileName, m.MimeType, m.DirectURL, m.Bucket, m.Path,
			string(m.UploadStatus), m.UploadError, hasMedia,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// List returns up to limit messages, oldest first. A non-empty before id
// paginates backwards from that message's timestamp.
func (r *SQLiteMessageRepo) List(ctx context.Context, conversationID string, limit int, before string) ([]timeline.Message, error) {
	const columns = `id, direction, text, provider_message_id, status, created_at, edited, deleted, sender_display,
		media_kind, media_file_name, media_mime_type, media_url, media_bucket, media_path, upload_status, upload_error, has_media`

	var query string
	var args []interface{}
	if before != "" {
		query = `
			SELECT ` + columns + `
			FROM messages
			WHERE conversation_id = ? AND created_at < (SELECT created_at FROM messages WHERE id = ? AND conversation_id = ?)
			ORDER BY created_at DESC
			LIMIT ?
		`
		args = []interface{}{conversationID, before, conversationID, limit}
	} else {
		query = `
			SELECT ` + columns + `
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		`
		args = []interface{}{conversationID, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows, conversationID)
	if err != nil {
		return nil, err
	}

	// Stored newest-first for the limit; displayed oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Count returns the number of cached messages for a conversation.
func (r *SQLiteMessageRepo) Count(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&count)
	return count, err
}

func scanMessages(rows *sql.Rows, conversationID string) ([]timeline.Message, error) {
	var msgs []timeline.Message
	for rows.Next() {
		var msg timeline.Message
		var m timeline.MediaDescriptor
		var uploadStatus string
		var hasMedia bool

		err := rows.Scan(
			&msg.ID, &msg.Direction, &msg.Text, &msg.ProviderMessageID, &msg.Status,
			&msg.CreatedAt, &msg.Edited, &msg.Deleted, &msg.SenderDisplay,
			&m.Kind, &m.FileName, &m.MimeType, &m.DirectURL, &m.Bucket, &m.Path,
			&uploadStatus, &m.UploadError, &hasMedia,
		)
		if err != nil {
			return nil, err
		}
		msg.ConversationID = conversationID
		if hasMedia {
			m.UploadStatus = timeline.UploadStatus(uploadStatus)
			media := m
			msg.Media = &media
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// SQLiteEventRepo persists cached admin events.
type SQLiteEventRepo struct {
	db *sql.DB
}

// UpsertBatch writes an event snapshot in one transaction.
func (r *SQLiteEventRepo) UpsertBatch(ctx context.Context, conversationID string, evts []timeline.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO events (id, conversation_id, action, status, created_at, notification_text, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, conversation_id) DO UPDATE SET
			action = excluded.action,
			status = excluded.status,
			created_at = excluded.created_at,
			notification_text = excluded.notification_text,
			meta = excluded.meta
	`
	for _, evt := range evts {
		meta := "{}"
		if len(evt.Meta) > 0 {
			data, err := json.Marshal(evt.Meta)
			if err != nil {
				return err
			}
			meta = string(data)
		}
		_, err := tx.ExecContext(ctx, query,
			evt.ID, conversationID, evt.Action, evt.Status, evt.CreatedAt, evt.NotificationText, meta,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// List returns up to limit events, oldest first.
func (r *SQLiteEventRepo) List(ctx context.Context, conversationID string, limit int) ([]timeline.Event, error) {
	query := `
		SELECT id, action, status, created_at, notification_text, meta
		FROM events
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evts []timeline.Event
	for rows.Next() {
		var evt timeline.Event
		var meta string
		if err := rows.Scan(&evt.ID, &evt.Action, &evt.Status, &evt.CreatedAt, &evt.NotificationText, &meta); err != nil {
			return nil, err
		}
		evt.ConversationID = conversationID
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &evt.Meta); err != nil {
				return nil, err
			}
		}
		evts = append(evts, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(evts)-1; i < j; i, j = i+1, j-1 {
		evts[i], evts[j] = evts[j], evts[i]
	}
	return evts, nil
}

var _ timeline.Cache = (*SQLiteStore)(nil)
