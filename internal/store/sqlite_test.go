package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/communityhub/telegram-bridge/internal/timeline"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "timeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ts(sec int) time.Time {
	return time.Date(2026, 1, 2, 15, 0, sec, 0, time.UTC)
}

func TestSQLiteStore_SaveAndLoadMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msgs := []timeline.Message{
		{
			ID:                "m1",
			Direction:         timeline.DirectionIncoming,
			Text:              "hello",
			ProviderMessageID: 5,
			Status:            timeline.StatusSent,
			CreatedAt:         ts(10),
			SenderDisplay:     "User",
			Media: &timeline.MediaDescriptor{
				Kind:         "photo",
				FileName:     "pic.jpg",
				MimeType:     "image/jpeg",
				DirectURL:    "https://cdn.example.com/pic.jpg",
				Bucket:       "media",
				Path:         "chats/1/pic.jpg",
				UploadStatus: timeline.UploadOK,
			},
		},
		{
			ID:        "m2",
			Direction: timeline.DirectionOutgoing,
			Text:      "reply",
			Status:    timeline.StatusSent,
			CreatedAt: ts(20),
		},
	}

	require.NoError(t, s.SaveMessages(ctx, "conv-1", msgs))

	got, err := s.LoadMessages(ctx, "conv-1", 50)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Oldest first.
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "conv-1", got[0].ConversationID)
	require.NotNil(t, got[0].Media)
	assert.Equal(t, "https://cdn.example.com/pic.jpg", got[0].Media.DirectURL)
	assert.Equal(t, timeline.UploadOK, got[0].Media.UploadStatus)

	assert.Equal(t, "m2", got[1].ID)
	assert.Nil(t, got[1].Media)
}

func TestSQLiteStore_UpsertPreservesResolvedURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	resolved := []timeline.Message{{
		ID:        "m1",
		CreatedAt: ts(10),
		Media: &timeline.MediaDescriptor{
			Kind:      "photo",
			DirectURL: "https://cdn.example.com/pic.jpg",
		},
	}}
	require.NoError(t, s.SaveMessages(ctx, "conv-1", resolved))

	// A later snapshot raced ahead of the mirroring job.
	regressed := []timeline.Message{{
		ID:        "m1",
		CreatedAt: ts(10),
		Media:     &timeline.MediaDescriptor{Kind: "photo", UploadStatus: timeline.UploadPending},
	}}
	require.NoError(t, s.SaveMessages(ctx, "conv-1", regressed))

	got, err := s.LoadMessages(ctx, "conv-1", 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://cdn.example.com/pic.jpg", got[0].Media.DirectURL)
}

func TestSQLiteStore_LoadMessagesHonorsLimitNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var msgs []timeline.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, timeline.Message{
			ID:        string(rune('a' + i)),
			CreatedAt: ts(i),
		})
	}
	require.NoError(t, s.SaveMessages(ctx, "conv-1", msgs))

	got, err := s.LoadMessages(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// The newest 3, returned oldest first.
	assert.Equal(t, "h", got[0].ID)
	assert.Equal(t, "j", got[2].ID)
}

func TestSQLiteStore_MessagePagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var msgs []timeline.Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs, timeline.Message{
			ID:        string(rune('a' + i)),
			CreatedAt: ts(i),
		})
	}
	require.NoError(t, s.SaveMessages(ctx, "conv-1", msgs))

	page, err := s.Messages.List(ctx, "conv-1", 2, "d")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)
	assert.Equal(t, "c", page[1].ID)
}

func TestSQLiteStore_ConversationsIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMessages(ctx, "conv-1", []timeline.Message{{ID: "m1", CreatedAt: ts(1)}}))
	require.NoError(t, s.SaveMessages(ctx, "conv-2", []timeline.Message{{ID: "m1", CreatedAt: ts(2)}}))

	count, err := s.Messages.Count(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := s.LoadMessages(ctx, "conv-2", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "conv-2", got[0].ConversationID)
}

func TestSQLiteStore_SaveAndLoadEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	evts := []timeline.Event{
		{
			ID:               "e1",
			Action:           timeline.ActionAccessGrant,
			Status:           "done",
			CreatedAt:        ts(10),
			NotificationText: "Access granted",
			Meta:             map[string]string{"days": "30"},
		},
		{
			ID:        "e2",
			Action:    timeline.ActionKick,
			CreatedAt: ts(20),
		},
	}
	require.NoError(t, s.SaveEvents(ctx, "conv-1", evts))

	got, err := s.LoadEvents(ctx, "conv-1", 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "30", got[0].Meta["days"])
	assert.Nil(t, got[1].Meta)

	// Upsert replaces in place.
	evts[0].Status = "revoked"
	require.NoError(t, s.SaveEvents(ctx, "conv-1", evts))
	got, err = s.LoadEvents(ctx, "conv-1", 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "revoked", got[0].Status)
}
