package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/communityhub/telegram-bridge/internal/timeline"
)

// EventLogClient reads the admin event/log store through the backend's row
// API. Rows tagged as chat-message mirrors are excluded server-side; those
// live in the message source instead.
type EventLogClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	table      string
	log        *slog.Logger
}

// NewEventLogClient creates an event store client.
func NewEventLogClient(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *EventLogClient {
	if log == nil {
		log = slog.Default()
	}
	return &EventLogClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		table:      "admin_events",
		log:        log,
	}
}

type wireEvent struct {
	ID               string            `json:"id"`
	ConversationID   string            `json:"conversation_id"`
	Action           string            `json:"action"`
	Status           string            `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	NotificationText string            `json:"notification_text"`
	Meta             map[string]string `json:"meta"`
}

// FetchEvents returns up to limit event rows for the conversation, oldest
// first, excluding chat-message mirror rows. The query takes the newest
// rows and the result is reversed here, so the limit never cuts off the
// recent events the operator is looking at.
func (c *EventLogClient) FetchEvents(ctx context.Context, conversationID string, limit int) ([]timeline.Event, error) {
	q := url.Values{}
	q.Set("conversation_id", "eq."+conversationID)
	q.Set("action", "neq.chat_message")
	q.Set("order", "created_at.desc")
	q.Set("limit", fmt.Sprintf("%d", limit))

	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, c.table, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("event query failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("event store returned status %d: %s", resp.StatusCode, data)
	}

	var rows []wireEvent
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	events := make([]timeline.Event, len(rows))
	for i, row := range rows {
		events[len(rows)-1-i] = timeline.Event{
			ID:               row.ID,
			ConversationID:   row.ConversationID,
			Action:           row.Action,
			Status:           row.Status,
			CreatedAt:        row.CreatedAt,
			NotificationText: row.NotificationText,
			Meta:             row.Meta,
		}
	}
	return events, nil
}
