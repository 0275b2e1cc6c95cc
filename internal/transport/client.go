// Package transport invokes the remote messaging function that fronts the
// Telegram Bot API. The function is opaque: one request/response per
// operation, with file payloads carried as base64.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/communityhub/telegram-bridge/internal/timeline"
)

// Attachment is a file payload for send_message.
type Attachment struct {
	Type string // photo | video | video_note | audio | voice | document
	Name string
	Data []byte
}

// Client calls the remote messaging function over HTTP.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	chunkSize  int
	log        *slog.Logger
}

// NewClient creates a messaging function client.
func NewClient(endpoint, apiKey string, timeout time.Duration, chunkSize int, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
		chunkSize:  chunkSize,
		log:        log,
	}
}

type filePayload struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Base64 string `json:"base64"`
}

type functionRequest struct {
	Action         string       `json:"action"`
	ConversationID string       `json:"conversationId"`
	Text           string       `json:"text,omitempty"`
	NewText        string       `json:"newText,omitempty"`
	MessageID      int64        `json:"messageId,omitempty"`
	Limit          int          `json:"limit,omitempty"`
	File           *filePayload `json:"file,omitempty"`
}

type wireMedia struct {
	Kind         string `json:"kind"`
	FileName     string `json:"fileName"`
	MimeType     string `json:"mimeType"`
	DirectURL    string `json:"directUrl"`
	Bucket       string `json:"bucket"`
	Path         string `json:"path"`
	UploadStatus string `json:"uploadStatus"`
	UploadError  string `json:"uploadError"`
}

type wireMessage struct {
	ID                string     `json:"id"`
	Direction         string     `json:"direction"`
	Text              string     `json:"text"`
	ProviderMessageID int64      `json:"providerMessageId"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
	Edited            bool       `json:"edited"`
	Deleted           bool       `json:"deleted"`
	SenderDisplay     string     `json:"senderDisplay"`
	Media             *wireMedia `json:"media"`
}

type functionResponse struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error"`
	Messages  []wireMessage `json:"messages"`
	MessageID int64         `json:"messageId"`
	AvatarURL string        `json:"avatarUrl"`
}

func (c *Client) invoke(ctx context.Context, req functionRequest) (*functionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("function invocation failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("function returned status %d: %s", resp.StatusCode, data)
	}

	var fr functionResponse
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !fr.Success {
		return nil, TranslateProviderError(fr.Error)
	}
	return &fr, nil
}

// FetchMessages returns up to limit message rows for the conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int) ([]timeline.Message, error) {
	fr, err := c.invoke(ctx, functionRequest{
		Action:         "get_messages",
		ConversationID: conversationID,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]timeline.Message, 0, len(fr.Messages))
	for _, w := range fr.Messages {
		msgs = append(msgs, w.toMessage(conversationID))
	}
	return msgs, nil
}

// SendMessage sends text and/or a file. Exactly one request reaches the
// provider; the returned id is the provider-assigned message id.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string, file *Attachment) (int64, error) {
	if text == "" && file == nil {
		return 0, NewInvalidInputError("message must carry text or a file")
	}

	req := functionRequest{
		Action:         "send_message",
		ConversationID: conversationID,
		Text:           text,
	}
	if file != nil {
		req.File = &filePayload{
			Type:   file.Type,
			Name:   file.Name,
			Base64: encodeChunked(file.Data, c.chunkSize),
		}
	}

	fr, err := c.invoke(ctx, req)
	if err != nil {
		return 0, err
	}
	return fr.MessageID, nil
}

// EditMessage rewrites the text of an already-sent outgoing message. The UI
// should not offer edit otherwise, but the call is validated here as well.
func (c *Client) EditMessage(ctx context.Context, conversationID string, providerMessageID int64, newText string) error {
	if providerMessageID <= 0 {
		return NewInvalidInputError("edit requires a provider message id")
	}
	if newText == "" {
		return NewInvalidInputError("edit requires non-empty text")
	}

	_, err := c.invoke(ctx, functionRequest{
		Action:         "edit_message",
		ConversationID: conversationID,
		MessageID:      providerMessageID,
		NewText:        newText,
	})
	return err
}

// DeleteMessage soft-deletes a sent outgoing message.
func (c *Client) DeleteMessage(ctx context.Context, conversationID string, providerMessageID int64) error {
	if providerMessageID <= 0 {
		return NewInvalidInputError("delete requires a provider message id")
	}

	_, err := c.invoke(ctx, functionRequest{
		Action:         "delete_message",
		ConversationID: conversationID,
		MessageID:      providerMessageID,
	})
	return err
}

// FetchProfilePhoto returns the end-user's avatar URL, if any.
func (c *Client) FetchProfilePhoto(ctx context.Context, conversationID string) (string, error) {
	fr, err := c.invoke(ctx, functionRequest{
		Action:         "fetch_profile_photo",
		ConversationID: conversationID,
	})
	if err != nil {
		return "", err
	}
	return fr.AvatarURL, nil
}

func (w wireMessage) toMessage(conversationID string) timeline.Message {
	msg := timeline.Message{
		ID:                w.ID,
		ConversationID:    conversationID,
		Direction:         timeline.Direction(w.Direction),
		Text:              w.Text,
		ProviderMessageID: w.ProviderMessageID,
		Status:            timeline.MessageStatus(w.Status),
		CreatedAt:         w.CreatedAt,
		Edited:            w.Edited,
		Deleted:           w.Deleted,
		SenderDisplay:     w.SenderDisplay,
	}
	if msg.Status == "" {
		msg.Status = timeline.StatusSent
	}
	if w.Media != nil {
		msg.Media = &timeline.MediaDescriptor{
			Kind:         w.Media.Kind,
			FileName:     w.Media.FileName,
			MimeType:     w.Media.MimeType,
			DirectURL:    w.Media.DirectURL,
			Bucket:       w.Media.Bucket,
			Path:         w.Media.Path,
			UploadStatus: timeline.UploadStatus(w.Media.UploadStatus),
			UploadError:  w.Media.UploadError,
		}
	}
	return msg
}
