// Package api exposes the bridge's conversation operations over HTTP for the
// admin console frontend.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/communityhub/telegram-bridge/internal/composer"
	"github.com/communityhub/telegram-bridge/internal/present"
	"github.com/communityhub/telegram-bridge/internal/timeline"
	"github.com/communityhub/telegram-bridge/internal/transport"
)

// Server handles console API requests.
type Server struct {
	reconciler *timeline.Reconciler
	composer   *composer.Composer
	client     *transport.Client
	log        *slog.Logger
}

// NewServer creates a console API server.
func NewServer(rec *timeline.Reconciler, comp *composer.Composer, client *transport.Client, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		reconciler: rec,
		composer:   comp,
		client:     client,
		log:        log.With("component", "api"),
	}
}

// Routes returns the console API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/conversations/{conversationID}", func(r chi.Router) {
		r.Post("/open", s.handleOpen)
		r.Get("/timeline", s.handleTimeline)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/send", s.handleSend)
		r.Put("/messages/{messageID}", s.handleEdit)
		r.Delete("/messages/{messageID}", s.handleDelete)
	})
	r.Post("/compose/text", s.handleComposeText)
	r.Post("/compose/attachment", s.handleComposeAttachment)
	r.Delete("/compose/attachment", s.handleClearAttachment)

	return r
}

// timelineItem is the wire shape of one rendered timeline entry. Media
// carries the presenter's decision so the frontend renders without
// re-deriving states.
type timelineItem struct {
	Kind      string            `json:"kind"`
	Message   *timeline.Message `json:"message,omitempty"`
	Event     *timeline.Event   `json:"event,omitempty"`
	MediaView *present.View     `json:"mediaView,omitempty"`
	CanEdit   bool              `json:"canEdit,omitempty"`
	CanDelete bool              `json:"canDelete,omitempty"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	s.reconciler.SwitchConversation(conversationID)
	writeJSON(w, http.StatusOK, map[string]string{"conversationId": conversationID})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if s.reconciler.ActiveConversation() != conversationID {
		writeError(w, http.StatusConflict, "conversation is not open")
		return
	}

	items := s.reconciler.Timeline()
	out := make([]timelineItem, 0, len(items))
	for _, item := range items {
		kind := "message"
		if item.Kind == timeline.ItemEvent {
			kind = "event"
		}
		ti := timelineItem{
			Kind:    kind,
			Message: item.Message,
			Event:   item.Event,
		}
		if item.Message != nil {
			if item.Message.Deleted {
				// A soft delete keeps the timeline slot but its content
				// never crosses the wire again.
				redacted := *item.Message
				redacted.Text = ""
				redacted.Media = nil
				ti.Message = &redacted
			}
			ti.CanEdit = item.Message.CanEdit()
			ti.CanDelete = item.Message.CanDelete()
			if m := ti.Message.Media; m != nil {
				view := present.Resolve(m)
				ti.MediaView = &view
			}
		}
		out = append(out, ti)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversationId": conversationID,
		"avatarUrl":      s.reconciler.AvatarURL(),
		"items":          out,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if s.reconciler.ActiveConversation() != conversationID {
		writeError(w, http.StatusConflict, "conversation is not open")
		return
	}
	s.reconciler.RequestRefresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleComposeText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.composer.SetText(req.Text)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComposeAttachment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Kind     string `json:"kind"`
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "attachment data is not valid base64")
		return
	}

	if err := s.composer.Attach(req.Name, req.Kind, req.MimeType, data); err != nil {
		var tooLarge *composer.ErrTooLarge
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, tooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearAttachment(w http.ResponseWriter, r *http.Request) {
	s.composer.ClearAttachment()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := s.composer.Send(r.Context(), conversationID); err != nil {
		writeSendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	providerID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.client.EditMessage(r.Context(), conversationID, providerID, req.Text); err != nil {
		writeSendError(w, err)
		return
	}
	s.reconciler.RequestRefresh()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	providerID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	if err := s.client.DeleteMessage(r.Context(), conversationID, providerID); err != nil {
		writeSendError(w, err)
		return
	}
	s.reconciler.RequestRefresh()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeSendError maps transport errors to HTTP responses, preserving the
// provider's error code and retry hint for the frontend.
func writeSendError(w http.ResponseWriter, err error) {
	var sendErr *transport.SendError
	if errors.As(err, &sendErr) {
		status := http.StatusBadGateway
		if sendErr.Code == transport.ErrInvalidInput {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]interface{}{
			"error": sendErr.Message,
			"code":  sendErr.Code,
			"retry": sendErr.Retry,
		})
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}
