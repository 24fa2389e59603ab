package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mistakeknot/miochat/internal/config"
	"github.com/mistakeknot/miochat/internal/core"
	"github.com/sirupsen/logrus"
)

type sendMessageRequest struct {
	ID         string `json:"id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// handleConversation serves GET /api/conversations/{peer_id}: both
// directions in (created_at, seq) order.
func (s *Service) handleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	peerID := pathID(r, "/api/conversations/")
	if peerID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	msgs, err := s.store.ConversationMessages(r.Context(), userID, peerID, s.historyLimit)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"user_id": userID,
			"peer_id": peerID,
			"error":   err.Error(),
		}).Warn("Conversation query failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleSendMessage serves POST /api/messages. The sender is always the
// caller and created_at is assigned here. Re-sending an id returns the
// stored row without a second broadcast.
func (s *Service) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.ReceiverID == "" || req.ReceiverID == userID {
		s.rejected(errBadRequest)
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.rejected(errEmptyContent)
		writeError(w, http.StatusBadRequest, errEmptyContent)
		return
	}
	ctx := r.Context()
	if _, err := s.store.GetProfile(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !s.limiter.Allow(userID, s.now()) {
		s.rejected(errRateLimited)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, errRateLimited)
		return
	}
	if s.policy == config.BlockSuppressDelivery {
		status, found, err := s.store.ContactStatus(ctx, req.ReceiverID, userID)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if found && status == core.StatusBlocked {
			s.rejected(errBlocked)
			writeError(w, http.StatusForbidden, errBlocked)
			return
		}
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	stored, created, err := s.store.InsertMessage(ctx, core.Message{
		ID:         id,
		SenderID:   userID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"user_id":    userID,
			"message_id": id,
			"error":      err.Error(),
		}).Warn("Message insert failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if stored.SenderID != userID || stored.ReceiverID != req.ReceiverID {
		// The id belongs to someone else's message.
		w.WriteHeader(http.StatusConflict)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, stored)
		return
	}
	if s.metrics != nil {
		s.metrics.MessagesStored.Inc()
	}
	if s.bus != nil {
		s.bus.Broadcast(stored.ReceiverID, core.Event{Type: core.EventMessageCreated, Message: &stored})
	}
	writeJSON(w, http.StatusCreated, stored)
}
