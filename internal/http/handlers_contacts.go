package httpapi

import (
	"errors"
	"net/http"

	"github.com/mistakeknot/miochat/internal/core"
	"github.com/sirupsen/logrus"
)

type upsertContactRequest struct {
	Status core.ContactStatus `json:"status"`
}

// handleContacts serves GET /api/contacts: every relationship the caller
// owns, any status. Hiding blocked peers is the client's decision.
func (s *Service) handleContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	contacts, err := s.store.ListContacts(r.Context(), userID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	for i := range contacts {
		contacts[i].Peer = contacts[i].Peer.Public()
	}
	if contacts == nil {
		contacts = []core.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

// handleContactByPeer serves PUT /api/contacts/{peer_id}.
func (s *Service) handleContactByPeer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	peerID := pathID(r, "/api/contacts/")
	if peerID == "" || peerID == userID {
		writeError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	var req upsertContactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, errInvalidStatus)
		return
	}
	c, err := s.store.UpsertContact(r.Context(), core.Contact{OwnerID: userID, PeerID: peerID, Status: req.Status})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"peer_id": peerID,
		"status":  string(req.Status),
	}).Debug("Relationship updated")
	c.Peer = c.Peer.Public()
	writeJSON(w, http.StatusOK, c)
}
