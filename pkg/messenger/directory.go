package messenger

import (
	"context"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// minQueryLength keeps trivial input from turning into a full profile scan.
const minQueryLength = 2

// Directory resolves searchable users and maintains an owner's contacts.
type Directory struct {
	store Store
	log   *logrus.Entry
}

func NewDirectory(store Store) *Directory {
	return &Directory{
		store: store,
		log:   logrus.WithField("component", "directory"),
	}
}

// Search returns the profiles whose username contains query, ignoring case,
// except selfID. No matches yields an empty slice and a nil error.
func (d *Directory) Search(ctx context.Context, query, selfID string) ([]Profile, error) {
	if utf8.RuneCountInString(query) < minQueryLength {
		return nil, ErrInvalidQuery
	}
	found, err := d.store.SearchProfiles(ctx, query, selfID)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"query": query,
			"error": err.Error(),
		}).Warn("Profile search failed")
		return nil, classify("search profiles", err)
	}
	out := make([]Profile, 0, len(found))
	for _, p := range found {
		if p.ID == selfID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ListContacts returns the owner's relationships joined with the peer
// profile, leaving out blocked peers.
func (d *Directory) ListContacts(ctx context.Context, ownerID string) ([]Contact, error) {
	if ownerID == "" {
		return nil, ErrAuthenticationRequired
	}
	all, err := d.store.ListRelationships(ctx, ownerID)
	if err != nil {
		return nil, classify("list contacts", err)
	}
	out := make([]Contact, 0, len(all))
	for _, c := range all {
		if c.Status == StatusBlocked {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// UpsertRelationship creates or overwrites the (ownerID, peerID) row.
// Repeating the same call is a no-op.
func (d *Directory) UpsertRelationship(ctx context.Context, ownerID, peerID string, status ContactStatus) error {
	if !status.Valid() {
		return errors.Wrapf(ErrInvalidStatus, "status %q", string(status))
	}
	if ownerID == "" {
		return ErrAuthenticationRequired
	}
	if peerID == "" {
		return &ValidationError{Field: "peer_id", Reason: "must not be empty"}
	}
	rel := Relationship{OwnerID: ownerID, PeerID: peerID, Status: status}
	if err := d.store.UpsertRelationship(ctx, rel); err != nil {
		return classify("upsert relationship", err)
	}
	d.log.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"peer_id":  peerID,
		"status":   status,
	}).Debug("Relationship updated")
	return nil
}

// Profile is a point lookup by id.
func (d *Directory) Profile(ctx context.Context, id string) (Profile, error) {
	if id == "" {
		return Profile{}, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	p, err := d.store.GetProfile(ctx, id)
	if err != nil {
		return Profile{}, classify("get profile", err)
	}
	return p, nil
}
