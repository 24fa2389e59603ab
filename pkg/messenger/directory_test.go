package messenger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRejectsShortQueryWithoutStoreCall(t *testing.T) {
	st := newMemStore(alice, bob)
	dir := NewDirectory(st)

	for _, q := range []string{"", "b", "ö"} {
		_, err := dir.Search(context.Background(), q, alice.ID)
		require.ErrorIs(t, err, ErrInvalidQuery, "query %q", q)
		assert.True(t, IsValidation(err))
	}
	assert.Equal(t, 0, st.count("search"))
}

func TestSearchIsCaseInsensitiveAndExcludesSelf(t *testing.T) {
	st := newMemStore(alice, bob, bobby, carol)
	dir := NewDirectory(st)

	found, err := dir.Search(context.Background(), "BOB", alice.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Profile{bob, bobby}, found)

	found, err = dir.Search(context.Background(), "bob", bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []Profile{bobby}, found)
}

func TestSearchDistinguishesNoMatchesFromFailure(t *testing.T) {
	st := newMemStore(alice, bob)
	dir := NewDirectory(st)

	found, err := dir.Search(context.Background(), "zz", alice.ID)
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)

	st.searchErr = errors.New("connection refused")
	_, err = dir.Search(context.Background(), "zz", alice.ID)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestUpsertRelationshipIsIdempotent(t *testing.T) {
	st := newMemStore(alice, bob)
	dir := NewDirectory(st)
	ctx := context.Background()

	require.NoError(t, dir.UpsertRelationship(ctx, alice.ID, bob.ID, StatusFriend))
	require.NoError(t, dir.UpsertRelationship(ctx, alice.ID, bob.ID, StatusFriend))

	assert.Equal(t, 1, st.relationshipRows(alice.ID))
	contacts, err := dir.ListContacts(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, StatusFriend, contacts[0].Status)
	assert.Equal(t, bob, contacts[0].Profile)
}

func TestUpsertRelationshipRejectsUnknownStatus(t *testing.T) {
	st := newMemStore(alice, bob)
	dir := NewDirectory(st)

	err := dir.UpsertRelationship(context.Background(), alice.ID, bob.ID, ContactStatus("enemy"))
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, 0, st.count("upsert_relationship"))
}

func TestBlockedPeerLeavesContactList(t *testing.T) {
	st := newMemStore(alice, bob, carol)
	dir := NewDirectory(st)
	ctx := context.Background()

	require.NoError(t, dir.UpsertRelationship(ctx, alice.ID, bob.ID, StatusFriend))
	require.NoError(t, dir.UpsertRelationship(ctx, alice.ID, carol.ID, StatusPending))
	require.NoError(t, dir.UpsertRelationship(ctx, alice.ID, bob.ID, StatusBlocked))

	contacts, err := dir.ListContacts(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, carol.ID, contacts[0].Profile.ID)
	assert.Equal(t, StatusPending, contacts[0].Status)
}

func TestRelationshipsAreDirectional(t *testing.T) {
	st := newMemStore(alice, bob)
	dir := NewDirectory(st)
	ctx := context.Background()

	require.NoError(t, dir.UpsertRelationship(ctx, alice.ID, bob.ID, StatusBlocked))

	bobsView, err := dir.ListContacts(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, bobsView)
}

func TestParseContactStatus(t *testing.T) {
	s, err := ParseContactStatus(" Friend ")
	require.NoError(t, err)
	assert.Equal(t, StatusFriend, s)

	_, err = ParseContactStatus("follower")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
