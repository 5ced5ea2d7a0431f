package data

import (
	"context"

	"github.com/PaulBabatuyi/chatsync/internal/paths"
)

// ProfilesStore reads user profiles stored at users/{userId}.
type ProfilesStore struct {
	// store is the document store holding the "users" collection
	store Store
}

// NewProfilesStore returns a ProfilesStore backed by the given document store.
func NewProfilesStore(store Store) *ProfilesStore {
	return &ProfilesStore{store: store}
}

// GetMate fetches the profile of a conversation participant. It is a single
// point read with no caching; ErrNotFound is returned for unknown users and
// callers are expected to carry on without the profile.
func (p *ProfilesStore) GetMate(ctx context.Context, userID string) (Profile, error) {
	doc, err := p.store.Get(ctx, paths.User(userID))
	if err != nil {
		return nil, err
	}
	return Profile(doc), nil
}
