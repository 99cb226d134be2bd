package server

import (
	"context"

	"github.com/dagbolade/trust-proxy/internal/store"
)

// feedStore publishes every interaction it appends to the websocket hub.
type feedStore struct {
	store.Store
	hub *Hub
}

func newFeedStore(st store.Store, hub *Hub) *feedStore {
	return &feedStore{Store: st, hub: hub}
}

func (f *feedStore) Append(ctx context.Context, in store.Interaction) (store.Interaction, error) {
	saved, err := f.Store.Append(ctx, in)
	if err != nil {
		return saved, err
	}
	f.hub.Publish(saved)
	return saved, nil
}
