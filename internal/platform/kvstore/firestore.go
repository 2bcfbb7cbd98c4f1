package kvstore

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "checkout_state"

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store documents.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore implements Store backed by Google Cloud Firestore. Each key
// maps to one document holding the JSON-encoded value, so documents round-trip
// byte-identically with the memory backend.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{client: client, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type firestoreDocument struct {
	Payload string `firestore:"payload"`
}

// Get implements the Store interface.
func (s *FirestoreStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	snap, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	var doc firestoreDocument
	if err := snap.DataTo(&doc); err != nil {
		return false, nil
	}
	if err := json.Unmarshal([]byte(doc.Payload), dest); err != nil {
		return false, nil
	}
	return true, nil
}

// Set implements the Store interface.
func (s *FirestoreStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(s.collection).Doc(key).Set(ctx, firestoreDocument{Payload: string(raw)})
	return err
}

// Remove implements the Store interface.
func (s *FirestoreStore) Remove(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collection).Doc(key).Delete(ctx)
	return err
}
