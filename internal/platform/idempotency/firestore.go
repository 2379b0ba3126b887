package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore keeps keys in a Firestore collection, one document per hashed key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore constructs a Firestore-backed store. An empty collection uses idempotency_keys.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

func readEntry(tx *firestore.Transaction, ref *firestore.DocumentRef) (*Entry, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if pfirestore.IsNotFoundCode(err) {
			return nil, nil
		}
		return nil, err
	}
	entry, err := pfirestore.Decode[Entry](snap)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Acquire implements Store inside a transaction so concurrent claims serialise.
func (s *FirestoreStore) Acquire(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, *Response, error) {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return 0, nil, err
	}

	var (
		outcome Outcome
		resp    *Response
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := readEntry(tx, ref)
		if err != nil {
			return err
		}
		outcome, resp, err = decide(existing, fingerprint, now)
		if err != nil || outcome != OutcomeAcquired {
			return err
		}
		return tx.Set(ref, pendingEntry(key, fingerprint, now, ttl))
	})
	if err != nil {
		return 0, nil, err
	}
	return outcome, resp, nil
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := readEntry(tx, ref)
		if err != nil {
			return err
		}
		if existing != nil && existing.Fingerprint != fingerprint {
			return ErrKeyReused
		}
		return tx.Set(ref, doneEntry(existing, key, fingerprint, resp, now, ttl))
	})
}

// Forget implements Store.
func (s *FirestoreStore) Forget(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !pfirestore.IsNotFoundCode(err) {
		return pfirestore.WrapError("idempotency.forget", err)
	}
	return nil
}

// Sweep deletes up to limit expired documents in one batch.
func (s *FirestoreStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).Where("expires_at", "<=", now).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.sweep", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.sweep", err)
		}
	}
	writer.End()
	return len(docs), nil
}
