package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
)

// Collection offers typed access to the documents of one top-level collection.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed helper to the named collection.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Ref returns the collection reference.
func (c *Collection[T]) Ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

// Doc returns the reference for a document id.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get loads and decodes one document.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return zero, WrapError(c.op("get"), err)
	}
	return Decode[T](snap)
}

// Create writes a new document and fails with a conflict when the id is taken.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Create(ctx, value); err != nil {
		return WrapError(c.op("create"), err)
	}
	return nil
}

// Query runs the query produced by build and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]T, error) {
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	return DecodeAll[T](ctx, query.Documents(ctx), c.op("query"))
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return name + "." + action
}

// Decode hydrates T from a snapshot.
func Decode[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var target T
	if err := snap.DataTo(&target); err != nil {
		return target, fmt.Errorf("firestore: decode %s: %w", snap.Ref.ID, err)
	}
	return target, nil
}

// DecodeAll drains an iterator into typed values.
func DecodeAll[T any](_ context.Context, iter *firestore.DocumentIterator, op string) ([]T, error) {
	defer iter.Stop()
	var out []T
	for {
		snap, err := iter.Next()
		if isIteratorDone(err) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		value, err := Decode[T](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
}
