package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a claimed key is remembered when the caller does not configure one.
const DefaultTTL = 24 * time.Hour

// State is the lifecycle of a remembered key.
type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
)

// Outcome tells the middleware what to do after claiming a key.
type Outcome int

const (
	// OutcomeAcquired means the caller owns the key and must run the request.
	OutcomeAcquired Outcome = iota
	// OutcomeReplay means a finished response exists and must be replayed.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key right now.
	OutcomeInFlight
)

// ErrKeyReused is returned when a key is presented again with a different request body or route.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Response is the captured HTTP response stored for replays.
type Response struct {
	Status int                 `json:"status"`
	Header map[string][]string `json:"header,omitempty"`
	Body   []byte              `json:"body,omitempty"`
}

// Entry is the persisted state of one key.
type Entry struct {
	Key         string    `json:"key" firestore:"key"`
	Fingerprint string    `json:"fingerprint" firestore:"fingerprint"`
	State       State     `json:"state" firestore:"state"`
	Status      int       `json:"status,omitempty" firestore:"status"`
	Header      []string  `json:"header,omitempty" firestore:"header"`
	Body        []byte    `json:"body,omitempty" firestore:"body"`
	CreatedAt   time.Time `json:"created_at" firestore:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" firestore:"expires_at"`
}

// Store remembers claimed keys and their finished responses.
type Store interface {
	Acquire(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, *Response, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

func pendingEntry(key, fingerprint string, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Key:         key,
		Fingerprint: fingerprint,
		State:       StatePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(normaliseTTL(ttl)),
	}
}

func doneEntry(existing *Entry, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) Entry {
	entry := Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	if existing != nil && !existing.CreatedAt.IsZero() {
		entry.CreatedAt = existing.CreatedAt
	}
	entry.State = StateDone
	entry.Status = resp.Status
	entry.Header = flattenHeader(resp.Header)
	entry.Body = append([]byte(nil), resp.Body...)
	entry.ExpiresAt = now.Add(normaliseTTL(ttl))
	return entry
}

// decide classifies an existing entry for a new claim. A nil or expired entry can be taken over.
func decide(existing *Entry, fingerprint string, now time.Time) (Outcome, *Response, error) {
	if existing == nil || (!existing.ExpiresAt.IsZero() && !now.Before(existing.ExpiresAt)) {
		return OutcomeAcquired, nil, nil
	}
	if existing.Fingerprint != fingerprint {
		return 0, nil, ErrKeyReused
	}
	if existing.State == StateDone {
		return OutcomeReplay, existing.response(), nil
	}
	return OutcomeInFlight, nil, nil
}

func (e *Entry) response() *Response {
	return &Response{Status: e.Status, Header: expandHeader(e.Header), Body: e.Body}
}

func normaliseTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// flattenHeader stores headers as "Name: value" lines so every backend can persist them as a string list.
func flattenHeader(header map[string][]string) []string {
	var out []string
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if hopByHop(canonical) {
			continue
		}
		for _, value := range values {
			out = append(out, canonical+": "+value)
		}
	}
	return out
}

func expandHeader(lines []string) map[string][]string {
	header := make(http.Header, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ": ")
		if ok {
			header.Add(name, value)
		}
	}
	return header
}

func hopByHop(name string) bool {
	switch name {
	case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Trailer", "Te":
		return true
	}
	return false
}
