package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/shop/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "sk_live_remote"

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("shop"), WithLogger(zap.NewNop()), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "secret://stripe_api_key")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != "sk_live_remote" {
			t.Fatalf("expected remote value, got %s", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProjectOverride(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/ops/secrets/webhook/versions/3"] = "whsec_v3"

	fetcher, _ := NewFetcher(ctx, withClient(client), WithProject("shop"), WithFallbackFile(""))
	got, err := fetcher.ResolveSecret(ctx, "sm://webhook?version=3&project=ops")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "whsec_v3" {
		t.Fatalf("expected pinned version, got %s", got)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/shop/secrets/stripe_api_key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("# local development\nstripe_api_key=sk_test_local\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	fetcher, _ := NewFetcher(ctx, withClient(client), WithProject("shop"), WithFallbackFile(path))
	got, err := fetcher.ResolveSecret(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk_test_local" {
		t.Fatalf("expected fallback value, got %s", got)
	}
}

func TestResolveWithoutProjectUsesFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("db_dsn=postgres://local\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	fetcher, _ := NewFetcher(context.Background(), withClient(newFakeSecretClient()), WithFallbackFile(path))

	got, err := fetcher.ResolveSecret(context.Background(), "secret://db_dsn")
	if err != nil || got != "postgres://local" {
		t.Fatalf("expected fallback value, got %q err=%v", got, err)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("missing=should-not-be-used\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	fetcher, _ := NewFetcher(ctx, withClient(newFakeSecretClient()), WithProject("shop"), WithFallbackFile(path))

	if _, err := fetcher.ResolveSecret(ctx, "secret://missing"); err == nil {
		t.Fatalf("expected NotFound to surface as an error")
	}
}

func TestResolveRejectsUnknownScheme(t *testing.T) {
	fetcher, _ := NewFetcher(context.Background(), withClient(newFakeSecretClient()))
	if _, err := fetcher.ResolveSecret(context.Background(), "vault://x"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++
	if err, ok := f.errors[name]; ok {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
