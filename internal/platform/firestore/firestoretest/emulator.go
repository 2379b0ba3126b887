//go:build integration

// Package firestoretest starts a Firestore emulator container for integration tests.
package firestoretest

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hanko-field/storefront/internal/platform/config"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

// StartEmulator runs the emulator for the lifetime of t and returns a config pointing at it.
// The test is skipped when no container runtime is reachable.
func StartEmulator(t *testing.T, projectID string) config.FirestoreConfig {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        emulatorImage,
			ExposedPorts: []string{"8080/tcp"},
			Cmd: []string{
				"gcloud", "beta", "emulators", "firestore", "start",
				"--host-port=0.0.0.0:8080", "--quiet",
			},
			WaitingFor: wait.ForListeningPort("8080/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("firestore emulator unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.PortEndpoint(ctx, "8080/tcp", "")
	if err != nil {
		t.Fatalf("emulator endpoint: %v", err)
	}
	return config.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint}
}
