package node

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kore/config"
	"kore/identity"
	"kore/network"
	"kore/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	key, err := identity.GenerateKeyPair(identity.KeyEd25519)
	require.NoError(t, err)
	return &config.Config{
		DataDir:            filepath.Join(t.TempDir(), "data"),
		ListenAddress:      ":0",
		NodeKey:            hex.EncodeToString(key.Bytes()),
		GapBufferDepth:     4,
		WitnessReplication: 0.5,
	}
}

func TestNewWiresEveryComponent(t *testing.T) {
	n, err := New(testConfig(t), storage.NewMemDB(), network.NewLoopback(), identity.DigestBlake3_256, testLogger())
	require.NoError(t, err)
	defer n.Shutdown()

	require.NotNil(t, n.Ledger)
	require.NotNil(t, n.Pipeline)
	require.NotNil(t, n.Approvals)
	require.NotNil(t, n.Distributor)
	require.NotNil(t, n.API)
	require.NotNil(t, n.Resolver)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	n, err := New(testConfig(t), storage.NewMemDB(), network.NewLoopback(), identity.DigestBlake3_256, testLogger())
	require.NoError(t, err)
	defer n.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
