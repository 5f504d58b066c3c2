package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/messaging/bus"
	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore spins up a disposable PostgreSQL container, applies
// migrations, and returns a ready Store. The container is terminated when
// the test ends.
func newTestStore(t *testing.T) *Store {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("rustyops_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := Config{
		Host:            host,
		Port:            port.Int(),
		User:            "test",
		Password:        "test",
		Database:        "rustyops_test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}

	store, err := NewStore(ctx, cfg, bus.New())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStore_CreateGetOne(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, storage.IndexProjects, storage.Document{"name": "p"})
	require.NoError(t, err)

	doc, found, err := store.GetOne(ctx, storage.IndexProjects, queryfilter.Filter{"name": {Op: queryfilter.Equals, Value: "p"}})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, id, doc["id"])
}

func TestStore_UpdateConditional(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, storage.IndexPipelines, storage.Document{"status": "Defined", "agent_id": nil})
	require.NoError(t, err)

	ok, err := store.UpdateConditional(ctx, storage.IndexPipelines, id,
		queryfilter.Filter{"status": {Op: queryfilter.Equals, Value: "Defined"}},
		storage.Document{"status": "Assigned", "agent_id": "agent-1"})
	require.NoError(t, err)
	require.True(t, ok)

	// second attempt with the same stale precondition must fail
	ok, err = store.UpdateConditional(ctx, storage.IndexPipelines, id,
		queryfilter.Filter{"status": {Op: queryfilter.Equals, Value: "Defined"}},
		storage.Document{"status": "Assigned", "agent_id": "agent-2"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_ChangeStream(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe, err := store.ChangeStream(ctx, storage.IndexPipelines)
	require.NoError(t, err)
	defer unsubscribe()

	id, err := store.Create(ctx, storage.IndexPipelines, storage.Document{"status": "Defined"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, storage.ChangeCreate, ev.Op)
		require.Equal(t, id, ev.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}
