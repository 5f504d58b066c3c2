package memory

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGetOne(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	id, err := s.Create(ctx, storage.IndexProjects, storage.Document{"name": "p"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, found, err := s.GetOne(ctx, storage.IndexProjects, queryfilter.Filter{"name": {Op: queryfilter.Equals, Value: "p"}})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, doc["id"])
}

func TestGetOne_ZeroOrManyReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	_, found, err := s.GetOne(ctx, storage.IndexProjects, queryfilter.Filter{"name": {Op: queryfilter.Equals, Value: "missing"}})
	require.NoError(t, err)
	assert.False(t, found)

	_, _ = s.Create(ctx, storage.IndexProjects, storage.Document{"name": "dup"})
	_, _ = s.Create(ctx, storage.IndexProjects, storage.Document{"name": "dup"})

	_, found, err = s.GetOne(ctx, storage.IndexProjects, queryfilter.Filter{"name": {Op: queryfilter.Equals, Value: "dup"}})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAppend_CreatesRowIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	err := s.Append(ctx, storage.IndexPipelineLogs, "pipeline-1", map[string]any{"stage": "t", "line": "hello"})
	require.NoError(t, err)

	doc, found, err := s.GetOne(ctx, storage.IndexPipelineLogs, queryfilter.Filter{"id": {Op: queryfilter.Equals, Value: "pipeline-1"}})
	require.NoError(t, err)
	require.True(t, found)
	entries, _ := doc["entries"].([]any)
	require.Len(t, entries, 1)
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, _ = s.Create(ctx, storage.IndexAgents, storage.Document{"name": "a"})
	_, _ = s.Create(ctx, storage.IndexAgents, storage.Document{"name": "a"})
	_, _ = s.Create(ctx, storage.IndexAgents, storage.Document{"name": "b"})

	count, err := s.DeleteMany(ctx, storage.IndexAgents, queryfilter.Filter{"name": {Op: queryfilter.Equals, Value: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	remaining, err := s.GetAll(ctx, storage.IndexAgents, queryfilter.Filter{}, nil)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, _ = s.Create(ctx, storage.IndexProjects, storage.Document{"name": "p"})

	require.NoError(t, s.Purge(ctx))

	remaining, err := s.GetAll(ctx, storage.IndexProjects, queryfilter.Filter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestChangeStream_ReceivesCreateAndUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(nil)
	events, unsubscribe, err := s.ChangeStream(ctx, storage.IndexPipelines)
	require.NoError(t, err)
	defer unsubscribe()

	id, err := s.Create(ctx, storage.IndexPipelines, storage.Document{"status": "Defined"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, storage.ChangeCreate, ev.Op)
		assert.Equal(t, id, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for create event")
	}

	_, err = s.Update(ctx, storage.IndexPipelines, id, storage.Document{"status": "Assigned"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, storage.ChangeUpdate, ev.Op)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update event")
	}
}

func TestChangeStream_IgnoresOtherIndices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(nil)
	events, unsubscribe, err := s.ChangeStream(ctx, storage.IndexPipelines)
	require.NoError(t, err)
	defer unsubscribe()

	_, err = s.Create(ctx, storage.IndexProjects, storage.Document{"name": "p"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for unrelated index: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
