package agentrt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rustyops/pkg/domain"
)

type recordedRequest struct {
	wireRequest
	AuthHeader string
}

func newRecordingServer(t *testing.T, status int, body any) (*httptest.Server, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/graphql", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec.wireRequest))
		rec.AuthHeader = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestHTTPClient_AuthenticateSetsTokenForSubsequentCalls(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusOK, map[string]any{
		"data": map[string]any{"token": "tok-123"},
	})
	client := NewHTTPClient(srv.URL)

	token, err := client.Authenticate(context.Background(), "alice", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
	assert.Equal(t, "mutation", rec.OperationType)
	assert.Equal(t, "users", rec.TopLevel)
	assert.Equal(t, "login", rec.Field)
	assert.Equal(t, "alice", rec.Args["username"])
	assert.Empty(t, rec.AuthHeader, "login request itself carries no prior token")

	assert.Equal(t, "Bearer tok-123", client.AuthHeader())

	_, rec2 := newRecordingServerSharing(t, client)
	require.NoError(t, client.Register(context.Background(), "agent-1", 180*time.Second))
	assert.Equal(t, "Bearer tok-123", rec2.AuthHeader)
}

// newRecordingServerSharing swaps the client's baseURL to a fresh recording
// server, used to observe the headers/body of a second call against an
// already-authenticated client.
func newRecordingServerSharing(t *testing.T, client *HTTPClient) (*httptest.Server, *recordedRequest) {
	t.Helper()
	srv, rec := newRecordingServer(t, http.StatusOK, map[string]any{"data": nil})
	client.baseURL = srv.URL
	return srv, rec
}

func TestHTTPClient_CallPropagatesWireErrors(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusBadRequest, map[string]any{
		"errors": []map[string]any{{"kind": "RequestError", "message": "missing required argument \"id\""}},
	})
	client := NewHTTPClient(srv.URL)

	_, err := client.Job(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required argument")
}

func TestHTTPClient_OldestDefinedDecodesNilWhenNoneFound(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusOK, map[string]any{"data": nil})
	client := NewHTTPClient(srv.URL)

	p, err := client.OldestDefined(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, "query", rec.OperationType)
	assert.Equal(t, "pipelines", rec.TopLevel)
	assert.Equal(t, "oldestDefined", rec.Field)
}

func TestHTTPClient_FinalizeSendsStatusAndAgentID(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusOK, map[string]any{"data": nil})
	client := NewHTTPClient(srv.URL)

	err := client.Finalize(context.Background(), "pipe-1", "agent-1", domain.PipelineSuccess)
	require.NoError(t, err)
	assert.Equal(t, "pipelines", rec.TopLevel)
	assert.Equal(t, "finalize", rec.Field)
	assert.Equal(t, "pipe-1", rec.Args["id"])
	assert.Equal(t, "agent-1", rec.Args["agent_id"])
	assert.Equal(t, string(domain.PipelineSuccess), rec.Args["status"])
}
