package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/agentsync/internal/history"
	"github.com/loykin/agentsync/internal/status"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedPath, receivedMethod, contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "agent-history")
	e := history.NewEvent(history.EventSet, "os-test", status.Record{Agent: "coder", Status: status.StateFailed, Error: "boom"})
	require.NoError(t, sink.Send(context.Background(), e))

	assert.Equal(t, http.MethodPut, receivedMethod)
	assert.Equal(t, "/agent-history/_doc/"+e.ID, receivedPath)
	assert.Equal(t, "application/json", contentType)

	var got history.Event
	require.NoError(t, json.Unmarshal(receivedBody, &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "coder", got.Record.Agent)
	assert.Equal(t, status.StateFailed, got.Record.Status)
	assert.Equal(t, "boom", got.Record.Error)
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := New(server.URL, "idx").Send(context.Background(), history.NewEvent(history.EventSet, "s", status.Record{Agent: "a"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestOpenSearchSink_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(server.URL, "idx").Send(ctx, history.NewEvent(history.EventSet, "s", status.Record{Agent: "a"}))
	assert.ErrorIs(t, err, context.Canceled)
}
