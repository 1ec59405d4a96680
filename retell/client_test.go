package retell

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CountOngoingCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/list-calls", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(50), body["limit"])

		json.NewEncoder(w).Encode([]Call{
			{CallID: "c1", CallStatus: CallStatusOngoing},
			{CallID: "c2", CallStatus: CallStatusEnded},
			{CallID: "c3", CallStatus: CallStatusOngoing},
			{CallID: "c4", CallStatus: CallStatusRegistered},
		})
	}))
	defer server.Close()

	client := New("test-key", WithBaseURL(server.URL))

	count, err := client.CountOngoingCalls(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestClient_CountOngoingCalls_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New("test-key", WithBaseURL(server.URL))

	_, err := client.CountOngoingCalls(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_GetCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/get-call/call-9", r.URL.Path)

		json.NewEncoder(w).Encode(Call{CallID: "call-9", CallStatus: CallStatusEnded})
	}))
	defer server.Close()

	client := New("test-key", WithBaseURL(server.URL))

	call, err := client.GetCall(context.Background(), "call-9")

	require.NoError(t, err)
	assert.Equal(t, CallStatusEnded, call.CallStatus)
}

func TestClient_CreateWebCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/create-web-call", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "agent-1", body["agent_id"])

		meta, ok := body["metadata"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "user-1", meta["user_id"])

		json.NewEncoder(w).Encode(WebCall{
			CallID:      "call-new",
			AgentID:     "agent-1",
			AccessToken: "tok-abc",
			CallStatus:  CallStatusRegistered,
		})
	}))
	defer server.Close()

	client := New("test-key", WithBaseURL(server.URL))

	call, err := client.CreateWebCall(context.Background(), "agent-1", map[string]any{"user_id": "user-1"})

	require.NoError(t, err)
	assert.Equal(t, "call-new", call.CallID)
	assert.Equal(t, "tok-abc", call.AccessToken)
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := New("test-key", WithBaseURL(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ListCalls(ctx, 10)

	assert.Error(t, err)
}
