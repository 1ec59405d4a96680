package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"interview-system/services"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCallCounter struct {
	count int
	err   error
}

func (f *fakeCallCounter) CountOngoingCalls(ctx context.Context) (int, error) {
	return f.count, f.err
}

func setupTestQueueHandler(counter *fakeCallCounter) (*QueueHandler, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()

	store := services.NewQueueStore(db, nil, 50)
	admission := services.NewAdmissionService(store, services.NewCapacityOracle(counter), services.NewCreditService(db), nil, 10)

	return NewQueueHandler(admission, store, nil), mock
}

func newJSONContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestQueueHandler_JoinQueue_StartNow(t *testing.T) {
	handler, mock := setupTestQueueHandler(&fakeCallCounter{count: 2})
	defer mock.ClearExpect()

	mock.ExpectGet("credits:user-1").SetVal("100")
	mock.ExpectZCard("queue:waiting").SetVal(0)

	c, rec := newJSONContext(http.MethodPost, "/api/queue/join", `{"user_id":"user-1"}`)

	require.NoError(t, handler.JoinQueue(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "START_NOW", response["action"])
	assert.NotContains(t, response, "queue_id")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueHandler_JoinQueue_ExistingEntry(t *testing.T) {
	handler, mock := setupTestQueueHandler(&fakeCallCounter{count: 10})
	defer mock.ClearExpect()

	mock.ExpectGet("credits:user-1").SetVal("100")
	mock.ExpectZCard("queue:waiting").SetVal(3)
	mock.ExpectGet("queue:user:user-1").SetVal("entry-5")
	mock.ExpectHGetAll("queue:entry:entry-5").SetVal(map[string]string{
		"id":        "entry-5",
		"user_id":   "user-1",
		"status":    "waiting",
		"joined_at": "1700000000000",
	})

	c, rec := newJSONContext(http.MethodPost, "/api/queue/join", `{"user_id":"user-1"}`)

	require.NoError(t, handler.JoinQueue(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "ENQUEUE", response["action"])
	assert.Equal(t, "entry-5", response["queue_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueHandler_JoinQueue_InsufficientCredits(t *testing.T) {
	handler, mock := setupTestQueueHandler(&fakeCallCounter{count: 0})
	defer mock.ClearExpect()

	mock.ExpectGet("credits:user-1").SetVal("0")

	c, rec := newJSONContext(http.MethodPost, "/api/queue/join", `{"user_id":"user-1"}`)

	require.NoError(t, handler.JoinQueue(c))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueHandler_JoinQueue_CapacityUnavailable(t *testing.T) {
	handler, mock := setupTestQueueHandler(&fakeCallCounter{err: errors.New("provider down")})
	defer mock.ClearExpect()

	mock.ExpectGet("credits:user-1").SetVal("100")

	c, rec := newJSONContext(http.MethodPost, "/api/queue/join", `{"user_id":"user-1"}`)

	require.NoError(t, handler.JoinQueue(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueHandler_JoinQueue_MissingUserID(t *testing.T) {
	handler, _ := setupTestQueueHandler(&fakeCallCounter{})

	c, rec := newJSONContext(http.MethodPost, "/api/queue/join", `{}`)

	require.NoError(t, handler.JoinQueue(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueHandler_LeaveQueue_EmptyBody(t *testing.T) {
	handler, _ := setupTestQueueHandler(&fakeCallCounter{})

	c, rec := newJSONContext(http.MethodPost, "/api/queue/leave", "")

	require.NoError(t, handler.LeaveQueue(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "Empty", response["error"])
}

func TestQueueHandler_LeaveQueue_InvalidBody(t *testing.T) {
	handler, _ := setupTestQueueHandler(&fakeCallCounter{})

	c, rec := newJSONContext(http.MethodPost, "/api/queue/leave", `{"something":"else"}`)

	require.NoError(t, handler.LeaveQueue(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "Invalid ID", response["error"])
}

func TestParseLeaveBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"json body", `{"queueId":"entry-1"}`, "entry-1"},
		{"urlencoded beacon body", "queueId=entry-2", "entry-2"},
		{"urlencoded with extras", "queueId=entry-3&source=unload", "entry-3"},
		{"json without id", `{"other":"x"}`, ""},
		{"garbage", "%%%", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLeaveBody([]byte(tt.body)))
		})
	}
}

func TestQueueHandler_GetQueueStatus_MissingEntryIsExpired(t *testing.T) {
	handler, mock := setupTestQueueHandler(&fakeCallCounter{})
	defer mock.ClearExpect()

	mock.ExpectHGetAll("queue:entry:entry-gone").SetVal(map[string]string{})

	c, rec := newJSONContext(http.MethodGet, "/api/queue/status?id=entry-gone", "")

	require.NoError(t, handler.GetQueueStatus(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "expired", response["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueHandler_GetQueueStatus_Reserved(t *testing.T) {
	handler, mock := setupTestQueueHandler(&fakeCallCounter{})
	defer mock.ClearExpect()

	mock.ExpectHGetAll("queue:entry:entry-1").SetVal(map[string]string{
		"id":            "entry-1",
		"user_id":       "user-1",
		"status":        "reserved",
		"joined_at":     "1700000000000",
		"reserved_at":   "1700000100000",
		"timer_ends_at": "1700000400000",
	})

	c, rec := newJSONContext(http.MethodGet, "/api/queue/status?id=entry-1", "")

	require.NoError(t, handler.GetQueueStatus(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "reserved", response["status"])
	assert.Equal(t, float64(1700000400000), response["timer_ends_at"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueHandler_GetQueueStatus_WaitingWithPosition(t *testing.T) {
	handler, mock := setupTestQueueHandler(&fakeCallCounter{})
	defer mock.ClearExpect()

	mock.ExpectHGetAll("queue:entry:entry-2").SetVal(map[string]string{
		"id":        "entry-2",
		"user_id":   "user-2",
		"status":    "waiting",
		"joined_at": "1700000000000",
	})
	mock.ExpectZRange("queue:waiting", 0, 49).SetVal([]string{"entry-1", "entry-2", "entry-3"})

	c, rec := newJSONContext(http.MethodGet, "/api/queue/status?id=entry-2", "")

	require.NoError(t, handler.GetQueueStatus(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "waiting", response["status"])
	assert.Equal(t, float64(2), response["position"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueHandler_GetQueueStatus_MissingID(t *testing.T) {
	handler, _ := setupTestQueueHandler(&fakeCallCounter{})

	c, rec := newJSONContext(http.MethodGet, "/api/queue/status", "")

	require.NoError(t, handler.GetQueueStatus(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
