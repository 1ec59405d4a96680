package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"interview-system/retell"
	"interview-system/storage"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWebCallCreator struct {
	call *retell.WebCall
	err  error

	gotAgentID  string
	gotMetadata map[string]any
}

func (f *fakeWebCallCreator) CreateWebCall(ctx context.Context, agentID string, metadata map[string]any) (*retell.WebCall, error) {
	f.gotAgentID = agentID
	f.gotMetadata = metadata
	return f.call, f.err
}

func setupTestSessionService(provider *fakeWebCallCreator) (*SessionService, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()

	store := NewQueueStore(db, nil, 50)
	store.nowFunc = func() time.Time { return testNow }

	service := NewSessionService(store, NewCreditService(db), nil, provider, "agent-1")
	service.nowFunc = func() time.Time { return testNow }
	service.newID = func() string { return "interview-1" }

	return service, mock
}

func TestSessionService_StartInterview_FromReservation(t *testing.T) {
	provider := &fakeWebCallCreator{
		call: &retell.WebCall{CallID: "call-1", AgentID: "agent-1", AccessToken: "tok-1"},
	}
	service, mock := setupTestSessionService(provider)
	defer mock.ClearExpect()

	mock.ExpectEval(debitScript, []string{"credits:user-1"}, int64(100)).SetVal(int64(0))
	mock.ExpectEval(deleteScript, []string{"queue:waiting", "queue:reserved"},
		"entry-1", "queue:entry:", "queue:user:",
	).SetVal(int64(1))

	rec, call, err := service.StartInterview(context.Background(), StartInterviewParams{
		UserID:  "user-1",
		QueueID: "entry-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "interview-1", rec.ID)
	assert.Equal(t, "call-1", rec.CallID)
	assert.Equal(t, storage.InterviewStatusCreated, rec.Status)
	assert.Equal(t, testNow, rec.CreatedAt)
	assert.Equal(t, "tok-1", call.AccessToken)
	assert.Equal(t, "agent-1", provider.gotAgentID)
	assert.Equal(t, "user-1", provider.gotMetadata["user_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionService_StartInterview_StartNowClearsLeftoverEntry(t *testing.T) {
	provider := &fakeWebCallCreator{
		call: &retell.WebCall{CallID: "call-2", AccessToken: "tok-2"},
	}
	service, mock := setupTestSessionService(provider)
	defer mock.ClearExpect()

	mock.ExpectEval(debitScript, []string{"credits:user-1"}, int64(100)).SetVal(int64(0))
	// No queue id given; nothing held by the user either.
	mock.ExpectGet("queue:user:user-1").RedisNil()

	_, call, err := service.StartInterview(context.Background(), StartInterviewParams{UserID: "user-1"})

	require.NoError(t, err)
	assert.Equal(t, "call-2", call.CallID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionService_StartInterview_ProviderFailureRefunds(t *testing.T) {
	provider := &fakeWebCallCreator{err: errors.New("provider down")}
	service, mock := setupTestSessionService(provider)
	defer mock.ClearExpect()

	mock.ExpectEval(debitScript, []string{"credits:user-1"}, int64(100)).SetVal(int64(0))
	mock.ExpectIncrBy("credits:user-1", 100).SetVal(100)

	_, _, err := service.StartInterview(context.Background(), StartInterviewParams{
		UserID:  "user-1",
		QueueID: "entry-1",
	})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionService_StartInterview_RequiresUserID(t *testing.T) {
	service, _ := setupTestSessionService(&fakeWebCallCreator{})

	_, _, err := service.StartInterview(context.Background(), StartInterviewParams{})

	assert.Error(t, err)
}
