package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"interview-system/retell"
	"interview-system/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WebCallCreator is the slice of the provider client session creation needs.
type WebCallCreator interface {
	CreateWebCall(ctx context.Context, agentID string, metadata map[string]any) (*retell.WebCall, error)
}

var interviewCost = decimal.NewFromInt(1)

// SessionService turns a claimed reservation (or a START_NOW decision) into
// a live interview: debit a credit, register the web call, record it, then
// release the queue entry.
type SessionService struct {
	store      *QueueStore
	credits    *CreditService
	interviews *storage.InterviewStore
	provider   WebCallCreator
	agentID    string

	nowFunc func() time.Time
	newID   func() string
}

func NewSessionService(store *QueueStore, credits *CreditService, interviews *storage.InterviewStore, provider WebCallCreator, agentID string) *SessionService {
	return &SessionService{
		store:      store,
		credits:    credits,
		interviews: interviews,
		provider:   provider,
		agentID:    agentID,
		nowFunc:    time.Now,
		newID:      uuid.NewString,
	}
}

type StartInterviewParams struct {
	UserID  string
	QueueID string // empty for START_NOW admissions
}

// StartInterview creates the session. On provider failure the debit is
// refunded and the queue entry is left untouched, so a reserved user keeps
// their window. Queue cleanup failures only log: the session already exists
// and the entry will fall to the sweep.
func (s *SessionService) StartInterview(ctx context.Context, p StartInterviewParams) (*storage.InterviewRecord, *retell.WebCall, error) {
	if p.UserID == "" {
		return nil, nil, errors.New("session: userID is required")
	}

	if s.credits != nil {
		if err := s.credits.Debit(ctx, p.UserID, interviewCost); err != nil {
			return nil, nil, err
		}
	}

	call, err := s.provider.CreateWebCall(ctx, s.agentID, map[string]any{"user_id": p.UserID})
	if err != nil {
		s.refund(ctx, p.UserID)
		return nil, nil, fmt.Errorf("session: create call: %w", err)
	}

	rec := &storage.InterviewRecord{
		ID:        s.newID(),
		UserID:    p.UserID,
		CallID:    call.CallID,
		Status:    storage.InterviewStatusCreated,
		CreatedAt: s.nowFunc().UTC(),
	}
	if s.interviews != nil {
		if err := s.interviews.Insert(ctx, rec); err != nil {
			log.Printf("Failed to record interview %s: %v", rec.ID, err)
		}
	}

	s.cleanupQueue(ctx, p)

	log.Printf("Interview %s started for user %s (call %s)", rec.ID, p.UserID, call.CallID)
	return rec, call, nil
}

func (s *SessionService) cleanupQueue(ctx context.Context, p StartInterviewParams) {
	if p.QueueID != "" {
		if err := s.store.Delete(ctx, p.QueueID); err != nil {
			log.Printf("Queue cleanup failed for %s: %v", p.QueueID, err)
		}
		return
	}

	// START_NOW path: the user should hold no entry, but clear any leftover.
	entry, err := s.store.FindActiveEntryForUser(ctx, p.UserID)
	if err != nil {
		log.Printf("Queue cleanup lookup failed for user %s: %v", p.UserID, err)
		return
	}
	if entry != nil {
		if err := s.store.Delete(ctx, entry.ID); err != nil {
			log.Printf("Queue cleanup failed for %s: %v", entry.ID, err)
		}
	}
}

func (s *SessionService) refund(ctx context.Context, userID string) {
	if s.credits == nil {
		return
	}
	if err := s.credits.Grant(ctx, userID, interviewCost); err != nil {
		log.Printf("Refund failed for user %s: %v", userID, err)
	}
}
