package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"interview-system/models"
	"interview-system/monitoring"
	"interview-system/status"
)

// AdmissionService decides, per request, between starting a session
// immediately and taking a place in line.
type AdmissionService struct {
	store          *QueueStore
	oracle         *CapacityOracle
	credits        *CreditService
	monitor        *monitoring.Monitor
	maxConcurrency int
}

func NewAdmissionService(store *QueueStore, oracle *CapacityOracle, credits *CreditService, monitor *monitoring.Monitor, maxConcurrency int) *AdmissionService {
	return &AdmissionService{
		store:          store,
		oracle:         oracle,
		credits:        credits,
		monitor:        monitor,
		maxConcurrency: maxConcurrency,
	}
}

// JoinQueueOrStart implements the admission decision:
//
//  1. fresh concurrency read from the provider,
//  2. waiting-line existence check,
//  3. START_NOW only when capacity is free AND nobody waits — an open slot
//     with a non-empty line is earmarked for promotion, new arrivals may not
//     jump it,
//  4. otherwise idempotent re-join (existing active entry) or a new waiting
//     entry.
//
// The capacity read and the store checks are not one transaction; the
// concurrency bound is soft and overshoot reconciles at the next sweep.
func (s *AdmissionService) JoinQueueOrStart(ctx context.Context, userID string) (*models.AdmissionDecision, error) {
	if userID == "" {
		return nil, errors.New("admission: userID is required")
	}

	if s.credits != nil {
		ok, err := s.credits.HasBalance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("admission: credit check: %w", err)
		}
		if !ok {
			return nil, status.ErrInsufficientCredits
		}
	}

	active, err := s.oracle.CurrentActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	s.monitor.SetActiveCalls(active)
	log.Printf("Concurrency check: %d/%d calls active", active, s.maxConcurrency)

	hasWaiting, err := s.store.HasWaiting(ctx)
	if err != nil {
		return nil, err
	}

	if active < s.maxConcurrency && !hasWaiting {
		log.Printf("System free, user %s starts now", userID)
		s.monitor.TrackAdmission(string(models.ActionStartNow))
		return &models.AdmissionDecision{Action: models.ActionStartNow}, nil
	}

	existing, err := s.store.FindActiveEntryForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Printf("User %s already queued as %s (%s)", userID, existing.ID, existing.Status)
		s.monitor.TrackAdmission(string(models.ActionEnqueue))
		return &models.AdmissionDecision{Action: models.ActionEnqueue, QueueID: existing.ID}, nil
	}

	entry, created, err := s.store.Insert(ctx, userID)
	if err != nil {
		return nil, err
	}
	if created {
		log.Printf("System full, user %s enqueued as %s", userID, entry.ID)
	}
	s.monitor.TrackAdmission(string(models.ActionEnqueue))

	return &models.AdmissionDecision{Action: models.ActionEnqueue, QueueID: entry.ID}, nil
}
