package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"interview-system/config"
	"interview-system/monitoring"
)

// PromotionService reacts to freed capacity. Two triggers converge on the
// same sweep-then-promote pass: the provider's call_ended webhook and a
// periodic opportunistic sweep. There is no persistent scheduler beyond the
// sweep ticker.
type PromotionService struct {
	store   *QueueStore
	config  *config.Config
	monitor *monitoring.Monitor

	nowFunc  func() time.Time
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewPromotionService(store *QueueStore, cfg *config.Config, monitor *monitoring.Monitor) *PromotionService {
	return &PromotionService{
		store:    store,
		config:   cfg,
		monitor:  monitor,
		nowFunc:  time.Now,
		stopChan: make(chan struct{}),
	}
}

// HandleCallEnded runs the expire-then-promote sequence. The ordering
// guarantees a freed slot is never handed to a ghost: expired reservations
// go first, then the oldest waiting entry gets the slot.
func (s *PromotionService) HandleCallEnded(ctx context.Context) error {
	now := s.nowFunc().UTC()

	expired, err := s.store.DeleteExpiredReserved(ctx, now)
	if err != nil {
		return fmt.Errorf("promotion: %w", err)
	}
	if len(expired) > 0 {
		log.Printf("Removed %d expired ghost reservations", len(expired))
		s.monitor.TrackExpired(len(expired))
	}

	entry, err := s.store.PromoteOldestWaiting(ctx, now, s.config.ReservationWindow)
	if err != nil {
		// Ghosts are already cleared; partial progress is acceptable.
		log.Printf("Promotion read failed after sweep: %v", err)
		return nil
	}

	if entry == nil {
		log.Println("Queue empty, no user to bump")
		return nil
	}

	log.Printf("Bumped entry %s to reserved until %s", entry.ID, entry.TimerEndsAt.Format(time.RFC3339))
	s.monitor.TrackPromotion()
	return nil
}

// Start launches the background services: the opportunistic sweeper and the
// queue-position publisher.
func (s *PromotionService) Start() {
	s.wg.Add(1)
	go s.sweeper()

	s.wg.Add(1)
	go s.positionUpdater()

	log.Println("Started promotion background services")
}

func (s *PromotionService) sweeper() {
	defer s.wg.Done()

	interval := s.config.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopChan:
			log.Println("Sweeper stopping")
			return
		}
	}
}

func (s *PromotionService) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.HandleCallEnded(ctx); err != nil {
		log.Printf("Sweep error: %v", err)
	}

	if ttl := s.config.WaitingTTL; ttl > 0 {
		cutoff := s.nowFunc().UTC().Add(-ttl)
		stale, err := s.store.DeleteStaleWaiting(ctx, cutoff)
		if err != nil {
			log.Printf("Stale-waiting sweep error: %v", err)
		} else if len(stale) > 0 {
			log.Printf("Removed %d stale waiting entries (older than %s)", len(stale), ttl)
		}
	}
}

func (s *PromotionService) positionUpdater() {
	defer s.wg.Done()

	interval := s.config.QueuePositionUpdate
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.store.PublishWaitingList(ctx)
			cancel()
		case <-s.stopChan:
			log.Println("Position updater stopping")
			return
		}
	}
}

// Shutdown stops the background goroutines and waits for them, bounded.
func (s *PromotionService) Shutdown() {
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Promotion services stopped")
	case <-time.After(30 * time.Second):
		log.Println("Timeout waiting for promotion services to stop")
	}
}
