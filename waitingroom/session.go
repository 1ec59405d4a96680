package waitingroom

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"interview-system/models"
)

// State of the requester-side session. This is a mirror of server state:
// expiry here is advisory, the sweep is authoritative.
type State string

const (
	StateWaiting  State = "waiting"
	StateReserved State = "reserved"
	StateExpired  State = "expired"
)

// EntryUpdate is one change-feed delivery for the session's own entry.
// Found=false means the document is gone (claimed elsewhere, swept, or left).
type EntryUpdate struct {
	Found       bool
	Status      models.QueueStatus
	TimerEndsAt time.Time
}

// Feed is the change-feed surface the session observes. Delivery is
// at-least-once and ordering across rapid writes is not guaranteed; missed
// updates degrade the display, never correctness.
type Feed interface {
	SubscribeEntry(id string, fn func(EntryUpdate)) (func(), error)
	SubscribeWaitingList(fn func(ids []string)) (func(), error)
}

// LeaveReporter releases the queue slot on the way out. Fired without
// awaiting; it must not block teardown.
type LeaveReporter func(queueID string)

// MicProbe is the readiness check required before a reservation can be
// claimed.
type MicProbe func(ctx context.Context) error

type Snapshot struct {
	State         State
	Position      int // 1-based; valid only when PositionKnown
	PositionKnown bool
	TimeLeft      time.Duration
	MicReady      bool
}

type Options struct {
	Leave    LeaveReporter
	Mic      MicProbe
	OnChange func(Snapshot)
}

// Session observes one queue entry through the change feed and drives the
// waiting → reserved → expired display state machine, including the 1-second
// reservation countdown and the live queue position.
type Session struct {
	queueID  string
	feed     Feed
	leave    LeaveReporter
	mic      MicProbe
	onChange func(Snapshot)

	nowFunc func() time.Time

	mu            sync.Mutex
	state         State
	position      int
	positionKnown bool
	timerEndsAt   time.Time
	micReady      bool
	closed        bool
	unsubs        []func()
	stopCountdown chan struct{}
}

func NewSession(queueID string, feed Feed, opts Options) *Session {
	return &Session{
		queueID:  queueID,
		feed:     feed,
		leave:    opts.Leave,
		mic:      opts.Mic,
		onChange: opts.OnChange,
		nowFunc:  time.Now,
		state:    StateWaiting,
	}
}

// Start subscribes to the entry and position feeds.
func (s *Session) Start() error {
	if s.queueID == "" {
		return errors.New("waitingroom: queue id is required")
	}

	unsubEntry, err := s.feed.SubscribeEntry(s.queueID, s.handleEntryUpdate)
	if err != nil {
		return fmt.Errorf("waitingroom: subscribe entry: %w", err)
	}

	unsubList, err := s.feed.SubscribeWaitingList(s.handleWaitingList)
	if err != nil {
		unsubEntry()
		return fmt.Errorf("waitingroom: subscribe waiting list: %w", err)
	}

	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubEntry, unsubList)
	s.mu.Unlock()

	return nil
}

func (s *Session) handleEntryUpdate(u EntryUpdate) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	switch {
	case !u.Found:
		s.setStateLocked(StateExpired)
	case u.Status == models.StatusReserved:
		if s.state != StateExpired {
			s.timerEndsAt = u.TimerEndsAt
			s.setStateLocked(StateReserved)
			s.startCountdownLocked(u.TimerEndsAt)
		}
	case u.Status == models.StatusWaiting:
		if s.state != StateExpired {
			s.setStateLocked(StateWaiting)
		}
	}

	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

func (s *Session) handleWaitingList(ids []string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.positionKnown = false
	s.position = 0
	for i, id := range ids {
		if id == s.queueID {
			s.position = i + 1
			s.positionKnown = true
			break
		}
	}

	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if state == StateExpired {
		s.stopCountdownLocked()
	}
}

// startCountdownLocked ticks once per second toward timerEndsAt and flips
// the local state to expired when it passes. Restarting replaces any
// previous countdown.
func (s *Session) startCountdownLocked(endsAt time.Time) {
	s.stopCountdownLocked()

	stop := make(chan struct{})
	s.stopCountdown = stop

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if s.nowFunc().Before(endsAt) {
					s.mu.Lock()
					snap := s.snapshotLocked()
					s.mu.Unlock()
					s.emit(snap)
					continue
				}

				s.mu.Lock()
				if s.closed || s.stopCountdown != stop {
					s.mu.Unlock()
					return
				}
				s.stopCountdown = nil
				s.setStateLocked(StateExpired)
				snap := s.snapshotLocked()
				s.mu.Unlock()
				s.emit(snap)
				return
			}
		}
	}()
}

func (s *Session) stopCountdownLocked() {
	if s.stopCountdown != nil {
		close(s.stopCountdown)
		s.stopCountdown = nil
	}
}

// TestMicrophone runs the readiness probe. Claiming is blocked until it
// passes once.
func (s *Session) TestMicrophone(ctx context.Context) error {
	if s.mic == nil {
		return errors.New("waitingroom: no microphone probe configured")
	}
	if err := s.mic(ctx); err != nil {
		return fmt.Errorf("waitingroom: microphone check: %w", err)
	}

	s.mu.Lock()
	s.micReady = true
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)

	return nil
}

// Claim hands the reservation to start, which is responsible for deleting
// the queue entry once the session is live. Only a reserved, mic-checked
// session may claim.
func (s *Session) Claim(ctx context.Context, start func(ctx context.Context) error) error {
	s.mu.Lock()
	state, micReady := s.state, s.micReady
	s.mu.Unlock()

	if state != StateReserved {
		return fmt.Errorf("waitingroom: cannot claim in state %s", state)
	}
	if !micReady {
		return errors.New("waitingroom: microphone check required before claiming")
	}

	if err := start(ctx); err != nil {
		return err
	}

	s.Close()
	return nil
}

// Leave fires the abandonment report and tears the session down. The report
// is not awaited: it must survive page teardown, not confirm it.
func (s *Session) Leave() {
	if s.leave != nil {
		go s.leave(s.queueID)
	}
	s.Close()
}

func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopCountdownLocked()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:         s.state,
		Position:      s.position,
		PositionKnown: s.positionKnown,
		MicReady:      s.micReady,
	}
	if s.state == StateReserved && !s.timerEndsAt.IsZero() {
		if left := s.timerEndsAt.Sub(s.nowFunc()); left > 0 {
			snap.TimeLeft = left.Truncate(time.Second)
		}
	}
	return snap
}

func (s *Session) emit(snap Snapshot) {
	if s.onChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("waitingroom: onChange panic: %v", r)
		}
	}()
	s.onChange(snap)
}

// PositionDisplay renders the queue position, with positions beyond the
// published window shown as "50+".
func PositionDisplay(snap Snapshot, cap int) string {
	if snap.PositionKnown {
		return fmt.Sprintf("#%d", snap.Position)
	}
	if snap.State == StateWaiting && cap > 0 {
		return fmt.Sprintf("%d+", cap)
	}
	return "unknown"
}
