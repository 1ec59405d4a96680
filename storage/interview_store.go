package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	_ "modernc.org/sqlite"
)

// Interview record statuses.
const (
	InterviewStatusCreated = "created"
	InterviewStatusEnded   = "ended"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS interviews (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		call_id    TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		ended_at   INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interviews_user ON interviews (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_interviews_call ON interviews (call_id)`,
}

// InterviewRecord is the durable log entry for one started session. The
// feedback pipeline polls the provider with CallID after EndedAt is set.
type InterviewRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CallID    string    `json:"call_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

type interviewRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	CallID    string `db:"call_id"`
	Status    string `db:"status"`
	CreatedAt int64  `db:"created_at"`
	EndedAt   int64  `db:"ended_at"`
}

type InterviewStore struct {
	db *dbx.DB
}

// Open opens (creating if needed) the SQLite-backed interview log.
func Open(path string) (*InterviewStore, error) {
	db, err := dbx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.NewQuery(stmt).Execute(); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: init schema: %w", err)
		}
	}

	return &InterviewStore{db: db}, nil
}

func (s *InterviewStore) Close() error {
	return s.db.Close()
}

func (s *InterviewStore) Insert(ctx context.Context, rec *InterviewRecord) error {
	_, err := s.db.NewQuery(
		`INSERT INTO interviews (id, user_id, call_id, status, created_at, ended_at)
		 VALUES ({:id}, {:user_id}, {:call_id}, {:status}, {:created_at}, {:ended_at})`,
	).Bind(dbx.Params{
		"id":         rec.ID,
		"user_id":    rec.UserID,
		"call_id":    rec.CallID,
		"status":     rec.Status,
		"created_at": rec.CreatedAt.Unix(),
		"ended_at":   unixOrZero(rec.EndedAt),
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("storage: insert interview %s: %w", rec.ID, err)
	}
	return nil
}

// MarkEnded closes the record matching callID. Unknown call ids are not an
// error; webhooks can arrive for calls this instance never recorded.
func (s *InterviewStore) MarkEnded(ctx context.Context, callID string, endedAt time.Time) error {
	if callID == "" {
		return nil
	}

	_, err := s.db.NewQuery(
		`UPDATE interviews SET status = {:status}, ended_at = {:ended_at}
		 WHERE call_id = {:call_id} AND status != {:status}`,
	).Bind(dbx.Params{
		"status":   InterviewStatusEnded,
		"ended_at": endedAt.Unix(),
		"call_id":  callID,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("storage: mark ended %s: %w", callID, err)
	}
	return nil
}

func (s *InterviewStore) ListByUser(ctx context.Context, userID string) ([]InterviewRecord, error) {
	var rows []interviewRow
	err := s.db.NewQuery(
		`SELECT id, user_id, call_id, status, created_at, ended_at
		 FROM interviews WHERE user_id = {:user_id}
		 ORDER BY created_at DESC`,
	).Bind(dbx.Params{"user_id": userID}).WithContext(ctx).All(&rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list interviews for %s: %w", userID, err)
	}

	records := make([]InterviewRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

func (r interviewRow) toRecord() InterviewRecord {
	rec := InterviewRecord{
		ID:        r.ID,
		UserID:    r.UserID,
		CallID:    r.CallID,
		Status:    r.Status,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}
	if r.EndedAt > 0 {
		rec.EndedAt = time.Unix(r.EndedAt, 0).UTC()
	}
	return rec
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
