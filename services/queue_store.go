package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"interview-system/models"
	"interview-system/status"

	"github.com/google/uuid"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

// Redis key layout. The entry hash is the document; the two zsets are the
// FIFO index (scored by joinedAt) and the expiry index (scored by
// timerEndsAt); the user key enforces one active entry per user.
const (
	WaitingKey     = "queue:waiting"
	ReservedKey    = "queue:reserved"
	EntryKeyPrefix = "queue:entry:"
	UserKeyPrefix  = "queue:user:"

	EntryChannelPrefix = "queue-entry-"
	WaitingChannel     = "queue-waiting"
)

const promoteMaxRetries = 8

// insertScript creates a waiting entry unless the user already holds an
// active one, in which case the existing id comes back with created=0.
const insertScript = `
local existing = redis.call("GET", KEYS[1])
if existing then
  return {existing, 0}
end
redis.call("HSET", KEYS[2], "id", ARGV[1], "user_id", ARGV[2], "status", "waiting", "joined_at", ARGV[3])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
redis.call("SET", KEYS[1], ARGV[1])
return {ARGV[1], 1}
`

// promoteScript moves the head of the waiting zset to reserved. The status
// check is the compare-and-swap that rules out double promotion under
// concurrent triggers. A zset member without a backing document is dropped
// and reported so the caller can retry.
const promoteScript = `
local ids = redis.call("ZRANGE", KEYS[1], 0, 0)
if #ids == 0 then
  return {0}
end
local id = ids[1]
local entryKey = ARGV[3] .. id
local current = redis.call("HGET", entryKey, "status")
if current ~= "waiting" then
  redis.call("ZREM", KEYS[1], id)
  return {-1, id}
end
redis.call("HSET", entryKey, "status", "reserved", "reserved_at", ARGV[1], "timer_ends_at", ARGV[2])
redis.call("ZREM", KEYS[1], id)
redis.call("ZADD", KEYS[2], ARGV[2], id)
return {1, id}
`

// sweepExpiredScript deletes every reserved entry whose window has closed.
const sweepExpiredScript = `
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(expired) do
  local entryKey = ARGV[2] .. id
  local userID = redis.call("HGET", entryKey, "user_id")
  redis.call("DEL", entryKey)
  redis.call("ZREM", KEYS[1], id)
  if userID then
    redis.call("DEL", ARGV[3] .. userID)
  end
end
return expired
`

// sweepStaleWaitingScript clears waiting entries older than the cutoff.
// Covers abandons where the leave beacon never arrived.
const sweepStaleWaitingScript = `
local stale = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(stale) do
  local entryKey = ARGV[2] .. id
  local userID = redis.call("HGET", entryKey, "user_id")
  redis.call("DEL", entryKey)
  redis.call("ZREM", KEYS[1], id)
  if userID then
    redis.call("DEL", ARGV[3] .. userID)
  end
end
return stale
`

// deleteScript removes one entry and all of its index members. Deleting an
// absent id is a no-op, which makes leave idempotent.
const deleteScript = `
local entryKey = ARGV[2] .. ARGV[1]
local userID = redis.call("HGET", entryKey, "user_id")
local removed = redis.call("DEL", entryKey)
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
if userID then
  redis.call("DEL", ARGV[3] .. userID)
end
return removed
`

// QueueStore owns the persisted queue entries. Every mutation runs as a
// single Lua script, the only serialization point in the system, and
// publishes a best-effort change notification for waiting-room clients.
type QueueStore struct {
	Redis            *redis.Client
	pubnub           *pubnub.PubNub
	waitingListLimit int

	nowFunc func() time.Time
	newID   func() string
}

func NewQueueStore(redisClient *redis.Client, pn *pubnub.PubNub, waitingListLimit int) *QueueStore {
	if waitingListLimit <= 0 {
		waitingListLimit = 50
	}
	return &QueueStore{
		Redis:            redisClient,
		pubnub:           pn,
		waitingListLimit: waitingListLimit,
		nowFunc:          time.Now,
		newID:            uuid.NewString,
	}
}

// Insert appends a waiting entry for userID. If the user already holds an
// active entry the existing one is returned and created is false.
func (s *QueueStore) Insert(ctx context.Context, userID string) (*models.QueueEntry, bool, error) {
	id := s.newID()
	joinedAt := s.nowFunc().UTC().Truncate(time.Millisecond)

	res, err := s.Redis.Eval(ctx, insertScript,
		[]string{UserKeyPrefix + userID, EntryKeyPrefix + id, WaitingKey},
		id, userID, joinedAt.UnixMilli(),
	).Result()
	if err != nil {
		return nil, false, fmt.Errorf("queue: insert: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return nil, false, fmt.Errorf("queue: insert: unexpected reply %v", res)
	}

	returnedID, _ := reply[0].(string)
	created, _ := reply[1].(int64)

	if created == 0 {
		existing, err := s.Get(ctx, returnedID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	entry := &models.QueueEntry{
		ID:       id,
		UserID:   userID,
		Status:   models.StatusWaiting,
		JoinedAt: joinedAt,
	}

	s.publishEntry(ctx, entry)
	s.PublishWaitingList(ctx)

	return entry, true, nil
}

// Get loads one entry document. Returns status.ErrEntryNotFound when absent.
func (s *QueueStore) Get(ctx context.Context, id string) (*models.QueueEntry, error) {
	fields, err := s.Redis.HGetAll(ctx, EntryKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, status.ErrEntryNotFound
	}
	return entryFromHash(id, fields)
}

// FindActiveEntryForUser looks up a waiting or reserved entry for the user.
// Returns nil without error when the user has none.
func (s *QueueStore) FindActiveEntryForUser(ctx context.Context, userID string) (*models.QueueEntry, error) {
	id, err := s.Redis.Get(ctx, UserKeyPrefix+userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: find entry for user %s: %w", userID, err)
	}

	entry, err := s.Get(ctx, id)
	if errors.Is(err, status.ErrEntryNotFound) {
		// Torn state from a partial delete; treat as no entry.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// HasWaiting reports whether anyone is in line. Admission checks this before
// handing out START_NOW so a freed slot stays earmarked for promotion.
func (s *QueueStore) HasWaiting(ctx context.Context) (bool, error) {
	count, err := s.Redis.ZCard(ctx, WaitingKey).Result()
	if err != nil {
		return false, fmt.Errorf("queue: count waiting: %w", err)
	}
	return count > 0, nil
}

func (s *QueueStore) CountWaiting(ctx context.Context) (int64, error) {
	return s.Redis.ZCard(ctx, WaitingKey).Result()
}

func (s *QueueStore) CountReserved(ctx context.Context) (int64, error) {
	return s.Redis.ZCard(ctx, ReservedKey).Result()
}

// ListWaitingIDs returns up to limit waiting entry ids, oldest joinedAt
// first. This ordering is the fairness contract.
func (s *QueueStore) ListWaitingIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = s.waitingListLimit
	}
	ids, err := s.Redis.ZRange(ctx, WaitingKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list waiting: %w", err)
	}
	return ids, nil
}

// PromoteOldestWaiting converts the head of the line into a reservation
// ending at now+window. Returns nil when the queue is empty. Orphaned index
// members are dropped and the promotion retried, bounded.
func (s *QueueStore) PromoteOldestWaiting(ctx context.Context, now time.Time, window time.Duration) (*models.QueueEntry, error) {
	reservedAt := now.UTC().Truncate(time.Millisecond)
	timerEndsAt := reservedAt.Add(window)

	for attempt := 0; attempt < promoteMaxRetries; attempt++ {
		res, err := s.Redis.Eval(ctx, promoteScript,
			[]string{WaitingKey, ReservedKey},
			reservedAt.UnixMilli(), timerEndsAt.UnixMilli(), EntryKeyPrefix,
		).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: promote: %w", err)
		}

		reply, ok := res.([]interface{})
		if !ok || len(reply) == 0 {
			return nil, fmt.Errorf("queue: promote: unexpected reply %v", res)
		}

		code, _ := reply[0].(int64)
		switch code {
		case 0:
			return nil, nil
		case -1:
			id, _ := reply[1].(string)
			log.Printf("Dropped orphaned waiting index member %s, retrying promotion", id)
			continue
		case 1:
			id, _ := reply[1].(string)
			entry := &models.QueueEntry{
				ID:          id,
				Status:      models.StatusReserved,
				ReservedAt:  reservedAt,
				TimerEndsAt: timerEndsAt,
			}
			s.publishEntry(ctx, entry)
			s.PublishWaitingList(ctx)
			return entry, nil
		default:
			return nil, fmt.Errorf("queue: promote: unexpected code %d", code)
		}
	}

	return nil, fmt.Errorf("queue: promote: retries exhausted")
}

// DeleteExpiredReserved batch-deletes every reservation whose timerEndsAt
// is before now. Returns the deleted ids.
func (s *QueueStore) DeleteExpiredReserved(ctx context.Context, now time.Time) ([]string, error) {
	res, err := s.Redis.Eval(ctx, sweepExpiredScript,
		[]string{ReservedKey},
		now.UTC().UnixMilli(), EntryKeyPrefix, UserKeyPrefix,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: expiry sweep: %w", err)
	}

	ids := stringSlice(res)
	for _, id := range ids {
		s.publishDeleted(ctx, id)
	}
	return ids, nil
}

// DeleteStaleWaiting clears waiting entries that joined before the cutoff.
func (s *QueueStore) DeleteStaleWaiting(ctx context.Context, cutoff time.Time) ([]string, error) {
	res, err := s.Redis.Eval(ctx, sweepStaleWaitingScript,
		[]string{WaitingKey},
		cutoff.UTC().UnixMilli(), EntryKeyPrefix, UserKeyPrefix,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: stale-waiting sweep: %w", err)
	}

	ids := stringSlice(res)
	for _, id := range ids {
		s.publishDeleted(ctx, id)
	}
	if len(ids) > 0 {
		s.PublishWaitingList(ctx)
	}
	return ids, nil
}

// Delete removes one entry permanently. Idempotent.
func (s *QueueStore) Delete(ctx context.Context, id string) error {
	err := s.Redis.Eval(ctx, deleteScript,
		[]string{WaitingKey, ReservedKey},
		id, EntryKeyPrefix, UserKeyPrefix,
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("queue: delete %s: %w", id, err)
	}

	s.publishDeleted(ctx, id)
	s.PublishWaitingList(ctx)
	return nil
}

// PublishWaitingList pushes the current ordered waiting ids to the shared
// position channel. Best-effort: failures log and never fail the mutation.
func (s *QueueStore) PublishWaitingList(ctx context.Context) {
	if s.pubnub == nil {
		return
	}

	ids, err := s.ListWaitingIDs(ctx, s.waitingListLimit)
	if err != nil {
		log.Printf("Error listing waiting ids for publish: %v", err)
		return
	}

	s.publish(WaitingChannel, map[string]any{
		"type": "waiting_list",
		"ids":  ids,
	})
}

func (s *QueueStore) publishEntry(ctx context.Context, entry *models.QueueEntry) {
	if s.pubnub == nil {
		return
	}

	message := map[string]any{
		"type":   "queue_entry",
		"id":     entry.ID,
		"status": string(entry.Status),
	}
	if !entry.TimerEndsAt.IsZero() {
		message["timer_ends_at"] = entry.TimerEndsAt.UnixMilli()
	}

	s.publish(EntryChannelPrefix+entry.ID, message)
}

func (s *QueueStore) publishDeleted(ctx context.Context, id string) {
	if s.pubnub == nil {
		return
	}

	s.publish(EntryChannelPrefix+id, map[string]any{
		"type":    "queue_entry",
		"id":      id,
		"deleted": true,
	})
}

func (s *QueueStore) publish(channel string, message map[string]any) {
	if _, _, err := s.pubnub.Publish().Channel(channel).Message(message).Execute(); err != nil {
		log.Printf("Error publishing to %s: %v", channel, err)
	}
}

func entryFromHash(id string, fields map[string]string) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{
		ID:     id,
		UserID: fields["user_id"],
		Status: models.QueueStatus(fields["status"]),
	}

	var err error
	if entry.JoinedAt, err = parseMillis(fields["joined_at"]); err != nil {
		return nil, fmt.Errorf("queue: entry %s: bad joined_at: %w", id, err)
	}
	if entry.ReservedAt, err = parseMillis(fields["reserved_at"]); err != nil {
		return nil, fmt.Errorf("queue: entry %s: bad reserved_at: %w", id, err)
	}
	if entry.TimerEndsAt, err = parseMillis(fields["timer_ends_at"]); err != nil {
		return nil, fmt.Errorf("queue: entry %s: bad timer_ends_at: %w", id, err)
	}

	return entry, nil
}

func parseMillis(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func stringSlice(res interface{}) []string {
	reply, ok := res.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(reply))
	for _, item := range reply {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
