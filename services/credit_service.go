package services

import (
	"context"
	"fmt"

	"interview-system/status"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const creditKeyPrefix = "credits:"

// Balances live in Redis as integer cents; decimal only at the API edge.
var centsPerCredit = decimal.NewFromInt(100)

// debitScript refuses to take a balance below zero.
const debitScript = `
local balance = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])
if balance < amount then
  return -1
end
return redis.call("DECRBY", KEYS[1], amount)
`

// CreditService is the thin in-scope edge of the external payment/credit
// ledger: a balance gate before admission and a debit when a session starts.
type CreditService struct {
	Redis *redis.Client
}

func NewCreditService(redisClient *redis.Client) *CreditService {
	return &CreditService{Redis: redisClient}
}

func (s *CreditService) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	cents, err := s.Redis.Get(ctx, creditKeyPrefix+userID).Int64()
	if err == redis.Nil {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("credits: balance for %s: %w", userID, err)
	}
	return decimal.NewFromInt(cents).Div(centsPerCredit), nil
}

// HasBalance reports whether the user can afford one interview.
func (s *CreditService) HasBalance(ctx context.Context, userID string) (bool, error) {
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance.GreaterThanOrEqual(decimal.NewFromInt(1)), nil
}

func (s *CreditService) Grant(ctx context.Context, userID string, amount decimal.Decimal) error {
	cents := amount.Mul(centsPerCredit).IntPart()
	if err := s.Redis.IncrBy(ctx, creditKeyPrefix+userID, cents).Err(); err != nil {
		return fmt.Errorf("credits: grant for %s: %w", userID, err)
	}
	return nil
}

// Debit atomically takes amount from the balance, failing with
// ErrInsufficientCredits rather than going negative.
func (s *CreditService) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	cents := amount.Mul(centsPerCredit).IntPart()

	res, err := s.Redis.Eval(ctx, debitScript, []string{creditKeyPrefix + userID}, cents).Int64()
	if err != nil {
		return fmt.Errorf("credits: debit for %s: %w", userID, err)
	}
	if res < 0 {
		return status.ErrInsufficientCredits
	}
	return nil
}
