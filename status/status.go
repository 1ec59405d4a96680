package status

import "errors"

var (
	ErrCapacityQuery       = errors.New("capacity: provider query failed")
	ErrInsufficientCredits = errors.New("credits: insufficient balance")
	ErrEntryNotFound       = errors.New("queue: entry not found")
)
