package engine

import (
	"errors"
	"fmt"

	"postflow/internal/store"
)

// Error taxonomy surfaced to callers; match with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
	ErrGateway      = errors.New("gateway failure")
	ErrStore        = errors.New("store failure")
)

// errChannelUnavailable is the recorded failure reason when a post's
// channel is missing or inactive at publish time.
var errChannelUnavailable = errors.New("channel unavailable")

// wrapStoreErr maps store errors onto the engine taxonomy: a missing row
// is the caller's NotFound, anything else is a StoreFailure.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %s", op, ErrStore, err)
}
