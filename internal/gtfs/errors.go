package gtfs

import (
	"context"
	"errors"
	"fmt"
	"net"

	"overlay.onebusaway.org/internal/models"
)

var (
	// ErrSourceUnreachable means a schedule or feed source could not be read.
	ErrSourceUnreachable = errors.New("source unreachable")
	// ErrInvalidFormat means the schedule archive could not be decoded.
	ErrInvalidFormat = errors.New("invalid schedule format")
	// ErrTimeout means a fetch did not finish in time.
	ErrTimeout = errors.New("fetch timed out")
	// ErrMalformedPayload means a realtime payload could not be decoded.
	ErrMalformedPayload = errors.New("malformed realtime payload")
)

// FeedError is the failure of one realtime category for one cycle.
type FeedError struct {
	Category models.FeedCategory
	Feed     string
	Err      error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %s %s: %v", e.Feed, e.Category, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// classifyFetchError maps a transport error onto ErrTimeout or ErrSourceUnreachable.
func classifyFetchError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrSourceUnreachable) ||
		errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrInvalidFormat) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
}
