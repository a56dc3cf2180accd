// Package budget implements the run-wide wall-clock deadline.
package budget

import (
	"time"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// Budget is a deadline fixed at construction. It is safe for concurrent use.
type Budget struct {
	clock    crawler.Clock
	deadline time.Time
}

// New computes the deadline as clock.Now() plus minutes. A non-positive
// budget is already expired.
func New(clock crawler.Clock, minutes float64) *Budget {
	if minutes < 0 {
		minutes = 0
	}
	return &Budget{
		clock:    clock,
		deadline: clock.Now().Add(time.Duration(minutes * float64(time.Minute))),
	}
}

// Deadline returns the fixed deadline.
func (b *Budget) Deadline() time.Time {
	return b.deadline
}

// Expired reports whether the deadline has been reached. Callers check it
// before starting new work; work already in flight is never interrupted.
func (b *Budget) Expired() bool {
	return !b.clock.Now().Before(b.deadline)
}

// Remaining returns the time left, or zero once expired.
func (b *Budget) Remaining() time.Duration {
	left := b.deadline.Sub(b.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}
