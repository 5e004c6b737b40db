// Package budget gates AI-class operations on available spend. A guard
// consults a cost ledger before each operation and requires a reserve
// fraction of the operation's allowance to remain; without a ledger the
// guard fails open, because missing accounting must not halt work.
package budget

import (
	"math"
	"sync"

	"github.com/Iron-Ham/conductor/internal/logging"
)

// CostLedger reports remaining spend available to the session.
type CostLedger interface {
	// Remaining returns the budget left, in USD. Implementations without a
	// configured limit return +Inf.
	Remaining() float64
}

// Decision is the outcome of a budget check.
type Decision struct {
	Allowed bool
	// Reason explains a denial; empty when allowed.
	Reason string
}

// Guard decides whether AI-class operations may proceed.
type Guard struct {
	ledger       CostLedger
	reserveRatio float64
	logger       *logging.Logger
}

// NewGuard creates a Guard. A nil ledger makes the guard fail open: every
// operation is allowed. reserveRatio is the fraction of a step's allowance
// that must remain in the ledger (typically 0.2).
func NewGuard(ledger CostLedger, reserveRatio float64, logger *logging.Logger) *Guard {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Guard{
		ledger:       ledger,
		reserveRatio: reserveRatio,
		logger:       logger,
	}
}

// AllowAI reports whether an AI operation with the given step allowance may
// proceed. The operation is allowed when the ledger's remaining budget is at
// least reserveRatio times the allowance. Without a ledger the guard allows
// everything.
func (g *Guard) AllowAI(stepAllowance float64) Decision {
	if g.ledger == nil {
		return Decision{Allowed: true}
	}

	required := g.reserveRatio * stepAllowance
	remaining := g.ledger.Remaining()

	if remaining >= required {
		return Decision{Allowed: true}
	}

	g.logger.Warn("ai operation denied by budget guard",
		"remaining", remaining,
		"required", required,
		"step_allowance", stepAllowance)

	return Decision{
		Allowed: false,
		Reason:  "insufficient budget remaining",
	}
}

// Ledger is an in-memory CostLedger tracking spend against a fixed limit.
// Safe for concurrent use.
type Ledger struct {
	mu    sync.Mutex
	limit float64
	spent float64
}

// NewLedger creates a ledger with the given spend limit in USD.
// A limit of 0 means unlimited.
func NewLedger(limit float64) *Ledger {
	return &Ledger{limit: limit}
}

// Add records spend against the ledger.
func (l *Ledger) Add(cost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent += cost
}

// Spent returns the total recorded spend.
func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

// Remaining returns the budget left, or +Inf when no limit is configured.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		return math.Inf(1)
	}
	return l.limit - l.spent
}

var _ CostLedger = (*Ledger)(nil)
