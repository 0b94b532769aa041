// Package ledger derives a loan's financial position from its terms, its
// payments and an explicit evaluation instant. Nothing here reads the clock
// or touches storage.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
)

// CycleDays is the fixed length of a billing cycle. Cycles are not calendar months.
const CycleDays = 30

var (
	hundred = decimal.NewFromInt(100)
)

// ErrAmountExceedsDue matches any *AmountExceedsDueError via errors.Is.
var ErrAmountExceedsDue = errors.New("payment amount exceeds amount due")

// AmountExceedsDueError is returned when a proposed payment is larger than the
// balance it would be applied to.
type AmountExceedsDueError struct {
	Amount decimal.Decimal
	Due    decimal.Decimal
}

func (e *AmountExceedsDueError) Error() string {
	return fmt.Sprintf("payment amount (%s) cannot exceed the amount due (%s)", e.Amount.StringFixed(2), e.Due.StringFixed(2))
}

func (e *AmountExceedsDueError) Is(target error) bool {
	return target == ErrAmountExceedsDue
}

// Ledger is the set of derived figures for one loan at one instant.
type Ledger struct {
	BillingCycles       int             `json:"billing_cycles"`
	AccruedInterest     decimal.Decimal `json:"accrued_interest"`
	TotalOwed           decimal.Decimal `json:"total_owed"`
	TotalPaid           decimal.Decimal `json:"total_paid"`
	BalanceDue          decimal.Decimal `json:"balance_due"`
	MinimumCyclePayment decimal.Decimal `json:"minimum_cycle_payment"`
	NextDueDate         *time.Time      `json:"next_due_date,omitempty"`
}

// Compute derives every ledger figure for loan as of now.
func Compute(loan *models.Loan, payments []*models.Payment, now time.Time) Ledger {
	cycles := BillingCycles(loan.ApprovedAt, now)
	interest := MinimumCyclePayment(loan).Mul(decimal.NewFromInt(int64(cycles)))
	owed := loan.Principal.Add(interest)
	paid := TotalPaid(payments)

	return Ledger{
		BillingCycles:       cycles,
		AccruedInterest:     interest,
		TotalOwed:           owed,
		TotalPaid:           paid,
		BalanceDue:          clampZero(owed.Sub(paid)),
		MinimumCyclePayment: MinimumCyclePayment(loan),
		NextDueDate:         NextDueDate(loan.ApprovedAt, now),
	}
}

// daysBetween counts whole calendar days from a to b, ignoring time of day.
func daysBetween(a, b time.Time) int {
	return int(models.Date(b).Sub(models.Date(a)) / (24 * time.Hour))
}

// BillingCycles counts the cycles entered since approval. Any cycle entered by
// at least one day is charged in full.
func BillingCycles(approvedAt *time.Time, now time.Time) int {
	if approvedAt == nil {
		return 0
	}
	days := daysBetween(*approvedAt, now)
	if days < 0 {
		return 0
	}

	completed := days / CycleDays
	if days-completed*CycleDays >= 1 {
		return completed + 1
	}
	return completed
}

// MinimumCyclePayment is the interest-only amount charged for one cycle.
func MinimumCyclePayment(loan *models.Loan) decimal.Decimal {
	return loan.Principal.Mul(loan.InterestRate.Div(hundred))
}

// AccruedInterest is the interest earned to date. It has no term cap.
func AccruedInterest(loan *models.Loan, now time.Time) decimal.Decimal {
	cycles := BillingCycles(loan.ApprovedAt, now)
	return MinimumCyclePayment(loan).Mul(decimal.NewFromInt(int64(cycles)))
}

// TotalPaid sums the payment amounts.
func TotalPaid(payments []*models.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

// TotalOwed is principal plus accrued interest.
func TotalOwed(loan *models.Loan, now time.Time) decimal.Decimal {
	return loan.Principal.Add(AccruedInterest(loan, now))
}

// BalanceDue is what remains after payments. Overpayment clamps to zero.
func BalanceDue(loan *models.Loan, payments []*models.Payment, now time.Time) decimal.Decimal {
	return clampZero(TotalOwed(loan, now).Sub(TotalPaid(payments)))
}

// NextDueDate steps whole calendar months from the approval date, unlike
// BillingCycles which steps fixed 30-day cycles.
func NextDueDate(approvedAt *time.Time, now time.Time) *time.Time {
	if approvedAt == nil {
		return nil
	}
	approved := models.Date(*approvedAt)
	next := approved.AddDate(0, 1, 0)

	if models.Date(now).After(next) {
		cycles := daysBetween(approved, now) / CycleDays
		next = approved.AddDate(0, cycles+1, 0)
	}
	return &next
}

// ValidatePayment checks that amount fits within the balance due. When an
// existing payment is being edited, pass its id as excluding so its current
// amount is released before the check.
func ValidatePayment(amount decimal.Decimal, loan *models.Loan, payments []*models.Payment, now time.Time, excluding *uuid.UUID) error {
	due := BalanceDue(loan, withoutPayment(payments, excluding), now)
	if amount.GreaterThan(due) {
		return &AmountExceedsDueError{Amount: amount, Due: due}
	}
	return nil
}

func withoutPayment(payments []*models.Payment, id *uuid.UUID) []*models.Payment {
	if id == nil {
		return payments
	}
	kept := make([]*models.Payment, 0, len(payments))
	for _, p := range payments {
		if p.ID != *id {
			kept = append(kept, p)
		}
	}
	return kept
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
