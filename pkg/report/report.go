// Package report rolls per-loan ledgers up into book-wide figures.
package report

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/ledger"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultTopN is the length of the borrower ranking unless overridden.
const DefaultTopN = 5

// Input is the raw book the report is computed over.
type Input struct {
	Loans          []*models.Loan
	PaymentsByLoan map[uuid.UUID][]*models.Payment
	Borrowers      []*models.Borrower
	Range          *models.DateRange // nil means every loan
}

type BorrowerProfit struct {
	BorrowerID uuid.UUID       `json:"borrower_id"`
	Name       string          `json:"name"`
	Profit     decimal.Decimal `json:"profit"`
}

type Report struct {
	TotalDebt              decimal.Decimal  `json:"total_debt"`
	TotalInvested          decimal.Decimal  `json:"total_invested"`
	InterestProfit         decimal.Decimal  `json:"interest_profit"`
	IncomingPayment        decimal.Decimal  `json:"incoming_payment"`
	ExpectedCyclePayments  decimal.Decimal  `json:"expected_cycle_payments"`
	TopProfitableBorrowers []BorrowerProfit `json:"top_profitable_borrowers"`
	TotalLoans             int              `json:"total_loans"`
	ApprovedLoans          int              `json:"approved_loans"`
	ActiveLoans            int              `json:"active_loans"`
	TotalBorrowers         int              `json:"total_borrowers"`
	GeneratedAt            time.Time        `json:"generated_at"`
}

// Aggregator computes reports. The zero value is not usable; call New.
type Aggregator struct {
	topN    int
	workers int
}

type Option func(*Aggregator)

// WithTopN sets how many borrowers the profit ranking keeps.
func WithTopN(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.topN = n
		}
	}
}

// WithWorkers bounds how many loans are evaluated concurrently.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		topN:    DefaultTopN,
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate evaluates every loan in the window as of now and folds the results.
// It only fails if ctx is cancelled.
func (a *Aggregator) Generate(ctx context.Context, in Input, now time.Time) (Report, error) {
	loans := filterLoans(in.Loans, in.Range)

	ledgers := make([]ledger.Ledger, len(loans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, loan := range loans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ledgers[i] = ledger.Compute(loan, in.PaymentsByLoan[loan.ID], now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep := Report{
		TotalDebt:             decimal.Zero,
		TotalInvested:         decimal.Zero,
		InterestProfit:        decimal.Zero,
		ExpectedCyclePayments: decimal.Zero,
		IncomingPayment:       incomingThisMonth(in.PaymentsByLoan, now),
		TotalLoans:            len(loans),
		TotalBorrowers:        len(in.Borrowers),
		GeneratedAt:           now,
	}

	profits := make(map[uuid.UUID]decimal.Decimal)
	for i, loan := range loans {
		l := ledgers[i]

		switch loan.Status {
		case models.LoanStatusApproved:
			rep.ApprovedLoans++
		case models.LoanStatusActive:
			rep.ActiveLoans++
		}

		// Paid and defaulted loans stop earning.
		if !loan.Status.Collectible() {
			continue
		}
		rep.TotalDebt = rep.TotalDebt.Add(l.BalanceDue)
		rep.TotalInvested = rep.TotalInvested.Add(loan.Principal)
		rep.ExpectedCyclePayments = rep.ExpectedCyclePayments.Add(l.MinimumCyclePayment)
		rep.InterestProfit = rep.InterestProfit.Add(l.AccruedInterest)
		if l.AccruedInterest.IsPositive() {
			profits[loan.BorrowerID] = profits[loan.BorrowerID].Add(l.AccruedInterest)
		}
	}

	rep.TopProfitableBorrowers = rankBorrowers(profits, in.Borrowers, a.topN)
	return rep, nil
}

// filterLoans keeps loans approved within r. Without a range every loan is
// kept, approved or not.
func filterLoans(loans []*models.Loan, r *models.DateRange) []*models.Loan {
	if r == nil {
		return loans
	}
	kept := make([]*models.Loan, 0, len(loans))
	for _, loan := range loans {
		if loan.ApprovedAt != nil && r.Contains(*loan.ApprovedAt) {
			kept = append(kept, loan)
		}
	}
	return kept
}

func incomingThisMonth(paymentsByLoan map[uuid.UUID][]*models.Payment, now time.Time) decimal.Decimal {
	year, month, _ := now.Date()
	total := decimal.Zero
	for _, payments := range paymentsByLoan {
		for _, p := range payments {
			if y, m, _ := p.PaymentDate.Date(); y == year && m == month {
				total = total.Add(p.Amount)
			}
		}
	}
	return total
}

func rankBorrowers(profits map[uuid.UUID]decimal.Decimal, borrowers []*models.Borrower, topN int) []BorrowerProfit {
	names := make(map[uuid.UUID]string, len(borrowers))
	for _, b := range borrowers {
		names[b.ID] = b.Name
	}

	ranked := make([]BorrowerProfit, 0, len(profits))
	for id, profit := range profits {
		ranked = append(ranked, BorrowerProfit{BorrowerID: id, Name: names[id], Profit: profit})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if c := ranked[i].Profit.Cmp(ranked[j].Profit); c != 0 {
			return c > 0
		}
		return ranked[i].BorrowerID.String() < ranked[j].BorrowerID.String()
	})

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}
