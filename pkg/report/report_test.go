package report

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/ledger"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.March, 15, 9, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := now.AddDate(0, 0, -n)
	return &t
}

func ptr(t time.Time) *time.Time { return &t }

func loanFor(b *models.Borrower, principal, rate int64, approvedAt *time.Time, status models.LoanStatus) *models.Loan {
	return &models.Loan{
		ID:           uuid.New(),
		BorrowerID:   b.ID,
		Principal:    decimal.NewFromInt(principal),
		InterestRate: decimal.NewFromInt(rate),
		Status:       status,
		ApprovedAt:   approvedAt,
	}
}

func borrower(name string) *models.Borrower {
	return &models.Borrower{ID: uuid.New(), Name: name}
}

func TestGenerate_TwoApprovedLoans(t *testing.T) {
	alice, bob := borrower("Alice"), borrower("Bob")
	a := loanFor(alice, 1000, 5, daysAgo(60), models.LoanStatusApproved)
	b := loanFor(bob, 2000, 2, daysAgo(15), models.LoanStatusApproved)

	rep, err := New().Generate(context.Background(), Input{
		Loans:     []*models.Loan{a, b},
		Borrowers: []*models.Borrower{alice, bob},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "3000", rep.TotalInvested.String())
	assert.Equal(t, "140", rep.InterestProfit.String())
	assert.Equal(t, "3140", rep.TotalDebt.String())
	assert.Equal(t, "90", rep.ExpectedCyclePayments.String())
	assert.True(t, rep.IncomingPayment.IsZero())
	assert.Equal(t, 2, rep.TotalLoans)
	assert.Equal(t, 2, rep.ApprovedLoans)
	assert.Equal(t, 0, rep.ActiveLoans)
	assert.Equal(t, 2, rep.TotalBorrowers)

	require.Len(t, rep.TopProfitableBorrowers, 2)
	assert.Equal(t, alice.ID, rep.TopProfitableBorrowers[0].BorrowerID)
	assert.Equal(t, "Alice", rep.TopProfitableBorrowers[0].Name)
	assert.Equal(t, "100", rep.TopProfitableBorrowers[0].Profit.String())
	assert.Equal(t, bob.ID, rep.TopProfitableBorrowers[1].BorrowerID)
}

func TestGenerate_DebtOnlyCountsCollectibleLoans(t *testing.T) {
	c := borrower("Carol")
	active := loanFor(c, 1000, 5, daysAgo(40), models.LoanStatusActive)
	paid := loanFor(c, 500, 5, daysAgo(40), models.LoanStatusPaid)
	pending := loanFor(c, 700, 5, nil, models.LoanStatusPending)

	rep, err := New().Generate(context.Background(), Input{
		Loans: []*models.Loan{active, paid, pending},
		PaymentsByLoan: map[uuid.UUID][]*models.Payment{
			active.ID: {{ID: uuid.New(), LoanID: active.ID, Amount: decimal.NewFromInt(100), PaymentDate: *daysAgo(20)}},
			paid.ID:   {{ID: uuid.New(), LoanID: paid.ID, Amount: decimal.NewFromInt(550), PaymentDate: *daysAgo(30)}},
		},
		Borrowers: []*models.Borrower{c},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "1000", rep.TotalDebt.String())
	assert.Equal(t, "1000", rep.TotalInvested.String())
	assert.Equal(t, "100", rep.InterestProfit.String())
	assert.Equal(t, 3, rep.TotalLoans)
	assert.Equal(t, 1, rep.ActiveLoans)
	assert.Equal(t, 0, rep.ApprovedLoans)
}

func TestGenerate_ClosedLoansEarnNoProfit(t *testing.T) {
	ana := borrower("Ana")
	paid := loanFor(ana, 1000, 5, daysAgo(365), models.LoanStatusPaid)
	defaulted := loanFor(ana, 1000, 5, daysAgo(365), models.LoanStatusDefaulted)

	rep, err := New().Generate(context.Background(), Input{
		Loans:     []*models.Loan{paid, defaulted},
		Borrowers: []*models.Borrower{ana},
	}, now)
	require.NoError(t, err)

	assert.True(t, rep.InterestProfit.IsZero(), "got %s", rep.InterestProfit)
	assert.True(t, rep.TotalDebt.IsZero())
	assert.Empty(t, rep.TopProfitableBorrowers)
	assert.Equal(t, 2, rep.TotalLoans)
}

func TestGenerate_DateRangeFiltersByApproval(t *testing.T) {
	d := borrower("Dan")
	inside := loanFor(d, 1000, 5, ptr(time.Date(2026, time.February, 10, 18, 0, 0, 0, time.UTC)), models.LoanStatusActive)
	edge := loanFor(d, 1000, 5, ptr(time.Date(2026, time.February, 28, 23, 0, 0, 0, time.UTC)), models.LoanStatusActive)
	outside := loanFor(d, 4000, 5, ptr(time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)), models.LoanStatusActive)
	unapproved := loanFor(d, 9000, 5, nil, models.LoanStatusPending)

	rng := &models.DateRange{
		Start: ptr(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)),
		End:   ptr(time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC)),
	}

	// Payments this month count no matter which loans the range keeps.
	payments := map[uuid.UUID][]*models.Payment{
		outside.ID: {
			{ID: uuid.New(), LoanID: outside.ID, Amount: decimal.NewFromInt(75), PaymentDate: time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)},
			{ID: uuid.New(), LoanID: outside.ID, Amount: decimal.NewFromInt(60), PaymentDate: time.Date(2026, time.February, 27, 0, 0, 0, 0, time.UTC)},
		},
		inside.ID: {
			{ID: uuid.New(), LoanID: inside.ID, Amount: decimal.RequireFromString("10.50"), PaymentDate: time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)},
		},
	}

	rep, err := New().Generate(context.Background(), Input{
		Loans:          []*models.Loan{inside, edge, outside, unapproved},
		PaymentsByLoan: payments,
		Borrowers:      []*models.Borrower{d},
		Range:          rng,
	}, now)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.TotalLoans)
	assert.Equal(t, "2000", rep.TotalInvested.String())
	assert.Equal(t, "85.5", rep.IncomingPayment.String())
	assert.Equal(t, 1, rep.TotalBorrowers)
}

func TestGenerate_TopBorrowersTruncatedAndTieBroken(t *testing.T) {
	var borrowers []*models.Borrower
	var loans []*models.Loan
	for i := 0; i < 8; i++ {
		b := borrower(fmt.Sprintf("b%d", i))
		borrowers = append(borrowers, b)
		// Every borrower earns the same interest, so order falls back to id.
		loans = append(loans, loanFor(b, 1000, 1, daysAgo(10), models.LoanStatusActive))
	}
	zero := borrower("zero")
	borrowers = append(borrowers, zero)
	loans = append(loans, loanFor(zero, 1000, 0, daysAgo(10), models.LoanStatusActive))

	rep, err := New(WithTopN(3), WithWorkers(2)).Generate(context.Background(), Input{
		Loans:     loans,
		Borrowers: borrowers,
	}, now)
	require.NoError(t, err)

	require.Len(t, rep.TopProfitableBorrowers, 3)
	for i := 1; i < len(rep.TopProfitableBorrowers); i++ {
		assert.Less(t, rep.TopProfitableBorrowers[i-1].BorrowerID.String(), rep.TopProfitableBorrowers[i].BorrowerID.String())
	}
	for _, bp := range rep.TopProfitableBorrowers {
		assert.NotEqual(t, zero.ID, bp.BorrowerID)
	}
}

func TestGenerate_ProfitSummedPerBorrower(t *testing.T) {
	e, f := borrower("Eve"), borrower("Frank")
	loans := []*models.Loan{
		loanFor(e, 1000, 2, daysAgo(10), models.LoanStatusActive),
		loanFor(e, 1000, 2, daysAgo(10), models.LoanStatusActive),
		loanFor(f, 1000, 3, daysAgo(10), models.LoanStatusActive),
	}

	rep, err := New().Generate(context.Background(), Input{Loans: loans, Borrowers: []*models.Borrower{e, f}}, now)
	require.NoError(t, err)

	require.Len(t, rep.TopProfitableBorrowers, 2)
	assert.Equal(t, e.ID, rep.TopProfitableBorrowers[0].BorrowerID)
	assert.Equal(t, "40", rep.TopProfitableBorrowers[0].Profit.String())
	assert.Equal(t, "30", rep.TopProfitableBorrowers[1].Profit.String())
}

func TestGenerate_MatchesSequentialFold(t *testing.T) {
	g := borrower("Grace")
	var loans []*models.Loan
	payments := map[uuid.UUID][]*models.Payment{}
	for i := 0; i < 200; i++ {
		l := loanFor(g, int64(1000+i), 0, daysAgo(i), models.LoanStatusActive)
		l.InterestRate = decimal.RequireFromString("1.37")
		loans = append(loans, l)
		payments[l.ID] = []*models.Payment{{ID: uuid.New(), LoanID: l.ID, Amount: decimal.RequireFromString("0.01"), PaymentDate: *daysAgo(1)}}
	}

	rep, err := New(WithWorkers(8)).Generate(context.Background(), Input{Loans: loans, PaymentsByLoan: payments}, now)
	require.NoError(t, err)

	debt := decimal.Zero
	for _, l := range loans {
		debt = debt.Add(ledger.BalanceDue(l, payments[l.ID], now))
	}
	assert.True(t, debt.Equal(rep.TotalDebt), "want %s got %s", debt, rep.TotalDebt)
}

func TestGenerate_CancelledContext(t *testing.T) {
	h := borrower("Heidi")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Generate(ctx, Input{Loans: []*models.Loan{loanFor(h, 1000, 5, daysAgo(3), models.LoanStatusActive)}}, now)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_EmptyBook(t *testing.T) {
	rep, err := New().Generate(context.Background(), Input{}, now)
	require.NoError(t, err)

	assert.True(t, rep.TotalDebt.IsZero())
	assert.Empty(t, rep.TopProfitableBorrowers)
	assert.Zero(t, rep.TotalLoans)
}
