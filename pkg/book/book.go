// Package book ties the record store to the ledger engine and the report
// aggregator. It owns the clock: every figure it returns is computed against
// the instant the call was made.
package book

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/ledger"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/report"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput is wrapped by every rejection of caller-supplied values.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Service handles the business logic for borrowers, loans and payments.
type Service struct {
	storage    store.Storage
	aggregator *report.Aggregator
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Service)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAggregator(a *report.Aggregator) Option {
	return func(s *Service) { s.aggregator = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service on top of the given Storage implementation.
func NewService(st store.Storage, opts ...Option) *Service {
	s := &Service{
		storage:    st,
		aggregator: report.New(),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Borrowers

type BorrowerInput struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	CreditScore *int   `json:"credit_score"`
}

func (in BorrowerInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name is required")
	}
	if strings.TrimSpace(in.Phone) == "" {
		return invalid("phone is required")
	}
	return nil
}

func (s *Service) CreateBorrower(in BorrowerInput) (*models.Borrower, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	b := &models.Borrower{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(in.Name),
		Phone:       strings.TrimSpace(in.Phone),
		Email:       strings.TrimSpace(in.Email),
		CreditScore: in.CreditScore,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.storage.CreateBorrower(b); err != nil {
		return nil, fmt.Errorf("failed to store borrower: %w", err)
	}
	s.logger.Info("borrower created", "borrower_id", b.ID)
	return b, nil
}

func (s *Service) GetBorrower(id uuid.UUID) (*models.Borrower, error) {
	return s.storage.GetBorrower(id)
}

func (s *Service) UpdateBorrower(id uuid.UUID, in BorrowerInput) (*models.Borrower, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	b, err := s.storage.GetBorrower(id)
	if err != nil {
		return nil, err
	}
	b.Name = strings.TrimSpace(in.Name)
	b.Phone = strings.TrimSpace(in.Phone)
	b.Email = strings.TrimSpace(in.Email)
	b.CreditScore = in.CreditScore
	b.UpdatedAt = s.now()
	if err := s.storage.UpdateBorrower(b); err != nil {
		return nil, fmt.Errorf("failed to update borrower: %w", err)
	}
	return b, nil
}

func (s *Service) ListBorrowers() ([]*models.Borrower, error) {
	return s.storage.GetAllBorrowers()
}

// Loans

type LoanInput struct {
	BorrowerID   uuid.UUID       `json:"borrower_id"`
	Principal    decimal.Decimal `json:"principal"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	ApprovedAt   *time.Time      `json:"approved_at"`
}

// CreateLoan records a new loan. A loan created with an approval date starts
// out approved; otherwise it is pending.
func (s *Service) CreateLoan(in LoanInput) (*models.Loan, error) {
	if in.BorrowerID == uuid.Nil {
		return nil, invalid("borrower_id is required")
	}
	if !in.Principal.IsPositive() {
		return nil, invalid("principal must be positive")
	}
	if in.InterestRate.IsNegative() {
		return nil, invalid("interest rate must not be negative")
	}
	if _, err := s.storage.GetBorrower(in.BorrowerID); err != nil {
		return nil, err
	}

	now := s.now()
	loan := &models.Loan{
		ID:           uuid.New(),
		BorrowerID:   in.BorrowerID,
		Principal:    in.Principal,
		InterestRate: in.InterestRate,
		Status:       models.LoanStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.ApprovedAt != nil {
		approved := models.Date(*in.ApprovedAt)
		loan.ApprovedAt = &approved
		loan.Status = models.LoanStatusApproved
	}

	if err := s.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}
	s.logger.Info("loan created", "loan_id", loan.ID, "borrower_id", loan.BorrowerID, "status", loan.Status)
	return loan, nil
}

func (s *Service) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return s.storage.GetLoan(id)
}

// LoanFilter narrows ListLoans. BorrowerID takes precedence over Status.
type LoanFilter struct {
	BorrowerID *uuid.UUID
	Status     models.LoanStatus
}

func (s *Service) ListLoans(f LoanFilter) ([]*models.Loan, error) {
	switch {
	case f.BorrowerID != nil:
		return s.storage.GetLoansByBorrower(*f.BorrowerID)
	case f.Status != "":
		if !f.Status.Valid() {
			return nil, invalid("unknown status %q", f.Status)
		}
		return s.storage.GetLoansByStatus(f.Status)
	default:
		return s.storage.GetAllLoans()
	}
}

// UpdateLoanStatus applies an administrative status change. Moving to approved
// stamps the approval date, moving to active stamps the disbursement time.
func (s *Service) UpdateLoanStatus(id uuid.UUID, status models.LoanStatus) (*models.Loan, error) {
	if !status.Valid() {
		return nil, invalid("unknown status %q", status)
	}
	loan, err := s.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch status {
	case models.LoanStatusApproved:
		approved := models.Date(now)
		loan.ApprovedAt = &approved
	case models.LoanStatusActive:
		loan.DisbursedAt = &now
		if loan.ApprovedAt == nil {
			approved := models.Date(now)
			loan.ApprovedAt = &approved
		}
	}
	previous := loan.Status
	loan.Status = status
	loan.UpdatedAt = now

	if err := s.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan status: %w", err)
	}
	s.logger.Info("loan status changed", "loan_id", id, "from", previous, "to", status)
	return loan, nil
}

// DeleteLoan removes a loan together with its payments.
func (s *Service) DeleteLoan(id uuid.UUID) error {
	if err := s.storage.DeleteLoan(id); err != nil {
		return err
	}
	s.logger.Info("loan deleted", "loan_id", id)
	return nil
}

// LoanLedger computes the loan's current ledger.
func (s *Service) LoanLedger(id uuid.UUID) (*models.Loan, ledger.Ledger, error) {
	loan, err := s.storage.GetLoan(id)
	if err != nil {
		return nil, ledger.Ledger{}, err
	}
	payments, err := s.storage.GetPaymentsForLoan(id)
	if err != nil {
		return nil, ledger.Ledger{}, err
	}
	return loan, ledger.Compute(loan, payments, s.now()), nil
}

// Payments

type PaymentInput struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate *time.Time      `json:"payment_date"`
	Notes       string          `json:"notes"`
}

// AddPayment validates and records a payment.
func (s *Service) AddPayment(loanID uuid.UUID, in PaymentInput) (*models.Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, invalid("amount must be positive")
	}
	loan, err := s.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	payments, err := s.storage.GetPaymentsForLoan(loanID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := ledger.ValidatePayment(in.Amount, loan, payments, now, nil); err != nil {
		return nil, err
	}

	p := &models.Payment{
		ID:          uuid.New(),
		LoanID:      loanID,
		Amount:      in.Amount,
		PaymentDate: models.Date(now),
		Notes:       in.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.PaymentDate != nil {
		p.PaymentDate = models.Date(*in.PaymentDate)
	}
	if err := s.storage.CreatePayment(p); err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}
	s.logger.Info("payment recorded", "loan_id", loanID, "payment_id", p.ID, "amount", p.Amount.StringFixed(2))

	if err := s.reconcileStatus(loan, now); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePayment corrects an existing payment. The payment's current amount is
// released before the new amount is checked against the balance.
func (s *Service) UpdatePayment(id uuid.UUID, in PaymentInput) (*models.Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, invalid("amount must be positive")
	}
	p, err := s.storage.GetPayment(id)
	if err != nil {
		return nil, err
	}
	loan, err := s.storage.GetLoan(p.LoanID)
	if err != nil {
		return nil, err
	}
	payments, err := s.storage.GetPaymentsForLoan(p.LoanID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := ledger.ValidatePayment(in.Amount, loan, payments, now, &p.ID); err != nil {
		return nil, err
	}

	p.Amount = in.Amount
	if in.PaymentDate != nil {
		p.PaymentDate = models.Date(*in.PaymentDate)
	}
	if in.Notes != "" {
		p.Notes = in.Notes
	}
	p.UpdatedAt = now
	if err := s.storage.UpdatePayment(p); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	s.logger.Info("payment updated", "loan_id", p.LoanID, "payment_id", p.ID, "amount", p.Amount.StringFixed(2))

	if err := s.reconcileStatus(loan, now); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) DeletePayment(id uuid.UUID) error {
	p, err := s.storage.GetPayment(id)
	if err != nil {
		return err
	}
	loan, err := s.storage.GetLoan(p.LoanID)
	if err != nil {
		return err
	}
	if err := s.storage.DeletePayment(id); err != nil {
		return err
	}
	s.logger.Info("payment deleted", "loan_id", p.LoanID, "payment_id", id)
	return s.reconcileStatus(loan, s.now())
}

// reconcileStatus keeps the paid status in step with the balance due after the
// loan's payments change. A collectible loan with nothing left to pay is paid;
// a paid loan that owes again goes back to active, or approved if it was never
// disbursed.
func (s *Service) reconcileStatus(loan *models.Loan, now time.Time) error {
	payments, err := s.storage.GetPaymentsForLoan(loan.ID)
	if err != nil {
		return err
	}
	balance := ledger.BalanceDue(loan, payments, now)

	previous := loan.Status
	switch {
	case loan.Status.Collectible() && balance.IsZero():
		loan.Status = models.LoanStatusPaid
	case loan.Status == models.LoanStatusPaid && loan.ApprovedAt != nil && balance.IsPositive():
		loan.Status = models.LoanStatusApproved
		if loan.DisbursedAt != nil {
			loan.Status = models.LoanStatusActive
		}
	default:
		return nil
	}
	loan.UpdatedAt = now
	if err := s.storage.UpdateLoan(loan); err != nil {
		return fmt.Errorf("failed to update loan status: %w", err)
	}
	s.logger.Info("loan status reconciled", "loan_id", loan.ID, "from", previous, "to", loan.Status, "balance_due", balance.StringFixed(2))
	return nil
}

func (s *Service) ListPayments(loanID uuid.UUID) ([]*models.Payment, error) {
	if _, err := s.storage.GetLoan(loanID); err != nil {
		return nil, err
	}
	return s.storage.GetPaymentsForLoan(loanID)
}

// Report loads the whole book and aggregates it over the optional range.
func (s *Service) Report(ctx context.Context, r *models.DateRange) (report.Report, error) {
	if r != nil && r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
		return report.Report{}, invalid("end date precedes start date")
	}

	loans, err := s.storage.GetAllLoans()
	if err != nil {
		return report.Report{}, err
	}
	borrowers, err := s.storage.GetAllBorrowers()
	if err != nil {
		return report.Report{}, err
	}
	payments, err := s.storage.GetAllPayments()
	if err != nil {
		return report.Report{}, err
	}

	byLoan := make(map[uuid.UUID][]*models.Payment, len(loans))
	for _, p := range payments {
		byLoan[p.LoanID] = append(byLoan[p.LoanID], p)
	}

	start := time.Now()
	rep, err := s.aggregator.Generate(ctx, report.Input{
		Loans:          loans,
		PaymentsByLoan: byLoan,
		Borrowers:      borrowers,
		Range:          r,
	}, s.now())
	if err != nil {
		return report.Report{}, fmt.Errorf("failed to generate report: %w", err)
	}
	s.logger.Debug("report generated", "loans", rep.TotalLoans, "elapsed", time.Since(start))
	return rep, nil
}
