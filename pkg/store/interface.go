package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
)

// ErrNotFound is wrapped by every lookup that matches no row.
var ErrNotFound = errors.New("not found")

// Storage defines the interface for database operations on borrowers, loans and payments.
type Storage interface {
	CreateBorrower(borrower *models.Borrower) error
	GetBorrower(id uuid.UUID) (*models.Borrower, error)
	UpdateBorrower(borrower *models.Borrower) error
	GetAllBorrowers() ([]*models.Borrower, error)

	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*models.Loan, error)
	GetLoansByBorrower(borrowerID uuid.UUID) ([]*models.Loan, error)
	GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error)

	CreatePayment(payment *models.Payment) error
	GetPayment(id uuid.UUID) (*models.Payment, error)
	UpdatePayment(payment *models.Payment) error
	DeletePayment(id uuid.UUID) error
	GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error)
	GetAllPayments() ([]*models.Payment, error)

	Close() error
}
