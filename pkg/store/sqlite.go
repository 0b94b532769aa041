package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Foreign keys are per connection in SQLite.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Info("database ready", "dsn", dataSourceName)
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds newer columns.
// Decimal fields are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS borrowers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		borrower_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		status TEXT NOT NULL,
		approved_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(borrower_id) REFERENCES borrowers(id)
	);
	CREATE INDEX IF NOT EXISTS idx_loans_borrower ON loans(borrower_id);
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_date DATETIME NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	migrations := []struct{ table, column string }{
		{"borrowers", "credit_score INTEGER"},
		{"loans", "disbursed_at DATETIME"},
	}
	for _, m := range migrations {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", m.table, m.column))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func notFound(kind string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func checkAffected(result sql.Result, kind string, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound(kind, id)
	}
	return nil
}

// Borrowers

const borrowerColumns = `id, name, phone, email, credit_score, created_at, updated_at`

func scanBorrower(row scanner) (*models.Borrower, error) {
	var b models.Borrower
	var idStr string
	var score sql.NullInt64
	if err := row.Scan(&idStr, &b.Name, &b.Phone, &b.Email, &score, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.ID = uuid.MustParse(idStr)
	if score.Valid {
		v := int(score.Int64)
		b.CreditScore = &v
	}
	return &b, nil
}

func nullScore(score *int) sql.NullInt64 {
	if score == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*score), Valid: true}
}

// CreateBorrower inserts a new borrower.
func (s *SQLiteStore) CreateBorrower(b *models.Borrower) error {
	_, err := s.db.Exec(
		`INSERT INTO borrowers (`+borrowerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.Name, b.Phone, b.Email, nullScore(b.CreditScore), b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create borrower: %w", err)
	}
	return nil
}

// GetBorrower retrieves a borrower by its ID.
func (s *SQLiteStore) GetBorrower(id uuid.UUID) (*models.Borrower, error) {
	row := s.db.QueryRow(`SELECT `+borrowerColumns+` FROM borrowers WHERE id = ?`, id.String())
	b, err := scanBorrower(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("borrower", id)
		}
		return nil, fmt.Errorf("failed to get borrower: %w", err)
	}
	return b, nil
}

// UpdateBorrower updates the contact details of a borrower.
func (s *SQLiteStore) UpdateBorrower(b *models.Borrower) error {
	result, err := s.db.Exec(
		`UPDATE borrowers SET name = ?, phone = ?, email = ?, credit_score = ?, updated_at = ? WHERE id = ?`,
		b.Name, b.Phone, b.Email, nullScore(b.CreditScore), b.UpdatedAt.UTC(), b.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update borrower: %w", err)
	}
	return checkAffected(result, "borrower", b.ID)
}

// GetAllBorrowers retrieves all borrowers, oldest first.
func (s *SQLiteStore) GetAllBorrowers() ([]*models.Borrower, error) {
	rows, err := s.db.Query(`SELECT ` + borrowerColumns + ` FROM borrowers ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all borrowers: %w", err)
	}
	defer rows.Close()

	var borrowers []*models.Borrower
	for rows.Next() {
		b, err := scanBorrower(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan borrower row: %w", err)
		}
		borrowers = append(borrowers, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return borrowers, nil
}

// Loans

const loanColumns = `id, borrower_id, principal, interest_rate, status, approved_at, disbursed_at, created_at, updated_at`

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, borrowerIDStr string
	var approved, disbursed sql.NullTime
	if err := row.Scan(&idStr, &borrowerIDStr, &loan.Principal, &loan.InterestRate, &loan.Status, &approved, &disbursed, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	loan.BorrowerID = uuid.MustParse(borrowerIDStr)
	loan.ApprovedAt = timePtr(approved)
	loan.DisbursedAt = timePtr(disbursed)
	return &loan, nil
}

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.BorrowerID.String(), loan.Principal, loan.InterestRate, string(loan.Status),
		nullTime(loan.ApprovedAt), nullTime(loan.DisbursedAt), loan.CreatedAt.UTC(), loan.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("loan", id)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan in the database.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	result, err := s.db.Exec(
		`UPDATE loans SET borrower_id = ?, principal = ?, interest_rate = ?, status = ?, approved_at = ?, disbursed_at = ?, updated_at = ? WHERE id = ?`,
		loan.BorrowerID.String(), loan.Principal, loan.InterestRate, string(loan.Status),
		nullTime(loan.ApprovedAt), nullTime(loan.DisbursedAt), loan.UpdatedAt.UTC(), loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return checkAffected(result, "loan", loan.ID)
}

// DeleteLoan removes a loan and its payments within a transaction.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM payments WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated payments: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	if err := checkAffected(result, "loan", id); err != nil {
		return err
	}
	return tx.Commit()
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	return s.queryLoans(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at ASC`)
}

// GetLoansByBorrower retrieves the loans issued to one borrower.
func (s *SQLiteStore) GetLoansByBorrower(borrowerID uuid.UUID) ([]*models.Loan, error) {
	return s.queryLoans(`SELECT `+loanColumns+` FROM loans WHERE borrower_id = ? ORDER BY created_at ASC`, borrowerID.String())
}

// GetLoansByStatus retrieves all loans in the given status.
func (s *SQLiteStore) GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error) {
	return s.queryLoans(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY created_at ASC`, string(status))
}

func (s *SQLiteStore) queryLoans(query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// Payments

const paymentColumns = `id, loan_id, amount, payment_date, notes, created_at, updated_at`

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	var idStr, loanIDStr string
	if err := row.Scan(&idStr, &loanIDStr, &p.Amount, &p.PaymentDate, &p.Notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	p.LoanID = uuid.MustParse(loanIDStr)
	return &p, nil
}

// CreatePayment inserts a new payment.
func (s *SQLiteStore) CreatePayment(p *models.Payment) error {
	_, err := s.db.Exec(
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.LoanID.String(), p.Amount, p.PaymentDate.UTC(), p.Notes, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by its ID.
func (s *SQLiteStore) GetPayment(id uuid.UUID) (*models.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id.String())
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("payment", id)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// UpdatePayment corrects the amount, date or notes of a recorded payment.
func (s *SQLiteStore) UpdatePayment(p *models.Payment) error {
	result, err := s.db.Exec(
		`UPDATE payments SET amount = ?, payment_date = ?, notes = ?, updated_at = ? WHERE id = ?`,
		p.Amount, p.PaymentDate.UTC(), p.Notes, p.UpdatedAt.UTC(), p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return checkAffected(result, "payment", p.ID)
}

// DeletePayment removes a payment.
func (s *SQLiteStore) DeletePayment(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM payments WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	return checkAffected(result, "payment", id)
}

// GetPaymentsForLoan retrieves all payments for a given loan ID, oldest first.
func (s *SQLiteStore) GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error) {
	return s.queryPayments(`SELECT `+paymentColumns+` FROM payments WHERE loan_id = ? ORDER BY payment_date ASC`, loanID.String())
}

// GetAllPayments retrieves every payment in the book.
func (s *SQLiteStore) GetAllPayments() ([]*models.Payment, error) {
	return s.queryPayments(`SELECT ` + paymentColumns + ` FROM payments ORDER BY payment_date ASC`)
}

func (s *SQLiteStore) queryPayments(query string, args ...any) ([]*models.Payment, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return payments, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
