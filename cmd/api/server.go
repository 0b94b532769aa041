package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanbook/pkg/book"
	"github.com/mcclellann/loanbook/pkg/ledger"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/shopspring/decimal"
)

// Server exposes the book service over HTTP.
type Server struct {
	book    *book.Service
	storage store.Storage
	logger  *slog.Logger
}

func NewServer(s store.Storage, logger *slog.Logger, opts ...book.Option) *Server {
	opts = append([]book.Option{book.WithLogger(logger)}, opts...)
	return &Server{
		book:    book.NewService(s, opts...),
		storage: s,
		logger:  logger,
	}
}

// Close releases the underlying storage.
func (s *Server) Close() error {
	return s.storage.Close()
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/healthz", s.healthHandler).Methods("GET")

	router.HandleFunc("/borrowers", s.listBorrowersHandler).Methods("GET")
	router.HandleFunc("/borrowers", s.createBorrowerHandler).Methods("POST")
	router.HandleFunc("/borrowers/{id}", s.getBorrowerHandler).Methods("GET")
	router.HandleFunc("/borrowers/{id}", s.updateBorrowerHandler).Methods("PUT")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/status", s.updateLoanStatusHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}/ledger", s.getLedgerHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.addPaymentHandler).Methods("POST")

	router.HandleFunc("/payments/{paymentId}", s.updatePaymentHandler).Methods("PUT")
	router.HandleFunc("/payments/{paymentId}", s.deletePaymentHandler).Methods("DELETE")

	router.HandleFunc("/reports", s.reportHandler).Methods("GET")
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error  string           `json:"error"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Due    *decimal.Decimal `json:"due,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var exceeds *ledger.AmountExceedsDueError
	switch {
	case errors.As(err, &exceeds):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: exceeds.Error(), Amount: &exceeds.Amount, Due: &exceeds.Due})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, book.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func pathID(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[key])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", key)
	}
	return id, nil
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := models.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Borrowers

func (s *Server) listBorrowersHandler(w http.ResponseWriter, r *http.Request) {
	borrowers, err := s.book.ListBorrowers()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if borrowers == nil {
		borrowers = []*models.Borrower{}
	}
	writeJSON(w, http.StatusOK, borrowers)
}

func (s *Server) createBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	var req book.BorrowerInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	b, err := s.book.CreateBorrower(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) getBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	b, err := s.book.GetBorrower(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) updateBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req book.BorrowerInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	b, err := s.book.UpdateBorrower(id, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Loans

type loanResponse struct {
	*models.Loan
	Ledger ledger.Ledger `json:"ledger"`
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	var f book.LoanFilter
	q := r.URL.Query()
	if v := q.Get("borrowerId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			badRequest(w, "invalid borrowerId")
			return
		}
		f.BorrowerID = &id
	}
	f.Status = models.LoanStatus(q.Get("status"))

	loans, err := s.book.ListLoans(f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BorrowerID   uuid.UUID       `json:"borrower_id"`
		Principal    decimal.Decimal `json:"principal"`
		InterestRate decimal.Decimal `json:"interest_rate"`
		ApprovedAt   string          `json:"approved_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	approvedAt, err := optionalDate(req.ApprovedAt)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	loan, err := s.book.CreateLoan(book.LoanInput{
		BorrowerID:   req.BorrowerID,
		Principal:    req.Principal,
		InterestRate: req.InterestRate,
		ApprovedAt:   approvedAt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	loan, l, err := s.book.LoanLedger(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanResponse{Loan: loan, Ledger: l})
}

func (s *Server) getLedgerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	_, l, err := s.book.LoanLedger(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.book.DeleteLoan(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateLoanStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req struct {
		Status models.LoanStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	loan, err := s.book.UpdateLoanStatus(id, req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// Payments

type paymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date"`
	Notes       string          `json:"notes"`
}

func decodePayment(r *http.Request) (book.PaymentInput, error) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return book.PaymentInput{}, err
	}
	date, err := optionalDate(req.PaymentDate)
	if err != nil {
		return book.PaymentInput{}, err
	}
	return book.PaymentInput{Amount: req.Amount, PaymentDate: date, Notes: req.Notes}, nil
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	payments, err := s.book.ListPayments(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) addPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	in, err := decodePayment(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	p, err := s.book.AddPayment(id, in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "paymentId")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	in, err := decodePayment(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	p, err := s.book.UpdatePayment(id, in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "paymentId")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.book.DeletePayment(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reports

func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := optionalDate(q.Get("startDate"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	end, err := optionalDate(q.Get("endDate"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	var rng *models.DateRange
	if start != nil || end != nil {
		rng = &models.DateRange{Start: start, End: end}
	}

	rep, err := s.book.Report(r.Context(), rng)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
