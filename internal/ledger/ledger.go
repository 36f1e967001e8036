// Package ledger implements the loan lifecycle: borrowing, returning and
// renewing books. Each mutation runs as one store transaction together with
// the matching availability change.
package ledger

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"schoollibrary/internal/apperr"
	"schoollibrary/internal/clock"
	"schoollibrary/internal/inventory"
	"schoollibrary/internal/models"
	"schoollibrary/internal/storage"
)

const (
	// DefaultGraceDays is the loan period used when the caller gives none
	DefaultGraceDays = 15
	// DefaultExtensionDays is the renewal period used when the caller gives none
	DefaultExtensionDays = 7
	// MaxDays bounds a loan period or a single renewal
	MaxDays = 365
)

// CreateLoanRequest carries the parameters of a new loan
type CreateLoanRequest struct {
	BookID    int64
	StudentID int64
	GraceDays int
	Notes     string
}

// ActiveFilter narrows ListActive. Zero values match everything.
type ActiveFilter struct {
	Class     string
	StudentID int64
}

// Ledger owns loan records and their state machine
type Ledger struct {
	store      storage.Storage
	reconciler *inventory.Reconciler
	clock      clock.Clock
	logger     *zap.Logger
}

// New creates a Ledger
func New(store storage.Storage, reconciler *inventory.Reconciler, clk clock.Clock, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:      store,
		reconciler: reconciler,
		clock:      clk,
		logger:     logger,
	}
}

// ParseGraceDays converts form input into a loan period.
// Empty input yields fallback; anything other than a positive integer is rejected.
func ParseGraceDays(input string, fallback int) (int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return fallback, nil
	}
	days, err := strconv.Atoi(input)
	if err != nil {
		return 0, fmt.Errorf("grace days %q is not a number: %w", input, apperr.ErrInvalidInput)
	}
	if err := checkDays("grace days", days); err != nil {
		return 0, err
	}
	return days, nil
}

func checkDays(what string, days int) error {
	if days <= 0 {
		return fmt.Errorf("%s must be positive, got %d: %w", what, days, apperr.ErrInvalidInput)
	}
	if days > MaxDays {
		return fmt.Errorf("%s must be at most %d, got %d: %w", what, MaxDays, days, apperr.ErrInvalidInput)
	}
	return nil
}

// CreateLoan lends one copy of a book to a student
func (l *Ledger) CreateLoan(ctx context.Context, req CreateLoanRequest) (models.Loan, error) {
	if err := checkDays("grace days", req.GraceDays); err != nil {
		return models.Loan{}, err
	}

	today := clock.Today(l.clock)
	loan := models.Loan{
		BookID:         req.BookID,
		StudentID:      req.StudentID,
		LoanDate:       today,
		ExpectedReturn: clock.AddDays(today, req.GraceDays),
		Status:         models.LoanActive,
		Notes:          strings.TrimSpace(req.Notes),
	}

	var remaining int
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		// The book row lock serialises concurrent borrowers of the same title
		book, err := tx.LockBook(ctx, req.BookID)
		if err != nil {
			return err
		}
		if _, err := tx.GetStudent(ctx, req.StudentID); err != nil {
			return err
		}
		if book.Available <= 0 {
			return fmt.Errorf("book %d %q: %w", book.ID, book.Title, apperr.ErrUnavailable)
		}

		id, err := tx.InsertLoan(ctx, loan)
		if err != nil {
			return err
		}
		loan.ID = id

		updated, err := l.reconciler.Adjust(ctx, tx, req.BookID, -1)
		if err != nil {
			return err
		}
		remaining = updated.Available
		return nil
	})
	if err != nil {
		l.logger.Warn("Loan rejected",
			zap.Error(err),
			zap.Int64("book_id", req.BookID),
			zap.Int64("student_id", req.StudentID),
		)
		return models.Loan{}, apperr.Store(err)
	}

	l.logger.Info("Loan created",
		zap.Int64("loan_id", loan.ID),
		zap.Int64("book_id", loan.BookID),
		zap.Int64("student_id", loan.StudentID),
		zap.Time("expected_return", loan.ExpectedReturn),
		zap.Int("available", remaining),
	)
	return loan, nil
}

// ReturnLoan closes an active loan and puts the copy back on the shelf
func (l *Ledger) ReturnLoan(ctx context.Context, loanID int64) (models.Loan, error) {
	today := clock.Today(l.clock)

	var loan models.Loan
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		loan, err = tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status == models.LoanReturned {
			return fmt.Errorf("loan %d: %w", loanID, apperr.ErrAlreadyReturned)
		}

		loan.Status = models.LoanReturned
		loan.ActualReturn = &today
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}

		_, err = l.reconciler.Adjust(ctx, tx, loan.BookID, 1)
		return err
	})
	if err != nil {
		l.logger.Warn("Return rejected", zap.Error(err), zap.Int64("loan_id", loanID))
		return models.Loan{}, apperr.Store(err)
	}

	l.logger.Info("Loan returned", zap.Int64("loan_id", loan.ID), zap.Int64("book_id", loan.BookID))
	return loan, nil
}

// RenewLoan pushes the expected return date of an active loan forward by
// extensionDays, counted from the current expected date
func (l *Ledger) RenewLoan(ctx context.Context, loanID int64, extensionDays int) (models.Loan, error) {
	if err := checkDays("extension days", extensionDays); err != nil {
		return models.Loan{}, err
	}

	var loan models.Loan
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		loan, err = tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanActive {
			return fmt.Errorf("loan %d is %s: %w", loanID, loan.Status, apperr.ErrNotActive)
		}

		loan.ExpectedReturn = clock.AddDays(loan.ExpectedReturn, extensionDays)
		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		l.logger.Warn("Renewal rejected", zap.Error(err), zap.Int64("loan_id", loanID))
		return models.Loan{}, apperr.Store(err)
	}

	l.logger.Info("Loan renewed",
		zap.Int64("loan_id", loan.ID),
		zap.Time("expected_return", loan.ExpectedReturn),
	)
	return loan, nil
}

// ListActive returns the active loans, newest first, flagged as overdue when
// past their expected return date. The sequence queries the store each time
// it is ranged over; a store failure is yielded as the final element.
func (l *Ledger) ListActive(ctx context.Context, filter ActiveFilter) iter.Seq2[models.ActiveLoan, error] {
	return func(yield func(models.ActiveLoan, error) bool) {
		today := clock.Today(l.clock)
		stopped := false
		err := l.store.EachActiveLoan(ctx, storage.ActiveLoanFilter{Class: filter.Class, StudentID: filter.StudentID}, func(loan models.ActiveLoan) bool {
			loan.Overdue = loan.IsOverdue(today)
			if !yield(loan, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(models.ActiveLoan{}, apperr.Store(err))
		}
	}
}

// ActiveByStudent lists the students of a class with the titles each one
// currently holds. An empty class lists the whole roster.
func (l *Ledger) ActiveByStudent(ctx context.Context, class string) ([]models.StudentLoans, error) {
	students, err := l.store.ListStudents(ctx, class)
	if err != nil {
		return nil, apperr.Store(err)
	}

	titles := make(map[int64][]string)
	for loan, err := range l.ListActive(ctx, ActiveFilter{Class: class}) {
		if err != nil {
			return nil, err
		}
		titles[loan.StudentID] = append(titles[loan.StudentID], loan.BookTitle)
	}

	result := make([]models.StudentLoans, 0, len(students))
	for _, s := range students {
		result = append(result, models.StudentLoans{Student: s, Titles: titles[s.ID]})
	}
	return result, nil
}

// Stats returns library-wide counters
func (l *Ledger) Stats(ctx context.Context) (models.Stats, error) {
	stats, err := l.store.GetStats(ctx)
	if err != nil {
		return models.Stats{}, apperr.Store(err)
	}
	return stats, nil
}
