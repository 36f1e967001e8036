// Package inventory keeps a book's available-copy counter in lockstep with
// loan state changes. Every adjustment runs inside the caller's transaction
// and holds the book row lock until that transaction ends.
package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"schoollibrary/internal/apperr"
	"schoollibrary/internal/models"
	"schoollibrary/internal/storage"
)

// Reconciler applies availability changes under 0 <= available <= total
type Reconciler struct {
	logger *zap.Logger
}

// NewReconciler creates a Reconciler
func NewReconciler(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger}
}

// Adjust applies available += delta to bookID and returns the updated book
func (r *Reconciler) Adjust(ctx context.Context, tx storage.Tx, bookID int64, delta int) (models.Book, error) {
	book, err := tx.LockBook(ctx, bookID)
	if err != nil {
		return models.Book{}, err
	}

	available := book.Available + delta
	if available < 0 || available > book.Total {
		r.logger.Error("Inventory invariant violated",
			zap.Int64("book_id", bookID),
			zap.Int("total", book.Total),
			zap.Int("available", book.Available),
			zap.Int("delta", delta),
		)
		return models.Book{}, fmt.Errorf("book %d: available %d%+d outside [0, %d]: %w",
			bookID, book.Available, delta, book.Total, apperr.ErrInventoryInvariant)
	}

	if err := tx.SetBookCounts(ctx, bookID, book.Total, available); err != nil {
		return models.Book{}, err
	}
	book.Available = available
	return book, nil
}

// Resize changes the number of copies owned while keeping the number of
// copies on loan unchanged
func (r *Reconciler) Resize(ctx context.Context, tx storage.Tx, bookID int64, total int) (models.Book, error) {
	if total < 0 {
		return models.Book{}, fmt.Errorf("total copies %d: %w", total, apperr.ErrInvalidInput)
	}

	book, err := tx.LockBook(ctx, bookID)
	if err != nil {
		return models.Book{}, err
	}

	onLoan := book.OnLoan()
	available := total - onLoan
	if available < 0 {
		return models.Book{}, fmt.Errorf("book %d: %d copies on loan exceed new total %d: %w",
			bookID, onLoan, total, apperr.ErrInventoryInvariant)
	}

	if err := tx.SetBookCounts(ctx, bookID, total, available); err != nil {
		return models.Book{}, err
	}
	book.Total = total
	book.Available = available
	return book, nil
}
