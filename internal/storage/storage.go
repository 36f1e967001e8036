package storage

import (
	"context"
	"time"

	"schoollibrary/internal/models"
)

// ActiveLoanFilter narrows the active loan listing. Zero values match everything.
type ActiveLoanFilter struct {
	Class     string
	StudentID int64
}

// Storage defines the interface for the library's persistent store.
// Missing rows surface as apperr.ErrNotFound and uniqueness violations as
// apperr.ErrDuplicateKey; other failures match apperr.ErrStore.
type Storage interface {
	// Book operations
	CreateBook(ctx context.Context, book models.Book) (int64, error)
	GetBook(ctx context.Context, id int64) (models.Book, error)
	ListBooks(ctx context.Context) ([]models.Book, error)

	// SearchBooksByAuthor returns books whose author contains the query
	// (case-insensitive) and that have at least one copy available.
	// An empty query returns all books.
	SearchBooksByAuthor(ctx context.Context, author string) ([]models.Book, error)

	// Student operations
	CreateStudent(ctx context.Context, student models.Student) (int64, error)
	UpdateStudent(ctx context.Context, student models.Student) error
	GetStudent(ctx context.Context, id int64) (models.Student, error)

	// ListStudents returns students ordered by name. An empty class returns everyone.
	ListStudents(ctx context.Context, class string) ([]models.Student, error)
	ListClasses(ctx context.Context) ([]string, error)

	// Loan read operations
	GetLoan(ctx context.Context, id int64) (models.Loan, error)

	// EachActiveLoan streams active loans ordered by loan date descending
	// (newest id first within a day). Iteration stops when yield returns false.
	// Overdue is left unset; it depends on the caller's clock.
	EachActiveLoan(ctx context.Context, filter ActiveLoanFilter, yield func(models.ActiveLoan) bool) error

	// ListDueOn returns active loans whose expected return date equals date
	ListDueOn(ctx context.Context, date time.Time) ([]models.DueEntry, error)

	GetStats(ctx context.Context) (models.Stats, error)

	// WithinTx runs fn in a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}

// Tx holds the row-level operations that must run inside one transaction.
// Lock methods hold the row until the transaction ends.
type Tx interface {
	LockBook(ctx context.Context, id int64) (models.Book, error)
	SetBookCounts(ctx context.Context, id int64, total, available int) error
	GetStudent(ctx context.Context, id int64) (models.Student, error)

	InsertLoan(ctx context.Context, loan models.Loan) (int64, error)
	LockLoan(ctx context.Context, id int64) (models.Loan, error)
	UpdateLoan(ctx context.Context, loan models.Loan) error
}
