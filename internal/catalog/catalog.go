package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"schoollibrary/internal/apperr"
	"schoollibrary/internal/inventory"
	"schoollibrary/internal/models"
	"schoollibrary/internal/storage"
)

// NewBook holds the fields entered when cataloguing a book
type NewBook struct {
	Title    string
	Author   string
	ISBN     string
	Category string
	Copies   int // zero means one copy
}

// Catalog manages book records
type Catalog struct {
	store      storage.Storage
	reconciler *inventory.Reconciler
	logger     *zap.Logger
}

// New creates a Catalog
func New(store storage.Storage, reconciler *inventory.Reconciler, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{store: store, reconciler: reconciler, logger: logger}
}

// AddBook catalogues a book with every copy available
func (c *Catalog) AddBook(ctx context.Context, nb NewBook) (models.Book, error) {
	book := models.Book{
		Title:    strings.TrimSpace(nb.Title),
		Author:   strings.TrimSpace(nb.Author),
		ISBN:     strings.TrimSpace(nb.ISBN),
		Category: strings.TrimSpace(nb.Category),
		Total:    nb.Copies,
	}
	if book.Title == "" || book.Author == "" {
		return models.Book{}, fmt.Errorf("title and author are required: %w", apperr.ErrInvalidInput)
	}
	if book.Total < 0 {
		return models.Book{}, fmt.Errorf("copies must not be negative, got %d: %w", book.Total, apperr.ErrInvalidInput)
	}
	if book.Total == 0 {
		book.Total = 1
	}
	book.Available = book.Total

	id, err := c.store.CreateBook(ctx, book)
	if err != nil {
		return models.Book{}, apperr.Store(err)
	}
	book.ID = id

	c.logger.Info("Book added",
		zap.Int64("book_id", id),
		zap.String("title", book.Title),
		zap.Int("copies", book.Total),
	)
	return book, nil
}

// SetTotalCopies changes how many copies the library owns. Copies on loan
// stay on loan; the new total may not drop below them.
func (c *Catalog) SetTotalCopies(ctx context.Context, bookID int64, total int) (models.Book, error) {
	var book models.Book
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		book, err = c.reconciler.Resize(ctx, tx, bookID, total)
		return err
	})
	if err != nil {
		return models.Book{}, apperr.Store(err)
	}

	c.logger.Info("Book copies changed",
		zap.Int64("book_id", bookID),
		zap.Int("total", book.Total),
		zap.Int("available", book.Available),
	)
	return book, nil
}

// Book returns a single book
func (c *Catalog) Book(ctx context.Context, id int64) (models.Book, error) {
	book, err := c.store.GetBook(ctx, id)
	return book, apperr.Store(err)
}

// Books returns every book ordered by title
func (c *Catalog) Books(ctx context.Context) ([]models.Book, error) {
	books, err := c.store.ListBooks(ctx)
	return books, apperr.Store(err)
}

// SearchByAuthor returns lendable books by a matching author, or every book
// when the query is blank
func (c *Catalog) SearchByAuthor(ctx context.Context, author string) ([]models.Book, error) {
	books, err := c.store.SearchBooksByAuthor(ctx, author)
	return books, apperr.Store(err)
}
