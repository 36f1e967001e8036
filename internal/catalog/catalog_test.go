package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schoollibrary/internal/apperr"
	"schoollibrary/internal/inventory"
	"schoollibrary/internal/models"
	"schoollibrary/internal/storage"
	"schoollibrary/internal/storage/stubs"
)

func newCatalog() (*Catalog, *stubs.MockDB) {
	db := stubs.NewMockDB()
	logger := zap.NewNop()
	return New(db, inventory.NewReconciler(logger), logger), db
}

func TestCatalog_AddBook(t *testing.T) {
	c, _ := newCatalog()
	ctx := context.Background()

	book, err := c.AddBook(ctx, NewBook{Title: " Vidas Secas ", Author: "Graciliano Ramos", ISBN: "85-01", Copies: 3})
	require.NoError(t, err)
	assert.Equal(t, "Vidas Secas", book.Title)
	assert.Equal(t, 3, book.Total)
	assert.Equal(t, 3, book.Available)

	single, err := c.AddBook(ctx, NewBook{Title: "A Hora da Estrela", Author: "Clarice Lispector"})
	require.NoError(t, err)
	assert.Equal(t, 1, single.Total)
	assert.Equal(t, 1, single.Available)

	_, err = c.AddBook(ctx, NewBook{Title: "Copy", Author: "Someone", ISBN: "85-01"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateKey)

	_, err = c.AddBook(ctx, NewBook{Title: "", Author: "Someone"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = c.AddBook(ctx, NewBook{Title: "T", Author: "A", Copies: -1})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	books, err := c.Books(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 2)
}

func TestCatalog_SetTotalCopiesKeepsLoans(t *testing.T) {
	c, db := newCatalog()
	ctx := context.Background()

	book, err := c.AddBook(ctx, NewBook{Title: "T", Author: "A", Copies: 2})
	require.NoError(t, err)

	// One copy goes out on loan
	err = db.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.SetBookCounts(ctx, book.ID, 2, 1)
	})
	require.NoError(t, err)

	updated, err := c.SetTotalCopies(ctx, book.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Total)
	assert.Equal(t, 3, updated.Available)

	_, err = c.SetTotalCopies(ctx, book.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrInventoryInvariant)

	stored, err := c.Book(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Book{ID: book.ID, Title: "T", Author: "A", Total: 4, Available: 3, CreatedAt: stored.CreatedAt}, stored)

	_, err = c.SetTotalCopies(ctx, 999, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCatalog_SearchByAuthor(t *testing.T) {
	c, _ := newCatalog()
	ctx := context.Background()

	_, err := c.AddBook(ctx, NewBook{Title: "Quincas Borba", Author: "Machado de Assis"})
	require.NoError(t, err)
	_, err = c.AddBook(ctx, NewBook{Title: "O Cortiço", Author: "Aluísio Azevedo"})
	require.NoError(t, err)

	books, err := c.SearchByAuthor(ctx, "MACHADO")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Quincas Borba", books[0].Title)
}
