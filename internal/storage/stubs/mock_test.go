package stubs

import (
	"context"
	"errors"
	"testing"
	"time"

	"schoollibrary/internal/apperr"
	"schoollibrary/internal/models"
	"schoollibrary/internal/storage"
)

func TestMockDB_CreateBook(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	id, err := db.CreateBook(ctx, models.Book{Title: "Dom Casmurro", Author: "Machado de Assis", ISBN: "978-1", Total: 2, Available: 2})
	if err != nil {
		t.Fatalf("Failed to create book: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected non-zero book ID")
	}

	book, err := db.GetBook(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get book: %v", err)
	}
	if book.Title != "Dom Casmurro" || book.Available != 2 {
		t.Errorf("Unexpected book: %+v", book)
	}

	// Same ISBN must be rejected
	_, err = db.CreateBook(ctx, models.Book{Title: "Other", Author: "X", ISBN: "978-1", Total: 1, Available: 1})
	if !errors.Is(err, apperr.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	// Empty ISBN is not a key
	for i := 0; i < 2; i++ {
		if _, err := db.CreateBook(ctx, models.Book{Title: "No ISBN", Author: "Y", Total: 1, Available: 1}); err != nil {
			t.Fatalf("Failed to create book without ISBN: %v", err)
		}
	}
}

func TestMockDB_ListBooksSortedByTitle(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	for _, title := range []string{"C", "A", "B"} {
		if _, err := db.CreateBook(ctx, models.Book{Title: title, Author: "Anon", Total: 1, Available: 1}); err != nil {
			t.Fatalf("Failed to create book: %v", err)
		}
	}

	books, err := db.ListBooks(ctx)
	if err != nil {
		t.Fatalf("Failed to list books: %v", err)
	}
	if len(books) != 3 {
		t.Fatalf("Expected 3 books, got %d", len(books))
	}
	for i := 0; i < len(books)-1; i++ {
		if books[i].Title > books[i+1].Title {
			t.Error("Expected books to be sorted by title")
			break
		}
	}
}

func TestMockDB_SearchBooksByAuthor(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	_, _ = db.CreateBook(ctx, models.Book{Title: "Iracema", Author: "José de Alencar", Total: 1, Available: 1})
	_, _ = db.CreateBook(ctx, models.Book{Title: "O Guarani", Author: "José de Alencar", Total: 1, Available: 0})
	_, _ = db.CreateBook(ctx, models.Book{Title: "Memórias", Author: "Machado de Assis", Total: 1, Available: 1})

	books, err := db.SearchBooksByAuthor(ctx, "alencar")
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(books) != 1 || books[0].Title != "Iracema" {
		t.Errorf("Expected only the available Alencar title, got %+v", books)
	}

	all, err := db.SearchBooksByAuthor(ctx, "  ")
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected empty query to return all 3 books, got %d", len(all))
	}
}

func TestMockDB_Students(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	aliceID, err := db.CreateStudent(ctx, models.Student{Name: "Alice", Code: "2024-001", Class: "5A"})
	if err != nil {
		t.Fatalf("Failed to create student: %v", err)
	}
	bobID, err := db.CreateStudent(ctx, models.Student{Name: "Bob", Code: "2024-002", Class: "5B"})
	if err != nil {
		t.Fatalf("Failed to create student: %v", err)
	}
	if _, err := db.CreateStudent(ctx, models.Student{Name: "Carol", Code: "2024-003"}); err != nil {
		t.Fatalf("Failed to create student: %v", err)
	}

	_, err = db.CreateStudent(ctx, models.Student{Name: "Dup", Code: "2024-001"})
	if !errors.Is(err, apperr.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey on create, got %v", err)
	}

	// Taking another student's code on update is rejected
	err = db.UpdateStudent(ctx, models.Student{ID: bobID, Name: "Bob", Code: "2024-001"})
	if !errors.Is(err, apperr.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey on update, got %v", err)
	}

	// Keeping one's own code is fine
	if err := db.UpdateStudent(ctx, models.Student{ID: aliceID, Name: "Alice Silva", Code: "2024-001", Class: "5B"}); err != nil {
		t.Fatalf("Failed to update student: %v", err)
	}

	classB, err := db.ListStudents(ctx, "5B")
	if err != nil {
		t.Fatalf("Failed to list students: %v", err)
	}
	if len(classB) != 2 || classB[0].Name != "Alice Silva" {
		t.Errorf("Unexpected class 5B roster: %+v", classB)
	}

	classes, err := db.ListClasses(ctx)
	if err != nil {
		t.Fatalf("Failed to list classes: %v", err)
	}
	if len(classes) != 1 || classes[0] != "5B" {
		t.Errorf("Expected only class 5B, got %v", classes)
	}

	if err := db.UpdateStudent(ctx, models.Student{ID: 999, Name: "Ghost", Code: "x"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMockDB_WithinTxRollsBack(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	bookID, _ := db.CreateBook(ctx, models.Book{Title: "T", Author: "A", Total: 1, Available: 1})
	studentID, _ := db.CreateStudent(ctx, models.Student{Name: "S", Code: "1"})

	boom := errors.New("boom")
	err := db.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SetBookCounts(ctx, bookID, 1, 0); err != nil {
			return err
		}
		if _, err := tx.InsertLoan(ctx, models.Loan{BookID: bookID, StudentID: studentID, Status: models.LoanActive}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	book, _ := db.GetBook(ctx, bookID)
	if book.Available != 1 {
		t.Errorf("Expected availability to be rolled back to 1, got %d", book.Available)
	}
	stats, _ := db.GetStats(ctx)
	if stats.ActiveLoans != 0 {
		t.Errorf("Expected no loans after rollback, got %d", stats.ActiveLoans)
	}
}

func TestMockDB_EachActiveLoanOrderAndStop(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	bookID, _ := db.CreateBook(ctx, models.Book{Title: "T", Author: "A", Total: 5, Available: 5})
	studentID, _ := db.CreateStudent(ctx, models.Student{Name: "S", Code: "1", Class: "6A"})

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	err := db.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for i := 0; i < 3; i++ {
			loan := models.Loan{
				BookID:         bookID,
				StudentID:      studentID,
				LoanDate:       day.AddDate(0, 0, i),
				ExpectedReturn: day.AddDate(0, 0, i+15),
				Status:         models.LoanActive,
			}
			if _, err := tx.InsertLoan(ctx, loan); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to insert loans: %v", err)
	}

	var dates []time.Time
	err = db.EachActiveLoan(ctx, storage.ActiveLoanFilter{Class: "6A"}, func(l models.ActiveLoan) bool {
		dates = append(dates, l.LoanDate)
		return len(dates) < 2
	})
	if err != nil {
		t.Fatalf("Failed to iterate: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("Expected iteration to stop after 2 loans, got %d", len(dates))
	}
	if !dates[0].After(dates[1]) {
		t.Error("Expected loans ordered by loan date descending")
	}

	var other int
	_ = db.EachActiveLoan(ctx, storage.ActiveLoanFilter{Class: "7C"}, func(models.ActiveLoan) bool {
		other++
		return true
	})
	if other != 0 {
		t.Errorf("Expected no loans for class 7C, got %d", other)
	}
}

func TestMockDB_FailNext(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	db.FailNext = errors.New("connection reset")
	_, err := db.ListDueOn(ctx, time.Now())
	if !errors.Is(err, apperr.ErrStore) {
		t.Fatalf("Expected ErrStore, got %v", err)
	}

	if _, err := db.ListDueOn(ctx, time.Now()); err != nil {
		t.Errorf("Expected failure to be one-shot, got %v", err)
	}
}
