package stubs

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"schoollibrary/internal/apperr"
	"schoollibrary/internal/clock"
	"schoollibrary/internal/models"
	"schoollibrary/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing
// and local runs. Transactions are serialised by a single lock and applied to
// a private copy of the state, which replaces the shared state on commit.
type MockDB struct {
	mu    sync.RWMutex
	state *state

	// FailNext, when set, is returned by the next operation and then cleared
	FailNext error
}

type state struct {
	books    map[int64]models.Book
	students map[int64]models.Student
	loans    map[int64]models.Loan
	nextID   int64
}

func (s *state) clone() *state {
	return &state{
		books:    maps.Clone(s.books),
		students: maps.Clone(s.students),
		loans:    maps.Clone(s.loans),
		nextID:   s.nextID,
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		state: &state{
			books:    make(map[int64]models.Book),
			students: make(map[int64]models.Student),
			loans:    make(map[int64]models.Loan),
		},
	}
}

// Initialize is a no-op; the mock starts empty
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

func (m *MockDB) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	if err != nil {
		return apperr.Store(err)
	}
	return nil
}

// CreateBook stores a new book and returns its id
func (m *MockDB) CreateBook(ctx context.Context, book models.Book) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}

	if book.ISBN != "" {
		for _, b := range m.state.books {
			if b.ISBN == book.ISBN {
				return 0, fmt.Errorf("isbn %q: %w", book.ISBN, apperr.ErrDuplicateKey)
			}
		}
	}
	if book.Available < 0 || book.Available > book.Total {
		return 0, apperr.ErrInventoryInvariant
	}

	book.ID = m.state.id()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = clock.Date(time.Now())
	}
	m.state.books[book.ID] = book
	return book.ID, nil
}

// GetBook returns a book by id
func (m *MockDB) GetBook(ctx context.Context, id int64) (models.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return models.Book{}, err
	}
	return m.state.book(id)
}

func (s *state) book(id int64) (models.Book, error) {
	book, ok := s.books[id]
	if !ok {
		return models.Book{}, fmt.Errorf("book %d: %w", id, apperr.ErrNotFound)
	}
	return book, nil
}

// ListBooks returns all books sorted by title
func (m *MockDB) ListBooks(ctx context.Context) ([]models.Book, error) {
	return m.filterBooks(func(models.Book) bool { return true })
}

// SearchBooksByAuthor returns available books whose author contains the query
func (m *MockDB) SearchBooksByAuthor(ctx context.Context, author string) ([]models.Book, error) {
	q := strings.ToLower(strings.TrimSpace(author))
	if q == "" {
		return m.ListBooks(ctx)
	}
	return m.filterBooks(func(b models.Book) bool {
		return b.Available > 0 && strings.Contains(strings.ToLower(b.Author), q)
	})
}

func (m *MockDB) filterBooks(keep func(models.Book) bool) ([]models.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	var books []models.Book
	for _, book := range m.state.books {
		if keep(book) {
			books = append(books, book)
		}
	}

	// Sort by title
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID < books[j].ID
	})
	return books, nil
}

// CreateStudent stores a new student and returns its id
func (m *MockDB) CreateStudent(ctx context.Context, student models.Student) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	if err := m.state.checkCode(student.Code, 0); err != nil {
		return 0, err
	}

	student.ID = m.state.id()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = clock.Date(time.Now())
	}
	m.state.students[student.ID] = student
	return student.ID, nil
}

// UpdateStudent replaces every editable field of an existing student
func (m *MockDB) UpdateStudent(ctx context.Context, student models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}

	existing, err := m.state.student(student.ID)
	if err != nil {
		return err
	}
	if err := m.state.checkCode(student.Code, student.ID); err != nil {
		return err
	}
	student.CreatedAt = existing.CreatedAt
	m.state.students[student.ID] = student
	return nil
}

func (s *state) checkCode(code string, self int64) error {
	for _, st := range s.students {
		if st.Code == code && st.ID != self {
			return fmt.Errorf("enrollment code %q: %w", code, apperr.ErrDuplicateKey)
		}
	}
	return nil
}

// GetStudent returns a student by id
func (m *MockDB) GetStudent(ctx context.Context, id int64) (models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return models.Student{}, err
	}
	return m.state.student(id)
}

func (s *state) student(id int64) (models.Student, error) {
	student, ok := s.students[id]
	if !ok {
		return models.Student{}, fmt.Errorf("student %d: %w", id, apperr.ErrNotFound)
	}
	return student, nil
}

// ListStudents returns students of a class (or all) sorted by name
func (m *MockDB) ListStudents(ctx context.Context, class string) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	var students []models.Student
	for _, s := range m.state.students {
		if class == "" || s.Class == class {
			students = append(students, s)
		}
	}
	sort.Slice(students, func(i, j int) bool {
		if students[i].Name != students[j].Name {
			return students[i].Name < students[j].Name
		}
		return students[i].ID < students[j].ID
	})
	return students, nil
}

// ListClasses returns the distinct non-empty class labels, sorted
func (m *MockDB) ListClasses(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var classes []string
	for _, s := range m.state.students {
		if s.Class != "" && !seen[s.Class] {
			seen[s.Class] = true
			classes = append(classes, s.Class)
		}
	}
	sort.Strings(classes)
	return classes, nil
}

// GetLoan returns a loan by id
func (m *MockDB) GetLoan(ctx context.Context, id int64) (models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return models.Loan{}, err
	}
	return m.state.loan(id)
}

func (s *state) loan(id int64) (models.Loan, error) {
	loan, ok := s.loans[id]
	if !ok {
		return models.Loan{}, fmt.Errorf("loan %d: %w", id, apperr.ErrNotFound)
	}
	return loan, nil
}

// EachActiveLoan streams active loans, newest first, from a snapshot taken
// at call time
func (m *MockDB) EachActiveLoan(ctx context.Context, filter storage.ActiveLoanFilter, yield func(models.ActiveLoan) bool) error {
	m.mu.Lock()
	if err := m.takeFailure(); err != nil {
		m.mu.Unlock()
		return err
	}

	var active []models.ActiveLoan
	for _, loan := range m.state.loans {
		if loan.Status != models.LoanActive {
			continue
		}
		if filter.StudentID != 0 && loan.StudentID != filter.StudentID {
			continue
		}
		student := m.state.students[loan.StudentID]
		if filter.Class != "" && student.Class != filter.Class {
			continue
		}
		active = append(active, models.ActiveLoan{
			Loan:         loan,
			BookTitle:    m.state.books[loan.BookID].Title,
			StudentName:  student.Name,
			StudentCode:  student.Code,
			StudentClass: student.Class,
		})
	}
	m.mu.Unlock()

	sort.Slice(active, func(i, j int) bool {
		if !active[i].LoanDate.Equal(active[j].LoanDate) {
			return active[i].LoanDate.After(active[j].LoanDate)
		}
		return active[i].ID > active[j].ID
	})

	for _, loan := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !yield(loan) {
			return nil
		}
	}
	return nil
}

// ListDueOn returns active loans expected back on date
func (m *MockDB) ListDueOn(ctx context.Context, date time.Time) ([]models.DueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	day := clock.Date(date)
	var entries []models.DueEntry
	for _, loan := range m.state.loans {
		if loan.Status != models.LoanActive || !loan.ExpectedReturn.Equal(day) {
			continue
		}
		student := m.state.students[loan.StudentID]
		entries = append(entries, models.DueEntry{
			LoanID:      loan.ID,
			StudentName: student.Name,
			StudentCode: student.Code,
			BookTitle:   m.state.books[loan.BookID].Title,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LoanID < entries[j].LoanID })
	return entries, nil
}

// GetStats returns library-wide counters
func (m *MockDB) GetStats(ctx context.Context) (models.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return models.Stats{}, err
	}

	stats := models.Stats{
		TotalBooks:    len(m.state.books),
		TotalStudents: len(m.state.students),
	}
	for _, b := range m.state.books {
		stats.AvailableCopies += b.Available
	}
	for _, l := range m.state.loans {
		if l.Status == models.LoanActive {
			stats.ActiveLoans++
		}
	}
	return stats, nil
}

// WithinTx runs fn against a private copy of the state and publishes the
// copy only when fn succeeds
func (m *MockDB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(ctx, &mockTx{state: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

// mockTx operates on the transaction's private state. Locks are implicit:
// the owning MockDB holds its write lock for the whole transaction.
type mockTx struct {
	state *state
}

func (t *mockTx) LockBook(ctx context.Context, id int64) (models.Book, error) {
	return t.state.book(id)
}

func (t *mockTx) SetBookCounts(ctx context.Context, id int64, total, available int) error {
	book, err := t.state.book(id)
	if err != nil {
		return err
	}
	if available < 0 || available > total {
		return apperr.ErrInventoryInvariant
	}
	book.Total = total
	book.Available = available
	t.state.books[id] = book
	return nil
}

func (t *mockTx) GetStudent(ctx context.Context, id int64) (models.Student, error) {
	return t.state.student(id)
}

func (t *mockTx) InsertLoan(ctx context.Context, loan models.Loan) (int64, error) {
	if _, err := t.state.book(loan.BookID); err != nil {
		return 0, err
	}
	if _, err := t.state.student(loan.StudentID); err != nil {
		return 0, err
	}
	loan.ID = t.state.id()
	t.state.loans[loan.ID] = loan
	return loan.ID, nil
}

func (t *mockTx) LockLoan(ctx context.Context, id int64) (models.Loan, error) {
	return t.state.loan(id)
}

func (t *mockTx) UpdateLoan(ctx context.Context, loan models.Loan) error {
	if _, err := t.state.loan(loan.ID); err != nil {
		return err
	}
	t.state.loans[loan.ID] = loan
	return nil
}
