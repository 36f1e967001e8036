// Package pg implements storage.Storage on PostgreSQL through a pgx pool.
// Row locks (SELECT ... FOR UPDATE) serialise concurrent loan operations on
// the same book or loan.
package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"schoollibrary/internal/apperr"
	"schoollibrary/internal/models"
	"schoollibrary/internal/storage"
	"schoollibrary/migrations"
)

const (
	dialectPostgres = "postgres"

	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"

	defaultMaxConnections    = int32(8)
	defaultMinConnections    = int32(1)
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = 5 * time.Minute
	defaultHealthCheckPeriod = time.Minute
	defaultConnectTimeout    = 5 * time.Second
)

const (
	bookColumns    = `id, title, author, COALESCE(isbn, ''), category, total_copies, available_copies, created_at`
	studentColumns = `id, name, code, grade, class, phone, email, created_at`
	loanColumns    = `id, book_id, student_id, loan_date, expected_return, actual_return, status, notes`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL storage
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore connects to dsn and verifies the connection
func NewStore(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.MaxConns = defaultMaxConnections
	cfg.MinConns = defaultMinConnections
	cfg.MaxConnLifetime = defaultMaxConnLifetime
	cfg.MaxConnIdleTime = defaultMaxConnIdleTime
	cfg.HealthCheckPeriod = defaultHealthCheckPeriod
	cfg.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return NewStoreWithPool(pool, logger), nil
}

// NewStoreWithPool wraps an existing pool
func NewStoreWithPool(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Initialize applies pending schema migrations
func (s *Store) Initialize(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	if err := migrations.Up(ctx, db); err != nil {
		return err
	}
	s.logger.Info("Database schema is up to date")
	return nil
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// mapError translates driver errors into the apperr taxonomy
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %s: %w", what, pgErr.ConstraintName, apperr.ErrDuplicateKey)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %s: %w", what, pgErr.ConstraintName, apperr.ErrNotFound)
		case codeCheckViolation:
			if strings.HasPrefix(pgErr.ConstraintName, "books_") {
				return fmt.Errorf("%s: %s: %w", what, pgErr.ConstraintName, apperr.ErrInventoryInvariant)
			}
			return fmt.Errorf("%s: %s: %w", what, pgErr.ConstraintName, apperr.ErrInvalidInput)
		}
	}
	return apperr.Store(fmt.Errorf("%s: %w", what, err))
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanBook(row pgx.Row) (models.Book, error) {
	var b models.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Category, &b.Total, &b.Available, &b.CreatedAt)
	return b, err
}

func scanStudent(row pgx.Row) (models.Student, error) {
	var st models.Student
	err := row.Scan(&st.ID, &st.Name, &st.Code, &st.Grade, &st.Class, &st.Phone, &st.Email, &st.CreatedAt)
	return st, err
}

func scanLoan(row pgx.Row) (models.Loan, error) {
	var l models.Loan
	var status string
	err := row.Scan(&l.ID, &l.BookID, &l.StudentID, &l.LoanDate, &l.ExpectedReturn, &l.ActualReturn, &status, &l.Notes)
	l.Status = models.LoanStatus(status)
	return l, err
}

func getBook(ctx context.Context, q querier, id int64, forUpdate bool) (models.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	book, err := scanBook(q.QueryRow(ctx, query, id))
	if err != nil {
		return models.Book{}, mapError(err, fmt.Sprintf("book %d", id))
	}
	return book, nil
}

func getStudent(ctx context.Context, q querier, id int64) (models.Student, error) {
	st, err := scanStudent(q.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	if err != nil {
		return models.Student{}, mapError(err, fmt.Sprintf("student %d", id))
	}
	return st, nil
}

func getLoan(ctx context.Context, q querier, id int64, forUpdate bool) (models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	loan, err := scanLoan(q.QueryRow(ctx, query, id))
	if err != nil {
		return models.Loan{}, mapError(err, fmt.Sprintf("loan %d", id))
	}
	return loan, nil
}

// CreateBook inserts a book and returns its id
func (s *Store) CreateBook(ctx context.Context, book models.Book) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO books (title, author, isbn, category, total_copies, available_copies)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		book.Title, book.Author, nullIfEmpty(book.ISBN), book.Category, book.Total, book.Available,
	).Scan(&id)
	if err != nil {
		return 0, mapError(err, "failed to create book")
	}
	return id, nil
}

// GetBook returns a book by id
func (s *Store) GetBook(ctx context.Context, id int64) (models.Book, error) {
	return getBook(ctx, s.pool, id, false)
}

// ListBooks returns every book ordered by title
func (s *Store) ListBooks(ctx context.Context) ([]models.Book, error) {
	return s.queryBooks(ctx, `SELECT `+bookColumns+` FROM books ORDER BY title, id`)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchBooksByAuthor returns available books whose author contains the query
func (s *Store) SearchBooksByAuthor(ctx context.Context, author string) ([]models.Book, error) {
	q := strings.TrimSpace(author)
	if q == "" {
		return s.ListBooks(ctx)
	}
	return s.queryBooks(ctx,
		`SELECT `+bookColumns+` FROM books
		 WHERE author ILIKE '%' || $1 || '%' AND available_copies > 0
		 ORDER BY title, id`,
		likeEscaper.Replace(q))
}

func (s *Store) queryBooks(ctx context.Context, query string, args ...any) ([]models.Book, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "failed to list books")
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, mapError(err, "failed to scan book")
		}
		books = append(books, book)
	}
	return books, mapError(rows.Err(), "failed to list books")
}

// CreateStudent inserts a student and returns its id
func (s *Store) CreateStudent(ctx context.Context, st models.Student) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO students (name, code, grade, class, phone, email)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		st.Name, st.Code, st.Grade, st.Class, st.Phone, st.Email,
	).Scan(&id)
	if err != nil {
		return 0, mapError(err, "failed to create student")
	}
	return id, nil
}

// UpdateStudent rewrites the editable fields of a student
func (s *Store) UpdateStudent(ctx context.Context, st models.Student) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE students SET name = $2, code = $3, grade = $4, class = $5, phone = $6, email = $7
		 WHERE id = $1`,
		st.ID, st.Name, st.Code, st.Grade, st.Class, st.Phone, st.Email)
	if err != nil {
		return mapError(err, "failed to update student")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("student %d: %w", st.ID, apperr.ErrNotFound)
	}
	return nil
}

// GetStudent returns a student by id
func (s *Store) GetStudent(ctx context.Context, id int64) (models.Student, error) {
	return getStudent(ctx, s.pool, id)
}

// ListStudents returns students ordered by name, optionally for one class
func (s *Store) ListStudents(ctx context.Context, class string) ([]models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	var args []any
	if class != "" {
		query += ` WHERE class = $1`
		args = append(args, class)
	}
	query += ` ORDER BY name, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "failed to list students")
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, mapError(err, "failed to scan student")
		}
		students = append(students, st)
	}
	return students, mapError(rows.Err(), "failed to list students")
}

// ListClasses returns the distinct non-empty class labels
func (s *Store) ListClasses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT class FROM students WHERE class <> '' ORDER BY class`)
	if err != nil {
		return nil, mapError(err, "failed to list classes")
	}
	classes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError(err, "failed to scan classes")
	}
	return classes, nil
}

// GetLoan returns a loan by id
func (s *Store) GetLoan(ctx context.Context, id int64) (models.Loan, error) {
	return getLoan(ctx, s.pool, id, false)
}

func buildActiveLoansQuery(filter storage.ActiveLoanFilter) (string, []any, error) {
	ds := goqu.Dialect(dialectPostgres).
		From(goqu.T("loans").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Join(goqu.T("students").As("s"), goqu.On(goqu.I("s.id").Eq(goqu.I("l.student_id")))).
		Select(
			goqu.I("l.id"), goqu.I("l.book_id"), goqu.I("l.student_id"),
			goqu.I("l.loan_date"), goqu.I("l.expected_return"), goqu.I("l.actual_return"),
			goqu.I("l.status"), goqu.I("l.notes"),
			goqu.I("b.title"), goqu.I("s.name"), goqu.I("s.code"), goqu.I("s.class"),
		).
		Where(goqu.I("l.status").Eq(string(models.LoanActive))).
		Order(goqu.I("l.loan_date").Desc(), goqu.I("l.id").Desc()).
		Prepared(true)

	if filter.Class != "" {
		ds = ds.Where(goqu.I("s.class").Eq(filter.Class))
	}
	if filter.StudentID != 0 {
		ds = ds.Where(goqu.I("l.student_id").Eq(filter.StudentID))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build active loans query: %w", err)
	}
	return query, args, nil
}

// EachActiveLoan streams active loans straight from the result set
func (s *Store) EachActiveLoan(ctx context.Context, filter storage.ActiveLoanFilter, yield func(models.ActiveLoan) bool) error {
	query, args, err := buildActiveLoansQuery(filter)
	if err != nil {
		return apperr.Store(err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return mapError(err, "failed to list active loans")
	}
	defer rows.Close()

	for rows.Next() {
		var al models.ActiveLoan
		var status string
		if err := rows.Scan(
			&al.ID, &al.BookID, &al.StudentID,
			&al.LoanDate, &al.ExpectedReturn, &al.ActualReturn,
			&status, &al.Notes,
			&al.BookTitle, &al.StudentName, &al.StudentCode, &al.StudentClass,
		); err != nil {
			return mapError(err, "failed to scan active loan")
		}
		al.Status = models.LoanStatus(status)
		if !yield(al) {
			return nil
		}
	}
	return mapError(rows.Err(), "failed to list active loans")
}

// ListDueOn returns active loans expected back on date
func (s *Store) ListDueOn(ctx context.Context, date time.Time) ([]models.DueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.id, s.name, s.code, b.title
		 FROM loans l
		 JOIN students s ON s.id = l.student_id
		 JOIN books b ON b.id = l.book_id
		 WHERE l.status = $1 AND l.expected_return = $2
		 ORDER BY l.id`,
		string(models.LoanActive), date)
	if err != nil {
		return nil, mapError(err, "failed to list due loans")
	}
	defer rows.Close()

	var entries []models.DueEntry
	for rows.Next() {
		var e models.DueEntry
		if err := rows.Scan(&e.LoanID, &e.StudentName, &e.StudentCode, &e.BookTitle); err != nil {
			return nil, mapError(err, "failed to scan due loan")
		}
		entries = append(entries, e)
	}
	return entries, mapError(rows.Err(), "failed to list due loans")
}

// GetStats returns library-wide counters
func (s *Store) GetStats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM books),
			(SELECT COUNT(*) FROM students),
			(SELECT COUNT(*) FROM loans WHERE status = $1),
			(SELECT COALESCE(SUM(available_copies), 0) FROM books)`,
		string(models.LoanActive),
	).Scan(&stats.TotalBooks, &stats.TotalStudents, &stats.ActiveLoans, &stats.AvailableCopies)
	if err != nil {
		return models.Stats{}, mapError(err, "failed to get stats")
	}
	return stats, nil
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through
// Tx provide the serialisation; pgx rolls back on error or panic.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockBook(ctx context.Context, id int64) (models.Book, error) {
	return getBook(ctx, t.tx, id, true)
}

func (t *pgTx) SetBookCounts(ctx context.Context, id int64, total, available int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE books SET total_copies = $2, available_copies = $3 WHERE id = $1`,
		id, total, available)
	if err != nil {
		return mapError(err, fmt.Sprintf("book %d", id))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("book %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (t *pgTx) GetStudent(ctx context.Context, id int64) (models.Student, error) {
	return getStudent(ctx, t.tx, id)
}

func (t *pgTx) InsertLoan(ctx context.Context, loan models.Loan) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO loans (book_id, student_id, loan_date, expected_return, actual_return, status, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		loan.BookID, loan.StudentID, loan.LoanDate, loan.ExpectedReturn, loan.ActualReturn,
		string(loan.Status), loan.Notes,
	).Scan(&id)
	if err != nil {
		return 0, mapError(err, "failed to insert loan")
	}
	return id, nil
}

func (t *pgTx) LockLoan(ctx context.Context, id int64) (models.Loan, error) {
	return getLoan(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateLoan(ctx context.Context, loan models.Loan) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE loans SET expected_return = $2, actual_return = $3, status = $4, notes = $5 WHERE id = $1`,
		loan.ID, loan.ExpectedReturn, loan.ActualReturn, string(loan.Status), loan.Notes)
	if err != nil {
		return mapError(err, fmt.Sprintf("loan %d", loan.ID))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("loan %d: %w", loan.ID, apperr.ErrNotFound)
	}
	return nil
}
