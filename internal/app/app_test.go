package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schoollibrary/internal/config"
	"schoollibrary/internal/models"
)

func newTestApp(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		UseMockDB:     true,
		LoanGraceDays: 15,
		RenewalDays:   7,
		ScanInterval:  time.Minute,
		Location:      time.UTC,
		Port:          "0",
		LogLevel:      "info",
	}
	a, err := NewWithConfig(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })
	return a.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestHealth(t *testing.T) {
	h := newTestApp(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	h := newTestApp(t)

	var book models.Book
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/books",
		`{"title":"Dom Casmurro","author":"Machado de Assis","copies":1}`, &book))
	assert.Equal(t, 1, book.Available)

	var student models.Student
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/students",
		`{"name":"Ana","code":"001","class":"5A"}`, &student))

	var loan models.Loan
	body := `{"book_id":` + itoa(book.ID) + `,"student_id":` + itoa(student.ID) + `}`
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/loans", body, &loan))
	assert.Equal(t, models.LoanActive, loan.Status)
	assert.Equal(t, 15*24*time.Hour, loan.ExpectedReturn.Sub(loan.LoanDate))

	// No copies left
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/loans", body, nil))

	var active []models.ActiveLoan
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/loans/active?class=5A", "", &active))
	require.Len(t, active, 1)
	assert.Equal(t, "Dom Casmurro", active[0].BookTitle)

	var renewed models.Loan
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/loans/"+itoa(loan.ID)+"/renew", "", &renewed))
	assert.Equal(t, loan.ExpectedReturn.AddDate(0, 0, 7), renewed.ExpectedReturn)

	var returned models.Loan
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/loans/"+itoa(loan.ID)+"/return", "", &returned))
	assert.Equal(t, models.LoanReturned, returned.Status)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/loans/"+itoa(loan.ID)+"/return", "", nil))

	var stats models.Stats
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/stats", "", &stats))
	assert.Equal(t, models.Stats{TotalBooks: 1, TotalStudents: 1, AvailableCopies: 1}, stats)
}

func TestErrorStatuses(t *testing.T) {
	h := newTestApp(t)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/books/42", "", nil))
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/books/abc", "", nil))
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/books", `{"title":""}`, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/books", `not json`, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/loans",
		`{"book_id":1,"student_id":1,"grace_days":"soon"}`, nil))
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/loans/9/return", "", nil))

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/students", `{"name":"Ana","code":"001"}`, nil))
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/students", `{"name":"Bia","code":"001"}`, nil))
}

func TestShrinkBelowLoanedCopies(t *testing.T) {
	h := newTestApp(t)

	var book models.Book
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/books",
		`{"title":"Iracema","author":"José de Alencar","copies":2}`, &book))
	var student models.Student
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/students", `{"name":"Ana","code":"001"}`, &student))
	body := `{"book_id":` + itoa(book.ID) + `,"student_id":` + itoa(student.ID) + `,"grace_days":"3"}`
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/loans", body, nil))

	path := "/api/books/" + itoa(book.ID) + "/copies"
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPut, path, `{"total":0}`, nil))

	var resized models.Book
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, path, `{"total":5}`, &resized))
	assert.Equal(t, 5, resized.Total)
	assert.Equal(t, 4, resized.Available)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestStudentLoans(t *testing.T) {
	h := newTestApp(t)

	var book models.Book
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/books",
		`{"title":"Vidas Secas","author":"Graciliano Ramos","copies":3}`, &book))
	var ana, bia models.Student
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/students", `{"name":"Ana","code":"001"}`, &ana))
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/students", `{"name":"Bia","code":"002"}`, &bia))

	var loan models.Loan
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/loans",
		`{"book_id":`+itoa(book.ID)+`,"student_id":`+itoa(ana.ID)+`}`, &loan))

	var held []models.ActiveLoan
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/students/"+itoa(ana.ID)+"/loans", "", &held))
	require.Len(t, held, 1)
	assert.Equal(t, loan.ID, held[0].ID)

	held = nil
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/students/"+itoa(bia.ID)+"/loans", "", &held))
	assert.Empty(t, held)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/students/99/loans", "", nil))
}

func TestLoanPeriodTooLong(t *testing.T) {
	h := newTestApp(t)

	var book models.Book
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/books",
		`{"title":"Vidas Secas","author":"Graciliano Ramos"}`, &book))
	var student models.Student
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/students", `{"name":"Ana","code":"001"}`, &student))

	body := `{"book_id":` + itoa(book.ID) + `,"student_id":` + itoa(student.ID) + `,"grace_days":"1000000"}`
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/loans", body, nil))

	var loan models.Loan
	body = `{"book_id":` + itoa(book.ID) + `,"student_id":` + itoa(student.ID) + `}`
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/loans", body, &loan))
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/loans/"+itoa(loan.ID)+"/renew", `{"days":100000}`, nil))
}
