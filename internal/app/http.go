package app

import (
	"errors"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"schoollibrary/internal/apperr"
	"schoollibrary/internal/catalog"
	"schoollibrary/internal/ledger"
	"schoollibrary/internal/models"
	"schoollibrary/internal/roster"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPServer exposes the library operations as a JSON API
type HTTPServer struct {
	catalog     *catalog.Catalog
	roster      *roster.Roster
	ledger      *ledger.Ledger
	graceDays   int
	renewalDays int
	logger      *zap.Logger
}

// CreateLoanRequest represents the request body for lending a book
type CreateLoanRequest struct {
	BookID    int64  `json:"book_id"`
	StudentID int64  `json:"student_id"`
	GraceDays string `json:"grace_days"` // optional, falls back to the configured default
	Notes     string `json:"notes"`
}

// RenewLoanRequest represents the request body for extending a loan
type RenewLoanRequest struct {
	Days int `json:"days"`
}

// SetCopiesRequest represents the request body for resizing a book's stock
type SetCopiesRequest struct {
	Total int `json:"total"`
}

// BookRequest represents the request body for adding a book
type BookRequest struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	ISBN     string `json:"isbn"`
	Category string `json:"category"`
	Copies   int    `json:"copies"`
}

// StudentRequest represents the request body for registering or updating a student
type StudentRequest struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	Grade string `json:"grade"`
	Class string `json:"class"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

func (r StudentRequest) input() roster.StudentInput {
	return roster.StudentInput{Name: r.Name, Code: r.Code, Grade: r.Grade, Class: r.Class, Phone: r.Phone, Email: r.Email}
}

// RegisterRoutes registers API routes on the provided mux
func (hs *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/books", hs.handleBooks)
	mux.HandleFunc("POST /api/books", hs.handleAddBook)
	mux.HandleFunc("GET /api/books/{id}", hs.handleBook)
	mux.HandleFunc("PUT /api/books/{id}/copies", hs.handleSetCopies)

	mux.HandleFunc("GET /api/students", hs.handleStudents)
	mux.HandleFunc("POST /api/students", hs.handleRegisterStudent)
	mux.HandleFunc("GET /api/students/{id}", hs.handleStudent)
	mux.HandleFunc("PUT /api/students/{id}", hs.handleUpdateStudent)
	mux.HandleFunc("GET /api/students/{id}/loans", hs.handleStudentLoans)
	mux.HandleFunc("GET /api/classes", hs.handleClasses)

	mux.HandleFunc("POST /api/loans", hs.handleCreateLoan)
	mux.HandleFunc("GET /api/loans/active", hs.handleActiveLoans)
	mux.HandleFunc("GET /api/loans/by-student", hs.handleLoansByStudent)
	mux.HandleFunc("POST /api/loans/{id}/return", hs.handleReturnLoan)
	mux.HandleFunc("POST /api/loans/{id}/renew", hs.handleRenewLoan)

	mux.HandleFunc("GET /api/stats", hs.handleStats)
}

// handleBooks lists the catalog, or books by an author when ?author= is set
func (hs *HTTPServer) handleBooks(w http.ResponseWriter, r *http.Request) {
	var (
		books []models.Book
		err   error
	)
	if author, ok := r.URL.Query()["author"]; ok {
		books, err = hs.catalog.SearchByAuthor(r.Context(), author[0])
	} else {
		books, err = hs.catalog.Books(r.Context())
	}
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (hs *HTTPServer) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !hs.decode(w, r, &req) {
		return
	}

	book, err := hs.catalog.AddBook(r.Context(), catalog.NewBook{
		Title:    req.Title,
		Author:   req.Author,
		ISBN:     req.ISBN,
		Category: req.Category,
		Copies:   req.Copies,
	})
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (hs *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	book, err := hs.catalog.Book(r.Context(), id)
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (hs *HTTPServer) handleSetCopies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req SetCopiesRequest
	if !hs.decode(w, r, &req) {
		return
	}

	book, err := hs.catalog.SetTotalCopies(r.Context(), id, req.Total)
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (hs *HTTPServer) handleStudents(w http.ResponseWriter, r *http.Request) {
	students, err := hs.roster.Students(r.Context(), r.URL.Query().Get("class"))
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

func (hs *HTTPServer) handleRegisterStudent(w http.ResponseWriter, r *http.Request) {
	var req StudentRequest
	if !hs.decode(w, r, &req) {
		return
	}
	student, err := hs.roster.Register(r.Context(), req.input())
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, student)
}

func (hs *HTTPServer) handleStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	student, err := hs.roster.Student(r.Context(), id)
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, student)
}

func (hs *HTTPServer) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req StudentRequest
	if !hs.decode(w, r, &req) {
		return
	}
	student, err := hs.roster.Update(r.Context(), id, req.input())
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, student)
}

func (hs *HTTPServer) handleClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := hs.roster.Classes(r.Context())
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

// handleCreateLoan lends a book
func (hs *HTTPServer) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if !hs.decode(w, r, &req) {
		return
	}

	days, err := ledger.ParseGraceDays(req.GraceDays, hs.graceDays)
	if err != nil {
		hs.writeError(w, r, err)
		return
	}

	loan, err := hs.ledger.CreateLoan(r.Context(), ledger.CreateLoanRequest{
		BookID:    req.BookID,
		StudentID: req.StudentID,
		GraceDays: days,
		Notes:     req.Notes,
	})
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (hs *HTTPServer) handleReturnLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	loan, err := hs.ledger.ReturnLoan(r.Context(), id)
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// handleRenewLoan extends a loan; an empty body uses the configured renewal period
func (hs *HTTPServer) handleRenewLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req := RenewLoanRequest{Days: hs.renewalDays}
	if r.ContentLength != 0 && !hs.decode(w, r, &req) {
		return
	}

	loan, err := hs.ledger.RenewLoan(r.Context(), id, req.Days)
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// handleActiveLoans streams active loans, newest first
func (hs *HTTPServer) handleActiveLoans(w http.ResponseWriter, r *http.Request) {
	loans := []models.ActiveLoan{}
	for loan, err := range hs.ledger.ListActive(r.Context(), ledger.ActiveFilter{Class: r.URL.Query().Get("class")}) {
		if err != nil {
			hs.writeError(w, r, err)
			return
		}
		loans = append(loans, loan)
	}
	writeJSON(w, http.StatusOK, loans)
}

// handleStudentLoans lists the active loans held by one student
func (hs *HTTPServer) handleStudentLoans(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := hs.roster.Student(r.Context(), id); err != nil {
		hs.writeError(w, r, err)
		return
	}

	loans := []models.ActiveLoan{}
	for loan, err := range hs.ledger.ListActive(r.Context(), ledger.ActiveFilter{StudentID: id}) {
		if err != nil {
			hs.writeError(w, r, err)
			return
		}
		loans = append(loans, loan)
	}
	writeJSON(w, http.StatusOK, loans)
}

func (hs *HTTPServer) handleLoansByStudent(w http.ResponseWriter, r *http.Request) {
	groups, err := hs.ledger.ActiveByStudent(r.Context(), r.URL.Query().Get("class"))
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (hs *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := hs.ledger.Stats(r.Context())
	if err != nil {
		hs.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (hs *HTTPServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		hs.logger.Warn("Failed to decode request body", zap.Error(err), zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnavailable),
		errors.Is(err, apperr.ErrAlreadyReturned),
		errors.Is(err, apperr.ErrNotActive),
		errors.Is(err, apperr.ErrDuplicateKey),
		errors.Is(err, apperr.ErrInventoryInvariant):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (hs *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		hs.logger.Error("Request failed", zap.Error(err), zap.String("path", r.URL.Path))
		writeJSON(w, status, map[string]string{"error": "Internal Server Error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
