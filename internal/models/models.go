package models

import (
	"time"

	"github.com/google/uuid"
)

// LoanStatus is the stored state of a loan
type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
)

// Book represents a catalog entry. Copies are fungible: Available counts
// copies on the shelf, Total counts copies owned.
type Book struct {
	ID        int64
	Title     string
	Author    string
	ISBN      string
	Category  string
	Total     int
	Available int
	CreatedAt time.Time
}

// OnLoan returns the number of copies currently lent out
func (b Book) OnLoan() int {
	return b.Total - b.Available
}

// Student represents a roster entry
type Student struct {
	ID        int64
	Name      string
	Code      string // enrollment code, unique
	Grade     string
	Class     string
	Phone     string
	Email     string
	CreatedAt time.Time
}

// Loan links one book copy to one student
type Loan struct {
	ID             int64
	BookID         int64
	StudentID      int64
	LoanDate       time.Time
	ExpectedReturn time.Time
	ActualReturn   *time.Time
	Status         LoanStatus
	Notes          string
}

// IsOverdue reports whether the loan is active and past its expected return
// date. today must be a civil date (midnight).
func (l Loan) IsOverdue(today time.Time) bool {
	return l.Status == LoanActive && l.ExpectedReturn.Before(today)
}

// ActiveLoan is an active loan joined with its book and student for display
type ActiveLoan struct {
	Loan
	BookTitle    string
	StudentName  string
	StudentCode  string
	StudentClass string
	Overdue      bool
}

// StudentLoans is a student with the titles they currently hold
type StudentLoans struct {
	Student
	Titles []string
}

// DueEntry is one line of a due-today reminder
type DueEntry struct {
	LoanID      int64
	StudentName string
	StudentCode string
	BookTitle   string
}

// Notification is emitted once per day by the due-date scanner
type Notification struct {
	ID      uuid.UUID
	Date    time.Time
	Entries []DueEntry
}

// Stats holds library-wide counters
type Stats struct {
	TotalBooks      int
	TotalStudents   int
	ActiveLoans     int
	AvailableCopies int
}
