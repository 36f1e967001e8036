package roster

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"schoollibrary/internal/apperr"
	"schoollibrary/internal/models"
	"schoollibrary/internal/storage"
)

// StudentInput holds the editable fields of a student
type StudentInput struct {
	Name  string
	Code  string
	Grade string
	Class string
	Phone string
	Email string
}

func (in StudentInput) normalize() (models.Student, error) {
	s := models.Student{
		Name:  strings.TrimSpace(in.Name),
		Code:  strings.TrimSpace(in.Code),
		Grade: strings.TrimSpace(in.Grade),
		Class: strings.TrimSpace(in.Class),
		Phone: strings.TrimSpace(in.Phone),
		Email: strings.TrimSpace(in.Email),
	}
	if s.Name == "" || s.Code == "" {
		return models.Student{}, fmt.Errorf("name and enrollment code are required: %w", apperr.ErrInvalidInput)
	}
	return s, nil
}

// Roster manages student records
type Roster struct {
	store  storage.Storage
	logger *zap.Logger
}

// New creates a Roster
func New(store storage.Storage, logger *zap.Logger) *Roster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Roster{store: store, logger: logger}
}

// Register adds a student; the enrollment code must be unused
func (r *Roster) Register(ctx context.Context, in StudentInput) (models.Student, error) {
	student, err := in.normalize()
	if err != nil {
		return models.Student{}, err
	}

	id, err := r.store.CreateStudent(ctx, student)
	if err != nil {
		return models.Student{}, apperr.Store(err)
	}
	student.ID = id

	r.logger.Info("Student registered", zap.Int64("student_id", id), zap.String("code", student.Code))
	return student, nil
}

// Update replaces the editable fields of an existing student
func (r *Roster) Update(ctx context.Context, id int64, in StudentInput) (models.Student, error) {
	student, err := in.normalize()
	if err != nil {
		return models.Student{}, err
	}
	student.ID = id

	if err := r.store.UpdateStudent(ctx, student); err != nil {
		return models.Student{}, apperr.Store(err)
	}

	r.logger.Info("Student updated", zap.Int64("student_id", id))
	return student, nil
}

// Student returns a single student
func (r *Roster) Student(ctx context.Context, id int64) (models.Student, error) {
	s, err := r.store.GetStudent(ctx, id)
	return s, apperr.Store(err)
}

// Students lists a class ordered by name; an empty class lists everyone
func (r *Roster) Students(ctx context.Context, class string) ([]models.Student, error) {
	students, err := r.store.ListStudents(ctx, strings.TrimSpace(class))
	return students, apperr.Store(err)
}

// Classes returns the distinct class labels in use
func (r *Roster) Classes(ctx context.Context) ([]string, error) {
	classes, err := r.store.ListClasses(ctx)
	return classes, apperr.Store(err)
}
