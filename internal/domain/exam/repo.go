package exam

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a stored exam does not exist.
	ErrNotFound = errors.New("exam not found")
	// ErrNoStore is returned by storage operations when persistence is disabled.
	ErrNoStore = errors.New("exam storage is not configured")
)

// Repository defines the persistence interface for enriched exams.
type Repository interface {
	CreateBatch(ctx context.Context, exams []*StoredExam) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*StoredExam, error)
	List(ctx context.Context, filter ExamFilter, limit, offset int) ([]*StoredExam, int, error)
}
