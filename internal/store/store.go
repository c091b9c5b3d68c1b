package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/paybridge/filegen/pkg/models"
)

var (
	// ErrNotFound is returned when no document exists for the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrNotInitialised is returned when the store is used before Init.
	ErrNotInitialised = errors.New("store not initialised")
)

// Store persists job documents. It is a passive mirror of the in-memory job
// table: the manager writes through on every transition and reads the store
// back only on warm restart.
type Store interface {
	Init() error
	Save(job *models.Job) error
	Load(id uuid.UUID) (*models.Job, error)
	LoadAll() ([]*models.Job, error)
	Delete(id uuid.UUID) error
}
