package repository

import (
	"github.com/reshetovitsme/wikiscan/internal/modules/flag/domain"
)

// Repository defines the persistence of flagged changes.
// Entries are append-only and kept in arrival order.
type Repository interface {
	Init() error
	Read() ([]domain.Entry, error)
	Append(entry domain.Entry) error
	// Reset discards everything, including corrupt data
	Reset() error
}
