package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/managedmac/pkg/document"
	"github.com/openfroyo/managedmac/pkg/printers"
)

// Backend names a State implementation.
type Backend string

const (
	BackendDocument Backend = "document"
	BackendSQLite   Backend = "sqlite"
)

// Validate checks if the backend is known.
func (b Backend) Validate() error {
	switch b {
	case BackendDocument, BackendSQLite:
		return nil
	default:
		return fmt.Errorf("invalid state backend: %s", b)
	}
}

// StatusRecord is one persisted printer stamp.
type StatusRecord struct {
	ID         string    `json:"id"`
	LastUpdate int64     `json:"last_update"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// State is the local client state used by the reconciler.
type State interface {
	printers.StatusStore
	printers.KnownPrinters

	// Records returns every stamp, ordered by id.
	Records(ctx context.Context) ([]StatusRecord, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Paths locates the files used by each backend.
type Paths struct {
	StatusFile string
	KnownFile  string
	Database   string
}

// Open creates the State for backend. SQLite databases are migrated before
// they are returned.
func Open(ctx context.Context, backend Backend, paths Paths, docs document.Store) (State, error) {
	switch backend {
	case BackendDocument, "":
		return NewDocumentStore(docs, paths.StatusFile, paths.KnownFile), nil
	case BackendSQLite:
		store, err := NewSQLiteStore(Config{Path: paths.Database})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, backend.Validate()
	}
}
