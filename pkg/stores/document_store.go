package stores

import (
	"context"
	"sort"
	"sync"

	"github.com/openfroyo/managedmac/pkg/document"
	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/printers"
)

const (
	// KeyLastUpdate is the field holding a printer's stamp in the status document.
	KeyLastUpdate = "LastUpdate"

	// KeyUserPrinters holds the known user printers in the known-printers document.
	KeyUserPrinters = "UserPrinters"
)

// DocumentStore keeps state in two documents: a status mapping of
// printer id to {LastUpdate} and a mapping whose UserPrinters key lists the
// known user printers. Every write rewrites the whole document and keeps
// keys it does not own.
type DocumentStore struct {
	mu         sync.Mutex
	docs       document.Store
	statusPath string
	knownPath  string
}

var _ State = (*DocumentStore)(nil)

// NewDocumentStore creates a DocumentStore.
func NewDocumentStore(docs document.Store, statusPath, knownPath string) *DocumentStore {
	return &DocumentStore{docs: docs, statusPath: statusPath, knownPath: knownPath}
}

func (s *DocumentStore) read(path string) (document.Node, error) {
	n, err := s.docs.Read(path)
	if err != nil {
		return document.Null(), engine.NewPersistenceFailure("failed to read state", err).WithResource(path)
	}
	return n, nil
}

func (s *DocumentStore) write(n document.Node, path string) error {
	if err := s.docs.Write(n, path); err != nil {
		return engine.NewPersistenceFailure("failed to write state", err).WithResource(path)
	}
	return nil
}

// LastUpdate implements printers.StatusStore.
func (s *DocumentStore) LastUpdate(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.read(s.statusPath)
	if err != nil {
		return printers.UnknownStamp, err
	}
	return recordStamp(n, id), nil
}

// recordStamp reads the LastUpdate of id. Ids are literal keys; queue names
// may contain dots.
func recordStamp(n document.Node, id string) int64 {
	rec, ok := n.Get(id)
	if !ok {
		return printers.UnknownStamp
	}
	v, ok := rec.Get(KeyLastUpdate)
	if !ok {
		return printers.UnknownStamp
	}
	stamp, ok := v.Int()
	if !ok {
		return printers.UnknownStamp
	}
	return stamp
}

// SetLastUpdate implements printers.StatusStore. Only the LastUpdate field of
// the record is replaced.
func (s *DocumentStore) SetLastUpdate(_ context.Context, id string, stamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.read(s.statusPath)
	if err != nil {
		return err
	}
	if n.Kind() != document.KindMapping {
		n = document.NewMapping()
	}

	rec, ok := n.Get(id)
	if ok && rec.Kind() == document.KindMapping {
		rec = rec.Clone()
	} else {
		rec = document.NewMapping()
	}
	rec.Set(KeyLastUpdate, document.Scalar(stamp))
	n.Set(id, rec)

	return s.write(n, s.statusPath)
}

// Records returns every stamp in the status document.
func (s *DocumentStore) Records(_ context.Context) ([]StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.read(s.statusPath)
	if err != nil {
		return nil, err
	}
	keys := n.Keys()
	sort.Strings(keys)

	records := make([]StatusRecord, 0, len(keys))
	for _, id := range keys {
		records = append(records, StatusRecord{ID: id, LastUpdate: recordStamp(n, id)})
	}
	return records, nil
}

func (s *DocumentStore) known() (document.Node, []string, error) {
	n, err := s.read(s.knownPath)
	if err != nil {
		return n, nil, err
	}
	if n.Kind() != document.KindMapping {
		n = document.NewMapping()
	}
	list, _ := n.Get(KeyUserPrinters)
	return n, list.Strings(), nil
}

// List implements printers.KnownPrinters.
func (s *DocumentStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ids, err := s.known()
	return ids, err
}

// Add implements printers.KnownPrinters. Adding a listed id is a no-op.
func (s *DocumentStore) Add(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ids, err := s.known()
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	n.Set(KeyUserPrinters, document.StringList(append(ids, id)...))
	return s.write(n, s.knownPath)
}

// Remove implements printers.KnownPrinters. Removing an unlisted id is a no-op.
func (s *DocumentStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ids, err := s.known()
	if err != nil {
		return err
	}
	kept := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(ids) {
		return nil
	}
	n.Set(KeyUserPrinters, document.StringList(kept...))
	return s.write(n, s.knownPath)
}

// Close implements State.
func (s *DocumentStore) Close() error {
	return nil
}
