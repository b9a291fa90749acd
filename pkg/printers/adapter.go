// Package printers converges the print queues of a host to the printers
// declared in the client's manifests.
package printers

import (
	"context"

	"github.com/openfroyo/managedmac/pkg/document"
	"github.com/openfroyo/managedmac/pkg/engine"
)

// CreateRequest describes a print queue to create or replace. PPD is a
// local file path or a driver reference such as "drv:///sample.drv/generic.ppd".
type CreateRequest struct {
	Name        string
	DeviceURI   string
	PPD         string
	Location    string
	Description string
}

// Adapter performs operations on the host's print system.
type Adapter interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, req CreateRequest) error
	ApplyOptions(ctx context.Context, name string, options map[string]string) error
	Delete(ctx context.Context, name string) error
	PendingJobs(ctx context.Context, name string) (int, error)
	RejectJobs(ctx context.Context, name string) error
	AcceptJobs(ctx context.Context, name string) error
	DeviceURI(ctx context.Context, name string) (string, error)
	Introspect(ctx context.Context, name string) (PPDInfo, error)
}

// CatalogLookup finds the first catalog defining a keypath.
type CatalogLookup interface {
	FirstMatch(ctx context.Context, catalogs []string, keypath string) (document.Node, bool)
}

// StatusStore persists the LastUpdate stamp of each installed printer.
// LastUpdate returns -1 when no stamp is recorded.
type StatusStore interface {
	LastUpdate(ctx context.Context, id string) (int64, error)
	SetLastUpdate(ctx context.Context, id string, stamp int64) error
}

// KnownPrinters is the persisted list of printers installed at a user's request.
type KnownPrinters interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// Gate decides whether a printer may be installed. A denial carries a
// human readable reason.
type Gate interface {
	AllowInstall(ctx context.Context, d *Descriptor, scope engine.Scope) (bool, string, error)
}
