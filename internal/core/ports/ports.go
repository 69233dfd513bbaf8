// Package ports declares the narrow interfaces the core depends on to reach
// the outside world: storage, the L2 wire, and operator-facing collaborators.
package ports

import (
	"context"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
)

// PacketStore is the collaborator boundary the orchestrator depends on,
// narrowed to
// the operations the core actually issues rather than exposing begin/commit/
// exec/query directly. Implementations own their own connection pool and
// transactional scope.
type PacketStore interface {
	// InsertBatch persists rows inside a single transaction, chunked
	// internally if the backend benefits from it. Returns the number of
	// rows committed; on error no partial commit is visible to readers.
	InsertBatch(ctx context.Context, rows []domain.StoredRow) (int, error)

	// PollSince returns candidate rows for localIP with timestamp strictly
	// greater than since (or, when since is zero, the bootstrap window
	// defined by the caller), ordered by timestamp ascending. A backend may
	// return rows for other destinations; the caller applies the final
	// destination check.
	PollSince(ctx context.Context, localIP []byte, since time.Time, bootstrapWindow time.Duration) ([]domain.StoredRow, error)

	// Migrate creates the packets hypertable/table and the rules table
	// plus their indexes if they do not already exist.
	Migrate(ctx context.Context) error

	// Stats reports pool-level health for telemetry.
	Stats() StoreStats

	// Close releases the underlying connection pool.
	Close() error
}

// StoreStats mirrors a bounded connection pool's health at the level
// telemetry needs.
type StoreStats struct {
	OpenConnections int
	InUse           int
	Idle            int
}

// FrameSource is the capture side of the L2 interface: opening it must be an
// Ethernet channel, non-Ethernet is fatal.
type FrameSource interface {
	// Open begins capture on the named interface.
	Open(ctx context.Context, ifaceName string) error
	// ReadFrame blocks until a frame is available, ctx is done, or an
	// error occurs.
	ReadFrame(ctx context.Context) (domain.Frame, time.Time, error)
	Close() error
}

// FrameSink is the injection side of the L2 interface.
type FrameSink interface {
	Open(ctx context.Context, ifaceName string) error
	// WriteFrame emits a single contiguous frame. Implementations must
	// reject frames over domain.MaxFrameSize before attempting to send.
	WriteFrame(ctx context.Context, raw []byte) error
	Close() error
}

// RuleRepository persists firewall rules in the rules table alongside
// packets. Not every PacketStore backend is required to implement it, but
// both shipped ones (sqlite, postgres) do.
type RuleRepository interface {
	LoadRules(ctx context.Context) ([]domain.Rule, error)
	SaveRule(ctx context.Context, rule domain.Rule, action string, enabled bool) (domain.Rule, error)
}

// DeviceSelector resolves which physical interface to capture on when it is
// not preselected by NETWORK_INTERFACE.
type DeviceSelector interface {
	SelectInterface(ctx context.Context, candidates []string) (string, error)
}

// ConfigSource loads configuration from the environment/flags/files.
type ConfigSource interface {
	Load() (map[string]string, error)
}

// VirtualInterfaceProvisioner is an optional collaborator for provisioning a
// TAP-style virtual interface with TAP_IP/TAP_MASK. No default
// implementation ships; netlink provisioning is out of scope (see
// DESIGN.md).
type VirtualInterfaceProvisioner interface {
	Provision(ctx context.Context, addr string, mask string) error
}
