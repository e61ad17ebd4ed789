package device

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Source records how a device entered the registry.
type Source string

const (
	// SourceConfig marks devices declared in the configuration file.
	SourceConfig Source = "config"

	// SourceDiscovery marks devices found via network discovery.
	SourceDiscovery Source = "discovery"
)

// Device represents one Android TV endpoint managed by the bridge.
// This matches the database schema in migrations/20260830_120000_initial_schema.up.sql.
type Device struct {
	// Identity. ID is derived deterministically from Address so a device
	// keeps its identity across restarts and across config/discovery merges.
	ID      string `json:"id"`
	Address string `json:"address"` // host:port
	Name    string `json:"name"`

	// Enabled devices get a live session; disabled devices stay
	// registered but are never connected to.
	Enabled bool `json:"enabled"`

	// PollInterval overrides the global poll interval when non-zero.
	PollInterval time.Duration `json:"poll_interval,omitempty"`

	Source Source `json:"source"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// deviceNamespace is the UUID namespace for deriving device IDs from addresses.
var deviceNamespace = uuid.MustParse("8f9c1f52-6f1e-4f2d-9a3b-5c1d2e7a4b60")

// DeriveID returns the stable device ID for a network address.
// The same address always maps to the same ID (UUIDv5 over the address),
// which is what keeps config and discovery observations of one physical
// device merged into a single registry entry.
func DeriveID(address string) string {
	return uuid.NewSHA1(deviceNamespace, []byte(address)).String()
}

// ValidateAddress checks that an address is a usable host:port pair.
func ValidateAddress(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return ErrInvalidAddress
	}
	if host == "" || port == "" {
		return ErrInvalidAddress
	}
	return nil
}

// StateField is a single persisted key/value pair of derived device state.
type StateField struct {
	Field     string    `json:"field"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
