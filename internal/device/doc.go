// Package device defines the persisted device model and its SQLite
// repository.
//
// A Device row is the durable record of an Android TV endpoint: its
// network address, display name, enabled flag, optional per-device poll
// interval, and whether it came from configuration or discovery. Device
// IDs are UUIDv5 values derived from the address, so the same endpoint
// always resolves to the same ID regardless of how it was registered.
//
// Derived runtime state (power, foreground app, OS version) is written
// field-by-field into the device_state table by the polling layer; only
// changed fields are written, so the table reflects the latest observed
// value per field with its timestamp.
//
// The live session/registry logic lives in internal/bridges/androidtv;
// this package owns only persistence.
package device
