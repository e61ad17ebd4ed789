// Package database provides the SQLite persistence layer for TVBridge Core.
//
// It wraps database/sql with lifecycle management (directory creation,
// WAL mode, busy timeout, file permissions), health checks, and an
// embedded-migration runner. The devices table and the per-device derived
// state table are defined in the migrations package and accessed through
// the device package's store.
//
// SQLite is opened with a single connection because it supports only one
// writer; all repository access serialises through that connection.
package database
