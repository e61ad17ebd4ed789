// Package adb provides a client for the adb server's smart-socket
// protocol and lifecycle management for the shared server process.
//
// TVBridge talks to Android TV devices through one local adb server.
// The Client opens a fresh connection to the server per operation and
// speaks the length-prefixed request format ("000Chost:version"),
// reading OKAY/FAIL status tokens and length-prefixed responses.
//
// The ServerManager owns the shared server process. Sessions call
// Acquire before their first use and Release on close; the process is
// started once for the first session and stopped after the last one.
// Deployments with an externally managed server set adb.managed=false
// and the manager only verifies reachability.
//
// Serialization of shell commands per device is NOT handled here; the
// session layer guarantees at most one in-flight command per device.
package adb
