// Package androidtv manages Android TV devices over their network
// debug port.
//
// Each device gets a Session, a small state machine owning one
// connection. Sessions execute shell commands one at a time in issue
// order, and on failure fall into a Backoff state with exponentially
// growing, jittered retry delays. A Poller per device runs a fixed set
// of diagnostic probes (power, audio, foreground app, build info) every
// interval, skipping ticks while a cycle is still running.
//
// Probe output is parsed tolerantly: firmware variations that defeat a
// parser leave the previous value in place rather than flapping the
// field. Only fields that actually changed since the last cycle are
// persisted and published.
//
// The Registry owns the device set, merging statically configured
// devices with mDNS discoveries. Both are keyed by address, and
// configuration wins over discovery. The Bridge wires the registry to
// MQTT: commands in, state changes, connectivity transitions and
// command acknowledgments out.
//
// Nothing in this package treats a device problem as fatal. The worst
// outcome of any failure is a device reported disconnected.
package androidtv
