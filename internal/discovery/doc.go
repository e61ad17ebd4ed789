// Package discovery finds Android TV devices on the local network via
// mDNS/DNS-SD. Devices with network debugging enabled advertise an
// _adb-tls-connect._tcp service; the browser watches for those
// advertisements and emits one announcement per sighting.
//
// The browser reports raw observations only. Deduplication, persistence
// and the decision to start managing a discovered device belong to the
// device registry.
package discovery
