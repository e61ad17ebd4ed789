package adb

import (
	"fmt"
	"io"
	"strconv"
)

// Smart-socket status tokens.
const (
	statusOkay = "OKAY"
	statusFail = "FAIL"
)

// maxMessageSize bounds length-prefixed payloads read from the server.
// The server never sends multi-megabyte host responses; this guards
// against a corrupt length prefix.
const maxMessageSize = 256 * 1024

// writeRequest sends a length-prefixed smart-socket request.
//
// The wire format is a 4-character lowercase hex length followed by the
// payload, e.g. "000Chost:version".
func writeRequest(w io.Writer, payload string) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("adb: request too long (%d bytes)", len(payload))
	}
	msg := fmt.Sprintf("%04x%s", len(payload), payload)
	if _, err := io.WriteString(w, msg); err != nil {
		return fmt.Errorf("adb: writing request: %w", err)
	}
	return nil
}

// readStatus reads the 4-byte OKAY/FAIL status token. On FAIL it reads
// the length-prefixed error message from the server and returns it
// wrapped in ErrCommandRejected.
func readStatus(r io.Reader) error {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("adb: reading status: %w", err)
	}

	switch string(buf) {
	case statusOkay:
		return nil
	case statusFail:
		reason, err := readMessage(r)
		if err != nil {
			return fmt.Errorf("%w: (unreadable reason: %v)", ErrCommandRejected, err)
		}
		return fmt.Errorf("%w: %s", ErrCommandRejected, reason)
	default:
		return fmt.Errorf("adb: unexpected status %q", string(buf))
	}
}

// readMessage reads a length-prefixed payload (4 hex digits + data).
func readMessage(r io.Reader) (string, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return "", fmt.Errorf("adb: reading length prefix: %w", err)
	}

	size, err := strconv.ParseUint(string(lenBuf), 16, 32)
	if err != nil {
		return "", fmt.Errorf("adb: invalid length prefix %q: %w", string(lenBuf), err)
	}
	if size > maxMessageSize {
		return "", fmt.Errorf("adb: message size %d exceeds maximum %d", size, maxMessageSize)
	}
	if size == 0 {
		return "", nil
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", fmt.Errorf("adb: reading payload: %w", err)
	}
	return string(payload), nil
}
