package androidtv

import (
	"strconv"
	"time"
)

// ConnState is the connection state of a device session.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateBackoff      ConnState = "backoff"
	StateClosed       ConnState = "closed"
)

// PolledState is an immutable snapshot of one device's observed state.
// A new snapshot replaces the old one on every successful poll cycle.
//
// Nil pointer fields mean "unknown": the field starts unknown and stays
// unknown when its diagnostic command output never matched a parser,
// rather than reporting a fabricated false/empty value.
type PolledState struct {
	Power          *bool
	AudioPlaying   *bool
	AndroidVersion *string
	APILevel       *int
	ForegroundApp  *string
	ObservedAt     time.Time
}

// State field names as persisted and published. Shared between the
// poller's diffing and the consumers of state topics.
const (
	FieldPower          = "power"
	FieldAudioPlaying   = "audio_playing"
	FieldAndroidVersion = "android_version"
	FieldAPILevel       = "api_level"
	FieldForegroundApp  = "foreground_app"
	FieldConnected      = "connected"
)

// Fields flattens the snapshot into field name -> string value pairs,
// skipping unknown fields entirely.
func (s *PolledState) Fields() map[string]string {
	out := make(map[string]string)
	if s.Power != nil {
		out[FieldPower] = boolString(*s.Power)
	}
	if s.AudioPlaying != nil {
		out[FieldAudioPlaying] = boolString(*s.AudioPlaying)
	}
	if s.AndroidVersion != nil {
		out[FieldAndroidVersion] = *s.AndroidVersion
	}
	if s.APILevel != nil {
		out[FieldAPILevel] = strconv.Itoa(*s.APILevel)
	}
	if s.ForegroundApp != nil {
		out[FieldForegroundApp] = *s.ForegroundApp
	}
	return out
}

// diff returns the fields of s whose values differ from prev. A nil prev
// (first-ever poll) reports every known field. Fields that are unknown in
// s are never reported - unknown is not a value change.
func (s *PolledState) diff(prev *PolledState) map[string]string {
	cur := s.Fields()
	if prev == nil {
		return cur
	}

	old := prev.Fields()
	changed := make(map[string]string)
	for k, v := range cur {
		if oldV, ok := old[k]; !ok || oldV != v {
			changed[k] = v
		}
	}
	return changed
}

// clone returns a copy of the snapshot. Pointer fields are duplicated
// so the copy can be mutated independently.
func (s *PolledState) clone() *PolledState {
	if s == nil {
		return &PolledState{}
	}
	c := &PolledState{ObservedAt: s.ObservedAt}
	if s.Power != nil {
		v := *s.Power
		c.Power = &v
	}
	if s.AudioPlaying != nil {
		v := *s.AudioPlaying
		c.AudioPlaying = &v
	}
	if s.AndroidVersion != nil {
		v := *s.AndroidVersion
		c.AndroidVersion = &v
	}
	if s.APILevel != nil {
		v := *s.APILevel
		c.APILevel = &v
	}
	if s.ForegroundApp != nil {
		v := *s.ForegroundApp
		c.ForegroundApp = &v
	}
	return c
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
