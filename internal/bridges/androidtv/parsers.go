package androidtv

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic command vocabulary. Each read-only command is paired with
// the parser that understands its output; the pairing must stay
// consistent (the poller issues the command and feeds the output to the
// matching parser).
const (
	cmdPowerState    = "dumpsys power"
	cmdAudioState    = "dumpsys audio"
	cmdAndroidVer    = "getprop ro.build.version.release"
	cmdAPILevel      = "getprop ro.build.version.sdk"
	cmdForegroundApp = "dumpsys activity activities"
)

// Control command templates.
const (
	cmdKeyEventFmt  = "input keyevent %d"
	cmdLaunchAppFmt = "monkey -p %s -c android.intent.category.LAUNCHER 1"
)

// keyEventCommand builds the key injection command for an Android keycode.
func keyEventCommand(keycode int) string {
	return fmt.Sprintf(cmdKeyEventFmt, keycode)
}

// launchAppCommand builds the launch-by-package command.
func launchAppCommand(pkg string) string {
	return fmt.Sprintf(cmdLaunchAppFmt, pkg)
}

// Parsers are pure functions over raw multi-line command output. They
// search for known markers instead of assuming fixed line positions -
// dumpsys output is not stable across Android versions - and signal a
// parse failure through ok=false rather than an error. The poller keeps
// the previous value on parse failure.

// power state markers across Android versions.
var (
	powerOnMarkers = []string{
		"Display Power: state=ON",
		"mWakefulness=Awake",
	}
	powerOffMarkers = []string{
		"Display Power: state=OFF",
		"mWakefulness=Asleep",
		"mWakefulness=Dozing",
	}
)

// ParsePowerState extracts the display power state from dumpsys power output.
func ParsePowerState(output string) (bool, bool) {
	for _, marker := range powerOnMarkers {
		if strings.Contains(output, marker) {
			return true, true
		}
	}
	for _, marker := range powerOffMarkers {
		if strings.Contains(output, marker) {
			return false, true
		}
	}
	return false, false
}

// ParseAudioPlaying reports whether any audio stream is active, from
// dumpsys audio output. A "state:started" player entry means something
// is playing; "state:paused"/"state:stopped" (or no player section at
// all on idle devices) means not.
func ParseAudioPlaying(output string) (bool, bool) {
	if strings.Contains(output, "state:started") {
		return true, true
	}
	// Only trust a negative when we can see the players section at all
	if strings.Contains(output, "players:") || strings.Contains(output, "state:paused") ||
		strings.Contains(output, "state:stopped") || strings.Contains(output, "state:idle") {
		return false, true
	}
	return false, false
}

// ParseAndroidVersion extracts the OS release string from getprop output.
// getprop prints the bare value followed by a newline.
func ParseAndroidVersion(output string) (string, bool) {
	v := strings.TrimSpace(output)
	if v == "" {
		return "", false
	}
	// A getprop error message is not a version
	if strings.ContainsAny(v, " \t") {
		return "", false
	}
	return v, true
}

// ParseAPILevel extracts the SDK level from getprop output.
func ParseAPILevel(output string) (int, bool) {
	v := strings.TrimSpace(output)
	level, err := strconv.Atoi(v)
	if err != nil || level <= 0 {
		return 0, false
	}
	return level, true
}

// resumedActivityRe matches the focused-activity line of dumpsys
// activity output. Both the pre-Android-10 "mResumedActivity" and the
// newer "topResumedActivity" forms carry a component like
// "com.netflix.ninja/.MainActivity".
var resumedActivityRe = regexp.MustCompile(`(?:mResumedActivity|topResumedActivity).*?\s([A-Za-z][A-Za-z0-9_.]*)/`)

// ParseForegroundApp extracts the foreground application's package name
// from dumpsys activity activities output.
func ParseForegroundApp(output string) (string, bool) {
	m := resumedActivityRe.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}
