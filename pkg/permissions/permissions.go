package permissions

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Status enumerates coarse permission results for OS consent prompts.
type Status string

const (
	StatusUnknown        Status = "unknown"
	StatusGranted        Status = "granted"
	StatusDenied         Status = "denied"
	StatusPromptRequired Status = "prompt"
	// StatusUnavailable means the surface cannot be captured on this host.
	StatusUnavailable Status = "unavailable"
	// StatusNotRequired means the platform does not gate the surface.
	StatusNotRequired Status = "not_required"
)

// ProbeResult is the outcome of probing one surface.
type ProbeResult struct {
	Surface  string `json:"surface"`
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

// LookupEnvFunc matches os.LookupEnv.
type LookupEnvFunc func(string) (string, bool)

// Surface is a permission-gated capability and the env var that overrides its probe.
type Surface struct {
	Name   string
	EnvKey string
	// Darwin is the result reported on macOS when no override is present.
	Darwin ProbeResult
}

var (
	// ScreenRecording gates full-frame screenshots.
	ScreenRecording = Surface{
		Name:   "screen recording",
		EnvKey: "STEPCAPTURE_SCREEN_RECORDING",
		Darwin: ProbeResult{Status: StatusPromptRequired, Message: "awaiting macOS screen recording authorisation"},
	}
	// InputMonitoring gates the global mouse and keyboard hook.
	InputMonitoring = Surface{
		Name:   "input monitoring",
		EnvKey: "STEPCAPTURE_INPUT_MONITORING",
		Darwin: ProbeResult{Status: StatusPromptRequired, Message: "accessibility and input monitoring trust required"},
	}
)

// Swapped in tests.
var lookupEnv LookupEnvFunc = os.LookupEnv

var runtimeGOOS = func() string { return runtime.GOOS }

// Probe reports the permission state of a surface. An env override wins over
// the platform default.
func Probe(surface Surface, lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	var res ProbeResult
	if value, ok := lookup(surface.EnvKey); ok {
		res = interpretPermissionFlag(surface, value)
	} else {
		switch runtimeGOOS() {
		case "darwin":
			res = surface.Darwin
		case "windows", "linux":
			res = ProbeResult{Status: StatusNotRequired, Message: surface.Name + " needs no consent prompt on " + runtimeGOOS()}
		default:
			res = ProbeResult{Status: StatusUnavailable, Message: surface.Name + " unsupported on this platform"}
		}
	}
	res.Surface = surface.Name
	return res
}

// ProbeAll reports every known surface in a stable order.
func ProbeAll(lookup LookupEnvFunc) []ProbeResult {
	return []ProbeResult{
		Probe(InputMonitoring, lookup),
		Probe(ScreenRecording, lookup),
	}
}

func interpretPermissionFlag(surface Surface, value string) ProbeResult {
	name := surface.Name
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "allow", "allowed", "yes", "true", "1":
		return ProbeResult{Status: StatusGranted, Message: name + " granted by " + surface.EnvKey}
	case "denied", "no", "false", "blocked", "0":
		return ProbeResult{Status: StatusDenied, Message: name + " permission denied via env override", Guidance: "grant access in system settings or unset " + surface.EnvKey + " to re-test"}
	case "prompt", "ask":
		return ProbeResult{Status: StatusPromptRequired, Message: name + " will prompt on first capture"}
	case "unavailable", "unsupported":
		return ProbeResult{Status: StatusUnavailable, Message: name + " reported unavailable by " + surface.EnvKey}
	default:
		return ProbeResult{Status: StatusUnknown, Message: name + ": unrecognised " + surface.EnvKey + " value " + strconv.Quote(value)}
	}
}

// Usable reports whether capture may proceed under this result.
func (p ProbeResult) Usable() bool {
	return p.Status != StatusDenied && p.Status != StatusUnavailable
}

// StatusString is Status with the empty value reported as unknown.
func (p ProbeResult) StatusString() string {
	if p.Status == "" {
		return string(StatusUnknown)
	}
	return string(p.Status)
}
