package screenshots

import (
	"strings"

	"github.com/offlinefirst/stepcapture/pkg/permissions"
)

// Environment describes screenshot capture availability.
type Environment struct {
	Provider   string
	Available  bool
	Permission string
	Message    string
	Guidance   string
}

// DetectEnvironment reports the configured backend and the screen recording
// permission state.
func DetectEnvironment(backend string, lookup permissions.LookupEnvFunc) Environment {
	probe := permissions.Probe(permissions.ScreenRecording, lookup)
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		backend = BackendSynthetic
	}
	env := Environment{
		Provider:   backend,
		Permission: probe.StatusString(),
		Message:    probe.Message,
		Guidance:   probe.Guidance,
	}
	switch backend {
	case BackendNone:
		env.Message = "screenshots disabled; steps carry no frame and use coordinate descriptions"
	case BackendSynthetic:
		env.Available = probe.Usable()
		if env.Available {
			env.Message = "synthetic mock UI frames"
		}
	default:
		env.Message = "unknown screenshot backend " + backend
	}
	return env
}
