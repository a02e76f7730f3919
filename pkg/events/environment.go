package events

import (
	"github.com/offlinefirst/stepcapture/pkg/permissions"
)

// Environment summarises input capture backend support.
type Environment struct {
	Provider   string
	Available  bool
	Permission string
	Message    string
	Guidance   string
}

const (
	providerScript    = "script"
	providerSynthetic = "synthetic"
)

// DetectEnvironment reports which event source the recorder will use and the
// input monitoring permission state. A script path selects the replay source.
func DetectEnvironment(scriptPath string, lookup permissions.LookupEnvFunc) Environment {
	probe := permissions.Probe(permissions.InputMonitoring, lookup)
	env := Environment{
		Provider:   providerSynthetic,
		Available:  true,
		Permission: probe.StatusString(),
		Message:    "synthetic login-flow timeline",
		Guidance:   probe.Guidance,
	}
	if scriptPath != "" {
		env.Provider = providerScript
		env.Message = "replaying " + scriptPath
	}
	if !probe.Usable() {
		env.Message = probe.Message + "; falling back to " + env.Provider + " source"
	}
	return env
}
