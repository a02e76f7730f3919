package events

import (
	"strings"
	"testing"
)

func TestDetectEnvironmentSetsFields(t *testing.T) {
	env := DetectEnvironment("", func(string) (string, bool) { return "", false })
	if env.Provider != providerSynthetic {
		t.Fatalf("expected synthetic provider, got %q", env.Provider)
	}
	if env.Permission == "" {
		t.Fatalf("expected permission status")
	}
	if env.Message == "" {
		t.Fatalf("expected message")
	}
}

func TestDetectEnvironmentScriptAndDenied(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "STEPCAPTURE_INPUT_MONITORING" {
			return "denied", true
		}
		return "", false
	}
	env := DetectEnvironment("flow.jsonl", lookup)
	if env.Provider != providerScript {
		t.Fatalf("expected script provider, got %q", env.Provider)
	}
	if env.Permission != "denied" {
		t.Fatalf("expected denied permission, got %q", env.Permission)
	}
	if !strings.Contains(env.Message, "falling back") {
		t.Fatalf("expected fallback message, got %q", env.Message)
	}
}
