package screenshots

import "testing"

func TestDetectEnvironmentPopulatesFields(t *testing.T) {
	env := DetectEnvironment("", func(string) (string, bool) { return "", false })
	if env.Provider != BackendSynthetic {
		t.Fatalf("expected synthetic provider, got %q", env.Provider)
	}
	if env.Permission == "" {
		t.Fatalf("expected permission string")
	}
	if env.Message == "" {
		t.Fatalf("expected message")
	}
}

func TestDetectEnvironmentDeniedOverride(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "STEPCAPTURE_SCREEN_RECORDING" {
			return "denied", true
		}
		return "", false
	}
	env := DetectEnvironment(BackendSynthetic, lookup)
	if env.Available {
		t.Fatalf("expected unavailable when permission denied")
	}
	if env.Permission != "denied" || env.Guidance == "" {
		t.Fatalf("unexpected environment %+v", env)
	}
}
