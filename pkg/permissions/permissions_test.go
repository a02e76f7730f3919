package permissions

import "testing"

type fakeLookup map[string]string

func (f fakeLookup) get(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func TestInterpretPermissionFlag(t *testing.T) {
	cases := map[string]struct {
		value    string
		expected Status
	}{
		"granted":     {"granted", StatusGranted},
		"denied":      {"denied", StatusDenied},
		"prompt":      {"prompt", StatusPromptRequired},
		"unsupported": {"unsupported", StatusUnavailable},
		"unknown":     {"", StatusUnknown},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := interpretPermissionFlag(ScreenRecording, tc.value)
			if res.Status != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, res.Status)
			}
		})
	}
}

func TestProbeScreenRecordingHonoursEnv(t *testing.T) {
	lookup := fakeLookup{"STEPCAPTURE_SCREEN_RECORDING": "denied"}
	res := Probe(ScreenRecording, lookup.get)
	if res.Status != StatusDenied {
		t.Fatalf("expected denied, got %s", res.Status)
	}
	if res.Guidance == "" {
		t.Fatalf("expected guidance when denied")
	}
	if res.Usable() {
		t.Fatalf("denied permission must not be usable")
	}
	if res.Surface != "screen recording" {
		t.Fatalf("expected surface name, got %q", res.Surface)
	}
}

func TestProbePlatformDefaults(t *testing.T) {
	original := runtimeGOOS
	defer func() { runtimeGOOS = original }()

	runtimeGOOS = func() string { return "darwin" }
	if res := Probe(InputMonitoring, fakeLookup{}.get); res.Status != StatusPromptRequired {
		t.Fatalf("expected prompt on darwin, got %s", res.Status)
	}

	runtimeGOOS = func() string { return "linux" }
	if res := Probe(InputMonitoring, fakeLookup{}.get); res.Status != StatusNotRequired || !res.Usable() {
		t.Fatalf("expected usable not_required on linux, got %s", res.Status)
	}

	runtimeGOOS = func() string { return "plan9" }
	if res := Probe(InputMonitoring, fakeLookup{}.get); res.Status != StatusUnavailable {
		t.Fatalf("expected unavailable, got %s", res.Status)
	}
}

func TestProbeAllOrder(t *testing.T) {
	results := ProbeAll(fakeLookup{"STEPCAPTURE_INPUT_MONITORING": "granted"}.get)
	if len(results) != 2 {
		t.Fatalf("expected two surfaces, got %d", len(results))
	}
	if results[0].Surface != "input monitoring" || results[0].Status != StatusGranted {
		t.Fatalf("unexpected first result %+v", results[0])
	}
}
