package ocr

import (
	"os/exec"
	"strings"
)

// Provider identifiers for OCR backends.
const (
	ProviderTesseract = "tesseract"
	ProviderNone      = "none"
)

// Environment captures OCR dependency availability.
type Environment struct {
	Provider           string
	Available          bool
	TesseractAvailable bool
	TesseractPath      string
	Message            string
	Guidance           []string
}

// DetectorOptions controls OCR environment probing.
type DetectorOptions struct {
	Enabled         bool
	TesseractBinary string
	LookPath        func(string) (string, error)
}

// DetectEnvironment reports whether an OCR engine can run. When none can,
// clicks still become steps with coordinate-only descriptions.
func DetectEnvironment(opts DetectorOptions) Environment {
	binary := strings.TrimSpace(opts.TesseractBinary)
	if binary == "" {
		binary = "tesseract"
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	env := Environment{Provider: ProviderNone}
	if !opts.Enabled {
		env.Message = "ocr disabled via config; steps use coordinate descriptions"
		return env
	}

	if path, err := lookPath(binary); err == nil {
		env.TesseractAvailable = true
		env.TesseractPath = path
	}
	if env.TesseractAvailable {
		env.Provider = ProviderTesseract
		env.Available = true
		env.Message = "tesseract binary detected"
		return env
	}
	env.Message = "tesseract binary missing; steps use coordinate descriptions"
	env.Guidance = append(env.Guidance, "Install Tesseract OCR and expose it on PATH", "Or set ocr.tesseract_binary to its absolute path")
	return env
}
