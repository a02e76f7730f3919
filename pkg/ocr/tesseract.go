package ocr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
)

// EngineTesseract names results produced by the tesseract CLI.
const EngineTesseract = "tesseract"

// Runner executes a command with stdin and returns its stdout.
type Runner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// TesseractOptions configure the tesseract engine.
type TesseractOptions struct {
	Binary    string
	Languages []string
	// PageSegMode is passed as --psm; 6 assumes a uniform block of text.
	PageSegMode int
	LookPath    func(string) (string, error)
	Runner      Runner
}

// Tesseract shells out to the tesseract CLI, feeding PNG on stdin and
// reading word-level TSV from stdout.
type Tesseract struct {
	binary    string
	languages []string
	psm       int
	lookPath  func(string) (string, error)
	runner    Runner
}

// NewTesseract constructs the engine.
func NewTesseract(opts TesseractOptions) (*Tesseract, error) {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = "tesseract"
	}
	languages := make([]string, 0, len(opts.Languages))
	for _, lang := range opts.Languages {
		if trimmed := strings.TrimSpace(lang); trimmed != "" {
			languages = append(languages, trimmed)
		}
	}
	if len(languages) == 0 {
		return nil, errors.New("languages must not be empty")
	}
	psm := opts.PageSegMode
	if psm <= 0 {
		psm = 6
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	runner := opts.Runner
	if runner == nil {
		runner = execRunner
	}
	return &Tesseract{
		binary:    binary,
		languages: languages,
		psm:       psm,
		lookPath:  lookPath,
		runner:    runner,
	}, nil
}

// Available reports whether the binary resolves on PATH.
func (t *Tesseract) Available() bool {
	_, err := t.lookPath(t.binary)
	return err == nil
}

// Recognize runs tesseract over img.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (Result, error) {
	if !t.Available() {
		return Result{}, fmt.Errorf("%w: tesseract binary %q not found", ErrUnavailable, t.binary)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{}, fmt.Errorf("encode crop: %w", err)
	}

	args := []string{"stdin", "stdout", "-l", strings.Join(t.languages, "+"), "--psm", strconv.Itoa(t.psm), "tsv"}
	out, err := t.runner(ctx, buf.Bytes(), t.binary, args...)
	if err != nil {
		if ctx != nil && ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("run tesseract: %w", err)
	}

	res, err := parseTSV(out)
	if err != nil {
		return Result{}, err
	}
	res.Engine = EngineTesseract
	if res.Text == "" {
		return res, ErrNoText
	}
	return res, nil
}

// parseTSV joins recognised words in reading order and averages their confidences.
func parseTSV(data []byte) (Result, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var words []string
	var total float64
	header := true
	for scanner.Scan() {
		line := scanner.Text()
		if header {
			header = false
			if strings.HasPrefix(line, "level") {
				continue
			}
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[10]), 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		words = append(words, word)
		total += conf
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("read tesseract output: %w", err)
	}
	if len(words) == 0 {
		return Result{}, nil
	}
	return Result{
		Text:       strings.Join(words, " "),
		Confidence: total / float64(len(words)) / 100,
	}, nil
}

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
