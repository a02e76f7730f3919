package ocr

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"
	"time"
)

func blank() image.Image {
	return image.NewGray(image.Rect(0, 0, 8, 8))
}

func fixed(text string, conf float64) Recognizer {
	return RecognizerFunc(func(context.Context, image.Image) (Result, error) {
		return Result{Text: text, Confidence: conf, Engine: "fake"}, nil
	})
}

func TestWithTimeoutReturnsTimeoutError(t *testing.T) {
	slow := RecognizerFunc(func(ctx context.Context, img image.Image) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	_, err := WithTimeout(slow, 10*time.Millisecond).Recognize(context.Background(), blank())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.After != 10*time.Millisecond {
		t.Fatalf("expected *TimeoutError with budget, got %#v", err)
	}
}

func TestWithTimeoutParentCancellation(t *testing.T) {
	slow := RecognizerFunc(func(ctx context.Context, img image.Image) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeout(slow, time.Second).Recognize(ctx, blank())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("parent cancellation must not be reported as timeout")
	}
}

func TestWithTimeoutPassesResult(t *testing.T) {
	res, err := WithTimeout(fixed("Save", 0.9), time.Second).Recognize(context.Background(), blank())
	if err != nil || res.Text != "Save" {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

func TestChainPrefersFirstConfidentResult(t *testing.T) {
	called := false
	second := RecognizerFunc(func(context.Context, image.Image) (Result, error) {
		called = true
		return Result{Text: "Other", Confidence: 0.99}, nil
	})
	res, err := Chain(0.6, fixed("  Submit  ", 0.8), second).Recognize(context.Background(), blank())
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if res.Text != "Submit" {
		t.Fatalf("expected cleaned text, got %q", res.Text)
	}
	if called {
		t.Fatalf("second engine should not run after a confident result")
	}
}

func TestChainFallsBackToBestLowConfidence(t *testing.T) {
	res, err := Chain(0.9, fixed("Cancel", 0.4), fixed("Cancel", 0.7), fixed("#%|", 0.99)).Recognize(context.Background(), blank())
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if res.Confidence != 0.7 {
		t.Fatalf("expected best meaningful result, got %+v", res)
	}
}

func TestChainReportsLastError(t *testing.T) {
	_, err := Chain(0.6, Unavailable).Recognize(context.Background(), blank())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	_, err = Chain(0.6, fixed("", 1)).Recognize(context.Background(), blank())
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestCleanTrimsAndTruncates(t *testing.T) {
	if got := Clean("| Sign\n\tin |"); got != "Sign in" {
		t.Fatalf("unexpected clean %q", got)
	}
	long := strings.Repeat("a", MaxLabelRunes+10)
	got := Clean(long)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != MaxLabelRunes+3 {
		t.Fatalf("expected truncated label, got %q", got)
	}
}

func TestMeaningful(t *testing.T) {
	cases := map[string]bool{
		"":          false,
		"a":         false,
		"A":         true,
		"7":         true,
		"+":         true,
		"OK":        true,
		"Save file": true,
		"#$%&a":     false,
		"xkcdthrpq": false,
		"aaaa":      false,
		"Settings":  true,
	}
	for text, want := range cases {
		if got := Meaningful(text); got != want {
			t.Fatalf("Meaningful(%q) = %v, want %v", text, got, want)
		}
	}
}

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t120\t40\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t8\t40\t20\t90.0\tSign\n" +
	"5\t1\t1\t1\t1\t2\t56\t8\t20\t20\t70.0\tin\n"

func TestTesseractParsesTSV(t *testing.T) {
	var gotArgs []string
	var gotStdin int
	engine, err := NewTesseract(TesseractOptions{
		Languages: []string{"eng", "deu"},
		LookPath:  fakePath{}.lookup,
		Runner: func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
			gotArgs = args
			gotStdin = len(stdin)
			return []byte(sampleTSV), nil
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := engine.Recognize(context.Background(), blank())
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if res.Text != "Sign in" || res.Engine != EngineTesseract {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Confidence < 0.79 || res.Confidence > 0.81 {
		t.Fatalf("expected averaged confidence 0.8, got %f", res.Confidence)
	}
	if strings.Join(gotArgs, " ") != "stdin stdout -l eng+deu --psm 6 tsv" {
		t.Fatalf("unexpected args %v", gotArgs)
	}
	if gotStdin == 0 {
		t.Fatalf("expected png bytes on stdin")
	}
}

func TestTesseractMissingBinary(t *testing.T) {
	engine, err := NewTesseract(TesseractOptions{Languages: []string{"eng"}, LookPath: fakePath{err: errors.New("nope")}.lookup})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if engine.Available() {
		t.Fatalf("expected unavailable engine")
	}
	if _, err := engine.Recognize(context.Background(), blank()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestTesseractNoWords(t *testing.T) {
	engine, _ := NewTesseract(TesseractOptions{
		Languages: []string{"eng"},
		LookPath:  fakePath{}.lookup,
		Runner: func(context.Context, []byte, string, ...string) ([]byte, error) {
			return []byte("level\tpage_num\n"), nil
		},
	})
	if _, err := engine.Recognize(context.Background(), blank()); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestNewTesseractRequiresLanguage(t *testing.T) {
	if _, err := NewTesseract(TesseractOptions{Languages: []string{" "}}); err == nil {
		t.Fatalf("expected error for empty languages")
	}
}
