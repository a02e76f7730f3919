// Package ocr recognises the label text inside a screenshot crop. Engines are
// consumed through the Recognizer interface; WithTimeout bounds each call and
// Chain combines several engines into one capability.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("ocr timed out")
	// ErrUnavailable means no OCR engine can run on this host.
	ErrUnavailable = errors.New("ocr unavailable")
	// ErrNoText means the engine ran but found nothing usable.
	ErrNoText = errors.New("ocr found no text")
)

// TimeoutError reports a recognition call abandoned after the configured budget.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ocr timed out after %s", e.After)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Result is recognised text with a confidence in [0,1].
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine,omitempty"`
}

// Recognizer extracts text from an image region.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (Result, error)
}

// RecognizerFunc adapts a function literal to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, img image.Image) (Result, error)

// Recognize calls the underlying function.
func (f RecognizerFunc) Recognize(ctx context.Context, img image.Image) (Result, error) {
	return f(ctx, img)
}

// Unavailable is a Recognizer for hosts without any engine.
var Unavailable Recognizer = RecognizerFunc(func(context.Context, image.Image) (Result, error) {
	return Result{}, ErrUnavailable
})

// WithTimeout bounds every call to r by d. The engine keeps running in the
// background after a timeout but its result is discarded.
func WithTimeout(r Recognizer, d time.Duration) Recognizer {
	if d <= 0 {
		return r
	}
	return RecognizerFunc(func(parent context.Context, img image.Image) (Result, error) {
		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := context.WithTimeout(parent, d)
		defer cancel()

		type outcome struct {
			res Result
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			res, err := r.Recognize(ctx, img)
			done <- outcome{res: res, err: err}
		}()

		select {
		case out := <-done:
			if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
				return Result{}, &TimeoutError{After: d}
			}
			return out.res, out.err
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return Result{}, err
			}
			return Result{}, &TimeoutError{After: d}
		}
	})
}

// Chain tries each engine in order and returns the first result at or above
// minConfidence, otherwise the most confident meaningful result seen.
func Chain(minConfidence float64, engines ...Recognizer) Recognizer {
	return RecognizerFunc(func(ctx context.Context, img image.Image) (Result, error) {
		var best Result
		found := false
		var lastErr error
		for _, engine := range engines {
			res, err := engine.Recognize(ctx, img)
			if err != nil {
				lastErr = err
				if ctx != nil && ctx.Err() != nil {
					break
				}
				continue
			}
			res.Text = Clean(res.Text)
			if !Meaningful(res.Text) {
				continue
			}
			if res.Confidence >= minConfidence {
				return res, nil
			}
			if !found || res.Confidence > best.Confidence {
				best, found = res, true
			}
		}
		if found {
			return best, nil
		}
		if lastErr != nil {
			return Result{}, lastErr
		}
		return Result{}, ErrNoText
	})
}
