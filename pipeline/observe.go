package pipeline

import (
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

// Stage identifies a point in the pipeline lifecycle at which observability
// callbacks fire.
type Stage string

const (
	// StageRetrieval fires after retrieval; output is the kept results.
	StageRetrieval Stage = "retrieval"
	// StageGeneration fires after generation; output is the answer text.
	StageGeneration Stage = "generation"
	// StageEnd fires once per run; output carries "execution_time" in seconds.
	StageEnd Stage = "end"
)

// Callback observes a lifecycle stage. Callbacks run synchronously on the
// pipeline goroutine and must not block or panic.
type Callback func(stage Stage, input, output any)

// maxSampleLen caps how much generated text the default callback logs.
const maxSampleLen = 100

// AddDefaultObservability registers the default logging callback on p and
// returns the same pipeline, so the call composes with Build:
//
//	p := pipeline.AddDefaultObservability(mustBuild())
//
// Exactly one callback is added per call; previously registered callbacks are
// untouched.
func AddDefaultObservability(p *Pipeline) *Pipeline {
	p.AddObservabilityCallback(DefaultCallback(p.logger))
	return p
}

// DefaultCallback returns a callback that logs a summary line per stage:
// the number of retrieved documents, a truncated sample of the generated
// answer, and the total execution time. It tolerates payloads of any shape
// and never panics. A nil logger falls back to slog.Default.
func DefaultCallback(logger *slog.Logger) Callback {
	if logger == nil {
		logger = slog.Default()
	}

	return func(stage Stage, input, output any) {
		switch stage {
		case StageRetrieval:
			logger.Info("retrieved documents", "count", sequenceLen(output))

		case StageGeneration:
			if text, ok := asText(output); ok {
				logger.Info("generated response", "sample", truncate(text, maxSampleLen))
			} else {
				logger.Info("generated response", "sample", fmt.Sprintf("%v", output))
			}

		case StageEnd:
			if secs, ok := executionSeconds(output); ok {
				logger.Info("pipeline run finished", "execution_time", fmt.Sprintf("%.2fs", secs))
			}
		}
		// Unknown stages are ignored.
	}
}

// sequenceLen reports the length of a slice or array output, and 0 for
// anything else. Strings and maps are not document sequences.
func sequenceLen(v any) int {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len()
	default:
		return 0
	}
}

func asText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return "", false
	}
}

// truncate keeps the first n characters, never splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// executionSeconds extracts the elapsed seconds from an end-stage payload.
func executionSeconds(v any) (float64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	switch t := m["execution_time"].(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case time.Duration:
		return t.Seconds(), true
	default:
		return 0, false
	}
}
