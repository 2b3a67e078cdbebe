package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduassist/prompt"
	"eduassist/vectorstore"
)

func newObservedPipeline(t *testing.T) (*Pipeline, *recordingHandler) {
	t.Helper()
	handler := &recordingHandler{}
	p, err := New(&fakeGenerator{response: "ok"}, &fakeRetriever{}, prompt.Template{},
		WithPipelineLogger(slog.New(handler)))
	require.NoError(t, err)
	return p, handler
}

func TestAddDefaultObservabilityReturnsSameInstance(t *testing.T) {
	p, _ := newObservedPipeline(t)

	got := AddDefaultObservability(p)

	assert.Same(t, p, got)
	assert.Equal(t, 1, p.CallbackCount())
}

func TestAddDefaultObservabilityAddsOneCallbackPerCall(t *testing.T) {
	p, _ := newObservedPipeline(t)

	AddDefaultObservability(p)
	AddDefaultObservability(p)

	assert.Equal(t, 2, p.CallbackCount())
}

func TestAddDefaultObservabilityKeepsExistingCallbacks(t *testing.T) {
	p, _ := newObservedPipeline(t)
	p.AddObservabilityCallback(func(Stage, any, any) {})

	AddDefaultObservability(p)

	assert.Equal(t, 2, p.CallbackCount())
}

func TestDefaultCallbackRetrievalLogsResultCount(t *testing.T) {
	handler := &recordingHandler{}
	cb := DefaultCallback(slog.New(handler))

	cb(StageRetrieval, "question", []vectorstore.SearchResult{
		hit("a", 0.9), hit("b", 0.8), hit("c", 0.7),
	})

	records := handler.all()
	require.Len(t, records, 1)
	assert.EqualValues(t, 3, records[0].attrs["count"])
}

func TestDefaultCallbackRetrievalNonListLogsZero(t *testing.T) {
	handler := &recordingHandler{}
	cb := DefaultCallback(slog.New(handler))

	cb(StageRetrieval, "question", "not a list")
	cb(StageRetrieval, "question", 42)
	cb(StageRetrieval, "question", map[string]int{"a": 1, "b": 2})

	records := handler.all()
	require.Len(t, records, 3)
	for _, r := range records {
		assert.EqualValues(t, 0, r.attrs["count"])
	}
}

func TestDefaultCallbackGenerationTruncatesLongOutput(t *testing.T) {
	handler := &recordingHandler{}
	cb := DefaultCallback(slog.New(handler))

	long := strings.Repeat("x", 150)
	cb(StageGeneration, "prompt", long)

	records := handler.all()
	require.Len(t, records, 1)
	sample, ok := records[0].attrs["sample"].(string)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("x", 100)+"...", sample)
	assert.Len(t, sample, 103)
}

func TestDefaultCallbackGenerationTruncatesOnRuneBoundary(t *testing.T) {
	handler := &recordingHandler{}
	cb := DefaultCallback(slog.New(handler))

	// 120 three-byte runes; a byte-indexed cut would land mid-rune.
	long := strings.Repeat("日", 120)
	cb(StageGeneration, "prompt", long)

	records := handler.all()
	require.Len(t, records, 1)
	sample, ok := records[0].attrs["sample"].(string)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("日", 100)+"...", sample)
	assert.True(t, utf8.ValidString(sample))
}

func TestDefaultCallbackGenerationKeepsShortOutput(t *testing.T) {
	handler := &recordingHandler{}
	cb := DefaultCallback(slog.New(handler))

	short := strings.Repeat("y", 50)
	cb(StageGeneration, "prompt", short)

	records := handler.all()
	require.Len(t, records, 1)
	assert.Equal(t, short, records[0].attrs["sample"])
}

func TestDefaultCallbackEndFormatsExecutionTime(t *testing.T) {
	handler := &recordingHandler{}
	cb := DefaultCallback(slog.New(handler))

	cb(StageEnd, "question", map[string]any{"execution_time": 1.2345})

	records := handler.all()
	require.Len(t, records, 1)
	assert.Equal(t, "1.23s", records[0].attrs["execution_time"])
}

func TestDefaultCallbackEndIgnoresMissingExecutionTime(t *testing.T) {
	handler := &recordingHandler{}
	cb := DefaultCallback(slog.New(handler))

	cb(StageEnd, "question", map[string]any{})
	cb(StageEnd, "question", nil)

	assert.Empty(t, handler.all())
}

func TestDefaultCallbackIgnoresUnknownStage(t *testing.T) {
	handler := &recordingHandler{}
	cb := DefaultCallback(slog.New(handler))

	cb(Stage("warmup"), "in", "out")

	assert.Empty(t, handler.all())
}

func TestDefaultCallbackToleratesMalformedPayloads(t *testing.T) {
	handler := &recordingHandler{}
	cb := DefaultCallback(slog.New(handler))

	assert.NotPanics(t, func() {
		cb(StageRetrieval, nil, nil)
		cb(StageGeneration, nil, nil)
		cb(StageGeneration, nil, struct{ X int }{1})
		cb(StageEnd, nil, "not a map")
		cb(StageEnd, nil, map[string]any{"execution_time": "soon"})
	})
}

func TestDefaultObservabilityLogsFullRun(t *testing.T) {
	handler := &recordingHandler{}
	gen := &fakeGenerator{response: strings.Repeat("z", 120)}
	ret := &fakeRetriever{results: []vectorstore.SearchResult{hit("alpha", 0.9)}}

	p, err := New(gen, ret, prompt.Template{}, WithPipelineLogger(slog.New(handler)))
	require.NoError(t, err)
	AddDefaultObservability(p)

	_, err = p.Run(context.Background(), "q")
	require.NoError(t, err)

	var messages []string
	for _, r := range handler.all() {
		messages = append(messages, r.message)
	}
	assert.Contains(t, messages, "retrieved documents")
	assert.Contains(t, messages, "generated response")
	assert.Contains(t, messages, "pipeline run finished")
}
