package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduassist/document"
)

func testDoc(content string) document.Document {
	return document.New("test.txt", "Test Doc", content, "text/plain")
}

func TestProcessShortDocumentYieldsSingleChunk(t *testing.T) {
	content := "This is a short document about individualized education programs. " +
		"It fits comfortably within one chunk."
	chunks := Process(DefaultConfig(), []document.Document{testDoc(content)})

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, "Test Doc", chunks[0].Title)
	assert.Equal(t, "test.txt", chunks[0].Source)
	assert.Positive(t, chunks[0].WordCount)
	assert.Equal(t, len(chunks[0].Content), chunks[0].CharCount)
}

func TestProcessLongDocumentSplitsWithOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("Every student deserves a learning plan that fits their needs. ")
	}

	config := DefaultConfig()
	chunks := Process(config, []document.Document{testDoc(b.String())})

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.LessOrEqual(t, len(c.Content), config.MaxChunkSize)
	}

	// Consecutive chunks share overlapping text.
	first := chunks[0].Content
	second := chunks[1].Content
	tail := first[len(first)-20:]
	assert.Contains(t, second, strings.TrimSpace(tail))
}

func TestProcessSkipsTinyDocuments(t *testing.T) {
	chunks := Process(DefaultConfig(), []document.Document{testDoc("too short")})

	assert.Empty(t, chunks)
}

func TestProcessStripsHTMLAndURLs(t *testing.T) {
	content := "Reading goals <b>matter</b> a lot. See https://example.com/plan for details. " +
		"Contact teacher@example.com with questions about the accommodation schedule."
	chunks := Process(DefaultConfig(), []document.Document{testDoc(content)})

	require.Len(t, chunks, 1)
	assert.NotContains(t, chunks[0].Content, "<b>")
	assert.NotContains(t, chunks[0].Content, "https://example.com")
	assert.NotContains(t, chunks[0].Content, "teacher@example.com")
	assert.Contains(t, chunks[0].Content, "matter")
}

func TestChunkIDsAreDeterministic(t *testing.T) {
	doc := testDoc("A stable document produces stable chunk identifiers every time it is processed.")

	first := Process(DefaultConfig(), []document.Document{doc})
	second := Process(DefaultConfig(), []document.Document{doc})

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, doc.Hash[:8]+"_chunk_0", first[0].ID)
}

func TestProcessHandlesDocumentWithoutHash(t *testing.T) {
	// A Document literal that skipped the constructor has no hash.
	doc := document.Document{
		Source:  "raw.txt",
		Title:   "Raw",
		Content: "A document assembled by hand still needs stable chunk identifiers when processed.",
	}

	var chunks []Chunk
	require.NotPanics(t, func() {
		chunks = Process(DefaultConfig(), []document.Document{doc})
	})

	require.Len(t, chunks, 1)
	assert.Regexp(t, `^[0-9a-f]{8}_chunk_0$`, chunks[0].ID)

	// Same content through the constructor yields the same ID.
	built := Process(DefaultConfig(), []document.Document{
		document.New("raw.txt", "Raw", doc.Content, "text/plain"),
	})
	require.Len(t, built, 1)
	assert.Equal(t, chunks[0].ID, built[0].ID)
}

func TestChunkMetadataCarriesDocumentFields(t *testing.T) {
	doc := testDoc("Metadata should travel with every chunk created from this source document.")
	chunks := Process(DefaultConfig(), []document.Document{doc})

	require.Len(t, chunks, 1)
	assert.Equal(t, "text/plain", chunks[0].Metadata["content_type"])
	assert.Equal(t, doc.Hash, chunks[0].Metadata["hash"])
}

func TestProcessBreaksOnSentenceBoundaries(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("The committee reviews progress toward annual goals each quarter. ")
	}

	config := DefaultConfig()
	chunks := Process(config, []document.Document{testDoc(b.String())})

	require.Greater(t, len(chunks), 1)
	// Non-final chunks should end at a sentence boundary, not mid-word.
	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(strings.TrimSpace(c.Content), "."),
			"chunk %d ends mid-sentence: %q", c.ChunkIndex, c.Content[len(c.Content)-20:])
	}
}
