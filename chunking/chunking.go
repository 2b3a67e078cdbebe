package chunking

// Splits loaded documents into overlapping, embedding-ready chunks.

import (
	"crypto/md5"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"eduassist/document"
)

// Chunk is a processed piece of a document ready for embedding.
type Chunk struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	ChunkIndex int            `json:"chunk_index"`
	WordCount  int            `json:"word_count"`
	CharCount  int            `json:"char_count"`
	Metadata   map[string]any `json:"metadata"`
}

// Config holds configuration for text chunking.
type Config struct {
	MaxChunkSize     int  // Maximum characters per chunk
	OverlapSize      int  // Characters to overlap between chunks
	MinChunkSize     int  // Chunks smaller than this are discarded
	SplitOnSentence  bool // Prefer sentence boundaries
	SplitOnParagraph bool // Prefer paragraph boundaries
}

// DefaultConfig returns sensible chunking defaults.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:     1000, // ~200-250 tokens for most models
		OverlapSize:      100,
		MinChunkSize:     50,
		SplitOnSentence:  true,
		SplitOnParagraph: true,
	}
}

var (
	htmlTagRegex     = regexp.MustCompile(`<[^>]*>`)
	urlRegex         = regexp.MustCompile(`https?://[^\s]+`)
	emailRegex       = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
	punctuationRegex = regexp.MustCompile(`[.]{3,}`)
)

// Process preprocesses and chunks a set of documents.
func Process(config Config, docs []document.Document) []Chunk {
	var allChunks []Chunk

	for _, doc := range docs {
		cleaned := preprocessText(doc.Content)

		if len(cleaned) < config.MinChunkSize {
			slog.Debug("skipping document: too short after preprocessing",
				"source", doc.Source, "chars", len(cleaned))
			continue
		}

		allChunks = append(allChunks, chunkDocument(cleaned, doc, config)...)
	}

	slog.Info("chunking complete", "documents", len(docs), "chunks", len(allChunks))
	return allChunks
}

// preprocessText cleans and normalizes document text.
func preprocessText(content string) string {
	content = htmlTagRegex.ReplaceAllString(content, " ")
	content = urlRegex.ReplaceAllString(content, "")
	content = emailRegex.ReplaceAllString(content, "")
	content = whitespaceRegex.ReplaceAllString(content, " ")
	content = punctuationRegex.ReplaceAllString(content, "...")

	content = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			return r
		}
		return -1
	}, content)

	return strings.TrimSpace(content)
}

// chunkDocument splits cleaned content into overlapping chunks.
func chunkDocument(content string, doc document.Document, config Config) []Chunk {
	if len(content) <= config.MaxChunkSize {
		return []Chunk{newChunk(content, doc, 0)}
	}

	var chunks []Chunk
	chunkIndex := 0
	start := 0

	for start < len(content) {
		end := start + config.MaxChunkSize
		if end >= len(content) {
			end = len(content)
		} else {
			end = findBreakPoint(content, start, end, config)
		}

		chunkContent := content[start:end]
		if len(strings.TrimSpace(chunkContent)) >= config.MinChunkSize {
			chunks = append(chunks, newChunk(chunkContent, doc, chunkIndex))
			chunkIndex++
		}

		if end >= len(content) {
			break
		}
		start = max(end-config.OverlapSize, 0)
	}

	return chunks
}

// findBreakPoint searches backwards from maxEnd for a paragraph, sentence, or
// word boundary to break on.
func findBreakPoint(content string, start, maxEnd int, config Config) int {
	if maxEnd >= len(content) {
		return len(content)
	}

	searchStart := maxEnd - 200 // Look back up to 200 chars for a good break
	if searchStart < start {
		searchStart = start
	}

	if config.SplitOnParagraph {
		if pos := strings.LastIndex(content[searchStart:maxEnd], "\n\n"); pos != -1 {
			return searchStart + pos
		}
	}

	if config.SplitOnSentence {
		sentenceEnders := []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}
		bestPos := -1

		for _, ender := range sentenceEnders {
			if pos := strings.LastIndex(content[searchStart:maxEnd], ender); pos != -1 {
				actualPos := searchStart + pos + len(ender)
				if actualPos > bestPos {
					bestPos = actualPos
				}
			}
		}

		if bestPos != -1 {
			return bestPos
		}
	}

	if pos := strings.LastIndex(content[searchStart:maxEnd], " "); pos != -1 {
		return searchStart + pos
	}

	return maxEnd
}

// newChunk builds a Chunk with an ID derived from the document hash, so the
// same content always produces the same chunk IDs. Documents built without a
// hash get one computed from their content.
func newChunk(content string, doc document.Document, chunkIndex int) Chunk {
	content = strings.TrimSpace(content)

	hash := doc.Hash
	if len(hash) < 8 {
		hash = fmt.Sprintf("%x", md5.Sum([]byte(doc.Content)))
	}

	return Chunk{
		ID:         fmt.Sprintf("%s_chunk_%d", hash[:8], chunkIndex),
		Source:     doc.Source,
		Title:      doc.Title,
		Content:    content,
		ChunkIndex: chunkIndex,
		WordCount:  len(strings.Fields(content)),
		CharCount:  len(content),
		Metadata: map[string]any{
			"content_type": doc.ContentType,
			"timestamp":    doc.Timestamp,
			"hash":         doc.Hash,
		},
	}
}
