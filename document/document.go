// Package document loads educational source material (plain text, markdown,
// PDF files, and web pages) into a uniform Document value ready for chunking
// and indexing.
package document

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// Document is a single piece of source material.
type Document struct {
	Source      string         `json:"source"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Hash        string         `json:"hash"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// New builds a Document from raw content, computing the dedup hash.
func New(source, title, content, contentType string) Document {
	return Document{
		Source:      source,
		Title:       strings.TrimSpace(title),
		Content:     content,
		ContentType: contentType,
		Timestamp:   time.Now(),
		Hash:        contentHash(content),
	}
}

// LoadFile loads a single file, dispatching on its extension.
// Supported: .pdf, .txt, .md, .markdown, .csv, .json.
func LoadFile(path string) (Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path)
	case ".txt", ".md", ".markdown", ".csv", ".json":
		return loadText(path)
	default:
		return Document{}, fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
}

// loadText reads a plain text file.
func loadText(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	content := string(data)
	if strings.TrimSpace(content) == "" {
		return Document{}, fmt.Errorf("file %s is empty", path)
	}

	return New(path, TitleFromPath(path), content, "text/plain"), nil
}

// loadPDF extracts the plain text of every page of a PDF file.
func loadPDF(path string) (Document, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer file.Close()

	var content strings.Builder
	totalPages := reader.NumPage()

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages with broken font tables are skipped, not fatal.
			continue
		}

		content.WriteString(text)
		content.WriteString("\n")
	}

	if strings.TrimSpace(content.String()) == "" {
		return Document{}, fmt.Errorf("no text extracted from PDF %s", path)
	}

	return New(path, TitleFromPath(path), content.String(), "application/pdf"), nil
}

// TitleFromPath derives a readable title from a file path.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ReplaceAll(base, "-", " ")
	base = strings.ReplaceAll(base, "_", " ")
	return base
}

// contentHash creates an MD5 hash for content deduplication.
func contentHash(content string) string {
	hash := md5.Sum([]byte(content))
	return fmt.Sprintf("%x", hash)
}
