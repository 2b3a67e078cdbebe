package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileText(t *testing.T) {
	path := writeFile(t, "reading-goals_2026.txt", "Annual reading goals for the student.")

	doc, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, path, doc.Source)
	assert.Equal(t, "reading goals 2026", doc.Title)
	assert.Equal(t, "Annual reading goals for the student.", doc.Content)
	assert.Equal(t, "text/plain", doc.ContentType)
	assert.NotEmpty(t, doc.Hash)
	assert.False(t, doc.Timestamp.IsZero())
}

func TestLoadFileMarkdown(t *testing.T) {
	path := writeFile(t, "plan.md", "# Lesson Plan\n\nObjectives for the week.")

	doc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Contains(t, doc.Content, "Objectives for the week.")
}

func TestLoadFileEmptyFails(t *testing.T) {
	path := writeFile(t, "empty.txt", "   \n\t  ")

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "notes.docx", "binary-ish")

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestHashIsContentDerived(t *testing.T) {
	a := New("a.txt", "A", "identical content", "text/plain")
	b := New("b.txt", "B", "identical content", "text/plain")
	c := New("c.txt", "C", "different content", "text/plain")

	assert.Equal(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestTitleFromPath(t *testing.T) {
	assert.Equal(t, "iep template", TitleFromPath("/docs/iep_template.pdf"))
	assert.Equal(t, "weekly lesson plan", TitleFromPath("weekly-lesson-plan.md"))
	assert.Equal(t, "notes", TitleFromPath("notes"))
}
