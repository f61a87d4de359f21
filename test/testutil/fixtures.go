package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/fieldsync/internal/events"
	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/store"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// NewTestStore opens a SQLite store in a temporary directory that is closed
// when the test ends.
func NewTestStore(t testing.TB) *store.SQLiteStore {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "fieldsync.db"), NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// TestJPEG renders a w×h gradient and encodes it as JPEG.
func TestJPEG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 96, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// NotesTab is sample data for the notes tab.
type NotesTab struct {
	Text string `json:"text"`
}

// DamageTab is sample data for the damage tab.
type DamageTab struct {
	Panels   []string `json:"panels"`
	Severity string   `json:"severity"`
}

// SnapshotPayload is a remote snapshot of a whole assessment as the backend
// returns it.
func SnapshotPayload() map[string]interface{} {
	return map[string]interface{}{
		string(models.TabNotes):  NotesTab{Text: "remote notes"},
		string(models.TabDamage): DamageTab{Panels: []string{"front-left"}, Severity: "minor"},
		"assessment_number":      "ASM-0001",
	}
}
