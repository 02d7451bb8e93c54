package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "evidence"), zaptest.NewLogger(t))
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 10, 2, 0, 1, 500e6, time.UTC) }
	return s
}

func TestSaveHTMLAndScreenshot(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveHTML("3f2a-91", "form filled", "<html></html>"))
	require.NoError(t, s.SaveScreenshot("3f2a-91", "success", []byte("png")))

	html, err := os.ReadFile(filepath.Join(s.Dir(), "3f2a-91", "20260310T020001.500_form_filled.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(html))

	png, err := os.ReadFile(filepath.Join(s.Dir(), "3f2a-91", "20260310T020001.500_success.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(png))
}

func TestSessionNameCannotEscape(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveHTML("../../etc", "x/y", "data"))
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "_etc", entries[0].Name())
}

func TestRecordIncidentAppends(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for _, kind := range []string{"REBIRTH", "POISON", "FORM_BOUNCE"} {
		wg.Add(1)
		go func(kind string) {
			defer wg.Done()
			assert.NoError(t, s.RecordIncident("sess-1", kind, "detail, with comma"))
		}(kind)
	}
	wg.Wait()

	incidents, err := s.Incidents()
	require.NoError(t, err)
	require.Len(t, incidents, 3)
	kinds := []string{}
	for _, inc := range incidents {
		kinds = append(kinds, inc.Kind)
		assert.Equal(t, "sess-1", inc.Session)
		assert.Equal(t, "detail, with comma", inc.Detail)
	}
	assert.ElementsMatch(t, []string{"REBIRTH", "POISON", "FORM_BOUNCE"}, kinds)

	raw, err := os.ReadFile(filepath.Join(s.Dir(), incidentFile))
	require.NoError(t, err)
	assert.Equal(t, "time,session,kind,detail\n", string(raw[:len("time,session,kind,detail\n")]))
}

func TestIncidentsSurviveRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "evidence")
	first, err := New(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, first.RecordIncident("a", "AGING_8", "8 chars"))

	second, err := New(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, second.RecordIncident("b", "REBIRTH", "max age"))

	incidents, err := second.Incidents()
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, "AGING_8", incidents[0].Kind)
	assert.Equal(t, "REBIRTH", incidents[1].Kind)
}

func TestIncidentsMissingFile(t *testing.T) {
	s := newTestStore(t)
	incidents, err := s.Incidents()
	assert.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestSaveStats(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveStats(map[string]int{"scans": 42}))

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "stats_20260310T020001.500.json"))
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 42, got["scans"])
}
