package report

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/meszmate/inbox/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	r := New("replay")
	r.Add(Row{ID: "m1", From: "alice@example.com", Outcome: ingest.OutcomeStored, Replies: []string{"received"}})
	r.Add(Row{ID: "m1", From: "alice@example.com", Outcome: ingest.OutcomeDuplicate})
	r.Add(Row{ID: "m2", Outcome: ingest.OutcomeError, Err: errors.New("disk full")})

	assert.Equal(t, 1, r.Count(ingest.OutcomeStored))
	assert.Equal(t, 0, r.Count(ingest.OutcomeHandled))
	assert.Len(t, r.Rows(), 3)

	out := r.Render(NordTheme().Compile())
	for _, want := range []string{"replay", "alice@example.com", "stored", "duplicate", "disk full", "3 stanzas, 1 stored, 1 duplicate, 1 error"} {
		assert.Contains(t, out, want)
	}
}

func TestLoadTheme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mine.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = \"mine\"\n[colors]\nerror = \"#FF0000\"\n"), 0600))

	th, err := LoadTheme(path)
	require.NoError(t, err)
	assert.Equal(t, "mine", th.Name)
	assert.Equal(t, "#FF0000", th.Colors.Error)
	assert.Equal(t, NordTheme().Colors.Success, th.Colors.Success)

	_, err = LoadTheme(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
