package relocation

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seisworks/dlrepick/internal/model"
)

func TestFileArchiverWritesDump(t *testing.T) {
	dir := t.TempDir()
	a := NewFileArchiver(dir)

	origin := model.Origin{
		ID: "o1",
		Arrivals: []model.Arrival{
			{PickID: "p1", Used: true, Weight: 1},
		},
	}
	require.NoError(t, a.ArchiveFailure(context.Background(), "ev1", origin, errors.New("did not converge")))

	entries, err := os.ReadDir(filepath.Join(dir, "ev1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	b, err := os.ReadFile(filepath.Join(dir, "ev1", entries[0].Name()))
	require.NoError(t, err)
	var dump failureDump
	require.NoError(t, json.Unmarshal(b, &dump))
	assert.Equal(t, "ev1", dump.EventID)
	assert.Equal(t, "did not converge", dump.Cause)
	assert.Equal(t, "o1", dump.Origin.ID)
	require.Len(t, dump.Origin.Arrivals, 1)
}
