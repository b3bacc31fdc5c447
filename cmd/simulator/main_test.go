package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tws/internal/sim"
)

func TestLoadScenario(t *testing.T) {
	specs, err := loadScenario("")
	require.NoError(t, err)
	assert.Equal(t, sim.DefaultScenario(), specs)

	dir := t.TempDir()
	path := filepath.Join(dir, "one.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": 7, "x": 100, "y": -50, "speed": 30, "heading": 180, "turn_rate": 0}]`), 0o644))
	specs, err = loadScenario(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, uint32(7), specs[0].ID)
	assert.Equal(t, 180.0, specs[0].Heading)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o644))
	_, err = loadScenario(empty)
	assert.Error(t, err)

	_, err = loadScenario(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
