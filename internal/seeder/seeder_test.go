package seeder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSeedFile_SkipsBlankLinesAndComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.txt")
	content := "wss://relay.one\n\n# a comment\nwss://relay.two\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	urls, err := readSeedFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://relay.one", "wss://relay.two"}, urls)
}

func TestReadSeedFile_MissingFileErrors(t *testing.T) {
	_, err := readSeedFile("/nonexistent/seeds.txt")
	assert.Error(t, err)
}
