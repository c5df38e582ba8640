package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_KnownDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xodr")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	sum, err := Checksum(path)

	require.NoError(t, err)
	// BLAKE2b-256 of the empty input
	assert.Equal(t, "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8", sum)
}

func TestChecksum_MissingFile_Fails(t *testing.T) {
	_, err := Checksum(filepath.Join(t.TempDir(), "absent.xodr"))

	assert.ErrorIs(t, err, os.ErrNotExist)
}
