package mount

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLayerDirs(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	for i := 0; i < n; i++ {
		require.NoError(t, os.Mkdir(filepath.Join(root, strconv.Itoa(i)), 0o755))
	}
	return root
}

// Read left (highest priority) to right, the lower list is the reverse
// of Layer index order.
func TestLowerDirs_DescendingIndexPriority(t *testing.T) {
	root := makeLayerDirs(t, 3)

	lowers, err := lowerDirs(root, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "2"),
		filepath.Join(root, "1"),
		filepath.Join(root, "0"),
	}, lowers)
}

// With case folding active the fold's upper directory substitutes for
// the top Layer: layers/3 replaces layers/2, which must not appear.
func TestLowerDirs_CasefoldSubstitutesTopLayer(t *testing.T) {
	root := makeLayerDirs(t, 4) // layers 0..2 plus the fold upper at 3
	upper := filepath.Join(root, "3")

	lowers, err := lowerDirs(root, upper)
	require.NoError(t, err)
	assert.Equal(t, []string{
		upper,
		filepath.Join(root, "1"),
		filepath.Join(root, "0"),
	}, lowers)
}

// n=1 with case folding: the overlay's only lower is the fold upper,
// not the single Layer.
func TestLowerDirs_SingleLayerCasefold(t *testing.T) {
	root := makeLayerDirs(t, 2) // layer 0 plus the fold upper at 1
	upper := filepath.Join(root, "1")

	lowers, err := lowerDirs(root, upper)
	require.NoError(t, err)
	assert.Equal(t, []string{upper}, lowers)
}

func TestLowerDirs_NoLayers(t *testing.T) {
	_, err := lowerDirs(t.TempDir(), "")
	assert.Error(t, err)
}

func TestLowerDirs_IgnoresNonNumericEntries(t *testing.T) {
	root := makeLayerDirs(t, 2)
	require.NoError(t, os.Mkdir(filepath.Join(root, "scratch"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "7"), []byte("a file, not a layer"), 0o644))

	lowers, err := lowerDirs(root, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "1"),
		filepath.Join(root, "0"),
	}, lowers)
}
