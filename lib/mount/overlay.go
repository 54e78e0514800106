package mount

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/flatimage/fim/lib/process"
	"github.com/samber/lo"
)

// overlayfsHelper is the name of the union mount FUSE mounter.
const overlayfsHelper = "overlayfs"

// NewOverlay constructs the union mount combining the Layer mount points
// (with the CaseFold upper substituted for the top Layer when active) as
// read-only lowers in descending-index priority, plus a writable
// upper/work pair rooted on persistent host state.
//
// The driver discovers how many Layer subdirectories exist under
// layersRoot itself, rather than being told n, and chooses the correct
// top lower directory: the CaseFold upper if casefoldUpper is non-empty,
// else the highest-index Layer.
func NewOverlay(searchPath, layersRoot, upperDir, workDir, mountDir, casefoldUpper string, parentPid int, debug bool, log *slog.Logger) (*Driver, error) {
	lowers, err := lowerDirs(layersRoot, casefoldUpper)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{upperDir, workDir, mountDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	overlayfsPath, err := process.SearchPath(overlayfsHelper, searchPath)
	if err != nil {
		return nil, err
	}
	fusermountPath, err := process.SearchPath("fusermount", searchPath)
	if err != nil {
		return nil, err
	}

	args := []string{
		mountDir,
		"-o", "lowerdir=" + strings.Join(lowers, ":"),
		"-o", "upperdir=" + upperDir,
		"-o", "workdir=" + workDir,
		"-o", fmt.Sprintf("parent_pid=%d", parentPid),
	}
	launcher := process.New(overlayfsPath, outputPolicy(debug), args...)

	return construct(KindOverlay, mountDir, launcher, fusermountPath, log)
}

// lowerDirs computes the overlay's read-only lower-directory list in
// priority order: the Layer mount points in descending-index order, so
// index[0] (highest) is overlayfs's highest-priority lower, first in the
// colon-joined list. With case folding active, layersRoot also contains
// the fold's upper directory at one past the last Layer; that upper
// substitutes for the top Layer, which must not appear beneath it (its
// contents are already presented, case-folded, through the upper).
func lowerDirs(layersRoot, casefoldUpper string) ([]string, error) {
	indices, err := layerIndices(layersRoot)
	if err != nil {
		return nil, fmt.Errorf("discover layers under %s: %w", layersRoot, err)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("no layers found under %s", layersRoot)
	}
	if casefoldUpper != "" && len(indices) < 2 {
		return nil, fmt.Errorf("case-fold upper %s present with no layer beneath it", casefoldUpper)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(indices)))
	if casefoldUpper != "" {
		indices = indices[2:]
	}
	lowers := lo.Map(indices, func(i int, _ int) string {
		return filepath.Join(layersRoot, strconv.Itoa(i))
	})
	if casefoldUpper != "" {
		lowers = append([]string{casefoldUpper}, lowers...)
	}
	return lowers, nil
}

// layerIndices returns the numeric subdirectory names under layersRoot,
// each corresponding to one mounted Layer ordinal.
func layerIndices(layersRoot string) ([]int, error) {
	entries, err := os.ReadDir(layersRoot)
	if err != nil {
		return nil, err
	}
	var indices []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil {
			indices = append(indices, n)
		}
	}
	return indices, nil
}
