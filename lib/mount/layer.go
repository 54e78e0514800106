package mount

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/flatimage/fim/lib/process"
)

// dwarfsHelper is the name of the compressed read-only filesystem FUSE
// mounter.
const dwarfsHelper = "dwarfs"

// NewReadOnlyLayer constructs a Layer driver: the helper mounts the
// compressed image directly out of hostBinary at [offset, offset+length).
func NewReadOnlyLayer(searchPath, hostBinary, mountDir string, offset, length int64, parentPid int, debug bool, log *slog.Logger) (*Driver, error) {
	if err := checkRegularFile(hostBinary); err != nil {
		return nil, err
	}
	if err := checkMountDir(mountDir); err != nil {
		return nil, err
	}
	dwarfsPath, err := process.SearchPath(dwarfsHelper, searchPath)
	if err != nil {
		return nil, err
	}
	fusermountPath, err := process.SearchPath("fusermount", searchPath)
	if err != nil {
		return nil, err
	}

	args := []string{
		hostBinary, mountDir,
		"-o", fmt.Sprintf("offset=%d", offset),
		"-o", fmt.Sprintf("imagesize=%d", length),
		"-o", fmt.Sprintf("parent_pid=%d", parentPid),
	}
	launcher := process.New(dwarfsPath, outputPolicy(debug), args...)

	return construct(KindReadOnlyLayer, mountDir, launcher, fusermountPath, log)
}

func checkRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", path)
	}
	return nil
}

func checkMountDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", dir)
	}
	return nil
}

func outputPolicy(debug bool) process.OutputPolicy {
	if debug {
		return process.Inherit
	}
	return process.Captured
}
