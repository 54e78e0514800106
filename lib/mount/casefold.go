package mount

import (
	"log/slog"

	"github.com/flatimage/fim/lib/process"
)

// ciopfsHelper is the name of the case-folding translator FUSE mounter.
const ciopfsHelper = "ciopfs"

// NewCaseFold constructs the case-insensitive translator mount: lower is
// the top Layer's mount directory, upper is a fresh directory one past
// the last Layer. Only constructed when the CASEFOLD flag is set.
func NewCaseFold(searchPath, lower, upper string, debug bool, log *slog.Logger) (*Driver, error) {
	if err := checkMountDir(lower); err != nil {
		return nil, err
	}
	if err := checkMountDir(upper); err != nil {
		return nil, err
	}
	ciopfsPath, err := process.SearchPath(ciopfsHelper, searchPath)
	if err != nil {
		return nil, err
	}
	fusermountPath, err := process.SearchPath("fusermount", searchPath)
	if err != nil {
		return nil, err
	}

	launcher := process.New(ciopfsPath, outputPolicy(debug), lower, upper)
	return construct(KindCaseFold, upper, launcher, fusermountPath, log)
}
