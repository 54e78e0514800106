package config

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sys/unix"
)

// ErrInsufficientSlack is returned when the persistent state filesystem
// does not have FIM_SLACK_MINIMUM mebibytes free. The overlay upper
// directory lives there and fills as the application writes.
var ErrInsufficientSlack = fmt.Errorf("insufficient free space")

// CheckSlack verifies dir's filesystem has at least the configured slack
// minimum free, returning a human-readable diagnostic either way.
func (c *Config) CheckSlack(dir string) (diagnostic string, err error) {
	var stat unix.Statfs_t
	if statErr := unix.Statfs(dir, &stat); statErr != nil {
		return "", fmt.Errorf("statfs %s: %w", dir, statErr)
	}

	free := datasize.ByteSize(stat.Bavail * uint64(stat.Bsize))
	need := datasize.ByteSize(uint64(c.SlackMinimumBytes()))
	diagnostic = fmt.Sprintf("%s free, %s required on %s", free.HR(), need.HR(), dir)

	if free < need {
		return diagnostic, fmt.Errorf("%w: %s", ErrInsufficientSlack, diagnostic)
	}
	return diagnostic, nil
}
