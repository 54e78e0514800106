package paths

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayout(t *testing.T) {
	p := New("/cache", "/run/mount", "/home/user/.config/app")

	assert.Equal(t, "/cache/bin", p.CacheBinDir())
	assert.Equal(t, "/cache/bin/dwarfs", p.CacheBinary("dwarfs"))
	assert.Equal(t, "/cache/mounts", p.CacheMountsDir())

	assert.Equal(t, "/run/mount/layers", p.LayersRoot())
	assert.Equal(t, "/run/mount/layers/0", p.LayerDir(0))
	assert.Equal(t, "/run/mount/layers/7", p.LayerDir(7))
	assert.Equal(t, "/run/mount/overlayfs", p.OverlayRoot())

	assert.Equal(t, "/home/user/.config/app/overlays/abc/upper", p.OverlayUpper("abc"))
	assert.Equal(t, "/home/user/.config/app/overlays/abc/work", p.OverlayWork("abc"))
}

func TestJanitorLogs_NamespacedBySession(t *testing.T) {
	p := New("/cache", "/run/mount", "/cfg")

	assert.Equal(t, "/run/mount.janitor.s1.stdout.log", p.JanitorStdoutLog("s1"))
	assert.Equal(t, "/run/mount.janitor.s1.stderr.log", p.JanitorStderrLog("s1"))
	assert.NotEqual(t, p.JanitorStdoutLog("s1"), p.JanitorStdoutLog("s2"))
}

// An instance id smuggling ".." components cannot escape the config root.
func TestOverlayUpper_DefensiveJoin(t *testing.T) {
	p := New("/cache", "/run/mount", "/cfg")

	upper := p.OverlayUpper("../../etc")
	assert.True(t, strings.HasPrefix(upper, "/cfg/"), "got %s", upper)
	assert.NotContains(t, upper, "..")
}
