// Package paths provides centralized path construction for a bundle
// launcher's per-user cache, per-session mount tree, and persistent
// overlay state.
//
// Directory layout:
//
//	{cacheDir}/
//	  bin/                        extracted FUSE/janitor helper binaries
//	  mounts/                     created by bootstrap; the mount root itself
//	                              always comes from FIM_DIR_MOUNT
//	{mountRoot}/
//	  layers/0 ... layers/n-1     read-only layer mounts
//	  layers/n                    case-fold upper, if FIM_CASEFOLD=1
//	  overlayfs                   composed root
//	{mountRoot}.janitor.{session}.stdout.log, .stderr.log
//	{configDir}/
//	  overlays/{instance}/{upper,work}
package paths

import (
	"fmt"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Paths provides typed path construction rooted at a cache directory, a
// per-session mount root, and a per-user config directory. The cache
// directory comes from bootstrap.CacheRoot, the other two from the
// configuration resolver (see lib/config); none changes for the lifetime
// of a process.
type Paths struct {
	cacheDir  string
	mountRoot string
	configDir string
}

// New creates a Paths instance. cacheDir holds extracted helper binaries,
// mountRoot is the per-session directory under which layers/overlayfs are
// mounted, and configDir holds persistent overlay upper/work state.
func New(cacheDir, mountRoot, configDir string) *Paths {
	return &Paths{cacheDir: cacheDir, mountRoot: mountRoot, configDir: configDir}
}

// CacheDir returns the per-user cache root.
func (p *Paths) CacheDir() string { return p.cacheDir }

// MountRoot returns the per-session mount-root directory.
func (p *Paths) MountRoot() string { return p.mountRoot }

// ConfigDir returns the per-user config directory.
func (p *Paths) ConfigDir() string { return p.configDir }

// Cache paths (Bootstrap)

// CacheBinDir returns the directory extracted helper binaries are written to.
func (p *Paths) CacheBinDir() string { return join(p.cacheDir, "bin") }

// CacheBinary returns the path to an extracted helper binary by name.
func (p *Paths) CacheBinary(name string) string { return join(p.CacheBinDir(), name) }

// CacheMountsDir returns the cache's mounts/ directory, created by
// bootstrap on first run. No mount root is derived from it: the mount
// root is always FIM_DIR_MOUNT, which lib/config requires.
func (p *Paths) CacheMountsDir() string { return join(p.cacheDir, "mounts") }

// Mount paths (Filesystem stack)

// LayersRoot returns the directory holding one subdirectory per Layer.
func (p *Paths) LayersRoot() string { return join(p.mountRoot, "layers") }

// LayerDir returns the mount directory for Layer ordinal i.
func (p *Paths) LayerDir(i int) string { return join(p.LayersRoot(), fmt.Sprintf("%d", i)) }

// OverlayRoot returns the composed root's mount directory.
func (p *Paths) OverlayRoot() string { return join(p.mountRoot, "overlayfs") }

// JanitorStdoutLog returns the path to the janitor's redirected stdout.
// sessionID keeps concurrent sessions sharing a mount-root parent from
// clobbering each other's logs.
func (p *Paths) JanitorStdoutLog(sessionID string) string {
	return p.mountRoot + ".janitor." + sessionID + ".stdout.log"
}

// JanitorStderrLog returns the path to the janitor's redirected stderr.
func (p *Paths) JanitorStderrLog(sessionID string) string {
	return p.mountRoot + ".janitor." + sessionID + ".stderr.log"
}

// Persistent overlay state (Configuration resolver)

// OverlayUpper returns the writable upper directory for the Overlay,
// rooted on persistent host state (survives the session ending).
func (p *Paths) OverlayUpper(instanceID string) string {
	return join(p.configDir, "overlays", instanceID, "upper")
}

// OverlayWork returns the overlay work directory, required by the kernel
// overlay driver alongside the upper directory.
func (p *Paths) OverlayWork(instanceID string) string {
	return join(p.configDir, "overlays", instanceID, "work")
}

// join is a defensive join: every path segment here is either
// process-controlled (constant literals) or derived from environment
// input (cacheDir/mountRoot/configDir, instanceID); securejoin guarantees
// the result never escapes the first segment via ".." components smuggled
// in through an environment-derived root.
func join(base string, elem ...string) string {
	result := base
	for _, e := range elem {
		joined, err := securejoin.SecureJoin(result, e)
		if err != nil {
			// SecureJoin only fails on malformed base paths; fall back to
			// the unsafe join rather than panicking in a launcher that
			// must always make forward progress or fail with a clear error
			// elsewhere (path errors surface when the directory is used).
			result = result + "/" + e
			continue
		}
		result = joined
	}
	return result
}
