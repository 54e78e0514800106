package fsstack

import (
	"github.com/flatimage/fim/lib/mount"
	"github.com/samber/lo"
)

// entry wraps one constructed Driver; its position in the registry is its
// index in registry.entries. The Driver's Kind records, per mounted path,
// which driver kind produced it.
type entry struct {
	driver *mount.Driver
}

// registry is the ordered list of mount-point directories that must be
// unmounted at shutdown, pushed in the order they were mounted: Layers,
// then CaseFold, then Overlay. Unmounting walks it in reverse.
type registry struct {
	entries []entry
}

func (r *registry) push(d *mount.Driver) {
	r.entries = append(r.entries, entry{driver: d})
}

// paths returns the registry's mount directories in push order.
func (r *registry) paths() []string {
	return lo.Map(r.entries, func(e entry, _ int) string { return e.driver.MountDir })
}

// reversed returns the registry's mount directories in reverse push
// order, the order the janitor walks it and the order teardown runs.
func (r *registry) reversed() []string {
	return lo.Reverse(r.paths())
}

// unmountReversed tears down every driver in reverse construction order:
// the Overlay unmounts before the underlying Layers.
func (r *registry) unmountReversed() {
	for i := len(r.entries) - 1; i >= 0; i-- {
		r.entries[i].driver.Unmount()
	}
}
