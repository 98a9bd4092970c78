// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package superblock

import (
	"fmt"

	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/metric"
	"rinx.dev/rinx/pkg/sync"
)

var (
	registrations   = metric.MustCreateNewUint64Metric("/superblock/registrations", "Number of descriptors registered.")
	unregistrations = metric.MustCreateNewUint64Metric("/superblock/unregistrations", "Number of descriptors unregistered.")
	growths         = metric.MustCreateNewUint64Metric("/superblock/registry_growths", "Number of times a registry doubled its slot table.")
)

// Handle is a stable reference to a registered descriptor. It survives
// registry growth and becomes stale once the descriptor is unregistered.
// The zero Handle is never valid.
type Handle struct {
	index int
	gen   uint64
}

// Valid returns false for the zero Handle.
func (h Handle) Valid() bool {
	return h.gen != 0
}

// String implements fmt.Stringer.String.
func (h Handle) String() string {
	return fmt.Sprintf("handle{slot: %d, gen: %d}", h.index, h.gen)
}

// slot is one registry entry. gen is zero for unused slots and unique per
// registration otherwise.
type slot struct {
	desc Descriptor
	gen  uint64
}

// Options configures a Registry.
type Options struct {
	// InitialSlots is the number of slots allocated up front. Zero means
	// rinx.DefaultSuperblockCount.
	InitialSlots int

	// MaxSlots bounds growth of the slot table. A registration that
	// would grow the table beyond MaxSlots fails with sberr.ErrNoSpace.
	// Zero means unbounded.
	MaxSlots int
}

// Registry holds every active descriptor.
//
// The slot table starts with Options.InitialSlots unused slots and doubles
// when full. All methods are safe for concurrent use; none may be called
// from within a ForEach visitor.
type Registry struct {
	// mu protects the fields below, including the length of slots.
	mu sync.Mutex

	// slots is the slot table. Unused slots hold Null().
	slots []slot

	// lastGen is the last generation handed out.
	lastGen uint64

	maxSlots int
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	n := opts.InitialSlots
	if n <= 0 {
		n = rinx.DefaultSuperblockCount
	}
	r := &Registry{
		slots:    make([]slot, n),
		maxSlots: opts.MaxSlots,
	}
	for i := range r.slots {
		r.slots[i] = slot{desc: Null()}
	}
	return r
}

// Register copies d into the first unused slot. If there is none, the slot
// table is doubled and d is placed at the midpoint of the new table.
//
// Registering a KindNull descriptor or one whose name is longer than
// rinx.DeviceNameMax fails with sberr.ErrInvalidParameter. If the table
// cannot grow, sberr.ErrNoSpace is returned and the registry is unchanged.
func (r *Registry) Register(d Descriptor) (Handle, error) {
	if d.Kind >= KindNull {
		return Handle{}, sberr.ErrInvalidParameter
	}
	if len(d.DeviceName) > rinx.DeviceNameMax {
		return Handle{}, sberr.ErrInvalidParameter
	}

	r.mu.Lock()
	h, dup, err := r.registerLocked(d)
	r.mu.Unlock()

	if err != nil {
		log.Warningf("sb: Register superblock failed kind=%v id=%#x name=%s: %v", d.Kind, d.DeviceID, d.DeviceName, err)
		return Handle{}, err
	}
	if dup {
		log.Warningf("sb: Superblock id=%#x name=%s shadows an earlier registration; lookups return the first match", d.DeviceID, d.DeviceName)
	}
	registrations.Increment()
	log.Infof("sb: Register superblock kind=%v id=%#x name=%s", d.Kind, d.DeviceID, d.DeviceName)
	return h, nil
}

// Preconditions: r.mu must be locked.
func (r *Registry) registerLocked(d Descriptor) (Handle, bool, error) {
	dup := false
	free := -1
	for i := range r.slots {
		s := &r.slots[i].desc
		if s.IsNull() {
			if free < 0 {
				free = i
			}
			continue
		}
		if s.DeviceID == d.DeviceID || s.DeviceName == d.DeviceName {
			dup = true
		}
	}

	if free < 0 {
		newLen := len(r.slots) * 2
		if r.maxSlots > 0 && newLen > r.maxSlots {
			return Handle{}, false, sberr.ErrNoSpace
		}
		// Build the new table completely before publishing it, so that a
		// failure leaves the old table untouched.
		slots := make([]slot, newLen)
		copy(slots, r.slots)
		for i := len(r.slots); i < newLen; i++ {
			slots[i] = slot{desc: Null()}
		}
		r.slots = slots
		free = newLen / 2
		growths.Increment()
		log.Debugf("sb: Superblock table grown to %d slots", newLen)
	}

	r.lastGen++
	r.slots[free] = slot{desc: d, gen: r.lastGen}
	return Handle{index: free, gen: r.lastGen}, dup, nil
}

// Unregister replaces the first slot whose DeviceID and DeviceName both
// match d with Null(). It returns sberr.ErrInvalidParameter if no slot
// matches. Private state of the removed descriptor is left for its driver
// to release.
func (r *Registry) Unregister(d Descriptor) error {
	r.mu.Lock()
	idx := r.findLocked(func(s *Descriptor) bool {
		return s.DeviceID == d.DeviceID && s.DeviceName == d.DeviceName
	})
	if idx >= 0 {
		r.slots[idx] = slot{desc: Null()}
	}
	r.mu.Unlock()

	if idx < 0 {
		log.Warningf("sb: Unregister superblock failed kind=%v id=%#x name=%s", d.Kind, d.DeviceID, d.DeviceName)
		return sberr.ErrInvalidParameter
	}
	unregistrations.Increment()
	log.Infof("sb: Unregister superblock kind=%v id=%#x name=%s", d.Kind, d.DeviceID, d.DeviceName)
	return nil
}

// findLocked returns the index of the first active slot accepted by match,
// or -1.
//
// Preconditions: r.mu must be locked.
func (r *Registry) findLocked(match func(*Descriptor) bool) int {
	for i := range r.slots {
		s := &r.slots[i].desc
		if !s.IsNull() && match(s) {
			return i
		}
	}
	return -1
}

// lookup returns a copy of the first active descriptor accepted by match
// and its handle.
func (r *Registry) lookup(match func(*Descriptor) bool) (Handle, Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.findLocked(match)
	if idx < 0 {
		return Handle{}, Null(), false
	}
	s := r.slots[idx]
	return Handle{index: idx, gen: s.gen}, s.desc, true
}

// FindByID returns a copy of the first active descriptor with the given
// DeviceID, or Null() if there is none.
func (r *Registry) FindByID(id uint32) Descriptor {
	_, d, _ := r.LookupByID(id)
	return d
}

// FindByName returns a copy of the first active descriptor whose DeviceName
// is exactly name, or Null() if there is none.
func (r *Registry) FindByName(name string) Descriptor {
	_, d, _ := r.LookupByName(name)
	return d
}

// LookupByID is like FindByID, but also returns a handle to the slot.
func (r *Registry) LookupByID(id uint32) (Handle, Descriptor, bool) {
	return r.lookup(func(d *Descriptor) bool { return d.DeviceID == id })
}

// LookupByName is like FindByName, but also returns a handle to the slot.
func (r *Registry) LookupByName(name string) (Handle, Descriptor, bool) {
	return r.lookup(func(d *Descriptor) bool { return d.DeviceName == name })
}

// Preconditions: r.mu must be locked.
func (r *Registry) checkHandleLocked(h Handle) error {
	if !h.Valid() || h.index < 0 || h.index >= len(r.slots) || r.slots[h.index].gen != h.gen {
		return sberr.ErrInvalidParameter
	}
	return nil
}

// Get returns a copy of the descriptor referenced by h. It returns
// sberr.ErrInvalidParameter if h is stale.
func (r *Registry) Get(h Handle) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkHandleLocked(h); err != nil {
		return Null(), err
	}
	return r.slots[h.index].desc, nil
}

// Update applies mutate to the descriptor referenced by h, in place. The
// mutator works on a copy, which is stored only if mutate returns nil and
// left the descriptor's Kind, DeviceID and DeviceName unchanged.
//
// mutate runs with the registry locked and must not call back into r.
func (r *Registry) Update(h Handle, mutate func(*Descriptor) error) error {
	if mutate == nil {
		return sberr.ErrInvalidParameter
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkHandleLocked(h); err != nil {
		return err
	}
	old := r.slots[h.index].desc
	d := old
	if err := mutate(&d); err != nil {
		return err
	}
	if d.Kind != old.Kind || d.DeviceID != old.DeviceID || d.DeviceName != old.DeviceName {
		return sberr.ErrInvalidParameter
	}
	r.slots[h.index].desc = d
	return nil
}

// Count returns the number of active descriptors.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.slots {
		if !r.slots[i].desc.IsNull() {
			n++
		}
	}
	return n
}

// Len returns the size of the slot table, including unused slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// ForEach calls visit with a copy of every active descriptor in slot order,
// stopping early if visit returns false. It returns
// sberr.ErrInvalidParameter if visit is nil.
//
// visit runs with the registry locked and must not call back into r.
func (r *Registry) ForEach(visit func(Descriptor) bool) error {
	if visit == nil {
		return sberr.ErrInvalidParameter
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if d := r.slots[i].desc; !d.IsNull() {
			if !visit(d) {
				break
			}
		}
	}
	return nil
}

// Snapshot returns copies of all active descriptors in slot order.
func (r *Registry) Snapshot() []Descriptor {
	var ds []Descriptor
	r.ForEach(func(d Descriptor) bool {
		ds = append(ds, d)
		return true
	})
	return ds
}
