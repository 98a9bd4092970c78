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

package vfs

import (
	"github.com/google/btree"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/sync"
)

// Registry holds filesystems by name. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	// byName orders filesystems by Name. Protected by mu.
	byName *btree.BTreeG[*Filesystem]
}

func lessByName(a, b *Filesystem) bool {
	return a.Name < b.Name
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: btree.NewG(2, lessByName),
	}
}

// RegisterFilesystem adds fs. It fails with sberr.ErrInvalidParameter if fs
// has no name, a name longer than FilesystemNameMax, or the name of an
// already registered filesystem.
func (r *Registry) RegisterFilesystem(fs *Filesystem) error {
	if fs == nil || fs.Name == "" || len(fs.Name) > FilesystemNameMax {
		return sberr.ErrInvalidParameter
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName.Has(fs) {
		log.Warningf("vfs: Filesystem %s is already registered", fs.Name)
		return sberr.ErrInvalidParameter
	}
	r.byName.ReplaceOrInsert(fs)
	log.Infof("vfs: Registered filesystem %s on %s", fs.Name, fs.Superblock.DeviceName)
	return nil
}

// UnregisterFilesystem removes the filesystem called name. It fails with
// sberr.ErrInvalidParameter if there is none.
func (r *Registry) UnregisterFilesystem(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName.Delete(&Filesystem{Name: name}); !ok {
		return sberr.ErrInvalidParameter
	}
	log.Infof("vfs: Unregistered filesystem %s", name)
	return nil
}

// FindFilesystem returns the filesystem called name.
func (r *Registry) FindFilesystem(name string) (*Filesystem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName.Get(&Filesystem{Name: name})
}

// Filesystems returns every registered filesystem, sorted by name.
func (r *Registry) Filesystems() []*Filesystem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fss := make([]*Filesystem, 0, r.byName.Len())
	r.byName.Ascend(func(fs *Filesystem) bool {
		fss = append(fss, fs)
		return true
	})
	return fss
}
