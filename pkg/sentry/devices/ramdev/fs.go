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

package ramdev

import (
	"fmt"

	"golang.org/x/sys/unix"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/sentry/vfs"
	"rinx.dev/rinx/pkg/sync"
)

// mountOps is the operation set of the ramfs filesystem. It keeps the mount
// points of one store; each mount exposes the same root directory.
type mountOps struct {
	root *vfs.Inode

	mu sync.Mutex
	// paths holds mount points in mount order. Protected by mu.
	paths []string
}

var (
	_ vfs.Mounter   = (*mountOps)(nil)
	_ vfs.Unmounter = (*mountOps)(nil)
)

// NewFilesystem returns the ramfs filesystem over s. It supports Mount and
// Umount; every other operation reports sberr.ErrUnsupported.
func NewFilesystem(s *Store) *vfs.Filesystem {
	desc := Descriptor(s)
	return &vfs.Filesystem{
		Name:       Name,
		Superblock: desc,
		Ops: &mountOps{
			root: &vfs.Inode{
				Mode:       unix.S_IFDIR | 0755,
				Links:      1,
				Superblock: desc,
			},
		},
	}
}

// Mount implements vfs.Mounter.Mount. A path may be mounted only once.
func (m *mountOps) Mount(path string, flags int) (*vfs.Dentry, error) {
	if path == "" {
		return nil, sberr.ErrInvalidParameter
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.paths {
		if p == path {
			return nil, fmt.Errorf("ramfs already mounted at %q: %w", path, sberr.ErrInvalidParameter)
		}
	}
	m.paths = append(m.paths, path)
	log.Infof("ramfs: Mounted at %s", path)
	return &vfs.Dentry{Name: path, Inode: m.root}, nil
}

// Umount implements vfs.Unmounter.Umount. It removes the oldest mount.
func (m *mountOps) Umount() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.paths) == 0 {
		return fmt.Errorf("ramfs not mounted: %w", sberr.ErrInvalidParameter)
	}
	path := m.paths[0]
	m.paths = m.paths[1:]
	log.Infof("ramfs: Unmounted %s", path)
	return nil
}

// Mounts returns the mount points of fs in mount order, or nil if fs is
// not a ramfs filesystem.
func Mounts(fs *vfs.Filesystem) []string {
	m, ok := fs.Ops.(*mountOps)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}
