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

// Package vfs forwards filesystem operations to registered filesystem
// implementations.
//
// A Filesystem binds a name and a superblock to an operation set. Like a
// superblock capability set, the operation set is any value; each of the
// ten operations is available only if the value implements the matching
// interface below. The entry points in this package perform no validation
// of their own beyond that: an operation that is not implemented fails with
// sberr.ErrUnsupported.
package vfs

import (
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/sentry/superblock"
)

// FilesystemNameMax is the longest filesystem name accepted by a Registry.
const FilesystemNameMax = 31

// Inode is the metadata of a file.
type Inode struct {
	// Mode holds the file type bits (unix.S_IFMT) and permissions.
	Mode uint32

	UID   uint32
	GID   uint32
	Size  uint64
	Links uint32

	// Superblock is the device the file lives on.
	Superblock superblock.Descriptor
}

// Dentry is a named reference to an inode.
type Dentry struct {
	Name   string
	Inode  *Inode
	Parent *Dentry
}

// Operations is the operation set of a filesystem. The dynamic value may
// implement any subset of the interfaces below.
type Operations interface{}

// Mounter is implemented by filesystems that can be mounted.
type Mounter interface {
	// Mount attaches the filesystem at path and returns its root.
	Mount(path string, flags int) (*Dentry, error)
}

// Unmounter is implemented by filesystems that can be unmounted.
type Unmounter interface {
	Umount() error
}

// Creator is implemented by filesystems that can create files.
type Creator interface {
	// Create makes a file of type fileType (a unix.S_IFMT value) with
	// permissions mode.
	Create(path string, fileType, mode uint32) error
}

// Remover is implemented by filesystems that can remove files.
type Remover interface {
	Remove(path string) error
}

// Reader is implemented by filesystems that can read files.
type Reader interface {
	// Read reads into dst from the file at offset off and returns the
	// number of bytes read.
	Read(path string, dst []byte, off int64) (int, error)
}

// Writer is implemented by filesystems that can write files.
type Writer interface {
	// Write writes src to the file at offset off and returns the number of
	// bytes written.
	Write(path string, src []byte, off int64) (int, error)
}

// DirMaker is implemented by filesystems that can create directories.
type DirMaker interface {
	Mkdir(path string, mode uint32) error
}

// DirRemover is implemented by filesystems that can remove directories.
type DirRemover interface {
	Rmdir(path string) error
}

// Renamer is implemented by filesystems that can rename files.
type Renamer interface {
	// Rename gives the file at path the new final component name.
	Rename(path, name string) error
}

// Looker is implemented by filesystems that can look up names.
type Looker interface {
	// Lookup returns the entry called name in directory dir.
	Lookup(dir *Inode, name string) (*Dentry, error)
}

// Filesystem is a registered filesystem.
type Filesystem struct {
	// Name identifies the filesystem in a Registry.
	Name string

	// Flags are filesystem-defined.
	Flags int

	// Superblock is the device the filesystem lives on.
	Superblock superblock.Descriptor

	// Ops is the operation set.
	Ops Operations
}

// Mount forwards to fs.Ops.Mount.
func Mount(fs *Filesystem, path string, flags int) (*Dentry, error) {
	if op, ok := fs.Ops.(Mounter); ok {
		return op.Mount(path, flags)
	}
	return nil, sberr.ErrUnsupported
}

// Umount forwards to fs.Ops.Umount.
func Umount(fs *Filesystem) error {
	if op, ok := fs.Ops.(Unmounter); ok {
		return op.Umount()
	}
	return sberr.ErrUnsupported
}

// Create forwards to fs.Ops.Create.
func Create(fs *Filesystem, path string, fileType, mode uint32) error {
	if op, ok := fs.Ops.(Creator); ok {
		return op.Create(path, fileType, mode)
	}
	return sberr.ErrUnsupported
}

// Remove forwards to fs.Ops.Remove.
func Remove(fs *Filesystem, path string) error {
	if op, ok := fs.Ops.(Remover); ok {
		return op.Remove(path)
	}
	return sberr.ErrUnsupported
}

// Read forwards to fs.Ops.Read.
func Read(fs *Filesystem, path string, dst []byte, off int64) (int, error) {
	if op, ok := fs.Ops.(Reader); ok {
		return op.Read(path, dst, off)
	}
	return 0, sberr.ErrUnsupported
}

// Write forwards to fs.Ops.Write.
func Write(fs *Filesystem, path string, src []byte, off int64) (int, error) {
	if op, ok := fs.Ops.(Writer); ok {
		return op.Write(path, src, off)
	}
	return 0, sberr.ErrUnsupported
}

// Mkdir forwards to fs.Ops.Mkdir.
func Mkdir(fs *Filesystem, path string, mode uint32) error {
	if op, ok := fs.Ops.(DirMaker); ok {
		return op.Mkdir(path, mode)
	}
	return sberr.ErrUnsupported
}

// Rmdir forwards to fs.Ops.Rmdir.
func Rmdir(fs *Filesystem, path string) error {
	if op, ok := fs.Ops.(DirRemover); ok {
		return op.Rmdir(path)
	}
	return sberr.ErrUnsupported
}

// Rename forwards to fs.Ops.Rename.
func Rename(fs *Filesystem, path, name string) error {
	if op, ok := fs.Ops.(Renamer); ok {
		return op.Rename(path, name)
	}
	return sberr.ErrUnsupported
}

// Lookup forwards to fs.Ops.Lookup.
func Lookup(fs *Filesystem, dir *Inode, name string) (*Dentry, error) {
	if op, ok := fs.Ops.(Looker); ok {
		return op.Lookup(dir, name)
	}
	return nil, sberr.ErrUnsupported
}
