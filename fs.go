// fs.go: Filesystem abstraction for containers and spill files.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"os"

	"github.com/absfs/absfs"
)

// FileSystem is the subset of absfs.FileSystem this package needs. Any
// absfs implementation (memfs, osfs, ...) satisfies it.
type FileSystem interface {
	Open(name string) (absfs.File, error)
	Create(name string) (absfs.File, error)
	Stat(name string) (os.FileInfo, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	MkdirAll(name string, perm os.FileMode) error
	TempDir() string
}

type osFileSystem struct{}

// OSFileSystem returns a FileSystem backed by the host filesystem.
func OSFileSystem() FileSystem {
	return osFileSystem{}
}

func (osFileSystem) Open(name string) (absfs.File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osFileSystem) Create(name string) (absfs.File, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osFileSystem) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (osFileSystem) Remove(name string) error {
	return os.Remove(name)
}

func (osFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (osFileSystem) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(name, perm)
}

func (osFileSystem) TempDir() string {
	return os.TempDir()
}
