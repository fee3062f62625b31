// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classpath reads class files out of jar archives and class
// directories.
//
// An Archive is a read-only view of one classpath element. It lists the
// classes it contains, each with the SHA256 of its bytes, and returns the
// raw bytes of a class by fully-qualified name. Nothing is cached here;
// caching is the index's job.
//
// Archives remember the size and modification time they were opened with,
// so Changed can cheaply detect that the file on disk was rewritten before
// falling back to a full content hash.
//
// # Thread Safety
//
// Archives are safe for concurrent use.
package classpath

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"iter"
	"os"
	"path"
	"strings"
)

// Entry describes one class in an archive.
type Entry struct {
	// Name is the fully-qualified dotted class name, e.g. com.example.Foo.
	Name string `json:"name"`

	// Path is the slash-separated location inside the archive.
	Path string `json:"path"`

	// Hash is the hex SHA256 of the class bytes.
	Hash string `json:"hash"`
}

// Archive is one element of a classpath.
type Archive interface {
	// Path returns the archive path as given to Open.
	Path() string

	// Hash returns the content hash of the archive at open time.
	Hash() string

	// Classes lists the archive's classes in archive order. Entries that
	// cannot be read are yielded as errors without stopping iteration.
	Classes() iter.Seq2[Entry, error]

	// Contains reports whether the archive holds a class with this name.
	Contains(name string) bool

	// ReadBytes returns the raw bytes of a class. It fails with ErrNotFound
	// when the name is absent and ErrCorrupt when the entry is unreadable.
	ReadBytes(name string) ([]byte, error)

	// Changed reports whether the archive on disk no longer matches the
	// content it was opened with.
	Changed() (bool, error)

	// Close releases the archive.
	Close() error
}

// Open opens a jar or zip file, or a directory of class files.
//
// Description:
//
//	Stats the path, then opens it as a directory archive or a zip archive
//	and computes its content hash.
//
// Inputs:
//
//	p - Filesystem path of the archive.
//
// Outputs:
//
//	Archive - The open archive. Caller must Close it.
//	error - *ArchiveError wrapping ErrArchiveNotFound or ErrCorrupt.
func Open(p string) (Archive, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ArchiveError{Path: p, Err: ErrArchiveNotFound}
		}
		return nil, &ArchiveError{Path: p, Err: err}
	}
	if info.IsDir() {
		d, err := openDir(p)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	j, err := openJar(p, info)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// HashBytes returns the hex SHA256 of b, the hash used for class entries.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ClassName converts an in-archive path such as com/example/Foo.class to
// com.example.Foo. It reports false for paths that are not loadable
// classes: non-class files, module-info, and multi-release overlays under
// META-INF.
func ClassName(entryPath string) (string, bool) {
	if !strings.HasSuffix(entryPath, ".class") || strings.HasPrefix(entryPath, "META-INF/") {
		return "", false
	}
	base := path.Base(entryPath)
	if base == "module-info.class" {
		return "", false
	}
	name := strings.TrimSuffix(entryPath, ".class")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", false
	}
	return strings.ReplaceAll(name, "/", "."), true
}

// EntryPath converts a dotted class name to its in-archive path.
func EntryPath(name string) string {
	return strings.ReplaceAll(name, ".", "/") + ".class"
}
