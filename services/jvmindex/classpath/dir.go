// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classpath

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

// fileStamp is the cheap identity of one class file.
type fileStamp struct {
	size  int64
	mtime int64
}

// dir is a directory of class files laid out by package.
type dir struct {
	root string
	hash string

	mu     sync.Mutex
	stamps map[string]fileStamp // keyed by slash path
	names  []string             // dotted names in path order
	paths  map[string]string    // dotted name -> slash path
	closed atomic.Bool
}

func openDir(root string) (*dir, error) {
	d := &dir{root: root}
	stamps, err := scanDir(root)
	if err != nil {
		return nil, &ArchiveError{Path: root, Err: err}
	}
	d.stamps = stamps
	d.paths = make(map[string]string, len(stamps))
	for _, p := range sortedKeys(stamps) {
		name, _ := ClassName(p)
		d.names = append(d.names, name)
		d.paths[name] = p
	}
	if d.hash, err = hashDir(root, stamps); err != nil {
		return nil, &ArchiveError{Path: root, Err: err}
	}
	return d, nil
}

func scanDir(root string) (map[string]fileStamp, error) {
	stamps := make(map[string]fileStamp)
	err := filepath.WalkDir(root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, ok := ClassName(rel); !ok {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		stamps[rel] = fileStamp{size: info.Size(), mtime: info.ModTime().UnixNano()}
		return nil
	})
	return stamps, err
}

// hashDir hashes the sorted (path, class hash) pairs, so renames and
// content edits both change the result.
func hashDir(root string, stamps map[string]fileStamp) (string, error) {
	h := sha256.New()
	for _, p := range sortedKeys(stamps) {
		raw, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			return "", err
		}
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(HashBytes(raw)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sortedKeys(m map[string]fileStamp) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *dir) Path() string { return d.root }
func (d *dir) Hash() string { return d.hash }

func (d *dir) Contains(name string) bool {
	_, ok := d.paths[name]
	return ok
}

func (d *dir) Classes() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for _, name := range d.names {
			p := d.paths[name]
			raw, err := d.ReadBytes(name)
			if err != nil {
				if !yield(Entry{Name: name, Path: p}, err) {
					return
				}
				continue
			}
			if !yield(Entry{Name: name, Path: p, Hash: HashBytes(raw)}, nil) {
				return
			}
		}
	}
}

func (d *dir) ReadBytes(name string) ([]byte, error) {
	if d.closed.Load() {
		return nil, &ArchiveError{Path: d.root, Class: name, Err: ErrArchiveClosed}
	}
	p, ok := d.paths[name]
	if !ok {
		return nil, &ArchiveError{Path: d.root, Class: name, Err: ErrNotFound}
	}
	raw, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(p)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &ArchiveError{Path: d.root, Class: name, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &ArchiveError{Path: d.root, Class: name, Err: err}
	}
	return raw, nil
}

func (d *dir) Changed() (bool, error) {
	if _, err := os.Stat(d.root); errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	stamps, err := scanDir(d.root)
	if err != nil {
		return false, &ArchiveError{Path: d.root, Err: err}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sameStamps(stamps, d.stamps) {
		return false, nil
	}
	hash, err := hashDir(d.root, stamps)
	if err != nil {
		return false, &ArchiveError{Path: d.root, Err: err}
	}
	if hash != d.hash {
		return true, nil
	}
	d.stamps = stamps
	return false, nil
}

func sameStamps(a, b map[string]fileStamp) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (d *dir) Close() error {
	d.closed.Store(true)
	return nil
}
