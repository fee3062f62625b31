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
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"sync"
	"time"
)

// maxClassSize bounds a single class entry; the JVM itself cannot load
// anything near this large.
const maxClassSize = 64 << 20

type jar struct {
	path string
	hash string

	statMu sync.Mutex
	size   int64
	mod    time.Time

	mu     sync.RWMutex
	zr     *zip.ReadCloser
	order  []*zip.File
	byName map[string]*zip.File
}

func openJar(p string, info fs.FileInfo) (*jar, error) {
	hash, err := hashFile(p)
	if err != nil {
		return nil, &ArchiveError{Path: p, Err: err}
	}
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, &ArchiveError{Path: p, Err: fmt.Errorf("%w: %w", ErrCorrupt, err)}
	}

	j := &jar{
		path:   p,
		hash:   hash,
		size:   info.Size(),
		mod:    info.ModTime(),
		zr:     zr,
		byName: make(map[string]*zip.File),
	}
	for _, f := range zr.File {
		name, ok := ClassName(f.Name)
		if !ok || f.FileInfo().IsDir() {
			continue
		}
		// A duplicated entry name is legal in zip; the first one wins, as
		// it does for the JVM's jar loader.
		if _, dup := j.byName[name]; dup {
			continue
		}
		j.byName[name] = f
		j.order = append(j.order, f)
	}
	return j, nil
}

func (j *jar) Path() string { return j.path }
func (j *jar) Hash() string { return j.hash }

func (j *jar) Contains(name string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	_, ok := j.byName[name]
	return ok
}

func (j *jar) Classes() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		j.mu.RLock()
		files := j.order
		closed := j.zr == nil
		j.mu.RUnlock()
		if closed {
			yield(Entry{}, &ArchiveError{Path: j.path, Err: ErrArchiveClosed})
			return
		}
		for _, f := range files {
			name, _ := ClassName(f.Name)
			raw, err := j.read(name, f)
			if err != nil {
				if !yield(Entry{Name: name, Path: f.Name}, err) {
					return
				}
				continue
			}
			if !yield(Entry{Name: name, Path: f.Name, Hash: HashBytes(raw)}, nil) {
				return
			}
		}
	}
}

func (j *jar) ReadBytes(name string) ([]byte, error) {
	j.mu.RLock()
	f, ok := j.byName[name]
	closed := j.zr == nil
	j.mu.RUnlock()
	if closed {
		return nil, &ArchiveError{Path: j.path, Class: name, Err: ErrArchiveClosed}
	}
	if !ok {
		return nil, &ArchiveError{Path: j.path, Class: name, Err: ErrNotFound}
	}
	return j.read(name, f)
}

// read decompresses one entry. The zip reader verifies the CRC-32 at EOF,
// so a damaged entry surfaces as ErrCorrupt rather than bad bytes.
func (j *jar) read(name string, f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxClassSize {
		return nil, &ArchiveError{Path: j.path, Class: name, Err: fmt.Errorf("%w: entry of %d bytes", ErrCorrupt, f.UncompressedSize64)}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &ArchiveError{Path: j.path, Class: name, Err: fmt.Errorf("%w: %w", ErrCorrupt, err)}
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, maxClassSize+1))
	if err != nil {
		return nil, &ArchiveError{Path: j.path, Class: name, Err: fmt.Errorf("%w: %w", ErrCorrupt, err)}
	}
	return raw, nil
}

// Changed compares size and mtime first and only rehashes the file when
// either differs. A rehash that matches adopts the new size and mtime.
func (j *jar) Changed() (bool, error) {
	info, err := os.Stat(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, &ArchiveError{Path: j.path, Err: err}
	}
	j.statMu.Lock()
	defer j.statMu.Unlock()
	if info.Size() == j.size && info.ModTime().Equal(j.mod) {
		return false, nil
	}
	hash, err := hashFile(j.path)
	if err != nil {
		return false, &ArchiveError{Path: j.path, Err: err}
	}
	if hash != j.hash {
		return true, nil
	}
	j.size, j.mod = info.Size(), info.ModTime()
	return false, nil
}

func (j *jar) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.zr == nil {
		return nil
	}
	err := j.zr.Close()
	j.zr = nil
	return err
}

func hashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
