// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classgen

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
)

// Files maps in-archive slash paths to contents.
type Files map[string][]byte

// Add stores a class under its internal name, e.g. com/example/Foo.
func (f Files) Add(c *Class) Files {
	f[c.name+".class"] = c.Bytes()
	return f
}

// WriteJar writes files as a zip archive at path, entries sorted by name.
func WriteJar(path string, files Files) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)
	for _, name := range sortedNames(files) {
		w, err := zw.Create(name)
		if err != nil {
			out.Close()
			return err
		}
		if _, err := w.Write(files[name]); err != nil {
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// WriteDir writes files beneath root, creating package directories.
func WriteDir(root string, files Files) error {
	for _, name := range sortedNames(files) {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, files[name], 0o644); err != nil {
			return err
		}
	}
	return nil
}

func sortedNames(files Files) []string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
