// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import "strings"

// Key layout. The version prefix lets a future layout coexist with this
// one in the same store.
//
//	v1/class/<name>/<classHash>            -> envelope(Entry)
//	v1/member/<archiveHash>/<name>         -> classHash
//	v1/archive/<path>                      -> envelope(ArchiveRecord)
const (
	classPrefix   = "v1/class/"
	memberPrefix  = "v1/member/"
	archivePrefix = "v1/archive/"
)

// Key identifies one lifted class: its name and the hash of its bytes.
type Key struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// String renders name@hash with the hash shortened, for logs.
func (k Key) String() string {
	h := k.Hash
	if len(h) > 12 {
		h = h[:12]
	}
	return k.Name + "@" + h
}

func (k Key) bytes() []byte {
	return []byte(classPrefix + k.Name + "/" + k.Hash)
}

func memberKey(archiveHash, name string) []byte {
	return []byte(memberPrefix + archiveHash + "/" + name)
}

func memberScanPrefix(archiveHash string) []byte {
	return []byte(memberPrefix + archiveHash + "/")
}

func archiveKey(path string) []byte {
	return []byte(archivePrefix + path)
}

// memberName extracts the class name from a member key.
func memberName(key []byte, archiveHash string) string {
	return strings.TrimPrefix(string(key), memberPrefix+archiveHash+"/")
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
