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

import "os"

// StampsCurrent reports whether Changed would answer from the stored size
// and mtime without rehashing.
func StampsCurrent(a Archive) (bool, error) {
	switch x := a.(type) {
	case *jar:
		info, err := os.Stat(x.path)
		if err != nil {
			return false, err
		}
		x.statMu.Lock()
		defer x.statMu.Unlock()
		return info.Size() == x.size && info.ModTime().Equal(x.mod), nil
	case *dir:
		stamps, err := scanDir(x.root)
		if err != nil {
			return false, err
		}
		x.mu.Lock()
		defer x.mu.Unlock()
		return sameStamps(stamps, x.stamps), nil
	}
	return false, nil
}
