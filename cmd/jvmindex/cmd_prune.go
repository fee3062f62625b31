// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop index entries of archives that are gone or have changed",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func runPrune(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.engine.Prune(cmd.Context())
	if err != nil {
		return err
	}
	p := newPrinter(cmd)
	for _, rec := range report.Archives {
		p.Info(fmt.Sprintf("pruned %s (%d classes)", rec.Path, rec.ClassCount))
	}
	p.Success(fmt.Sprintf("pruned %d archives, %d index entries", len(report.Archives), report.Entries))
	return nil
}
