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

	"github.com/AleutianAI/jvmindex/pkg/ux"
	"github.com/AleutianAI/jvmindex/services/jvmindex/jobs"
)

var indexCmd = &cobra.Command{
	Use:   "index ARCHIVE...",
	Short: "Index jar files and class directories",
	Long: `Opens the archives as one classpath, lifts every class that is not
already in the index and waits for the work to finish. Classes that fail
to lift are reported and do not stop the rest.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	p := newPrinter(cmd)
	p.Title("jvmindex")

	v, err := a.engine.OpenClasspath(ctx, args)
	if err != nil {
		return err
	}
	defer v.Close()
	if err := a.engine.AwaitOutstandingJobs(ctx); err != nil {
		return fmt.Errorf("waiting for indexing: %w", err)
	}

	total, failed := reportJobs(p, a.engine.Jobs())
	for _, ar := range v.Info().Archives {
		if hasJob(a.engine.Jobs(), ar.Path) {
			continue
		}
		if rec, err := a.idx.Archive(ctx, ar.Path); err == nil {
			p.Success(fmt.Sprintf("%s: up to date, %d classes", ar.Path, rec.ClassCount))
			total += rec.ClassCount
		}
	}
	p.Summary(total-failed, failed, total)
	if failed > 0 {
		return fmt.Errorf("%d of %d classes could not be indexed", failed, total)
	}
	return nil
}

// reportJobs prints one line per archive job and its class failures, and
// returns the classes seen and the classes that failed.
func reportJobs(p *ux.Printer, infos []jobs.Info) (total, failed int) {
	for _, info := range infos {
		total += info.Progress
		failed += len(info.Failures)
		switch info.Status {
		case jobs.StatusSucceeded.String():
			p.Success(fmt.Sprintf("%s: %d classes", info.Target, info.Progress))
		default:
			msg := fmt.Sprintf("%s: %s", info.Target, info.Status)
			if info.Error != "" {
				msg += ": " + info.Error
			}
			p.Warning(msg)
		}
		for _, f := range info.Failures {
			p.Info("  " + f)
		}
	}
	return total, failed
}

func hasJob(infos []jobs.Info, target string) bool {
	for _, info := range infos {
		if info.Target == target {
			return true
		}
	}
	return false
}
