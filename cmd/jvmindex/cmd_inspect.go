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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/jvmindex/pkg/validation"
)

var inspectClasspath string

var inspectCmd = &cobra.Command{
	Use:   "inspect CLASS",
	Short: "Print a class's interfaces, methods and member accesses",
	Long: `Looks CLASS up on the given classpath, lifting it if the index does not
have it yet, and prints its interfaces, its methods with their annotations,
and the calls, field reads and field writes in each method body.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectClasspath, "classpath", "", "comma separated jar files and class directories")
	_ = inspectCmd.MarkFlagRequired("classpath")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateClassName(args[0]); err != nil {
		return err
	}
	a, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	v, err := a.engine.OpenClasspath(ctx, splitClasspath(inspectClasspath))
	if err != nil {
		return err
	}
	defer v.Close()

	cls, err := v.FindClass(ctx, args[0])
	if err != nil {
		return err
	}
	in, err := collect(ctx, v, cls)
	if err != nil {
		return err
	}
	return in.render(cmd.OutOrStdout(), newPrinter(cmd))
}

// splitClasspath splits a comma separated list, dropping empty elements.
func splitClasspath(s string) []string {
	var paths []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
