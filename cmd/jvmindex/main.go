// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command jvmindex indexes JVM class archives and answers queries about
// the classes they contain.
//
// Usage:
//
//	jvmindex index lib/app.jar lib/deps.jar
//	jvmindex inspect com.example.Foo --classpath lib/app.jar,build/classes
//	jvmindex serve --watch
//	jvmindex prune
//
// Configuration is read from ~/.jvmindex/config.yaml (created on first
// run), JVMINDEX_* environment variables and the persistent flags, in
// increasing order of precedence.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/jvmindex/pkg/ux"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		ux.Stdio().Error(err.Error())
		os.Exit(1)
	}
}
