// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jvmindex

import (
	"github.com/AleutianAI/jvmindex/services/jvmindex/index"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
	"github.com/AleutianAI/jvmindex/services/jvmindex/jobs"
	"github.com/AleutianAI/jvmindex/services/jvmindex/query"
)

// OpenRequest is the body of POST /v1/jvmindex/classpaths.
type OpenRequest struct {
	// Paths are jar/zip files or class directories, in lookup order.
	Paths []string `json:"paths" binding:"required,min=1,dive,required"`
}

// ViewResponse describes one open classpath view.
type ViewResponse struct {
	View query.ViewInfo `json:"view"`
}

// ViewsResponse lists the open views.
type ViewsResponse struct {
	Views []query.ViewInfo `json:"views"`
}

// ClassResponse is returned by GET .../classes/:class.
type ClassResponse struct {
	Class *ir.Class `json:"class"`
}

// MethodInfo is one entry of MethodsResponse.
type MethodInfo struct {
	Key       string   `json:"key"`
	Signature string   `json:"signature"`
	Modifiers []string `json:"modifiers,omitempty"`
	HasBody   bool     `json:"has_body"`
}

// MethodsResponse lists a class's methods in declaration order.
type MethodsResponse struct {
	Class   string       `json:"class"`
	Methods []MethodInfo `json:"methods"`
}

// InstructionsResponse carries a lifted method body. Text holds the
// single-line rendering of each instruction.
type InstructionsResponse struct {
	Class        string             `json:"class"`
	Method       string             `json:"method"`
	Instructions ir.InstructionList `json:"instructions"`
	Text         []string           `json:"text"`
}

// AwaitRequest is the optional body of POST /v1/jvmindex/jobs/await.
type AwaitRequest struct {
	// TimeoutMs bounds the wait. Zero waits for the request's lifetime.
	TimeoutMs int `json:"timeout_ms" binding:"gte=0"`
}

// JobsResponse lists retained jobs in submission order.
type JobsResponse struct {
	Jobs []jobs.Info `json:"jobs"`
}

// PruneResponse reports what POST /v1/jvmindex/prune removed.
type PruneResponse struct {
	Report index.PruneReport `json:"report"`
}

// StatsResponse counts index contents and unfinished jobs.
type StatsResponse struct {
	Stats           index.Stats `json:"stats"`
	OutstandingJobs int         `json:"outstanding_jobs"`
}

// HealthResponse is returned by GET /v1/jvmindex/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Views   int    `json:"views"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code, e.g. CLASS_NOT_FOUND.
	Code string `json:"code,omitempty"`
}
