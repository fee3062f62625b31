// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jvmindex exposes the classpath query engine over HTTP.
package jvmindex

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/jvmindex/pkg/validation"
	"github.com/AleutianAI/jvmindex/services/jvmindex/classpath"
	"github.com/AleutianAI/jvmindex/services/jvmindex/index"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
	"github.com/AleutianAI/jvmindex/services/jvmindex/lift"
	"github.com/AleutianAI/jvmindex/services/jvmindex/query"
	"github.com/AleutianAI/jvmindex/services/jvmindex/telemetry"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Handlers holds the HTTP handlers.
type Handlers struct {
	engine *query.Engine
	idx    *index.Index
	logger *slog.Logger
}

// NewHandlers creates handlers over engine. idx backs the stats endpoint.
// A nil logger means slog.Default().
func NewHandlers(engine *query.Engine, idx *index.Index, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, idx: idx, logger: logger}
}

// HandleOpenClasspath handles POST /v1/jvmindex/classpaths.
//
// Description:
//
//	Opens a view over the given archives. The view is returned as soon
//	as archive metadata has been read; cold archives are indexed in the
//	background.
//
// Response:
//
//	201 Created: ViewResponse
//	400 Bad Request: Invalid body or missing archive
//	503 Service Unavailable: Engine closed
func (h *Handlers) HandleOpenClasspath(c *gin.Context) {
	logger := h.requestLogger(c, "HandleOpenClasspath")

	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	v, err := h.engine.OpenClasspath(c.Request.Context(), req.Paths)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	logger.Info("Classpath opened", "view_id", v.ID(), "archives", len(req.Paths))
	c.JSON(http.StatusCreated, ViewResponse{View: v.Info()})
}

// HandleListViews handles GET /v1/jvmindex/classpaths.
func (h *Handlers) HandleListViews(c *gin.Context) {
	c.JSON(http.StatusOK, ViewsResponse{Views: h.engine.Views()})
}

// HandleGetView handles GET /v1/jvmindex/classpaths/:view.
func (h *Handlers) HandleGetView(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ViewResponse{View: v.Info()})
}

// HandleCloseView handles DELETE /v1/jvmindex/classpaths/:view.
//
// Response:
//
//	204 No Content: Closed
//	404 Not Found: Unknown view
func (h *Handlers) HandleCloseView(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCloseView")
	v, ok := h.view(c)
	if !ok {
		return
	}
	if err := v.Close(); err != nil {
		logger.Warn("Closing view archives failed", "view_id", v.ID(), "error", err)
	}
	c.Status(http.StatusNoContent)
}

// HandleFindClass handles GET /v1/jvmindex/classpaths/:view/classes/:class.
//
// Response:
//
//	200 OK: ClassResponse
//	400 Bad Request: Malformed class name
//	404 Not Found: Unknown view or class
//	422 Unprocessable Entity: The class file could not be lifted
func (h *Handlers) HandleFindClass(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFindClass")
	v, ok := h.view(c)
	if !ok {
		return
	}
	class := c.Param("class")
	if err := validation.ValidateClassName(class); err != nil {
		h.fail(c, logger, err)
		return
	}
	cls, err := v.FindClass(c.Request.Context(), class)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ClassResponse{Class: cls})
}

// HandleMethods handles GET /v1/jvmindex/classpaths/:view/classes/:class/methods.
//
// The optional name query parameter keeps only the overloads of that
// method name, still in declaration order.
func (h *Handlers) HandleMethods(c *gin.Context) {
	logger := h.requestLogger(c, "HandleMethods")
	v, ok := h.view(c)
	if !ok {
		return
	}
	class := c.Param("class")
	if err := validation.ValidateClassName(class); err != nil {
		h.fail(c, logger, err)
		return
	}
	cls, err := v.FindClass(c.Request.Context(), class)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	var methods []*ir.Method
	if name := c.Query("name"); name != "" {
		methods = cls.MethodsNamed(name)
	} else {
		all := v.MethodsOf(cls)
		for i := range all {
			methods = append(methods, &all[i])
		}
	}
	resp := MethodsResponse{Class: cls.Name, Methods: make([]MethodInfo, len(methods))}
	for i, m := range methods {
		resp.Methods[i] = MethodInfo{
			Key:       m.Key(),
			Signature: m.Signature(),
			Modifiers: m.Access.Modifiers(),
			HasBody:   m.HasBody,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleInstructions handles
// GET /v1/jvmindex/classpaths/:view/classes/:class/methods/:method/instructions.
//
// Description:
//
//	Returns the lifted body of the method whose key (name followed by
//	descriptor, path-escaped) is :method, with call and field targets
//	resolved against the view.
//
// Response:
//
//	200 OK: InstructionsResponse
//	404 Not Found: Unknown view, class or method
//	422 Unprocessable Entity: The body could not be lifted
func (h *Handlers) HandleInstructions(c *gin.Context) {
	logger := h.requestLogger(c, "HandleInstructions")
	v, ok := h.view(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	class, key := c.Param("class"), c.Param("method")
	if err := validation.ValidateClassName(class); err != nil {
		h.fail(c, logger, err)
		return
	}
	if err := validation.ValidateMethodKey(key); err != nil {
		h.fail(c, logger, err)
		return
	}

	m, err := v.Method(ctx, class, key)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	list, err := v.InstructionsOf(ctx, m)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	resp := InstructionsResponse{Class: m.Owner, Method: key, Instructions: list, Text: make([]string, len(list))}
	for i := range list {
		resp.Text[i] = list[i].String()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListJobs handles GET /v1/jvmindex/jobs.
func (h *Handlers) HandleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, JobsResponse{Jobs: h.engine.Jobs()})
}

// HandleAwaitJobs handles POST /v1/jvmindex/jobs/await.
//
// Description:
//
//	Blocks until every job submitted before the request has finished,
//	then returns the job list. The body is optional.
//
// Response:
//
//	200 OK: JobsResponse
//	400 Bad Request: Invalid body
//	504 Gateway Timeout: Jobs still running when the timeout expired
func (h *Handlers) HandleAwaitJobs(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAwaitJobs")

	var req AwaitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("Invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
			return
		}
	}

	ctx := c.Request.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	if err := h.engine.AwaitOutstandingJobs(ctx); err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, JobsResponse{Jobs: h.engine.Jobs()})
}

// HandlePrune handles POST /v1/jvmindex/prune.
func (h *Handlers) HandlePrune(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePrune")
	report, err := h.engine.Prune(c.Request.Context())
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, PruneResponse{Report: report})
}

// HandleStats handles GET /v1/jvmindex/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	logger := h.requestLogger(c, "HandleStats")
	stats, err := h.idx.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, StatsResponse{Stats: stats, OutstandingJobs: h.engine.OutstandingJobs()})
}

// HandleHealth handles GET /v1/jvmindex/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Views:   len(h.engine.Views()),
	})
}

// view resolves :view, answering 404 itself when it is unknown.
func (h *Handlers) view(c *gin.Context) (*query.View, bool) {
	id := c.Param("view")
	v, ok := h.engine.View(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "view " + id + " not found", Code: "VIEW_NOT_FOUND"})
		return nil, false
	}
	return v, true
}

// fail maps err to a status and code and writes the error response.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err, "code", code)
	} else {
		logger.Warn("Request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	var nf *query.NotFoundError
	switch {
	case errors.As(err, &nf) && nf.Method != "":
		return http.StatusNotFound, "METHOD_NOT_FOUND"
	case errors.Is(err, validation.ErrInvalidName):
		return http.StatusBadRequest, "INVALID_NAME"
	case errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound, "CLASS_NOT_FOUND"
	case errors.Is(err, query.ErrViewClosed):
		return http.StatusNotFound, "VIEW_NOT_FOUND"
	case errors.Is(err, query.ErrArchiveNotFound):
		return http.StatusBadRequest, "ARCHIVE_NOT_FOUND"
	case errors.Is(err, query.ErrEmptyClasspath):
		return http.StatusBadRequest, "EMPTY_CLASSPATH"
	case errors.Is(err, lift.ErrUnsupportedFeature),
		errors.Is(err, lift.ErrMalformedBytecode),
		errors.Is(err, lift.ErrStackShapeMismatch):
		return http.StatusUnprocessableEntity, "LIFT_FAILED"
	case errors.Is(err, classpath.ErrCorrupt):
		return http.StatusUnprocessableEntity, "ARCHIVE_CORRUPT"
	case errors.Is(err, query.ErrEngineClosed):
		return http.StatusServiceUnavailable, "ENGINE_CLOSED"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return 499, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// requestLogger tags the logger with the request id and trace id.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).
		With("request_id", requestID, "handler", handler)
}
