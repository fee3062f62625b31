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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /v1/jvmindex endpoints on rg.
//
// Endpoints:
//
//	POST   /v1/jvmindex/classpaths - Open a classpath view
//	GET    /v1/jvmindex/classpaths - List open views
//	GET    /v1/jvmindex/classpaths/:view - View state
//	DELETE /v1/jvmindex/classpaths/:view - Close a view
//	GET    /v1/jvmindex/classpaths/:view/classes/:class - Class descriptor
//	GET    /v1/jvmindex/classpaths/:view/classes/:class/methods - Methods
//	GET    /v1/jvmindex/classpaths/:view/classes/:class/methods/:method/instructions - Lifted body
//	GET    /v1/jvmindex/jobs - Background jobs
//	POST   /v1/jvmindex/jobs/await - Wait for outstanding jobs
//	POST   /v1/jvmindex/prune - Drop entries of removed or changed archives
//	GET    /v1/jvmindex/stats - Index counts
//	GET    /v1/jvmindex/health - Health check
//
// A method key contains '/' for reference types and must be sent
// path-escaped; NewRouter routes on the raw path so %2F survives.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	jv := rg.Group("/jvmindex")
	{
		jv.POST("/classpaths", h.HandleOpenClasspath)
		jv.GET("/classpaths", h.HandleListViews)
		jv.GET("/classpaths/:view", h.HandleGetView)
		jv.DELETE("/classpaths/:view", h.HandleCloseView)
		jv.GET("/classpaths/:view/classes/:class", h.HandleFindClass)
		jv.GET("/classpaths/:view/classes/:class/methods", h.HandleMethods)
		jv.GET("/classpaths/:view/classes/:class/methods/:method/instructions", h.HandleInstructions)

		jv.GET("/jobs", h.HandleListJobs)
		jv.POST("/jobs/await", h.HandleAwaitJobs)
		jv.POST("/prune", h.HandlePrune)
		jv.GET("/stats", h.HandleStats)
		jv.GET("/health", h.HandleHealth)
	}
}

// NewRouter builds the gin engine for `jvmindex serve`: recovery, OTel
// tracing, the /v1 routes and, when metrics is non-nil, GET /metrics.
func NewRouter(h *Handlers, serviceName string, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.UseRawPath = true
	router.UnescapePathValues = true
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName))

	RegisterRoutes(router.Group("/v1"), h)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}
