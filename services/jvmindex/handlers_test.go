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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/jvmindex/pkg/validation"
	"github.com/AleutianAI/jvmindex/services/jvmindex/classfile"
	"github.com/AleutianAI/jvmindex/services/jvmindex/index"
	"github.com/AleutianAI/jvmindex/services/jvmindex/internal/classgen"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
	"github.com/AleutianAI/jvmindex/services/jvmindex/jobs"
	"github.com/AleutianAI/jvmindex/services/jvmindex/lift"
	"github.com/AleutianAI/jvmindex/services/jvmindex/query"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	engine *query.Engine
	jar    string
}

func fixtureJar(t *testing.T) string {
	t.Helper()
	foo := classgen.New("com/example/Foo").
		Field(classgen.AccPrivate, "count", "I").
		Method(classgen.AccPublic, "bar", "(I)V").
		Op(classfile.Aload0, classfile.Iload1).
		Field(classfile.Putfield, "com/example/Foo", "count", "I").
		Op(classfile.Return).
		End().
		Method(classgen.AccPublic|classgen.AccStatic, "name", "(Ljava/lang/String;)Ljava/lang/String;").
		Op(classfile.Aload0, classfile.Areturn).
		End()
	legacy := classgen.New("com/example/Legacy").
		Method(classgen.AccStatic, "old", "()V").
		Jump(classfile.Jsr, "sub").
		Op(classfile.Return).
		Label("sub").
		Var(classfile.Astore, 0).
		Var(classfile.Ret, 0).
		End()

	path := filepath.Join(t.TempDir(), "app.jar")
	require.NoError(t, classgen.WriteJar(path, classgen.Files{}.Add(foo).Add(legacy)))
	return path
}

func setupTestServer(t *testing.T, opts ...query.Option) *testServer {
	t.Helper()
	store, err := index.OpenStore(index.StoreConfig{InMemory: true})
	require.NoError(t, err)
	idx := index.New(store)
	sched := jobs.New(jobs.Config{Workers: 2})
	engine := query.NewEngine(idx, sched, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Close()
		sched.Close(ctx)
		idx.Close()
	})
	h := NewHandlers(engine, idx, nil)
	return &testServer{router: NewRouter(h, "jvmindex-test", nil), engine: engine, jar: fixtureJar(t)}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) open(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/jvmindex/classpaths", OpenRequest{Paths: []string{s.jar}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp ViewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.View.ID)
	return resp.View.ID
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandlers_HandleHealth(t *testing.T) {
	s := setupTestServer(t)
	w := s.do(t, http.MethodGet, "/v1/jvmindex/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Zero(t, resp.Views)
}

func TestHandlers_OpenClasspath(t *testing.T) {
	s := setupTestServer(t, query.WithBackgroundIndexing(false))
	id := s.open(t)

	w := s.do(t, http.MethodGet, "/v1/jvmindex/classpaths/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ViewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, query.StateReady, resp.View.State)
	require.Len(t, resp.View.Archives, 1)
	assert.Equal(t, s.jar, resp.View.Archives[0].Path)

	w = s.do(t, http.MethodGet, "/v1/jvmindex/classpaths", nil)
	var list ViewsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Views, 1)
}

func TestHandlers_OpenClasspathErrors(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/jvmindex/classpaths", map[string]any{"paths": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)

	w = s.do(t, http.MethodPost, "/v1/jvmindex/classpaths", OpenRequest{Paths: []string{filepath.Join(t.TempDir(), "gone.jar")}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ARCHIVE_NOT_FOUND", decodeError(t, w).Code)
}

func TestHandlers_FindClassAndMethods(t *testing.T) {
	s := setupTestServer(t, query.WithBackgroundIndexing(false))
	id := s.open(t)
	base := "/v1/jvmindex/classpaths/" + id + "/classes/"

	w := s.do(t, http.MethodGet, base+"com.example.Foo", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cls ClassResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cls))
	assert.Equal(t, "com.example.Foo", cls.Class.Name)
	require.Len(t, cls.Class.Fields, 1)
	assert.Equal(t, ir.TypeInt, cls.Class.Fields[0].Type)

	w = s.do(t, http.MethodGet, base+"com.example.Foo/methods", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var methods MethodsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &methods))
	require.Len(t, methods.Methods, 2)
	assert.Equal(t, "bar(I)V", methods.Methods[0].Key)
	assert.Equal(t, "public com.example.Foo#bar(int) -> void", methods.Methods[0].Signature)
	assert.Equal(t, []string{"public", "static"}, methods.Methods[1].Modifiers)

	w = s.do(t, http.MethodGet, base+"com.example.Foo/methods?name=bar", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &methods))
	require.Len(t, methods.Methods, 1)
	assert.Equal(t, "bar(I)V", methods.Methods[0].Key)

	w = s.do(t, http.MethodGet, base+"com.example.Foo/methods?name=absent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	methods = MethodsResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &methods))
	assert.Empty(t, methods.Methods)

	w = s.do(t, http.MethodGet, base+url.PathEscape("com/example/Foo"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cls = ClassResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cls))
	assert.Equal(t, "com.example.Foo", cls.Class.Name)

	w = s.do(t, http.MethodGet, base+"com.example.Missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "CLASS_NOT_FOUND", decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, base+url.PathEscape("com..Foo"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_NAME", decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, "/v1/jvmindex/classpaths/nope/classes/com.example.Foo", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "VIEW_NOT_FOUND", decodeError(t, w).Code)
}

func TestHandlers_Instructions(t *testing.T) {
	s := setupTestServer(t, query.WithBackgroundIndexing(false))
	id := s.open(t)
	base := "/v1/jvmindex/classpaths/" + id + "/classes/"
	instr := func(class, key string) string {
		return base + class + "/methods/" + url.PathEscape(key) + "/instructions"
	}

	w := s.do(t, http.MethodGet, instr("com.example.Foo", "bar(I)V"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp InstructionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bar(I)V", resp.Method)
	assert.Equal(t, 1, resp.Instructions.Count(ir.OpFieldWrite))
	require.Len(t, resp.Text, len(resp.Instructions))
	writes := resp.Instructions.Filter(ir.OpFieldWrite)
	require.NotNil(t, writes[0].Symbol)
	assert.Equal(t, "com.example.Foo", writes[0].Symbol.Class)

	// Descriptors with reference types carry '/'.
	key := "name(Ljava/lang/String;)Ljava/lang/String;"
	w = s.do(t, http.MethodGet, instr("com.example.Foo", key), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, key, resp.Method)
	assert.Equal(t, ir.OpReturn, resp.Instructions[len(resp.Instructions)-1].Op)

	w = s.do(t, http.MethodGet, instr("com.example.Foo", "bar(J)V"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "METHOD_NOT_FOUND", decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, instr("com.example.Foo", "bar"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_NAME", decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, instr("com.example.Legacy", "old()V"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, "LIFT_FAILED", e.Code)
	assert.True(t, strings.Contains(e.Error, "unsupported feature"), e.Error)
}

func TestHandlers_JobsAwaitAndStats(t *testing.T) {
	s := setupTestServer(t)
	s.open(t)

	w := s.do(t, http.MethodPost, "/v1/jvmindex/jobs/await", AwaitRequest{TimeoutMs: 5000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var jobsResp JobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobsResp))
	require.Len(t, jobsResp.Jobs, 1)
	assert.Equal(t, "archive", jobsResp.Jobs[0].Kind)
	assert.Equal(t, s.jar, jobsResp.Jobs[0].Target)
	assert.Equal(t, 2, jobsResp.Jobs[0].Progress)

	w = s.do(t, http.MethodGet, "/v1/jvmindex/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, index.Stats{Classes: 2, Archives: 1}, stats.Stats)
	assert.Zero(t, stats.OutstandingJobs)

	w = s.do(t, http.MethodPost, "/v1/jvmindex/jobs/await", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/v1/jvmindex/jobs", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobsResp))
	assert.Len(t, jobsResp.Jobs, 1)
}

func TestHandlers_CloseViewAndPrune(t *testing.T) {
	s := setupTestServer(t, query.WithBackgroundIndexing(false))
	id := s.open(t)

	w := s.do(t, http.MethodDelete, "/v1/jvmindex/classpaths/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodDelete, "/v1/jvmindex/classpaths/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/v1/jvmindex/prune", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var prune PruneResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prune))
	assert.Empty(t, prune.Report.Archives)
}

func TestHandlers_RequestID(t *testing.T) {
	s := setupTestServer(t, query.WithBackgroundIndexing(false))

	req := httptest.NewRequest(http.MethodGet, "/v1/jvmindex/stats", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	w = s.do(t, http.MethodGet, "/v1/jvmindex/stats", nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"name", fmt.Errorf("bad: %w", validation.ErrInvalidName), http.StatusBadRequest, "INVALID_NAME"},
		{"class", fmt.Errorf("find: %w", query.ErrNotFound), http.StatusNotFound, "CLASS_NOT_FOUND"},
		{"method", &query.NotFoundError{Class: "a.B", Method: "c()V"}, http.StatusNotFound, "METHOD_NOT_FOUND"},
		{"archive", query.ErrArchiveNotFound, http.StatusBadRequest, "ARCHIVE_NOT_FOUND"},
		{"empty", query.ErrEmptyClasspath, http.StatusBadRequest, "EMPTY_CLASSPATH"},
		{"lift", &lift.MethodError{Class: "a.B", Method: "c()V", Err: lift.ErrMalformedBytecode}, http.StatusUnprocessableEntity, "LIFT_FAILED"},
		{"closed", query.ErrEngineClosed, http.StatusServiceUnavailable, "ENGINE_CLOSED"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	s := setupTestServer(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("jvmindex_jobs_in_flight 0\n"))
	})
	router := NewRouter(NewHandlers(s.engine, nil, nil), "jvmindex-test", metrics)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jvmindex_jobs_in_flight")
}
