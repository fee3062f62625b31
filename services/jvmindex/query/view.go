// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classfile"
	"github.com/AleutianAI/jvmindex/services/jvmindex/classpath"
	"github.com/AleutianAI/jvmindex/services/jvmindex/index"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ingest"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
	"github.com/AleutianAI/jvmindex/services/jvmindex/jobs"
	"github.com/AleutianAI/jvmindex/services/jvmindex/lift"
	"github.com/AleutianAI/jvmindex/services/jvmindex/resolve"
)

// State is the indexing state of a view.
type State int

const (
	// StateOpened is a view whose archives are open but not yet compared
	// with the index.
	StateOpened State = iota

	// StateIndexing is a view with background walks or on-demand lifts in
	// flight.
	StateIndexing

	// StateReady is a view with nothing in flight.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateIndexing:
		return "indexing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateOpened, StateIndexing, StateReady} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown view state %q", b)
}

type location struct {
	archive classpath.Archive
	key     index.Key
}

// View is one classpath: archives in precedence order plus the resolution
// memo for queries against it.
//
// Thread Safety: Safe for concurrent use.
type View struct {
	id       string
	e        *Engine
	openedAt time.Time

	mu       sync.Mutex
	archives []classpath.Archive
	retired  []classpath.Archive
	located  map[string]location
	resolver *resolve.Resolver
	state    State
	pending  int
	filling  map[string]int
	closed   bool

	flight singleflight.Group
}

func newView(e *Engine, id string, archives []classpath.Archive) *View {
	v := &View{
		id:       id,
		e:        e,
		openedAt: time.Now(),
		archives: archives,
		located:  make(map[string]location),
		filling:  make(map[string]int),
	}
	v.resolver = resolve.New(resolve.SourceFunc(v.describe), e.logger)
	return v
}

// ID returns the view identifier.
func (v *View) ID() string { return v.id }

// State returns the current indexing state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// ArchiveInfo describes one archive of a view.
type ArchiveInfo struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// ViewInfo is a snapshot of a view.
type ViewInfo struct {
	ID       string        `json:"id"`
	State    State         `json:"state"`
	Archives []ArchiveInfo `json:"archives"`
	Pending  int           `json:"pending_jobs"`
	Filling  int           `json:"filling_classes"`
	OpenedAt time.Time     `json:"opened_at"`
}

// Info returns a snapshot of the view.
func (v *View) Info() ViewInfo {
	v.mu.Lock()
	defer v.mu.Unlock()
	info := ViewInfo{
		ID:       v.id,
		State:    v.state,
		Pending:  v.pending,
		Filling:  len(v.filling),
		OpenedAt: v.openedAt,
	}
	for _, a := range v.archives {
		info.Archives = append(info.Archives, ArchiveInfo{Path: a.Path(), Hash: a.Hash()})
	}
	return info
}

// settle derives the state from in-flight work. Caller holds mu.
func (v *View) settle() {
	if v.pending > 0 || len(v.filling) > 0 {
		v.state = StateIndexing
	} else {
		v.state = StateReady
	}
}

// opened ends the Opened state once the archives have been reconciled.
func (v *View) opened() {
	v.mu.Lock()
	v.settle()
	v.mu.Unlock()
}

// track keeps the view Indexing until j finishes.
func (v *View) track(j *jobs.Job) {
	v.mu.Lock()
	v.pending++
	v.state = StateIndexing
	v.mu.Unlock()
	go func() {
		<-j.Done()
		v.mu.Lock()
		v.pending--
		if v.state != StateOpened {
			v.settle()
		}
		v.mu.Unlock()
	}()
}

func (v *View) beginFill(name string) {
	v.mu.Lock()
	v.filling[name]++
	v.state = StateIndexing
	v.mu.Unlock()
}

func (v *View) endFill(name string) {
	v.mu.Lock()
	if v.filling[name]--; v.filling[name] <= 0 {
		delete(v.filling, name)
	}
	v.settle()
	v.mu.Unlock()
}

func (v *View) contains(path string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, a := range v.archives {
		if a.Path() == path {
			return true
		}
	}
	return false
}

// refresh re-opens archives whose content changed on disk, drops the ones
// that disappeared, and schedules walks for the new content. A change
// resets the located classes and the resolution memo. It returns the
// number of archives that changed.
func (v *View) refresh(ctx context.Context) (int, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return 0, ErrViewClosed
	}
	archives := append([]classpath.Archive(nil), v.archives...)
	v.mu.Unlock()

	changed := 0
	for _, old := range archives {
		stale, err := old.Changed()
		if err != nil {
			v.e.logger.Warn("archive freshness check failed",
				slog.String("view_id", v.id),
				slog.String("archive", old.Path()),
				slog.String("error", err.Error()))
			continue
		}
		if !stale {
			continue
		}

		fresh, err := classpath.Open(old.Path())
		if err != nil && !errors.Is(err, classpath.ErrArchiveNotFound) {
			return changed, err
		}
		if !v.replace(old, fresh) {
			if fresh != nil {
				fresh.Close()
			}
			continue
		}
		changed++

		attrs := []any{slog.String("view_id", v.id), slog.String("archive", old.Path())}
		if fresh == nil {
			v.e.logger.Info("archive removed from view", attrs...)
			continue
		}
		v.e.logger.Info("archive changed, re-indexing", attrs...)
		if err := v.e.reconcile(ctx, v, fresh); err != nil {
			v.e.logger.Warn("archive not scheduled for indexing", append(attrs, slog.String("error", err.Error()))...)
		}
	}
	return changed, nil
}

// replace swaps old for fresh, or removes old when fresh is nil. It
// reports false when old is no longer in the view.
func (v *View) replace(old, fresh classpath.Archive) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, a := range v.archives {
		if a != old {
			continue
		}
		if fresh == nil {
			v.archives = append(v.archives[:i], v.archives[i+1:]...)
		} else {
			v.archives[i] = fresh
		}
		// Readers may still hold old; it is closed with the view.
		v.retired = append(v.retired, old)
		v.located = make(map[string]location)
		v.resolver = resolve.New(resolve.SourceFunc(v.describe), v.e.logger)
		return true
	}
	return false
}

// locate finds the first archive holding name and keys the class by the
// hash of its current bytes.
func (v *View) locate(name string) (location, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return location{}, ErrViewClosed
	}
	if loc, ok := v.located[name]; ok {
		v.mu.Unlock()
		return loc, nil
	}
	archives := append([]classpath.Archive(nil), v.archives...)
	v.mu.Unlock()

	for _, a := range archives {
		if !a.Contains(name) {
			continue
		}
		raw, err := a.ReadBytes(name)
		if err != nil {
			return location{}, err
		}
		loc := location{archive: a, key: index.Key{Name: name, Hash: classpath.HashBytes(raw)}}
		v.mu.Lock()
		if !v.closed && v.current(a) {
			v.located[name] = loc
		}
		v.mu.Unlock()
		return loc, nil
	}
	return location{}, &NotFoundError{View: v.id, Class: name}
}

// current reports whether a is still one of the view's archives. Caller
// holds mu.
func (v *View) current(a classpath.Archive) bool {
	for _, x := range v.archives {
		if x == a {
			return true
		}
	}
	return false
}

// entry returns the index entry for name, lifting the class when the index
// misses. Only that class goes back to indexing.
func (v *View) entry(ctx context.Context, name string) (*index.Entry, location, error) {
	loc, err := v.locate(name)
	if err != nil {
		return nil, loc, err
	}
	e, err := v.e.idx.Get(ctx, loc.key)
	if err == nil {
		return e, loc, nil
	}
	if !errors.Is(err, index.ErrMiss) {
		return nil, loc, err
	}

	v.beginFill(name)
	defer v.endFill(name)
	res, err, _ := v.flight.Do(loc.key.Name+"/"+loc.key.Hash, func() (any, error) {
		raw, err := loc.archive.ReadBytes(name)
		if err != nil {
			return nil, err
		}
		if classpath.HashBytes(raw) != loc.key.Hash {
			return nil, &ingest.ClassError{Archive: loc.archive.Path(), Class: name, Err: ingest.ErrHashMismatch}
		}
		e, filled, err := v.e.ing.ClassBytes(ctx, loc.archive, name, raw)
		if err != nil {
			return nil, err
		}
		if filled {
			recordFill(ctx)
			v.e.logger.Debug("class lifted on demand",
				slog.String("view_id", v.id),
				slog.String("class", name),
				slog.String("archive", loc.archive.Path()))
		}
		return e, nil
	})
	if err != nil {
		return nil, loc, err
	}
	return res.(*index.Entry), loc, nil
}

// describe serves the resolver. It reads through the index without the
// freshness check, which the calling query has already done.
func (v *View) describe(ctx context.Context, name string) (*ir.Class, string, error) {
	e, loc, err := v.entry(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, "", resolve.ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	c, err := ir.DecodeClass(e.Class)
	if err != nil {
		return nil, "", err
	}
	return c, loc.archive.Path(), nil
}

// FindClass returns the descriptor of the first class named name in the
// view's archives.
//
// Description:
//
//	Re-checks the view's archives for changes, locates the class, and
//	reads it from the index under the hash of its current bytes. On a miss
//	the class is lifted and written before returning; no other class or
//	job is waited on.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	name - Class name, dotted (com.example.Foo) or internal
//	       (com/example/Foo).
//
// Outputs:
//
//	*ir.Class - A fresh copy of the descriptor.
//	error - *NotFoundError (ErrNotFound) when absent, or an error wrapping
//	        lift.ErrMalformedBytecode or classpath.ErrCorrupt.
func (v *View) FindClass(ctx context.Context, name string) (*ir.Class, error) {
	ctx, span := startSpan(ctx, "FindClass", attribute.String("class", name))
	defer span.End()
	start := time.Now()

	c, err := v.findClass(ctx, name)
	recordQuery(ctx, "find_class", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
	}
	return c, err
}

func (v *View) findClass(ctx context.Context, name string) (*ir.Class, error) {
	if _, err := v.refresh(ctx); err != nil {
		return nil, err
	}
	e, _, err := v.entry(ctx, classfile.DottedName(name))
	if err != nil {
		return nil, err
	}
	return ir.DecodeClass(e.Class)
}

// MethodsOf returns the methods of c in declaration order.
func (v *View) MethodsOf(c *ir.Class) []ir.Method {
	return append([]ir.Method(nil), c.Methods...)
}

// InstructionsOf returns the lifted body of m with call and field targets
// resolved against the view.
//
// Description:
//
//	Reads the owner's entry from the index, lifting the class first when
//	the index misses. Every instruction with a target gets its Symbol set;
//	references the view cannot satisfy become unresolved symbols rather
//	than errors.
//
// Outputs:
//
//	ir.InstructionList - The body. Empty for abstract and native methods.
//	error - *NotFoundError when the owner or method is absent, or a
//	        *lift.MethodError when the body could not be lifted.
func (v *View) InstructionsOf(ctx context.Context, m *ir.Method) (ir.InstructionList, error) {
	ctx, span := startSpan(ctx, "InstructionsOf",
		attribute.String("class", m.Owner),
		attribute.String("method", m.Key()))
	defer span.End()
	start := time.Now()

	list, err := v.instructionsOf(ctx, m)
	recordQuery(ctx, "instructions_of", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
	}
	return list, err
}

func (v *View) instructionsOf(ctx context.Context, m *ir.Method) (ir.InstructionList, error) {
	if _, err := v.refresh(ctx); err != nil {
		return nil, err
	}
	e, _, err := v.entry(ctx, m.Owner)
	if err != nil {
		return nil, err
	}
	c, err := ir.DecodeClass(e.Class)
	if err != nil {
		return nil, err
	}
	key := m.Key()
	pos := -1
	for i := range c.Methods {
		if c.Methods[i].Key() == key {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, &NotFoundError{View: v.id, Class: m.Owner, Method: key}
	}
	body, err := e.Body(pos)
	if err != nil {
		return nil, fmt.Errorf("decoding %s.%s: %w", m.Owner, key, err)
	}

	v.mu.Lock()
	r := v.resolver
	v.mu.Unlock()
	r.Bind(ctx, body)
	return body.Instructions, lift.BodyError(c.Name, body)
}

// Method returns the method of class with the given key (name followed
// by descriptor).
func (v *View) Method(ctx context.Context, class, key string) (*ir.Method, error) {
	c, err := v.FindClass(ctx, class)
	if err != nil {
		return nil, err
	}
	m := c.Method(key)
	if m == nil {
		return nil, &NotFoundError{View: v.id, Class: class, Method: key}
	}
	return m, nil
}

// Resolve binds a member reference against the view.
func (v *View) Resolve(ctx context.Context, ref ir.MemberRef) ir.SymbolRef {
	v.mu.Lock()
	r := v.resolver
	v.mu.Unlock()
	return r.Resolve(ctx, ref)
}

// Close releases the view's archives. Background walks it started keep
// running; their results stay in the shared index.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	archives := append(v.archives, v.retired...)
	v.archives, v.retired = nil, nil
	v.located = nil
	v.mu.Unlock()

	v.e.forget(v.id)
	recordViews(context.Background(), -1)

	var errs []error
	for _, a := range archives {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
