// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve binds member references in lifted code to the classes
// of a classpath view.
//
// Resolution never fails: a reference whose class or member cannot be
// found becomes an unresolved symbol carrying the looked-up name. Results
// are memoized per Resolver, and a Resolver belongs to exactly one view,
// so an index update made by another view cannot change answers mid-view.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
)

// ErrNotFound is returned by a Source for a class no archive provides.
var ErrNotFound = errors.New("class not found")

// Source looks up class descriptors in precedence order.
type Source interface {
	// Describe returns the descriptor of the first class named name on the
	// classpath, with the path of the archive that supplied it.
	Describe(ctx context.Context, name string) (*ir.Class, string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, name string) (*ir.Class, string, error)

// Describe implements Source.
func (f SourceFunc) Describe(ctx context.Context, name string) (*ir.Class, string, error) {
	return f(ctx, name)
}

type classResult struct {
	class   *ir.Class
	archive string
	found   bool
}

// Resolver resolves references against one Source with memoization.
//
// Thread Safety: Safe for concurrent use.
type Resolver struct {
	src    Source
	logger *slog.Logger

	mu      sync.Mutex
	classes map[string]classResult
	members map[ir.MemberRef]ir.SymbolRef
}

// New creates a resolver over src. A nil logger means slog.Default().
func New(src Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		src:     src,
		logger:  logger,
		classes: make(map[string]classResult),
		members: make(map[ir.MemberRef]ir.SymbolRef),
	}
}

// lookup returns the memoized descriptor of name, consulting the source on
// first use. Lookups interrupted by ctx are not memoized.
func (r *Resolver) lookup(ctx context.Context, name string) classResult {
	r.mu.Lock()
	res, ok := r.classes[name]
	r.mu.Unlock()
	if ok {
		recordMemo(ctx, "class", true)
		return res
	}
	recordMemo(ctx, "class", false)

	c, archive, err := r.src.Describe(ctx, name)
	switch {
	case err == nil:
		res = classResult{class: c, archive: archive, found: true}
	case ctx.Err() != nil:
		return classResult{}
	default:
		if !errors.Is(err, ErrNotFound) {
			r.logger.Debug("class lookup failed",
				slog.String("class", name),
				slog.String("error", err.Error()))
		}
	}

	r.mu.Lock()
	if prev, ok := r.classes[name]; ok {
		res = prev
	} else {
		r.classes[name] = res
	}
	r.mu.Unlock()
	return res
}

// Class resolves a class name.
func (r *Resolver) Class(ctx context.Context, name string) ir.SymbolRef {
	if ir.TypeName(name).IsArray() {
		return ir.SymbolRef{Kind: ir.SymbolClass, Name: name, Class: name}
	}
	res := r.lookup(ctx, name)
	if !res.found {
		return ir.Unresolved(name)
	}
	return ir.SymbolRef{Kind: ir.SymbolClass, Name: name, Class: res.class.Name, Archive: res.archive}
}

// Resolve binds a field or method reference to its declaration.
//
// Description:
//
//	Methods are looked up in the named class and its superclasses, then
//	in its superinterfaces breadth first. Fields are looked up in the
//	named class, its superinterfaces, then its superclass, recursively.
//	Members of array types resolve against java.lang.Object.
//
// Outputs:
//
//	ir.SymbolRef - The declaration, or Unresolved naming the missing
//	               class ("absent.Class") or member ("Owner.member").
//	               Array members always name the member ("int[].clone").
func (r *Resolver) Resolve(ctx context.Context, ref ir.MemberRef) ir.SymbolRef {
	r.mu.Lock()
	sym, ok := r.members[ref]
	r.mu.Unlock()
	if ok {
		recordMemo(ctx, "member", true)
		return sym
	}
	recordMemo(ctx, "member", false)

	owner := ref.Class
	if ir.TypeName(owner).IsArray() {
		owner = string(ir.TypeObject)
	}
	if r.lookup(ctx, owner).found {
		if isMethod(ref.Descriptor) {
			sym = r.method(ctx, owner, ref)
		} else {
			sym = r.field(ctx, owner, ref, map[string]bool{})
		}
		if !sym.Resolved() {
			sym = ir.Unresolved(ref.Class + "." + ref.Name)
		}
	} else if owner != ref.Class {
		sym = ir.Unresolved(ref.Class + "." + ref.Name)
	} else {
		sym = ir.Unresolved(owner)
	}
	if ctx.Err() != nil {
		return sym
	}

	r.mu.Lock()
	r.members[ref] = sym
	r.mu.Unlock()
	return sym
}

// Bind sets Symbol on every instruction of body that has a target.
func (r *Resolver) Bind(ctx context.Context, body *ir.Body) {
	for i := range body.Instructions {
		in := &body.Instructions[i]
		if in.Target == nil {
			continue
		}
		sym := r.Resolve(ctx, *in.Target)
		in.Symbol = &sym
	}
}

func isMethod(descriptor string) bool {
	return len(descriptor) > 0 && descriptor[0] == '('
}

func (r *Resolver) declared(name string, c *ir.Class, archive string, ref ir.MemberRef) (ir.SymbolRef, bool) {
	if isMethod(ref.Descriptor) {
		if c.Method(ref.Name+ref.Descriptor) == nil {
			return ir.SymbolRef{}, false
		}
		return ir.SymbolRef{Kind: ir.SymbolMethod, Name: ref.Class + "." + ref.Name, Class: name, Member: ref.Name, Descriptor: ref.Descriptor, Archive: archive}, true
	}
	if c.Field(ref.Name, ref.Descriptor) == nil {
		return ir.SymbolRef{}, false
	}
	return ir.SymbolRef{Kind: ir.SymbolField, Name: ref.Class + "." + ref.Name, Class: name, Member: ref.Name, Descriptor: ref.Descriptor, Archive: archive}, true
}

func (r *Resolver) method(ctx context.Context, owner string, ref ir.MemberRef) ir.SymbolRef {
	seen := map[string]bool{}
	var ifaces []string

	// Superclass chain first. For an interface owner the chain is the
	// interface itself followed by java.lang.Object.
	for name := owner; name != "" && !seen[name]; {
		seen[name] = true
		res := r.lookup(ctx, name)
		if !res.found {
			break
		}
		if sym, ok := r.declared(res.class.Name, res.class, res.archive, ref); ok {
			return sym
		}
		ifaces = append(ifaces, res.class.Interfaces...)
		if res.class.IsInterface() {
			name = string(ir.TypeObject)
		} else {
			name = res.class.Super
		}
	}

	for len(ifaces) > 0 {
		name := ifaces[0]
		ifaces = ifaces[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		res := r.lookup(ctx, name)
		if !res.found {
			continue
		}
		if sym, ok := r.declared(res.class.Name, res.class, res.archive, ref); ok {
			return sym
		}
		ifaces = append(ifaces, res.class.Interfaces...)
	}
	return ir.SymbolRef{}
}

func (r *Resolver) field(ctx context.Context, name string, ref ir.MemberRef, seen map[string]bool) ir.SymbolRef {
	if name == "" || seen[name] {
		return ir.SymbolRef{}
	}
	seen[name] = true
	res := r.lookup(ctx, name)
	if !res.found {
		return ir.SymbolRef{}
	}
	if sym, ok := r.declared(res.class.Name, res.class, res.archive, ref); ok {
		return sym
	}
	for _, iface := range res.class.Interfaces {
		if sym := r.field(ctx, iface, ref, seen); sym.Resolved() {
			return sym
		}
	}
	return r.field(ctx, res.class.Super, ref, seen)
}
