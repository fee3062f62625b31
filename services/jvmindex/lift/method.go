// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lift

import (
	"errors"
	"sort"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classfile"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
)

// slot is the shape of one operand stack entry at a block boundary.
type slot struct {
	cat classfile.Category
	typ ir.TypeName
}

// block is a maximal straight-line run of instructions.
type block struct {
	pc    int
	first int // index into insns
	last  int // exclusive
	succ  []int

	reached bool
	entry   []slot

	// handler is set when the block starts an exception handler.
	handler *classfile.Handler
}

// methodLifter holds the per-method state shared by both passes.
type methodLifter struct {
	pool   classfile.Pool
	class  *ir.Class
	method *ir.Method
	code   *classfile.Code
	insns  []classfile.Insn

	blocks  []*block
	blockAt map[int]*block

	// paramTypes maps local slots holding parameters (and this) to their
	// declared types.
	paramTypes map[int]ir.TypeName
}

// liftMethod produces the body of one method. Failures are recorded on the
// returned body, never returned.
func liftMethod(f *classfile.File, class *ir.Class, m *ir.Method, raw *classfile.Member) *ir.Body {
	body := &ir.Body{Method: m.Key()}
	attr := raw.Attribute(classfile.AttrCode)
	if attr == nil {
		return body
	}

	code, err := classfile.ParseCode(attr.Data, f.Pool)
	if err != nil {
		body.Failure = &ir.Failure{Kind: ir.FailureMalformed, Message: "code attribute: " + err.Error()}
		return body
	}
	body.MaxStack, body.MaxLocals = code.MaxStack, code.MaxLocals

	ml := &methodLifter{pool: f.Pool, class: class, method: m, code: code}
	list, fail := ml.run()
	if fail != nil {
		body.Failure = &ir.Failure{Kind: fail.kind, PC: fail.pc, Message: fail.msg}
		return body
	}
	body.Instructions = list
	return body
}

func (ml *methodLifter) run() (ir.InstructionList, *failure) {
	insns, err := classfile.Decode(ml.code.Bytecode)
	if err != nil {
		pc := 0
		var pcErr *classfile.PCError
		if errors.As(err, &pcErr) {
			pc = pcErr.PC
		}
		return nil, malformed(pc, "%v", err)
	}
	ml.insns = insns
	for i := range insns {
		switch insns[i].Opcode {
		case classfile.Jsr, classfile.JsrW, classfile.Ret:
			return nil, unsupported(insns[i].PC, "%s subroutines are not supported", classfile.OpName(insns[i].Opcode))
		}
	}

	ml.bindParams()
	if f := ml.buildBlocks(); f != nil {
		return nil, f
	}
	if f := ml.inferShapes(); f != nil {
		return nil, f
	}
	return ml.emit()
}

func (ml *methodLifter) bindParams() {
	ml.paramTypes = make(map[int]ir.TypeName)
	slotN := 0
	if !ml.method.Access.Has(ir.AccStatic) {
		ml.paramTypes[0] = ir.TypeName(ml.class.Name)
		slotN = 1
	}
	mt, err := classfile.ParseMethodType(ml.method.Descriptor)
	if err != nil {
		return
	}
	for _, p := range mt.Params {
		ml.paramTypes[slotN] = p.Type
		slotN += p.Category.Words()
	}
}

// buildBlocks partitions the instructions at leaders: the entry, branch
// targets, instructions following a branch or terminator, and handler
// entry points.
func (ml *methodLifter) buildBlocks() *failure {
	leaders := map[int]bool{0: true}
	for i := range ml.insns {
		in := &ml.insns[i]
		for _, t := range in.Successors() {
			leaders[t] = true
		}
		if (classfile.IsBranch(in.Opcode) || classfile.EndsBlock(in.Opcode)) && i+1 < len(ml.insns) {
			leaders[ml.insns[i+1].PC] = true
		}
	}
	for _, h := range ml.code.Handlers {
		leaders[h.HandlerPC] = true
	}

	pcs := make([]int, 0, len(leaders))
	for pc := range leaders {
		pcs = append(pcs, pc)
	}
	sort.Ints(pcs)

	index := make(map[int]int, len(ml.insns))
	for i := range ml.insns {
		index[ml.insns[i].PC] = i
	}

	ml.blockAt = make(map[int]*block, len(pcs))
	for n, pc := range pcs {
		first, ok := index[pc]
		if !ok {
			return malformed(pc, "block leader %d is not an instruction boundary", pc)
		}
		last := len(ml.insns)
		if n+1 < len(pcs) {
			last = index[pcs[n+1]]
		}
		b := &block{pc: pc, first: first, last: last}
		ml.blocks = append(ml.blocks, b)
		ml.blockAt[pc] = b
	}

	for i := range ml.code.Handlers {
		h := &ml.code.Handlers[i]
		if b := ml.blockAt[h.HandlerPC]; b.handler == nil {
			b.handler = h
		}
	}

	for _, b := range ml.blocks {
		end := &ml.insns[b.last-1]
		next := end.PC + end.Len
		switch {
		case end.Opcode == classfile.Goto || end.Opcode == classfile.GotoW:
			b.succ = []int{end.Target}
		case end.Opcode == classfile.Tableswitch || end.Opcode == classfile.Lookupswitch:
			b.succ = end.Successors()
		case classfile.IsReturn(end.Opcode) || end.Opcode == classfile.Athrow:
			b.succ = nil
		case classfile.IsBranch(end.Opcode):
			b.succ = []int{end.Target, next}
		default:
			b.succ = []int{next}
		}
		for _, s := range b.succ {
			if s >= len(ml.code.Bytecode) {
				return malformed(end.PC, "control falls off the end of the code")
			}
		}
	}
	return nil
}

// inferShapes computes the operand stack shape at the entry of every
// reachable block. The first path to reach a block fixes its shape; every
// later path must agree in depth and per-slot category.
func (ml *methodLifter) inferShapes() *failure {
	var work []*block
	enqueue := func(b *block, shape []slot, from int) *failure {
		if !b.reached {
			b.reached = true
			b.entry = shape
			work = append(work, b)
			return nil
		}
		if !sameShape(b.entry, shape) {
			return shapeMismatch(from, "stack at pc %d is %s on one path and %s on another",
				b.pc, shapeString(b.entry), shapeString(shape))
		}
		return nil
	}

	if f := enqueue(ml.blocks[0], nil, 0); f != nil {
		return f
	}
	for _, h := range ml.code.Handlers {
		shape := []slot{{cat: classfile.CatRef, typ: catchType(&h)}}
		if f := enqueue(ml.blockAt[h.HandlerPC], shape, h.StartPC); f != nil {
			return f
		}
	}

	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]

		st := ml.newState(b, nil)
		if f := st.runBlock(b); f != nil {
			return f
		}
		exit := st.shape()
		end := ml.insns[b.last-1].PC
		for _, s := range b.succ {
			if f := enqueue(ml.blockAt[s], exit, end); f != nil {
				return f
			}
		}
	}
	return nil
}

// emit runs the second pass in PC order and returns the final list with
// branch targets rewritten from PCs to instruction indices.
func (ml *methodLifter) emit() (ir.InstructionList, *failure) {
	out := &emitter{}
	startOf := make(map[int]int, len(ml.blocks))

	for _, b := range ml.blocks {
		startOf[b.pc] = len(out.list)
		if !b.reached {
			for i := b.first; i < b.last; i++ {
				in := &ml.insns[i]
				out.add(ir.Instruction{Op: ir.OpOther, PC: in.PC, Opcode: in.Opcode, Operator: "unreachable " + classfile.OpName(in.Opcode)})
			}
			continue
		}
		st := ml.newState(b, out)
		if b.handler != nil && len(b.entry) == 1 {
			dst := ir.Stack(0, b.entry[0].typ)
			out.add(ir.Instruction{
				Op:   ir.OpAssign,
				PC:   b.pc,
				Dst:  &dst,
				Expr: ir.ExprCatch,
				Type: b.entry[0].typ,
			})
		}
		if f := st.runBlock(b); f != nil {
			return nil, f
		}
	}

	for i := range out.list {
		in := &out.list[i]
		if in.Op != ir.OpBranch {
			continue
		}
		for j, pc := range in.Targets {
			idx, ok := startOf[pc]
			if !ok {
				return nil, malformed(in.PC, "branch to %d does not start a block", pc)
			}
			in.Targets[j] = idx
		}
	}
	return out.list, nil
}

func catchType(h *classfile.Handler) ir.TypeName {
	if h.CatchType == "" {
		return "java.lang.Throwable"
	}
	return ir.TypeName(classfile.DottedName(h.CatchType))
}

func sameShape(a, b []slot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].cat != b[i].cat {
			return false
		}
	}
	return true
}

func shapeString(s []slot) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '[')
	for _, e := range s {
		out = append(out, e.cat.String()...)
	}
	out = append(out, ']')
	return string(out)
}

// emitter accumulates instructions and allocates temporaries. A nil
// emitter (first pass) still allocates temporaries but discards output.
type emitter struct {
	list  ir.InstructionList
	temps int
}

func (e *emitter) add(in ir.Instruction) {
	e.list = append(e.list, in)
}
