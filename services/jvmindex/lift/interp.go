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
	"strconv"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classfile"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
)

// value is one abstract operand stack entry.
type value struct {
	op  ir.Operand
	cat classfile.Category
}

// state interprets a single block. Locals and constants ride on the stack
// unevaluated; every instruction with an effect is emitted in order, and
// stack entries still live at the block exit are copied into the canonical
// stack variables s0..sN.
type state struct {
	ml    *methodLifter
	out   *emitter
	stack []value
	words int
	done  bool
}

func (ml *methodLifter) newState(b *block, out *emitter) *state {
	if out == nil {
		out = &emitter{}
	}
	st := &state{ml: ml, out: out}
	for i, s := range b.entry {
		st.push(ir.Stack(i, s.typ), s.cat)
	}
	return st
}

func (st *state) shape() []slot {
	if len(st.stack) == 0 {
		return nil
	}
	out := make([]slot, len(st.stack))
	for i, v := range st.stack {
		out[i] = slot{cat: v.cat, typ: v.op.Type}
	}
	return out
}

func (st *state) runBlock(b *block) *failure {
	for i := b.first; i < b.last; i++ {
		if f := st.step(&st.ml.insns[i]); f != nil {
			return f
		}
	}
	if !st.done && len(b.succ) > 0 {
		st.spill(st.ml.insns[b.last-1].PC, nil)
	}
	return nil
}

// ---------------------------------------------------------------------------
// stack primitives
// ---------------------------------------------------------------------------

func (st *state) push(op ir.Operand, cat classfile.Category) {
	st.stack = append(st.stack, value{op: op, cat: cat})
	st.words += cat.Words()
}

func (st *state) pop(pc int) (value, *failure) {
	if len(st.stack) == 0 {
		return value{}, malformed(pc, "operand stack underflow")
	}
	v := st.stack[len(st.stack)-1]
	st.stack = st.stack[:len(st.stack)-1]
	st.words -= v.cat.Words()
	return v, nil
}

func (st *state) popCat(pc int, want classfile.Category) (ir.Operand, *failure) {
	v, f := st.pop(pc)
	if f != nil {
		return ir.Operand{}, f
	}
	if v.cat != want {
		return ir.Operand{}, malformed(pc, "expected %s on the operand stack, found %s", want, v.cat)
	}
	return v.op, nil
}

// popN pops n values of the given categories, returned bottom first.
func (st *state) popN(pc int, cats []classfile.Category) ([]ir.Operand, *failure) {
	if len(cats) == 0 {
		return nil, nil
	}
	out := make([]ir.Operand, len(cats))
	for i := len(cats) - 1; i >= 0; i-- {
		op, f := st.popCat(pc, cats[i])
		if f != nil {
			return nil, f
		}
		out[i] = op
	}
	return out, nil
}

// popWords pops exactly n stack words, returned bottom first.
func (st *state) popWords(pc int, n int) ([]value, *failure) {
	var vals []value
	for n > 0 {
		v, f := st.pop(pc)
		if f != nil {
			return nil, f
		}
		w := v.cat.Words()
		if w > n {
			return nil, malformed(pc, "stack manipulation splits a two-word value")
		}
		n -= w
		vals = append(vals, v)
	}
	for i, j := 0, len(vals)-1; i < j; i, j = i+1, j-1 {
		vals[i], vals[j] = vals[j], vals[i]
	}
	return vals, nil
}

func (st *state) pushAll(vals []value) {
	for _, v := range vals {
		st.push(v.op, v.cat)
	}
}

// dupX copies the top copyWords words below the next skipWords words.
func (st *state) dupX(pc, copyWords, skipWords int) *failure {
	top, f := st.popWords(pc, copyWords)
	if f != nil {
		return f
	}
	under, f := st.popWords(pc, skipWords)
	if f != nil {
		return f
	}
	st.pushAll(top)
	st.pushAll(under)
	st.pushAll(top)
	return nil
}

func (st *state) temp(t ir.TypeName) ir.Operand {
	op := ir.Temp(st.out.temps, t)
	st.out.temps++
	return op
}

func (st *state) emit(in ir.Instruction) {
	st.out.add(in)
}

func (st *state) assign(in *classfile.Insn, expr ir.Expr, operator string, t ir.TypeName, cat classfile.Category, args ...ir.Operand) {
	dst := st.temp(t)
	st.emit(ir.Instruction{
		Op:       ir.OpAssign,
		PC:       in.PC,
		Opcode:   in.Opcode,
		Dst:      &dst,
		Expr:     expr,
		Operator: operator,
		Args:     args,
	})
	st.push(dst, cat)
}

// spillLocal materializes stack entries that still refer to local n before
// the local is overwritten. A two-word store also clobbers n+1, and any
// two-word value held in n-1.
func (st *state) spillLocal(in *classfile.Insn, n int, words int) {
	for i := range st.stack {
		op := st.stack[i].op
		if op.Kind != ir.OperandLocal {
			continue
		}
		lo, hi := op.Index, op.Index+st.stack[i].cat.Words()-1
		if hi < n || lo > n+words-1 {
			continue
		}
		dst := st.temp(op.Type)
		st.emit(ir.Instruction{Op: ir.OpAssign, PC: in.PC, Opcode: in.Opcode, Dst: &dst, Expr: ir.ExprCopy, Args: []ir.Operand{op}})
		for j := i; j < len(st.stack); j++ {
			if st.stack[j].op.Same(op) {
				st.stack[j].op = dst
			}
		}
	}
}

// spill assigns every live stack entry to its canonical variable s<i>.
// Entries already holding s<i> are left alone. Sources that would be
// overwritten before they are read, including operands of the terminating
// branch passed in protect, are first copied to temporaries.
func (st *state) spill(pc int, protect []ir.Operand) {
	dirty := make([]bool, len(st.stack))
	needed := false
	for i, v := range st.stack {
		if v.op.Kind != ir.OperandStack || v.op.Index != i {
			dirty[i] = true
			needed = true
		}
	}
	if !needed {
		return
	}

	saved := make(map[int]ir.Operand)
	rescue := func(op *ir.Operand) {
		if op.Kind != ir.OperandStack || op.Index >= len(dirty) || !dirty[op.Index] {
			return
		}
		if t, ok := saved[op.Index]; ok {
			*op = t
			return
		}
		t := st.temp(op.Type)
		src := *op
		st.emit(ir.Instruction{Op: ir.OpAssign, PC: pc, Dst: &t, Expr: ir.ExprCopy, Args: []ir.Operand{src}})
		saved[op.Index] = t
		*op = t
	}
	for i := range st.stack {
		rescue(&st.stack[i].op)
	}
	for i := range protect {
		rescue(&protect[i])
	}

	for i := range st.stack {
		if !dirty[i] {
			continue
		}
		dst := ir.Stack(i, st.stack[i].op.Type)
		st.emit(ir.Instruction{Op: ir.OpAssign, PC: pc, Dst: &dst, Expr: ir.ExprCopy, Args: []ir.Operand{st.stack[i].op}})
		st.stack[i].op = dst
	}
}

// terminate spills live entries and emits the block's final branch.
func (st *state) terminate(in ir.Instruction) {
	st.spill(in.PC, in.Args)
	st.emit(in)
	st.done = true
}

// ---------------------------------------------------------------------------
// opcode tables
// ---------------------------------------------------------------------------

var (
	kindCats  = [...]classfile.Category{classfile.CatInt, classfile.CatLong, classfile.CatFloat, classfile.CatDouble, classfile.CatRef}
	kindTypes = [...]ir.TypeName{ir.TypeInt, ir.TypeLong, ir.TypeFloat, ir.TypeDouble, ir.TypeObject}

	arrayCats  = [...]classfile.Category{classfile.CatInt, classfile.CatLong, classfile.CatFloat, classfile.CatDouble, classfile.CatRef, classfile.CatInt, classfile.CatInt, classfile.CatInt}
	arrayTypes = [...]ir.TypeName{ir.TypeInt, ir.TypeLong, ir.TypeFloat, ir.TypeDouble, ir.TypeObject, "byte", "char", "short"}

	arithOps = [...]string{"add", "sub", "mul", "div", "rem"}
	shiftOps = [...]string{"shl", "shr", "ushr"}
	logicOps = [...]string{"and", "or", "xor"}
	condOps  = [...]string{"eq", "ne", "lt", "ge", "gt", "le"}

	newarrayTypes = map[int]ir.TypeName{
		4: "boolean[]", 5: "char[]", 6: "float[]", 7: "double[]",
		8: "byte[]", 9: "short[]", 10: "int[]", 11: "long[]",
	}
)

type conversion struct {
	from, to classfile.Category
	typ      ir.TypeName
}

var conversions = map[uint8]conversion{
	classfile.I2l: {classfile.CatInt, classfile.CatLong, ir.TypeLong},
	classfile.I2f: {classfile.CatInt, classfile.CatFloat, ir.TypeFloat},
	classfile.I2d: {classfile.CatInt, classfile.CatDouble, ir.TypeDouble},
	classfile.L2i: {classfile.CatLong, classfile.CatInt, ir.TypeInt},
	classfile.L2f: {classfile.CatLong, classfile.CatFloat, ir.TypeFloat},
	classfile.L2d: {classfile.CatLong, classfile.CatDouble, ir.TypeDouble},
	classfile.F2i: {classfile.CatFloat, classfile.CatInt, ir.TypeInt},
	classfile.F2l: {classfile.CatFloat, classfile.CatLong, ir.TypeLong},
	classfile.F2d: {classfile.CatFloat, classfile.CatDouble, ir.TypeDouble},
	classfile.D2i: {classfile.CatDouble, classfile.CatInt, ir.TypeInt},
	classfile.D2l: {classfile.CatDouble, classfile.CatLong, ir.TypeLong},
	classfile.D2f: {classfile.CatDouble, classfile.CatFloat, ir.TypeFloat},
	classfile.I2b: {classfile.CatInt, classfile.CatInt, "byte"},
	classfile.I2c: {classfile.CatInt, classfile.CatInt, "char"},
	classfile.I2s: {classfile.CatInt, classfile.CatInt, "short"},
}

func formatFloat(v float64, bits int) string {
	return strconv.FormatFloat(v, 'g', -1, bits)
}

func (st *state) localType(n int, kind int) ir.TypeName {
	if t, ok := st.ml.paramTypes[n]; ok {
		if kindCats[kind] == categoryOf(t) {
			return t
		}
	}
	return kindTypes[kind]
}

func categoryOf(t ir.TypeName) classfile.Category {
	switch t {
	case ir.TypeLong:
		return classfile.CatLong
	case ir.TypeFloat:
		return classfile.CatFloat
	case ir.TypeDouble:
		return classfile.CatDouble
	case ir.TypeInt, "byte", "char", "short", "boolean":
		return classfile.CatInt
	default:
		return classfile.CatRef
	}
}

func (st *state) checkLocal(in *classfile.Insn, n, words int) *failure {
	if n+words > st.ml.code.MaxLocals {
		return malformed(in.PC, "local %d out of range (max_locals %d)", n, st.ml.code.MaxLocals)
	}
	return nil
}

// ---------------------------------------------------------------------------
// step
// ---------------------------------------------------------------------------

// step interprets one instruction.
func (st *state) step(in *classfile.Insn) *failure {
	op := in.Opcode
	pc := in.PC

	switch {
	case op == classfile.Nop:

	case op == classfile.AconstNull:
		st.push(ir.Null(), classfile.CatRef)
	case op >= classfile.IconstM1 && op <= classfile.Iconst5:
		st.push(ir.Const(strconv.Itoa(int(op)-int(classfile.Iconst0)), ir.TypeInt), classfile.CatInt)
	case op == classfile.Lconst0 || op == classfile.Lconst1:
		st.push(ir.Const(strconv.Itoa(int(op-classfile.Lconst0)), ir.TypeLong), classfile.CatLong)
	case op >= classfile.Fconst0 && op <= classfile.Fconst2:
		st.push(ir.Const(formatFloat(float64(op-classfile.Fconst0), 32), ir.TypeFloat), classfile.CatFloat)
	case op == classfile.Dconst0 || op == classfile.Dconst1:
		st.push(ir.Const(formatFloat(float64(op-classfile.Dconst0), 64), ir.TypeDouble), classfile.CatDouble)
	case op == classfile.Bipush || op == classfile.Sipush:
		st.push(ir.Const(strconv.Itoa(int(in.Const)), ir.TypeInt), classfile.CatInt)
	case op == classfile.Ldc || op == classfile.LdcW || op == classfile.Ldc2W:
		return st.ldc(in)

	case op >= classfile.Iload && op <= classfile.Aload:
		return st.load(in, in.Index, int(op-classfile.Iload))
	case op >= classfile.Iload0 && op <= classfile.Aload3:
		k := int(op - classfile.Iload0)
		return st.load(in, k%4, k/4)

	case op >= classfile.Iaload && op <= classfile.Saload:
		return st.arrayLoad(in, int(op-classfile.Iaload))

	case op >= classfile.Istore && op <= classfile.Astore:
		return st.store(in, in.Index, int(op-classfile.Istore))
	case op >= classfile.Istore0 && op <= classfile.Astore3:
		k := int(op - classfile.Istore0)
		return st.store(in, k%4, k/4)

	case op >= classfile.Iastore && op <= classfile.Sastore:
		return st.arrayStore(in, int(op-classfile.Iastore))

	case op == classfile.Pop:
		_, f := st.popWords(pc, 1)
		return f
	case op == classfile.Pop2:
		_, f := st.popWords(pc, 2)
		return f
	case op == classfile.Dup:
		return st.dupX(pc, 1, 0)
	case op == classfile.DupX1:
		return st.dupX(pc, 1, 1)
	case op == classfile.DupX2:
		return st.dupX(pc, 1, 2)
	case op == classfile.Dup2:
		return st.dupX(pc, 2, 0)
	case op == classfile.Dup2X1:
		return st.dupX(pc, 2, 1)
	case op == classfile.Dup2X2:
		return st.dupX(pc, 2, 2)
	case op == classfile.Swap:
		a, f := st.popWords(pc, 1)
		if f != nil {
			return f
		}
		b, f := st.popWords(pc, 1)
		if f != nil {
			return f
		}
		st.pushAll(a)
		st.pushAll(b)

	case op >= classfile.Iadd && op <= classfile.Drem:
		k := int(op - classfile.Iadd)
		return st.binary(in, arithOps[k/4], kindCats[k%4], kindCats[k%4], kindTypes[k%4])
	case op >= classfile.Ineg && op <= classfile.Dneg:
		k := int(op - classfile.Ineg)
		v, f := st.popCat(pc, kindCats[k])
		if f != nil {
			return f
		}
		st.assign(in, ir.ExprUnary, "neg", kindTypes[k], kindCats[k], v)
	case op >= classfile.Ishl && op <= classfile.Lushr:
		k := int(op - classfile.Ishl)
		return st.binary(in, shiftOps[k/2], kindCats[k%2], classfile.CatInt, kindTypes[k%2])
	case op >= classfile.Iand && op <= classfile.Lxor:
		k := int(op - classfile.Iand)
		return st.binary(in, logicOps[k/2], kindCats[k%2], kindCats[k%2], kindTypes[k%2])

	case op == classfile.Iinc:
		if f := st.checkLocal(in, in.Index, 1); f != nil {
			return f
		}
		st.spillLocal(in, in.Index, 1)
		local := ir.Local(in.Index, st.localType(in.Index, 0))
		st.emit(ir.Instruction{
			Op:       ir.OpAssign,
			PC:       pc,
			Opcode:   op,
			Dst:      &local,
			Expr:     ir.ExprBinary,
			Operator: "add",
			Args:     []ir.Operand{local, ir.Const(strconv.Itoa(int(in.Const)), ir.TypeInt)},
		})

	case op >= classfile.I2l && op <= classfile.I2s:
		c := conversions[op]
		v, f := st.popCat(pc, c.from)
		if f != nil {
			return f
		}
		st.assign(in, ir.ExprConvert, classfile.OpName(op), c.typ, c.to, v)

	case op == classfile.Lcmp:
		return st.compare(in, "cmp", classfile.CatLong)
	case op == classfile.Fcmpl || op == classfile.Fcmpg:
		return st.compare(in, classfile.OpName(op)[1:], classfile.CatFloat)
	case op == classfile.Dcmpl || op == classfile.Dcmpg:
		return st.compare(in, classfile.OpName(op)[1:], classfile.CatDouble)

	case op >= classfile.Ifeq && op <= classfile.Ifle:
		v, f := st.popCat(pc, classfile.CatInt)
		if f != nil {
			return f
		}
		st.branch(in, condOps[op-classfile.Ifeq], v, ir.Const("0", ir.TypeInt))
	case op >= classfile.IfIcmpeq && op <= classfile.IfIcmple:
		args, f := st.popN(pc, []classfile.Category{classfile.CatInt, classfile.CatInt})
		if f != nil {
			return f
		}
		st.branch(in, condOps[op-classfile.IfIcmpeq], args...)
	case op == classfile.IfAcmpeq || op == classfile.IfAcmpne:
		args, f := st.popN(pc, []classfile.Category{classfile.CatRef, classfile.CatRef})
		if f != nil {
			return f
		}
		st.branch(in, condOps[op-classfile.IfAcmpeq], args...)
	case op == classfile.Ifnull || op == classfile.Ifnonnull:
		v, f := st.popCat(pc, classfile.CatRef)
		if f != nil {
			return f
		}
		st.branch(in, condOps[op-classfile.Ifnull], v, ir.Null())
	case op == classfile.Goto || op == classfile.GotoW:
		st.branch(in, "goto")
	case op == classfile.Tableswitch || op == classfile.Lookupswitch:
		key, f := st.popCat(pc, classfile.CatInt)
		if f != nil {
			return f
		}
		st.terminate(ir.Instruction{
			Op:       ir.OpBranch,
			PC:       pc,
			Opcode:   op,
			Operator: "switch",
			Args:     []ir.Operand{key},
			Targets:  in.Successors(),
			Keys:     append([]int32(nil), in.Keys...),
		})

	case op >= classfile.Ireturn && op <= classfile.Areturn:
		v, f := st.popCat(pc, kindCats[op-classfile.Ireturn])
		if f != nil {
			return f
		}
		st.emit(ir.Instruction{Op: ir.OpReturn, PC: pc, Opcode: op, Args: []ir.Operand{v}})
		st.done = true
	case op == classfile.Return:
		st.emit(ir.Instruction{Op: ir.OpReturn, PC: pc, Opcode: op})
		st.done = true

	case op >= classfile.Getstatic && op <= classfile.Putfield:
		return st.field(in)
	case op >= classfile.Invokevirtual && op <= classfile.Invokeinterface:
		return st.invoke(in)
	case op == classfile.Invokedynamic:
		return st.invokeDynamic(in)

	case op == classfile.New:
		name, err := st.ml.pool.ClassName(uint16(in.Index))
		if err != nil {
			return malformed(pc, "new: %v", err)
		}
		t := ir.TypeName(classfile.DottedName(name))
		dst := st.temp(t)
		st.emit(ir.Instruction{Op: ir.OpAssign, PC: pc, Opcode: op, Dst: &dst, Expr: ir.ExprNew, Type: t})
		st.push(dst, classfile.CatRef)
	case op == classfile.Newarray:
		t, ok := newarrayTypes[in.Index]
		if !ok {
			return malformed(pc, "newarray: invalid element type %d", in.Index)
		}
		return st.newArray(in, t, 1)
	case op == classfile.Anewarray:
		name, err := st.ml.pool.ClassName(uint16(in.Index))
		if err != nil {
			return malformed(pc, "anewarray: %v", err)
		}
		return st.newArray(in, ir.TypeName(classfile.DottedName(name))+"[]", 1)
	case op == classfile.Multianewarray:
		name, err := st.ml.pool.ClassName(uint16(in.Index))
		if err != nil {
			return malformed(pc, "multianewarray: %v", err)
		}
		return st.newArray(in, ir.TypeName(classfile.DottedName(name)), in.Dims)
	case op == classfile.Arraylength:
		arr, f := st.popCat(pc, classfile.CatRef)
		if f != nil {
			return f
		}
		dst := st.temp(ir.TypeInt)
		st.emit(ir.Instruction{Op: ir.OpAssign, PC: pc, Opcode: op, Dst: &dst, Expr: ir.ExprArrayLength, Args: []ir.Operand{arr}})
		st.push(dst, classfile.CatInt)

	case op == classfile.Checkcast || op == classfile.Instanceof:
		name, err := st.ml.pool.ClassName(uint16(in.Index))
		if err != nil {
			return malformed(pc, "%s: %v", classfile.OpName(op), err)
		}
		t := ir.TypeName(classfile.DottedName(name))
		v, f := st.popCat(pc, classfile.CatRef)
		if f != nil {
			return f
		}
		if op == classfile.Checkcast {
			dst := st.temp(t)
			st.emit(ir.Instruction{Op: ir.OpAssign, PC: pc, Opcode: op, Dst: &dst, Expr: ir.ExprCast, Type: t, Args: []ir.Operand{v}})
			st.push(dst, classfile.CatRef)
		} else {
			dst := st.temp(ir.TypeInt)
			st.emit(ir.Instruction{Op: ir.OpAssign, PC: pc, Opcode: op, Dst: &dst, Expr: ir.ExprInstanceOf, Type: t, Args: []ir.Operand{v}})
			st.push(dst, classfile.CatInt)
		}

	case op == classfile.Athrow:
		v, f := st.popCat(pc, classfile.CatRef)
		if f != nil {
			return f
		}
		st.emit(ir.Instruction{Op: ir.OpOther, PC: pc, Opcode: op, Operator: "athrow", Args: []ir.Operand{v}})
		st.done = true
	case op == classfile.Monitorenter || op == classfile.Monitorexit:
		v, f := st.popCat(pc, classfile.CatRef)
		if f != nil {
			return f
		}
		st.emit(ir.Instruction{Op: ir.OpOther, PC: pc, Opcode: op, Operator: classfile.OpName(op), Args: []ir.Operand{v}})

	default:
		return unsupported(pc, "opcode %s", classfile.OpName(op))
	}

	return st.checkDepth(in)
}

func (st *state) load(in *classfile.Insn, n, kind int) *failure {
	cat := kindCats[kind]
	if f := st.checkLocal(in, n, cat.Words()); f != nil {
		return f
	}
	st.push(ir.Local(n, st.localType(n, kind)), cat)
	return st.checkDepth(in)
}

func (st *state) store(in *classfile.Insn, n, kind int) *failure {
	cat := kindCats[kind]
	if f := st.checkLocal(in, n, cat.Words()); f != nil {
		return f
	}
	v, f := st.pop(in.PC)
	if f != nil {
		return f
	}
	if v.cat != cat {
		return malformed(in.PC, "%s of %s value", classfile.OpName(in.Opcode), v.cat)
	}
	st.spillLocal(in, n, cat.Words())
	dst := ir.Local(n, st.localType(n, kind))
	if kind == 4 && v.op.Type != "" {
		dst.Type = v.op.Type
	}
	st.emit(ir.Instruction{Op: ir.OpAssign, PC: in.PC, Opcode: in.Opcode, Dst: &dst, Expr: ir.ExprCopy, Args: []ir.Operand{v.op}})
	return nil
}

func (st *state) checkDepth(in *classfile.Insn) *failure {
	if st.words > st.ml.code.MaxStack {
		return malformed(in.PC, "operand stack depth %d exceeds max_stack %d", st.words, st.ml.code.MaxStack)
	}
	return nil
}

func (st *state) binary(in *classfile.Insn, operator string, left, right classfile.Category, t ir.TypeName) *failure {
	args, f := st.popN(in.PC, []classfile.Category{left, right})
	if f != nil {
		return f
	}
	st.assign(in, ir.ExprBinary, operator, t, left, args...)
	return nil
}

func (st *state) compare(in *classfile.Insn, operator string, cat classfile.Category) *failure {
	args, f := st.popN(in.PC, []classfile.Category{cat, cat})
	if f != nil {
		return f
	}
	st.assign(in, ir.ExprCompare, operator, ir.TypeInt, classfile.CatInt, args...)
	return nil
}

func (st *state) branch(in *classfile.Insn, operator string, args ...ir.Operand) {
	targets := []int{in.Target}
	if operator != "goto" {
		targets = append(targets, in.PC+in.Len)
	}
	st.terminate(ir.Instruction{
		Op:       ir.OpBranch,
		PC:       in.PC,
		Opcode:   in.Opcode,
		Operator: operator,
		Args:     args,
		Targets:  targets,
	})
}

func (st *state) arrayLoad(in *classfile.Insn, kind int) *failure {
	idx, f := st.popCat(in.PC, classfile.CatInt)
	if f != nil {
		return f
	}
	arr, f := st.popCat(in.PC, classfile.CatRef)
	if f != nil {
		return f
	}
	t := arrayTypes[kind]
	if arr.Type.IsArray() {
		t = arr.Type.Elem()
	}
	dst := st.temp(t)
	st.emit(ir.Instruction{
		Op:      ir.OpFieldRead,
		PC:      in.PC,
		Opcode:  in.Opcode,
		Dst:     &dst,
		Object:  &arr,
		Args:    []ir.Operand{idx},
		Element: true,
	})
	st.push(dst, arrayCats[kind])
	return nil
}

func (st *state) arrayStore(in *classfile.Insn, kind int) *failure {
	v, f := st.popCat(in.PC, arrayCats[kind])
	if f != nil {
		return f
	}
	idx, f := st.popCat(in.PC, classfile.CatInt)
	if f != nil {
		return f
	}
	arr, f := st.popCat(in.PC, classfile.CatRef)
	if f != nil {
		return f
	}
	st.emit(ir.Instruction{
		Op:      ir.OpFieldWrite,
		PC:      in.PC,
		Opcode:  in.Opcode,
		Object:  &arr,
		Args:    []ir.Operand{idx, v},
		Element: true,
	})
	return nil
}

func (st *state) newArray(in *classfile.Insn, t ir.TypeName, dims int) *failure {
	cats := make([]classfile.Category, dims)
	for i := range cats {
		cats[i] = classfile.CatInt
	}
	counts, f := st.popN(in.PC, cats)
	if f != nil {
		return f
	}
	dst := st.temp(t)
	st.emit(ir.Instruction{Op: ir.OpAssign, PC: in.PC, Opcode: in.Opcode, Dst: &dst, Expr: ir.ExprNewArray, Type: t, Args: counts})
	st.push(dst, classfile.CatRef)
	return nil
}

func (st *state) field(in *classfile.Insn) *failure {
	ref, err := st.ml.pool.MemberRef(uint16(in.Index))
	if err != nil || ref.Tag != classfile.TagFieldref {
		return malformed(in.PC, "%s: invalid field reference #%d", classfile.OpName(in.Opcode), in.Index)
	}
	ft, err := classfile.ParseFieldType(ref.Descriptor)
	if err != nil {
		return malformed(in.PC, "%s: %v", classfile.OpName(in.Opcode), err)
	}
	target := &ir.MemberRef{Class: classfile.DottedName(ref.Owner), Name: ref.Name, Descriptor: ref.Descriptor}

	switch in.Opcode {
	case classfile.Getstatic, classfile.Getfield:
		read := ir.Instruction{Op: ir.OpFieldRead, PC: in.PC, Opcode: in.Opcode, Target: target}
		if in.Opcode == classfile.Getfield {
			obj, f := st.popCat(in.PC, classfile.CatRef)
			if f != nil {
				return f
			}
			read.Object = &obj
		}
		dst := st.temp(ft.Type)
		read.Dst = &dst
		st.emit(read)
		st.push(dst, ft.Category)
	default:
		v, f := st.popCat(in.PC, ft.Category)
		if f != nil {
			return f
		}
		write := ir.Instruction{Op: ir.OpFieldWrite, PC: in.PC, Opcode: in.Opcode, Target: target, Args: []ir.Operand{v}}
		if in.Opcode == classfile.Putfield {
			obj, f := st.popCat(in.PC, classfile.CatRef)
			if f != nil {
				return f
			}
			write.Object = &obj
		}
		st.emit(write)
	}
	return st.checkDepth(in)
}

var callKinds = map[uint8]ir.CallKind{
	classfile.Invokevirtual:   ir.CallVirtual,
	classfile.Invokespecial:   ir.CallSpecial,
	classfile.Invokestatic:    ir.CallStatic,
	classfile.Invokeinterface: ir.CallInterface,
}

func (st *state) invoke(in *classfile.Insn) *failure {
	ref, err := st.ml.pool.MemberRef(uint16(in.Index))
	if err != nil || ref.Tag == classfile.TagFieldref {
		return malformed(in.PC, "%s: invalid method reference #%d", classfile.OpName(in.Opcode), in.Index)
	}
	mt, err := classfile.ParseMethodType(ref.Descriptor)
	if err != nil {
		return malformed(in.PC, "%s: %v", classfile.OpName(in.Opcode), err)
	}
	args, f := st.popN(in.PC, paramCats(mt))
	if f != nil {
		return f
	}
	call := ir.Instruction{
		Op:     ir.OpCall,
		PC:     in.PC,
		Opcode: in.Opcode,
		Call:   callKinds[in.Opcode],
		Args:   args,
		Target: &ir.MemberRef{
			Class:      classfile.DottedName(ref.Owner),
			Name:       ref.Name,
			Descriptor: ref.Descriptor,
			Interface:  ref.Tag == classfile.TagInterfaceMethodref,
		},
	}
	if in.Opcode != classfile.Invokestatic {
		recv, f := st.popCat(in.PC, classfile.CatRef)
		if f != nil {
			return f
		}
		call.Object = &recv
	}
	if mt.Return.Category != classfile.CatVoid {
		dst := st.temp(mt.Return.Type)
		call.Dst = &dst
		st.emit(call)
		st.push(dst, mt.Return.Category)
		return st.checkDepth(in)
	}
	st.emit(call)
	return nil
}

// invokeDynamic is kept as an Other instruction marked unsupported, with
// its stack effect taken from the call site descriptor.
func (st *state) invokeDynamic(in *classfile.Insn) *failure {
	name, desc, err := st.ml.pool.InvokeDynamic(uint16(in.Index))
	if err != nil {
		return malformed(in.PC, "invokedynamic: %v", err)
	}
	mt, err := classfile.ParseMethodType(desc)
	if err != nil {
		return malformed(in.PC, "invokedynamic: %v", err)
	}
	args, f := st.popN(in.PC, paramCats(mt))
	if f != nil {
		return f
	}
	other := ir.Instruction{
		Op:          ir.OpOther,
		PC:          in.PC,
		Opcode:      in.Opcode,
		Operator:    "invokedynamic",
		Call:        ir.CallDynamic,
		Target:      &ir.MemberRef{Name: name, Descriptor: desc},
		Args:        args,
		Unsupported: true,
	}
	if mt.Return.Category != classfile.CatVoid {
		dst := st.temp(mt.Return.Type)
		other.Dst = &dst
		st.emit(other)
		st.push(dst, mt.Return.Category)
		return st.checkDepth(in)
	}
	st.emit(other)
	return nil
}

func (st *state) ldc(in *classfile.Insn) *failure {
	c, err := st.ml.pool.Entry(uint16(in.Index))
	if err != nil {
		return malformed(in.PC, "%s: %v", classfile.OpName(in.Opcode), err)
	}
	wide := in.Opcode == classfile.Ldc2W
	if wide != (c.Tag == classfile.TagLong || c.Tag == classfile.TagDouble) {
		return malformed(in.PC, "%s of constant tag %d", classfile.OpName(in.Opcode), c.Tag)
	}

	switch c.Tag {
	case classfile.TagInteger:
		st.push(ir.Const(strconv.FormatInt(c.Int, 10), ir.TypeInt), classfile.CatInt)
	case classfile.TagFloat:
		st.push(ir.Const(formatFloat(c.Float, 32), ir.TypeFloat), classfile.CatFloat)
	case classfile.TagLong:
		st.push(ir.Const(strconv.FormatInt(c.Int, 10), ir.TypeLong), classfile.CatLong)
	case classfile.TagDouble:
		st.push(ir.Const(formatFloat(c.Float, 64), ir.TypeDouble), classfile.CatDouble)
	case classfile.TagString:
		s, err := st.ml.pool.Utf8(c.Index1)
		if err != nil {
			return malformed(in.PC, "ldc: %v", err)
		}
		st.push(ir.Const(strconv.Quote(s), ir.TypeString), classfile.CatRef)
	case classfile.TagClass:
		name, err := st.ml.pool.ClassName(uint16(in.Index))
		if err != nil {
			return malformed(in.PC, "ldc: %v", err)
		}
		st.push(ir.Const(classfile.DottedName(name)+".class", ir.TypeClass), classfile.CatRef)
	case classfile.TagMethodType:
		desc, err := st.ml.pool.Utf8(c.Index1)
		if err != nil {
			return malformed(in.PC, "ldc: %v", err)
		}
		st.push(ir.Const(desc, "java.lang.invoke.MethodType"), classfile.CatRef)
	case classfile.TagMethodHandle:
		ref, err := st.ml.pool.MemberRef(c.Index1)
		if err != nil {
			return malformed(in.PC, "ldc: %v", err)
		}
		v := classfile.DottedName(ref.Owner) + "." + ref.Name + ref.Descriptor
		st.push(ir.Const(v, "java.lang.invoke.MethodHandle"), classfile.CatRef)
	case classfile.TagDynamic:
		name, desc, err := st.ml.pool.InvokeDynamic(uint16(in.Index))
		if err != nil {
			return malformed(in.PC, "ldc: %v", err)
		}
		ft, err := classfile.ParseFieldType(desc)
		if err != nil {
			return malformed(in.PC, "ldc: %v", err)
		}
		dst := st.temp(ft.Type)
		st.emit(ir.Instruction{
			Op:          ir.OpOther,
			PC:          in.PC,
			Opcode:      in.Opcode,
			Dst:         &dst,
			Operator:    "ldc",
			Target:      &ir.MemberRef{Name: name, Descriptor: desc},
			Unsupported: true,
		})
		st.push(dst, ft.Category)
	default:
		return malformed(in.PC, "ldc of constant tag %d", c.Tag)
	}
	return st.checkDepth(in)
}

func paramCats(mt classfile.MethodType) []classfile.Category {
	cats := make([]classfile.Category, len(mt.Params))
	for i, p := range mt.Params {
		cats[i] = p.Category
	}
	return cats
}
