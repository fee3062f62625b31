// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classfile

import (
	"fmt"
)

// Insn is one decoded bytecode instruction with operands normalized:
// wide forms are folded into their base opcode and branch offsets are
// converted to absolute code offsets.
type Insn struct {
	PC     int
	Opcode uint8
	Len    int
	Wide   bool

	// Index is a constant pool index, a local variable index, or the
	// primitive array type code of newarray.
	Index int
	// Const is the immediate of bipush/sipush or the increment of iinc.
	Const int32
	// Dims is the dimension count of multianewarray.
	Dims int

	// Target is the absolute target of a conditional or unconditional
	// branch, and the default target of a switch.
	Target int
	// Keys and Targets hold the cases of a switch, in encoded order.
	Keys    []int32
	Targets []int
}

// Successors returns the explicit branch targets of the instruction:
// Target for branches, then every switch case.
func (in *Insn) Successors() []int {
	switch {
	case in.Opcode == Tableswitch || in.Opcode == Lookupswitch:
		out := make([]int, 0, len(in.Targets)+1)
		out = append(out, in.Target)
		return append(out, in.Targets...)
	case IsBranch(in.Opcode):
		return []int{in.Target}
	}
	return nil
}

// Decode splits a code array into instructions.
//
// Description:
//
//	Walks the code array once, reading every operand. Branch targets are
//	checked to land on instruction boundaries inside the array.
//
// Outputs:
//
//	[]Insn - Instructions in PC order.
//	error - *PCError wrapping ErrBadOpcode, ErrTruncated or ErrBadBranch.
func Decode(code []byte) ([]Insn, error) {
	r := newReader(code)
	var out []Insn
	for r.remaining() > 0 {
		pc := r.off
		in, err := decodeOne(r, pc)
		if err != nil {
			return nil, &PCError{PC: pc, Err: err}
		}
		in.Len = r.off - pc
		out = append(out, in)
	}

	starts := make(map[int]bool, len(out))
	for i := range out {
		starts[out[i].PC] = true
	}
	for i := range out {
		for _, t := range out[i].Successors() {
			if !starts[t] {
				return nil, &PCError{PC: out[i].PC, Err: fmt.Errorf("%w: %d", ErrBadBranch, t)}
			}
		}
	}
	return out, nil
}

func decodeOne(r *reader, pc int) (Insn, error) {
	op, err := r.u8()
	if err != nil {
		return Insn{}, err
	}
	in := Insn{PC: pc, Opcode: op}

	switch {
	case op > JsrW:
		return in, fmt.Errorf("%w: 0x%02x", ErrBadOpcode, op)

	case op == Bipush:
		v, err := r.u8()
		in.Const = int32(int8(v))
		return in, err

	case op == Sipush:
		v, err := r.u16()
		in.Const = int32(int16(v))
		return in, err

	case op == Ldc, op == Newarray,
		op >= Iload && op <= Aload,
		op >= Istore && op <= Astore,
		op == Ret:
		v, err := r.u8()
		in.Index = int(v)
		return in, err

	case op == LdcW, op == Ldc2W,
		op >= Getstatic && op <= Invokestatic,
		op == New, op == Anewarray, op == Checkcast, op == Instanceof:
		v, err := r.u16()
		in.Index = int(v)
		return in, err

	case op == Iinc:
		idx, err := r.u8()
		if err != nil {
			return in, err
		}
		c, err := r.u8()
		in.Index, in.Const = int(idx), int32(int8(c))
		return in, err

	case op == Invokeinterface:
		v, err := r.u16()
		if err != nil {
			return in, err
		}
		in.Index = int(v)
		return in, r.skip(2)

	case op == Invokedynamic:
		v, err := r.u16()
		if err != nil {
			return in, err
		}
		in.Index = int(v)
		return in, r.skip(2)

	case op == Multianewarray:
		v, err := r.u16()
		if err != nil {
			return in, err
		}
		d, err := r.u8()
		in.Index, in.Dims = int(v), int(d)
		if err == nil && d == 0 {
			err = fmt.Errorf("%w: multianewarray with zero dimensions", ErrBadOpcode)
		}
		return in, err

	case (op >= Ifeq && op <= Jsr) || op == Ifnull || op == Ifnonnull:
		v, err := r.u16()
		in.Target = pc + int(int16(v))
		return in, err

	case op == GotoW || op == JsrW:
		v, err := r.u32()
		in.Target = pc + int(int32(v))
		return in, err

	case op == Tableswitch:
		if err := r.skip(switchPadding(pc)); err != nil {
			return in, err
		}
		def, err := r.u32()
		if err != nil {
			return in, err
		}
		low, err := r.u32()
		if err != nil {
			return in, err
		}
		high, err := r.u32()
		if err != nil {
			return in, err
		}
		lo, hi := int32(low), int32(high)
		if lo > hi {
			return in, fmt.Errorf("%w: tableswitch low %d > high %d", ErrBadOpcode, lo, hi)
		}
		n := int64(hi) - int64(lo) + 1
		if n*4 > int64(r.remaining()) {
			return in, ErrTruncated
		}
		in.Target = pc + int(int32(def))
		for i := int64(0); i < n; i++ {
			off, err := r.u32()
			if err != nil {
				return in, err
			}
			in.Keys = append(in.Keys, lo+int32(i))
			in.Targets = append(in.Targets, pc+int(int32(off)))
		}
		return in, nil

	case op == Lookupswitch:
		if err := r.skip(switchPadding(pc)); err != nil {
			return in, err
		}
		def, err := r.u32()
		if err != nil {
			return in, err
		}
		npairs, err := r.u32()
		if err != nil {
			return in, err
		}
		if int64(npairs)*8 > int64(r.remaining()) {
			return in, ErrTruncated
		}
		in.Target = pc + int(int32(def))
		for i := uint32(0); i < npairs; i++ {
			key, err := r.u32()
			if err != nil {
				return in, err
			}
			off, err := r.u32()
			if err != nil {
				return in, err
			}
			in.Keys = append(in.Keys, int32(key))
			in.Targets = append(in.Targets, pc+int(int32(off)))
		}
		return in, nil

	case op == Wide:
		inner, err := r.u8()
		if err != nil {
			return in, err
		}
		in.Opcode, in.Wide = inner, true
		idx, err := r.u16()
		if err != nil {
			return in, err
		}
		in.Index = int(idx)
		switch {
		case inner == Iinc:
			c, err := r.u16()
			in.Const = int32(int16(c))
			return in, err
		case inner >= Iload && inner <= Aload, inner >= Istore && inner <= Astore, inner == Ret:
			return in, nil
		default:
			return in, fmt.Errorf("%w: wide %s", ErrBadOpcode, OpName(inner))
		}
	}

	// Everything else has no operands.
	return in, nil
}

// switchPadding is the number of bytes after a switch opcode at pc needed
// to align the operands to a multiple of four from the start of the code.
func switchPadding(pc int) int {
	return (4 - (pc+1)%4) % 4
}
