// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is the variant tag of an Instruction.
type Op uint8

const (
	// OpOther carries instructions with no dedicated variant: athrow,
	// monitors, invokedynamic and unreachable code.
	OpOther Op = iota
	OpAssign
	OpCall
	OpBranch
	OpReturn
	OpFieldRead
	OpFieldWrite
)

var opNames = [...]string{
	OpOther:      "other",
	OpAssign:     "assign",
	OpCall:       "call",
	OpBranch:     "branch",
	OpReturn:     "return",
	OpFieldRead:  "field_read",
	OpFieldWrite: "field_write",
}

// String returns the lower-case variant name.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// OperandKind classifies an Operand.
type OperandKind uint8

const (
	// OperandLocal is a JVM local variable slot.
	OperandLocal OperandKind = iota
	// OperandStack is the canonical variable for an operand stack slot live
	// across a basic block boundary.
	OperandStack
	// OperandTemp is a single-assignment temporary.
	OperandTemp
	// OperandConst is a literal.
	OperandConst
	// OperandNull is the null reference.
	OperandNull
)

// Operand is a value consumed or produced by an Instruction.
type Operand struct {
	Kind  OperandKind `json:"kind"`
	Index int         `json:"index,omitempty"`
	Value string      `json:"value,omitempty"`
	Type  TypeName    `json:"type,omitempty"`
}

// Local returns the operand for local slot n.
func Local(n int, t TypeName) Operand { return Operand{Kind: OperandLocal, Index: n, Type: t} }

// Stack returns the canonical operand for stack slot n.
func Stack(n int, t TypeName) Operand { return Operand{Kind: OperandStack, Index: n, Type: t} }

// Temp returns temporary n.
func Temp(n int, t TypeName) Operand { return Operand{Kind: OperandTemp, Index: n, Type: t} }

// Const returns a literal of type t.
func Const(v string, t TypeName) Operand { return Operand{Kind: OperandConst, Value: v, Type: t} }

// Null returns the null literal.
func Null() Operand { return Operand{Kind: OperandNull, Type: TypeObject} }

// String renders the operand as it appears in dumps: l1, s0, t3, 42, null.
func (o Operand) String() string {
	switch o.Kind {
	case OperandLocal:
		return "l" + strconv.Itoa(o.Index)
	case OperandStack:
		return "s" + strconv.Itoa(o.Index)
	case OperandTemp:
		return "t" + strconv.Itoa(o.Index)
	case OperandNull:
		return "null"
	default:
		return o.Value
	}
}

// Same reports whether o and other name the same storage location or literal.
func (o Operand) Same(other Operand) bool {
	return o.Kind == other.Kind && o.Index == other.Index && o.Value == other.Value
}

// Expr is the right-hand side shape of an Assign.
type Expr uint8

const (
	ExprCopy Expr = iota
	ExprBinary
	ExprUnary
	ExprConvert
	ExprCompare
	ExprNew
	ExprNewArray
	ExprArrayLength
	ExprCast
	ExprInstanceOf
	ExprCatch
)

// CallKind is the dispatch mode of a Call.
type CallKind uint8

const (
	CallVirtual CallKind = iota
	CallSpecial
	CallStatic
	CallInterface
	CallDynamic
)

var callKindNames = [...]string{"virtual", "special", "static", "interface", "dynamic"}

func (k CallKind) String() string {
	if int(k) < len(callKindNames) {
		return callKindNames[k]
	}
	return "call(" + strconv.Itoa(int(k)) + ")"
}

// MemberRef is the static, unresolved target of a call or field access as
// written in the constant pool.
type MemberRef struct {
	Class      string `json:"class,omitempty"`
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
	Interface  bool   `json:"interface,omitempty"`
}

// String renders "Owner.name".
func (r MemberRef) String() string {
	if r.Class == "" {
		return r.Name
	}
	return r.Class + "." + r.Name
}

// Instruction is one three-address IR instruction. Op selects which of the
// remaining fields are meaningful:
//
//	Assign:     Dst = Expr(Args...) with Operator/Type for the expression
//	Call:       [Dst =] Call Target(Object, Args...)
//	Branch:     Operator(Args...) -> Targets (instruction indices)
//	Return:     return [Args[0]]
//	FieldRead:  Dst = Object.Target | Dst = Object[Args[0]] when Element
//	FieldWrite: Object.Target = Args[0] | Object[Args[0]] = Args[1] when Element
//	Other:      Operator(Args...) with the raw Opcode
type Instruction struct {
	Op          Op         `json:"op"`
	PC          int        `json:"pc"`
	Opcode      uint8      `json:"opcode"`
	Dst         *Operand   `json:"dst,omitempty"`
	Object      *Operand   `json:"object,omitempty"`
	Args        []Operand  `json:"args,omitempty"`
	Expr        Expr       `json:"expr,omitempty"`
	Operator    string     `json:"operator,omitempty"`
	Type        TypeName   `json:"type,omitempty"`
	Call        CallKind   `json:"call,omitempty"`
	Target      *MemberRef `json:"target,omitempty"`
	Element     bool       `json:"element,omitempty"`
	Targets     []int      `json:"targets,omitempty"`
	Keys        []int32    `json:"keys,omitempty"`
	Unsupported bool       `json:"unsupported,omitempty"`

	// Symbol is the resolution of Target in the current view. It is
	// session-scoped and never persisted.
	Symbol *SymbolRef `json:"symbol,omitempty" cbor:"-"`
}

// String renders a single-line dump of the instruction.
func (in *Instruction) String() string {
	var sb strings.Builder
	if in.Dst != nil {
		sb.WriteString(in.Dst.String())
		sb.WriteString(" = ")
	}
	switch in.Op {
	case OpAssign:
		in.writeAssign(&sb)
	case OpCall:
		fmt.Fprintf(&sb, "call.%s %s(", in.Call, in.targetName())
		if in.Object != nil {
			sb.WriteString(in.Object.String())
			if len(in.Args) > 0 {
				sb.WriteString(", ")
			}
		}
		writeOperands(&sb, in.Args)
		sb.WriteByte(')')
	case OpBranch:
		sb.WriteString(in.Operator)
		if len(in.Args) > 0 {
			sb.WriteByte(' ')
			writeOperands(&sb, in.Args)
		}
		sb.WriteString(" -> ")
		for i, t := range in.Targets {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Itoa(t))
		}
	case OpReturn:
		sb.WriteString("return")
		if len(in.Args) > 0 {
			sb.WriteByte(' ')
			writeOperands(&sb, in.Args)
		}
	case OpFieldRead:
		sb.WriteString(in.location())
	case OpFieldWrite:
		sb.WriteString(in.location())
		sb.WriteString(" = ")
		if len(in.Args) > 0 {
			sb.WriteString(in.Args[len(in.Args)-1].String())
		}
	default:
		sb.WriteString(in.Operator)
		if len(in.Args) > 0 {
			sb.WriteByte(' ')
			writeOperands(&sb, in.Args)
		}
		if in.Unsupported {
			sb.WriteString(" !unsupported")
		}
	}
	return sb.String()
}

func (in *Instruction) writeAssign(sb *strings.Builder) {
	switch in.Expr {
	case ExprBinary, ExprCompare:
		if len(in.Args) == 2 {
			fmt.Fprintf(sb, "%s %s %s", in.Args[0], in.Operator, in.Args[1])
			return
		}
	case ExprNew:
		sb.WriteString("new " + string(in.Type))
		return
	case ExprNewArray:
		sb.WriteString("newarray " + string(in.Type) + " ")
		writeOperands(sb, in.Args)
		return
	case ExprCast:
		sb.WriteString("(" + string(in.Type) + ") ")
		writeOperands(sb, in.Args)
		return
	case ExprInstanceOf:
		writeOperands(sb, in.Args)
		sb.WriteString(" instanceof " + string(in.Type))
		return
	case ExprCatch:
		sb.WriteString("catch " + string(in.Type))
		return
	case ExprCopy:
		writeOperands(sb, in.Args)
		return
	}
	sb.WriteString(in.Operator + " ")
	writeOperands(sb, in.Args)
}

func (in *Instruction) targetName() string {
	if in.Target == nil {
		return "?"
	}
	return in.Target.String()
}

func (in *Instruction) location() string {
	if in.Element {
		obj := "?"
		if in.Object != nil {
			obj = in.Object.String()
		}
		idx := "?"
		if len(in.Args) > 0 {
			idx = in.Args[0].String()
		}
		return obj + "[" + idx + "]"
	}
	if in.Object != nil {
		return in.Object.String() + "." + in.targetName()
	}
	return in.targetName()
}

func writeOperands(sb *strings.Builder, ops []Operand) {
	for i, o := range ops {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(o.String())
	}
}

// InstructionList is the lifted body of one method.
type InstructionList []Instruction

// Filter returns the instructions whose variant is op, in order.
func (l InstructionList) Filter(op Op) InstructionList {
	var out InstructionList
	for _, in := range l {
		if in.Op == op {
			out = append(out, in)
		}
	}
	return out
}

// Count returns the number of instructions with variant op.
func (l InstructionList) Count(op Op) int {
	n := 0
	for i := range l {
		if l[i].Op == op {
			n++
		}
	}
	return n
}

// FailureKind classifies why a method body could not be lifted.
type FailureKind uint8

const (
	FailureMalformed FailureKind = iota + 1
	FailureUnsupported
	FailureStackShape
)

var failureKindNames = [...]string{
	FailureMalformed:   "malformed_bytecode",
	FailureUnsupported: "unsupported_feature",
	FailureStackShape:  "stack_shape_mismatch",
}

func (k FailureKind) String() string {
	if int(k) < len(failureKindNames) && failureKindNames[k] != "" {
		return failureKindNames[k]
	}
	return "failure(" + strconv.Itoa(int(k)) + ")"
}

// Failure records a method-level lift failure. The rest of the class is
// still usable.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	PC      int         `json:"pc"`
	Message string      `json:"message"`
}

// Body is the lifted code of one method.
type Body struct {
	Method       string          `json:"method"`
	MaxStack     int             `json:"max_stack,omitempty"`
	MaxLocals    int             `json:"max_locals,omitempty"`
	Instructions InstructionList `json:"instructions,omitempty"`
	Failure      *Failure        `json:"failure,omitempty"`
}
