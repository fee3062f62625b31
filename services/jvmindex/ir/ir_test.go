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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessModifiersOrder(t *testing.T) {
	a := AccFinal | AccStatic | AccPublic | AccSynchronized
	assert.Equal(t, []string{"public", "static", "final", "synchronized"}, a.Modifiers())
	assert.Empty(t, Access(0).Modifiers())
	assert.True(t, a.Has(AccPublic|AccStatic))
	assert.False(t, a.Has(AccPrivate))
}

func TestMethodSignature(t *testing.T) {
	m := Method{
		Owner:      "com.example.Foo",
		Name:       "bar",
		Descriptor: "(ILjava/lang/String;)V",
		Params:     []TypeName{TypeInt, TypeString},
		Return:     TypeVoid,
		Access:     AccPublic | AccStatic,
	}
	assert.Equal(t, "public static com.example.Foo#bar(int, java.lang.String) -> void", m.Signature())
	assert.Equal(t, "bar(ILjava/lang/String;)V", m.Key())
}

func TestTypeNameElem(t *testing.T) {
	assert.Equal(t, TypeName("int[]"), TypeName("int[][]").Elem())
	assert.Equal(t, TypeObject, TypeInt.Elem())
	assert.True(t, TypeName("byte[]").IsArray())
}

func TestInstructionString(t *testing.T) {
	dst := Temp(0, TypeInt)
	add := Instruction{Op: OpAssign, Dst: &dst, Expr: ExprBinary, Operator: "add", Args: []Operand{Local(1, TypeInt), Const("5", TypeInt)}}
	assert.Equal(t, "t0 = l1 add 5", add.String())

	obj := Local(0, "com.example.Foo")
	put := Instruction{Op: OpFieldWrite, Object: &obj, Target: &MemberRef{Class: "com.example.Foo", Name: "count"}, Args: []Operand{Local(1, TypeInt)}}
	assert.Equal(t, "l0.com.example.Foo.count = l1", put.String())

	arr := Local(2, "int[]")
	store := Instruction{Op: OpFieldWrite, Element: true, Object: &arr, Args: []Operand{Const("0", TypeInt), Local(1, TypeInt)}}
	assert.Equal(t, "l2[0] = l1", store.String())

	br := Instruction{Op: OpBranch, Operator: "lt", Args: []Operand{Local(1, TypeInt), Const("0", TypeInt)}, Targets: []int{7, 3}}
	assert.Equal(t, "lt l1, 0 -> 7, 3", br.String())

	ret := Instruction{Op: OpReturn}
	assert.Equal(t, "return", ret.String())
}

func TestInstructionListFilter(t *testing.T) {
	l := InstructionList{{Op: OpAssign}, {Op: OpCall}, {Op: OpCall}, {Op: OpReturn}}
	assert.Equal(t, 2, l.Count(OpCall))
	assert.Len(t, l.Filter(OpReturn), 1)
	assert.Empty(t, l.Filter(OpBranch))
}

func TestCodecIsCanonical(t *testing.T) {
	c := &Class{
		Name:       "com.example.Foo",
		Super:      "java.lang.Object",
		Interfaces: []string{"java.lang.Runnable"},
		Methods: []Method{
			{Owner: "com.example.Foo", Name: "run", Descriptor: "()V", Return: TypeVoid, HasBody: true},
		},
		Version: Version{Major: 52},
	}
	a, err := EncodeClass(c)
	require.NoError(t, err)
	b, err := EncodeClass(c)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	back, err := DecodeClass(a)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestCodecSkipsSymbol(t *testing.T) {
	sym := Unresolved("absent.Class")
	body := &Body{
		Method: "run()V",
		Instructions: InstructionList{
			{Op: OpCall, Target: &MemberRef{Class: "absent.Class", Name: "go", Descriptor: "()V"}, Symbol: &sym},
		},
	}
	data, err := EncodeBody(body)
	require.NoError(t, err)

	back, err := DecodeBody(data)
	require.NoError(t, err)
	require.Len(t, back.Instructions, 1)
	assert.Nil(t, back.Instructions[0].Symbol)
	assert.Equal(t, "absent.Class", back.Instructions[0].Target.Class)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := DecodeClass([]byte{0xff, 0x00, 0x13})
	assert.Error(t, err)
}

func TestSymbolRef(t *testing.T) {
	u := Unresolved("absent.Class")
	assert.False(t, u.Resolved())
	assert.Equal(t, "unresolved(absent.Class)", u.String())

	m := SymbolRef{Kind: SymbolMethod, Class: "java.lang.Object", Member: "hashCode"}
	assert.True(t, m.Resolved())
	assert.Equal(t, "java.lang.Object.hashCode", m.String())
}
