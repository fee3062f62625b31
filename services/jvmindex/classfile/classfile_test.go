// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classfile_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/jvmindex/services/jvmindex/classfile"
	"github.com/AleutianAI/jvmindex/services/jvmindex/internal/classgen"
	"github.com/AleutianAI/jvmindex/services/jvmindex/ir"
)

func TestParseGeneratedClass(t *testing.T) {
	raw := classgen.New("com/example/Foo").
		Implements("java/lang/Runnable").
		Source("Foo.java").
		Annotate("Lcom/example/Marker;", true).
		Field(classgen.AccPrivate, "count", "I").
		Method(classgen.AccPublic, "run", "()V").Op(classfile.Return).End().
		Bytes()

	f, err := classfile.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, uint16(52), f.Major)
	assert.Equal(t, "com/example/Foo", f.ThisClass)
	assert.Equal(t, "java/lang/Object", f.SuperClass)
	assert.Equal(t, []string{"java/lang/Runnable"}, f.Interfaces)
	require.Len(t, f.Fields, 1)
	assert.Equal(t, "count", f.Fields[0].Name)
	require.Len(t, f.Methods, 1)
	assert.NotNil(t, f.Methods[0].Attribute(classfile.AttrCode))

	src, err := classfile.ParseSourceFile(f.Attribute(classfile.AttrSourceFile).Data, f.Pool)
	require.NoError(t, err)
	assert.Equal(t, "Foo.java", src)

	anns, err := classfile.ParseAnnotations(f.Attribute(classfile.AttrRuntimeVisibleAnnotations).Data, f.Pool)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lcom/example/Marker;"}, anns)
}

func TestParseRejectsBadMagic(t *testing.T) {
	_, err := classfile.Parse([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 52})
	assert.ErrorIs(t, err, classfile.ErrBadMagic)
}

func TestParseRejectsTruncated(t *testing.T) {
	raw := classgen.New("a/B").Bytes()
	for _, n := range []int{0, 3, 9, len(raw) / 2, len(raw) - 1} {
		_, err := classfile.Parse(raw[:n])
		assert.ErrorIs(t, err, classfile.ErrTruncated, "prefix %d", n)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	raw := append(classgen.New("a/B").Bytes(), 0)
	_, err := classfile.Parse(raw)
	assert.ErrorIs(t, err, classfile.ErrTrailingData)
}

func TestParseVersionRange(t *testing.T) {
	_, err := classfile.Parse(classgen.New("a/B").Version(44).Bytes())
	assert.ErrorIs(t, err, classfile.ErrUnsupportedVersion)

	_, err = classfile.Parse(classgen.New("a/B").Version(70).Bytes())
	assert.ErrorIs(t, err, classfile.ErrUnsupportedVersion)

	_, err = classfile.Parse(classgen.New("a/B").Version(69).Bytes())
	assert.NoError(t, err)
}

func TestPoolLongTakesTwoSlots(t *testing.T) {
	raw := classgen.New("a/B").
		Method(classgen.AccStatic, "f", "()J").Ldc(int64(1) << 40).Op(classfile.Lreturn).End().
		Bytes()
	f, err := classfile.Parse(raw)
	require.NoError(t, err)

	var longIdx int
	for i, c := range f.Pool {
		if c.Tag == classfile.TagLong {
			longIdx = i
		}
	}
	require.NotZero(t, longIdx)
	assert.Equal(t, int64(1)<<40, f.Pool[longIdx].Int)
	_, err = f.Pool.Entry(uint16(longIdx + 1))
	assert.ErrorIs(t, err, classfile.ErrBadConstant)
}

func TestModifiedUTF8(t *testing.T) {
	// "a\u0000b" with NUL as C0 80, then U+1F600 as a surrogate pair.
	data := []byte{'a', 0xC0, 0x80, 'b', 0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}
	pool := []byte{0, 2, byte(classfile.TagUtf8)}
	pool = binary.BigEndian.AppendUint16(pool, uint16(len(data)))
	pool = append(pool, data...)

	raw := binary.BigEndian.AppendUint32(nil, classfile.Magic)
	raw = append(raw, 0, 0, 0, 52)
	raw = append(raw, pool...)
	_, err := classfile.Parse(raw)
	// The class is incomplete after the pool, but the string must decode.
	require.ErrorIs(t, err, classfile.ErrTruncated)

	s, ok := classfile.DecodeModifiedUTF8(data)
	require.True(t, ok)
	assert.Equal(t, "a\x00b\U0001F600", s)
}

func TestParseDescriptors(t *testing.T) {
	mt, err := classfile.ParseMethodType("(I[Ljava/lang/String;JD)V")
	require.NoError(t, err)
	require.Len(t, mt.Params, 4)
	assert.Equal(t, ir.TypeInt, mt.Params[0].Type)
	assert.Equal(t, ir.TypeName("java.lang.String[]"), mt.Params[1].Type)
	assert.Equal(t, classfile.CatRef, mt.Params[1].Category)
	assert.Equal(t, classfile.CatLong, mt.Params[2].Category)
	assert.Equal(t, 6, mt.ParamWords())
	assert.Equal(t, ir.TypeVoid, mt.Return.Type)

	for _, bad := range []string{"", "I", "(V)V", "(I", "(Ljava/lang/String)V", "()", "()[V", "(Q)V", "()VV"} {
		_, err := classfile.ParseMethodType(bad)
		assert.ErrorIs(t, err, classfile.ErrBadDescriptor, bad)
	}

	ty, err := classfile.TypeOf("[[B")
	require.NoError(t, err)
	assert.Equal(t, ir.TypeName("byte[][]"), ty)
	_, err = classfile.TypeOf("V")
	assert.ErrorIs(t, err, classfile.ErrBadDescriptor)
}

func TestDottedName(t *testing.T) {
	assert.Equal(t, "com.example.Foo$Bar", classfile.DottedName("com/example/Foo$Bar"))
	assert.Equal(t, "java.lang.String[]", classfile.DottedName("[Ljava/lang/String;"))
}

func TestDecodeSwitchPadding(t *testing.T) {
	m := classgen.New("a/B").Method(classgen.AccStatic, "f", "(I)I")
	m.Op(classfile.Nop).Var(classfile.Iload, 0).
		TableSwitch(1, "d", "one", "two").
		Label("one").Op(classfile.Iconst1, classfile.Ireturn).
		Label("two").Op(classfile.Iconst2, classfile.Ireturn).
		Label("d").Op(classfile.Iconst0, classfile.Ireturn)
	f, err := classfile.Parse(m.End().Bytes())
	require.NoError(t, err)
	code, err := classfile.ParseCode(f.Methods[0].Attribute(classfile.AttrCode).Data, f.Pool)
	require.NoError(t, err)

	insns, err := classfile.Decode(code.Bytecode)
	require.NoError(t, err)
	sw := insns[2]
	require.Equal(t, classfile.Tableswitch, sw.Opcode)
	assert.Equal(t, 3, sw.PC)
	assert.Equal(t, []int32{1, 2}, sw.Keys)
	require.Len(t, sw.Targets, 2)
	assert.Equal(t, insns[3].PC, sw.Targets[0])
	assert.Equal(t, insns[5].PC, sw.Targets[1])
	assert.Equal(t, insns[7].PC, sw.Target)
}

func TestDecodeWideAndBranchValidation(t *testing.T) {
	insns, err := classfile.Decode([]byte{classfile.Wide, classfile.Iinc, 0x01, 0x00, 0xFF, 0xFE, classfile.Return})
	require.NoError(t, err)
	require.Len(t, insns, 2)
	assert.True(t, insns[0].Wide)
	assert.Equal(t, classfile.Iinc, insns[0].Opcode)
	assert.Equal(t, 256, insns[0].Index)
	assert.Equal(t, int32(-2), insns[0].Const)

	// goto +1 lands inside its own operand.
	_, err = classfile.Decode([]byte{classfile.Goto, 0x00, 0x01, classfile.Return})
	assert.ErrorIs(t, err, classfile.ErrBadBranch)

	_, err = classfile.Decode([]byte{0xCA})
	assert.ErrorIs(t, err, classfile.ErrBadOpcode)

	_, err = classfile.Decode([]byte{classfile.Sipush, 0x01})
	assert.ErrorIs(t, err, classfile.ErrTruncated)
}

func TestOpNames(t *testing.T) {
	assert.Equal(t, "nop", classfile.OpName(classfile.Nop))
	assert.Equal(t, "ireturn", classfile.OpName(classfile.Ireturn))
	assert.Equal(t, "invokedynamic", classfile.OpName(classfile.Invokedynamic))
	assert.Equal(t, "jsr_w", classfile.OpName(classfile.JsrW))
	assert.Equal(t, uint8(0xc9), classfile.JsrW)
	assert.Equal(t, uint8(0xb6), classfile.Invokevirtual)
	assert.Equal(t, "invalid", classfile.OpName(0xFE))
}
