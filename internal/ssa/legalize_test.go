/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ssa

import (
    `testing`

    `github.com/cloudwego/gpura/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func legalizeOne(t *testing.T, sm uint8, alloc ir.SSAValueAllocator, instrs ...*ir.Instr) *ir.BasicBlock {
    fn := ir.NewFunction(alloc, ir.PhiAllocator{}, []*ir.BasicBlock{ir.NewBasicBlock(0, append(instrs, exit())...)})
    Legalize{}.Apply(newTestContext(fn, sm, 0))
    require.NotPanics(t, func() { VerifySSA(fn) })
    return fn.Blocks.At(0)
}

func TestLegalize_SM50_WideImmediate(t *testing.T) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    d := alloc.Alloc(ir.GPR)
    op := &ir.OpIAdd2{Dst: ir.SSADst(d), Src: [2]ir.Src{ir.SSASrc(a), ir.Imm(0x123456)}}
    bb := legalizeOne(t, 52, alloc, mov(a, ir.Imm(1)), ir.NewInstr(op))

    /* more than 20 bits goes through a register */
    require.Len(t, bb.Instrs, 4)
    cp, ok := bb.Instrs[1].Op.(*ir.OpCopy)
    require.True(t, ok)
    assert.Equal(t, ir.Imm(0x123456), cp.Src)
    assert.Equal(t, cp.Dst.SSA, op.Src[1].SSA)
}

func TestLegalize_SM50_NarrowImmediate(t *testing.T) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    d := alloc.Alloc(ir.GPR)
    op := &ir.OpIAdd2{Dst: ir.SSADst(d), Src: [2]ir.Src{ir.Imm(0x1234), ir.SSASrc(a)}}
    bb := legalizeOne(t, 52, alloc, mov(a, ir.Imm(1)), ir.NewInstr(op))

    /* the register moves into the first slot and the immediate stays */
    require.Len(t, bb.Instrs, 3)
    assert.Equal(t, ir.SSASrc(a), op.Src[0])
    assert.Equal(t, ir.Imm(0x1234), op.Src[1])
}

func TestLegalize_SM50_FlipsComparison(t *testing.T) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    p := alloc.Alloc(ir.Pred)
    op := &ir.OpFSetP{Dst: ir.SSADst(p), Cmp: ir.FCmpLt, Src: [2]ir.Src{ir.ImmF32(1.0), ir.SSASrc(a)}, Accum: ir.True()}
    bb := legalizeOne(t, 52, alloc, mov(a, ir.Imm(1)), ir.NewInstr(op))

    /* 1.0 < a is a > 1.0 */
    require.Len(t, bb.Instrs, 3)
    assert.Equal(t, ir.SSASrc(a), op.Src[0])
    assert.Equal(t, ir.FCmpGt, op.Cmp)
}

func TestLegalize_SM70_WideImmediate(t *testing.T) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    d := alloc.Alloc(ir.GPR)
    op := &ir.OpIAdd3{Dst: ir.SSADst(d), Src: [3]ir.Src{ir.Imm(0x123456), ir.SSASrc(a), ir.Zero()}}
    bb := legalizeOne(t, 75, alloc, mov(a, ir.Imm(1)), ir.NewInstr(op))

    /* 32-bit immediates are encodable */
    require.Len(t, bb.Instrs, 3)
    assert.Equal(t, ir.SSASrc(a), op.Src[0])
    assert.Equal(t, ir.Imm(0x123456), op.Src[1])
}

func TestLegalize_SM70_RejectsOldOps(t *testing.T) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    d := alloc.Alloc(ir.GPR)
    op := &ir.OpLop2{Dst: ir.SSADst(d), Op: ir.LogicXor, Src: [2]ir.Src{ir.SSASrc(a), ir.SSASrc(a)}}
    assert.Panics(t, func() { legalizeOne(t, 75, alloc, mov(a, ir.Imm(1)), ir.NewInstr(op)) })
}

func TestLegalize_VectorGrouping(t *testing.T) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    b := alloc.Alloc(ir.GPR)
    first := &ir.OpSt{Addr: ir.Zero(), Data: ir.SSASrc(a, b), Space: ir.MemGlobal}
    second := &ir.OpSt{Addr: ir.Zero(), Data: ir.SSASrc(b, a), Offset: 8, Space: ir.MemGlobal}
    bb := legalizeOne(t, 75, alloc, mov(a, ir.Imm(1)), mov(b, ir.Imm(2)), ir.NewInstr(first), ir.NewInstr(second))

    /* the first grouping is kept, the conflicting one is copied */
    assert.Equal(t, ir.NewSSARef(a, b), first.Data.SSA)
    assert.NotEqual(t, ir.NewSSARef(b, a), second.Data.SSA)
    assert.Len(t, bb.Instrs, 7)
}
