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

func lowerCopies(sm uint8, local uint32, instrs ...*ir.Instr) (*ir.Function, *Context) {
    fn := ir.NewFunction(ir.SSAValueAllocator{}, ir.PhiAllocator{}, []*ir.BasicBlock{ir.NewBasicBlock(0, append(instrs, exit())...)})
    ctx := newTestContext(fn, sm, 0)
    ctx.Info.LocalSize = local
    LowerCopies{}.Apply(ctx)
    return fn, ctx
}

func regCopy(dst ir.RegRef, src ir.Src) *ir.Instr {
    return ir.NewInstr(&ir.OpCopy{Dst: ir.RegDst(dst), Src: src})
}

func TestLowerCopies_ByFile(t *testing.T) {
    p0 := ir.NewRegRef(ir.Pred, 0, 1)
    p1 := ir.NewRegRef(ir.Pred, 1, 1)
    u0 := ir.NewRegRef(ir.UGPR, 0, 1)
    b0 := ir.NewRegRef(ir.Bar, 0, 1)
    fn, _ := lowerCopies(75, 0,
        regCopy(gpr(0), ir.RegSrc(gpr(1))),
        regCopy(p0, ir.RegSrc(gpr(2))),
        regCopy(gpr(3), ir.RegSrc(p1)),
        regCopy(u0, ir.RegSrc(gpr(3))),
        regCopy(b0, ir.RegSrc(gpr(4))),
        regCopy(p1, ir.RegSrc(p0).WithMod(ir.ModBNot)),
        regCopy(gpr(5), ir.True()),
        regCopy(gpr(6), ir.RegSrc(gpr(6))),
    )

    /* one machine op per copy, the identity goes away */
    instrs := fn.Blocks.At(0).Instrs
    require.Len(t, instrs, 8)
    assert.IsType(t, &ir.OpMov{}, instrs[0].Op)
    assert.IsType(t, &ir.OpISetP{}, instrs[1].Op)
    assert.IsType(t, &ir.OpSel{}, instrs[2].Op)
    assert.IsType(t, &ir.OpR2UR{}, instrs[3].Op)
    assert.IsType(t, &ir.OpBMov{}, instrs[4].Op)
    assert.IsType(t, &ir.OpMov{}, instrs[6].Op)
    assert.IsType(t, &ir.OpExit{}, instrs[7].Op)

    /* a negated predicate copy folds the negation into the table */
    plop := instrs[5].Op.(*ir.OpPLop3)
    assert.Equal(t, ^ir.LutA, plop.Lut)
    assert.Equal(t, ir.RegSrc(p0), plop.Src[0])
    assert.Equal(t, ir.Imm(1), instrs[6].Op.(*ir.OpMov).Src)
}

func TestLowerCopies_SpillSlots(t *testing.T) {
    m0 := ir.NewRegRef(ir.Mem, 0, 1)
    m2 := ir.NewRegRef(ir.Mem, 2, 1)
    spill := ir.NewInstr(&ir.OpSpill{Dst: ir.RegDst(m2), Src: ir.RegSrc(gpr(0))})
    fill := ir.NewInstr(&ir.OpFill{Dst: ir.RegDst(gpr(4)), Src: ir.RegSrc(m2)})
    fn, ctx := lowerCopies(75, 16, spill, fill, regCopy(m0, ir.RegSrc(m2)))

    /* slots sit right above the shader's own local memory */
    instrs := fn.Blocks.At(0).Instrs
    require.Len(t, instrs, 5)
    st := instrs[0].Op.(*ir.OpSt)
    assert.Equal(t, ir.MemLocal, st.Space)
    assert.Equal(t, int32(16+8), st.Offset)
    ld := instrs[1].Op.(*ir.OpLd)
    assert.Equal(t, int32(16+8), ld.Offset)
    assert.Equal(t, ir.RegDst(gpr(4)), ld.Dst)

    /* memory to memory goes through the scratch register */
    ld = instrs[2].Op.(*ir.OpLd)
    st = instrs[3].Op.(*ir.OpSt)
    assert.Equal(t, ir.RegDst(ctx.Target.ScratchGPR()), ld.Dst)
    assert.Equal(t, ir.RegSrc(ctx.Target.ScratchGPR()), st.Data)
    assert.Equal(t, int32(16), st.Offset)
    assert.Equal(t, uint32(16+3*4), ctx.Info.SlmSize)
}

func TestLowerCopies_Swap(t *testing.T) {
    swap := func() *ir.Instr { return newSwap(gpr(0), gpr(1)) }

    /* three xors, in whatever form the family has */
    fn, _ := lowerCopies(75, 0, swap())
    for _, ins := range fn.Blocks.At(0).Instrs[:3] {
        lop := ins.Op.(*ir.OpLop3)
        assert.Equal(t, uint8(_LutXor), lop.Lut)
    }
    fn, _ = lowerCopies(52, 0, swap())
    for _, ins := range fn.Blocks.At(0).Instrs[:3] {
        assert.Equal(t, ir.LogicXor, ins.Op.(*ir.OpLop2).Op)
    }

    /* and the xors actually swap */
    regs := map[ir.RegRef]uint32{gpr(0): 0xdead, gpr(1): 0xbeef}
    for _, ins := range fn.Blocks.At(0).Instrs[:3] {
        op := ins.Op.(*ir.OpLop2)
        regs[op.Dst.Reg] = regs[op.Src[0].Reg] ^ regs[op.Src[1].Reg]
    }
    assert.Equal(t, uint32(0xbeef), regs[gpr(0)])
    assert.Equal(t, uint32(0xdead), regs[gpr(1)])
}

func TestLowerCopies_KeepsPredicate(t *testing.T) {
    ins := regCopy(gpr(0), ir.RegSrc(gpr(1)))
    ins.Pred = ir.InstrPred{Kind: ir.PredReg, Reg: ir.NewRegRef(ir.Pred, 2, 1), Inv: true}
    fn, _ := lowerCopies(75, 0, ins)
    assert.Equal(t, ins.Pred, fn.Blocks.At(0).Instrs[0].Pred)
}
