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

    `github.com/cloudwego/gpura/internal/opts`
    `github.com/cloudwego/gpura/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

/* ld r0; r1 = r0 + r0; st r1; exit */
func loadAddStore() []*ir.Instr {
    return []*ir.Instr{
        ir.NewInstr(&ir.OpLd{Dst: ir.RegDst(gpr(0)), Addr: ir.Zero(), Space: ir.MemGlobal}),
        ir.NewInstr(&ir.OpIAdd3{Dst: ir.RegDst(gpr(1)), Src: [3]ir.Src{ir.RegSrc(gpr(0)), ir.RegSrc(gpr(0)), ir.Zero()}}),
        ir.NewInstr(&ir.OpSt{Addr: ir.Zero(), Data: ir.RegSrc(gpr(1)), Space: ir.MemGlobal}),
        exit(),
    }
}

func schedule(sm uint8, flags opts.DebugFlags, blocks ...*ir.BasicBlock) (*ir.Function, *Context) {
    for _, bb := range blocks {
        for _, ins := range bb.Instrs {
            ins.Deps = ir.NewInstrDeps()
        }
    }
    fn := ir.NewFunction(ir.SSAValueAllocator{}, ir.PhiAllocator{}, blocks)
    ctx := newTestContext(fn, sm, flags)
    DepSched{}.Apply(ctx)
    return fn, ctx
}

func TestDepSched_Scoreboards(t *testing.T) {
    fn, ctx := schedule(75, 0, ir.NewBasicBlock(0, loadAddStore()...))
    instrs := fn.Blocks.At(0).Instrs
    require.Len(t, instrs, 4)

    /* the load signals, the add waits */
    assert.Equal(t, int8(0), instrs[0].Deps.WrBar)
    assert.Equal(t, int8(-1), instrs[0].Deps.RdBar)
    assert.Equal(t, uint8(1), instrs[1].Deps.WaitMask)
    assert.Equal(t, int8(-1), instrs[1].Deps.WrBar)

    /* the store reads its data late */
    assert.Equal(t, int8(0), instrs[2].Deps.RdBar)
    assert.Equal(t, int8(-1), instrs[2].Deps.WrBar)
    assert.Zero(t, instrs[2].Deps.WaitMask)

    /* the add result is ready when the store issues */
    assert.Equal(t, uint8(5), instrs[1].Deps.Delay)
    for _, ins := range instrs {
        assert.GreaterOrEqual(t, ins.Deps.Delay, uint8(1))
        assert.LessOrEqual(t, ins.Deps.Delay, uint8(15))
    }
    assert.Equal(t, uint32(4), ctx.Info.NumInstrs)
}

func TestDepSched_Serial(t *testing.T) {
    fn, _ := schedule(75, opts.DebugSerial, ir.NewBasicBlock(0, loadAddStore()...))
    instrs := fn.Blocks.At(0).Instrs

    /* everything waits on both barriers, variable latency ops alternate */
    for _, ins := range instrs {
        assert.Equal(t, uint8(0b11), ins.Deps.WaitMask)
    }
    assert.Equal(t, int8(0), instrs[0].Deps.WrBar)
    assert.Equal(t, int8(-1), instrs[1].Deps.WrBar)
    assert.Equal(t, int8(1), instrs[2].Deps.RdBar)
}

/* a load in the loop is read at the top of the next iteration */
func TestDepSched_LoopCarried(t *testing.T) {
    p := ir.NewRegRef(ir.Pred, 0, 1)
    add := ir.NewInstr(&ir.OpIAdd3{Dst: ir.RegDst(gpr(1)), Src: [3]ir.Src{ir.RegSrc(gpr(0)), ir.RegSrc(gpr(1)), ir.Zero()}})
    ld := ir.NewInstr(&ir.OpLd{Dst: ir.RegDst(gpr(0)), Addr: ir.Zero(), Space: ir.MemGlobal})
    br := ir.NewInstr(&ir.OpBra{Target: 1})
    br.Pred = ir.InstrPred{Kind: ir.PredReg, Reg: p}
    fn, _ := schedule(75, 0,
        ir.NewBasicBlock(0, ir.NewInstr(&ir.OpMov{Dst: ir.RegDst(gpr(0)), Src: ir.Zero()})),
        ir.NewBasicBlock(1, add, ld, br),
        ir.NewBasicBlock(2, exit()),
    )

    /* the add waits for the load of the previous iteration */
    require.GreaterOrEqual(t, ld.Deps.WrBar, int8(0))
    assert.NotZero(t, add.Deps.WaitMask&(1<<ld.Deps.WrBar))
    assert.Equal(t, 3, fn.Blocks.Len())
}

func TestDepSched_PadsMultiCycle(t *testing.T) {
    pair := func(i uint32) ir.RegRef { return ir.NewRegRef(ir.GPR, i, 2) }
    dadd := func() *ir.Instr {
        return ir.NewInstr(&ir.OpDAdd{Dst: ir.RegDst(pair(0)), Src: [2]ir.Src{ir.RegSrc(pair(2)), ir.RegSrc(pair(4))}})
    }

    /* the newer family puts a no-op behind it */
    fn, _ := schedule(75, 0, ir.NewBasicBlock(0, dadd(), exit()))
    instrs := fn.Blocks.At(0).Instrs
    require.Len(t, instrs, 3)
    assert.IsType(t, &ir.OpNop{}, instrs[1].Op)
    assert.Equal(t, uint8(2), instrs[1].Deps.Delay)
    assert.GreaterOrEqual(t, instrs[0].Deps.Delay, uint8(2))

    /* the older one does not */
    fn, _ = schedule(52, 0, ir.NewBasicBlock(0, dadd(), exit()))
    assert.Len(t, fn.Blocks.At(0).Instrs, 2)
}
