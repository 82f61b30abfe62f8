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
    `pgregory.net/rapid`
)

func compileVerified(t require.TestingT, fn *ir.Function, sm uint8, limit int) *Context {
    ctx := newTestContext(fn, sm, opts.DebugVerify)
    ctx.Opts.SpillLimit = limit
    require.NotPanics(t, func() { Compile(ctx) }, "%s", fn)
    return ctx
}

func requireAllocated(t require.TestingT, fn *ir.Function) {
    fn.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
        require.NotEqual(t, ir.PredSSA, ins.Pred.Kind, "%s", ins)
        for _, s := range ins.Op.Srcs() {
            require.False(t, s.IsSSA(), "%s", ins)
        }
        for _, d := range ins.Op.Dsts() {
            require.False(t, d.IsSSA(), "%s", ins)
        }
        switch ins.Op.(type) {
        case *ir.OpCopy, *ir.OpSwap, *ir.OpParCopy, *ir.OpPhiSrcs, *ir.OpPhiDsts, *ir.OpSpill, *ir.OpFill:
            require.Fail(t, "pseudo instruction left: "+ins.String())
        }
    })
}

func TestCompile_StraightLine(t *testing.T) {
    rapid.Check(t, func(t *rapid.T) {
        var alloc ir.SSAValueAllocator
        var vals []ir.SSAValue
        var instrs []*ir.Instr

        /* random arithmetic */
        n := rapid.IntRange(1, 40).Draw(t, "n")
        for i := 0; i < n; i++ {
            v := alloc.Alloc(ir.GPR)
            if len(vals) == 0 || rapid.Bool().Draw(t, "imm") {
                instrs = append(instrs, mov(v, ir.Imm(uint32(i))))
            } else {
                x := rapid.SampledFrom(vals).Draw(t, "x")
                y := rapid.SampledFrom(vals).Draw(t, "y")
                instrs = append(instrs, add(v, x, y))
            }
            vals = append(vals, v)
        }

        /* some results are stored */
        for i, v := range vals {
            if rapid.Bool().Draw(t, "store") {
                instrs = append(instrs, store(v, int32(i*4)))
            }
        }

        /* compile with or without pressure */
        sm := rapid.SampledFrom([]uint8{70, 75, 86}).Draw(t, "sm")
        limit := rapid.IntRange(4, 32).Draw(t, "limit")
        fn := ir.NewFunction(alloc, ir.PhiAllocator{}, []*ir.BasicBlock{ir.NewBasicBlock(0, append(instrs, exit())...)})
        ctx := compileVerified(t, fn, sm, limit)
        requireAllocated(t, fn)
        require.LessOrEqual(t, ctx.Info.NumGPRs, uint32(255))
    })
}

func TestCompile_Branchy(t *testing.T) {
    rapid.Check(t, func(t *rapid.T) {
        fn := branchyFunc(t)
        sm := rapid.SampledFrom([]uint8{70, 75, 86}).Draw(t, "sm")
        limit := rapid.IntRange(4, 10).Draw(t, "limit")
        ctx := compileVerified(t, fn, sm, limit)
        requireAllocated(t, fn)
        require.Equal(t, uint32(fn.NumInstrs()), ctx.Info.NumInstrs)
    })
}

func TestCompile_Diamond(t *testing.T) {
    for _, shared := range []bool{true, false} {
        fn, _, _, _ := diamondFunc(shared)
        ctx := compileVerified(t, fn, 75, 0)
        requireAllocated(t, fn)
        assert.NotZero(t, ctx.Info.NumGPRs)
        assert.Equal(t, uint32(fn.NumInstrs()), ctx.Info.NumInstrs)
    }
}

/* i = phi(0, j); j = i + n; @p bra L1, with values live around the loop */
func TestCompile_LoopUnderPressure(t *testing.T) {
    var alloc ir.SSAValueAllocator
    var phis ir.PhiAllocator
    id := phis.Alloc()
    z := alloc.Alloc(ir.GPR)
    n := alloc.Alloc(ir.GPR)
    i := alloc.Alloc(ir.GPR)
    j := alloc.Alloc(ir.GPR)
    p := alloc.Alloc(ir.Pred)

    /* values defined before the loop and read after it */
    var head, tail []*ir.Instr
    head = append(head, mov(z, ir.Imm(0)), mov(n, ir.Imm(1)))
    for k := 0; k < 12; k++ {
        v := alloc.Alloc(ir.GPR)
        head = append(head, mov(v, ir.Imm(uint32(k))))
        tail = append(tail, store(v, int32(k*4)))
    }
    head = append(head, setp(p, n, z), phiSrcs([]uint32{id}, z))

    /* the loop */
    fn := ir.NewFunction(alloc, phis, []*ir.BasicBlock{
        ir.NewBasicBlock(0, head...),
        ir.NewBasicBlock(1, phiDsts([]uint32{id}, i), add(j, i, n), phiSrcs([]uint32{id}, j), bra(1, p)),
        ir.NewBasicBlock(2, append(append(tail, store(j, 64)), exit())...),
    })

    /* tight enough to spill */
    ctx := compileVerified(t, fn, 75, 6)
    requireAllocated(t, fn)
    assert.Greater(t, ctx.Info.SlmSize, uint32(0))
    assert.LessOrEqual(t, ctx.Info.NumGPRs, uint32(255))
}

func TestCompile_RegOut(t *testing.T) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    b := alloc.Alloc(ir.GPR)
    c := alloc.Alloc(ir.GPR)
    out := &ir.OpRegOut{Src: []ir.Src{ir.SSASrc(b), ir.SSASrc(a), ir.Imm(9)}}
    fn := ir.NewFunction(alloc, ir.PhiAllocator{}, []*ir.BasicBlock{
        ir.NewBasicBlock(0, mov(a, ir.Imm(1)), mov(b, ir.Imm(2)), add(c, a, b), store(c, 0), ir.NewInstr(out), exit()),
    })

    /* outputs land in r0, r1, r2 in order */
    compileVerified(t, fn, 75, 0)
    for k, s := range out.Src {
        require.True(t, s.IsReg())
        assert.Equal(t, gpr(uint32(k)), s.Reg)
    }
}

func TestCompile_VectorStore(t *testing.T) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    b := alloc.Alloc(ir.GPR)
    c := alloc.Alloc(ir.GPR)
    d := alloc.Alloc(ir.GPR)
    st := &ir.OpSt{Addr: ir.Zero(), Data: ir.SSASrc(a, b, c, d), Space: ir.MemGlobal}
    fn := ir.NewFunction(alloc, ir.PhiAllocator{}, []*ir.BasicBlock{
        ir.NewBasicBlock(0, mov(a, ir.Imm(1)), mov(b, ir.Imm(2)), mov(c, ir.Imm(3)), mov(d, ir.Imm(4)), store(b, 16), ir.NewInstr(st), exit()),
    })

    /* the four components sit in one aligned range */
    compileVerified(t, fn, 75, 0)
    require.True(t, st.Data.IsReg())
    assert.Equal(t, 4, st.Data.Reg.Comps())
    assert.Zero(t, st.Data.Reg.Base()%4)
}

func TestCompile_OldFamily(t *testing.T) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    c := alloc.Alloc(ir.GPR)
    op := &ir.OpIAdd2{Dst: ir.SSADst(c), Src: [2]ir.Src{ir.SSASrc(a), ir.Imm(0x123456)}}
    fn := ir.NewFunction(alloc, ir.PhiAllocator{}, []*ir.BasicBlock{
        ir.NewBasicBlock(0, mov(a, ir.Imm(1)), ir.NewInstr(op), store(c, 0), store(a, 4), exit()),
    })

    /* the wide immediate is materialized, nothing is padded */
    ctx := compileVerified(t, fn, 52, 0)
    requireAllocated(t, fn)
    assert.True(t, op.Src[1].IsReg())
    assert.Zero(t, countOps[*ir.OpNop](fn))
    assert.Equal(t, uint32(0), ctx.Info.NumBarriers)
}
