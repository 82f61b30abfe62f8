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

    `github.com/brianvoe/gofakeit/v6`
    `github.com/cloudwego/gpura/internal/liveness`
    `github.com/cloudwego/gpura/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
    `pgregory.net/rapid`
)

func TestSpillTarget(t *testing.T) {
    assert.Equal(t, ir.GPR, SpillTarget(ir.Pred))
    assert.Equal(t, ir.GPR, SpillTarget(ir.Bar))
    assert.Equal(t, ir.GPR, SpillTarget(ir.UGPR))
    assert.Equal(t, ir.UGPR, SpillTarget(ir.UPred))
    assert.Equal(t, ir.Mem, SpillTarget(ir.GPR))
    assert.Panics(t, func() { SpillTarget(ir.Carry) })
}

/* 20 values defined up front, then stored in definition order */
func TestSpill_StraightLine(t *testing.T) {
    var alloc ir.SSAValueAllocator
    var instrs []*ir.Instr
    vals := make([]ir.SSAValue, 20)
    for i := range vals {
        vals[i] = alloc.Alloc(ir.GPR)
        instrs = append(instrs, mov(vals[i], ir.Imm(uint32(i))))
    }
    for i, v := range vals {
        instrs = append(instrs, store(v, int32(i*4)))
    }

    /* spill down to 16 registers */
    fn := ir.NewFunction(alloc, ir.PhiAllocator{}, []*ir.BasicBlock{ir.NewBasicBlock(0, append(instrs, exit())...)})
    ctx := newTestContext(fn, 75, 0)
    SpillFile(ctx, ir.GPR, 16)

    /* the four values used last are the ones sent to memory */
    assert.Equal(t, 4, countOps[*ir.OpSpill](fn))
    assert.Equal(t, 4, countOps[*ir.OpFill](fn))
    require.NotPanics(t, func() { VerifySSA(fn) })
    max := liveness.NewSimple(fn).CalcMaxLive(fn)
    assert.LessOrEqual(t, max[ir.GPR], uint32(16))

    /* every store still reads a register */
    fn.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
        if st, ok := ins.Op.(*ir.OpSt); ok {
            require.True(t, st.Data.IsSSA())
            assert.Equal(t, ir.GPR, st.Data.SSA.File())
        }
    })
}

func TestSpill_NothingToDo(t *testing.T) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    b := alloc.Alloc(ir.GPR)
    c := alloc.Alloc(ir.GPR)
    fn := ir.NewFunction(alloc, ir.PhiAllocator{}, []*ir.BasicBlock{
        ir.NewBasicBlock(0, mov(a, ir.Imm(1)), mov(b, ir.Imm(2)), add(c, a, b), store(c, 0), exit()),
    })

    /* enough registers, no spill code */
    ctx := newTestContext(fn, 75, 0)
    SpillAll{}.Apply(ctx)
    assert.Equal(t, 0, countOps[*ir.OpSpill](fn))
    assert.Equal(t, 0, countOps[*ir.OpFill](fn))
    assert.Equal(t, 5, fn.NumInstrs())
}

/* random straight-line programs always end up within the budget */
func TestSpill_Budget(t *testing.T) {
    faker := gofakeit.New(20221018)
    for round := 0; round < 50; round++ {
        var alloc ir.SSAValueAllocator
        var vals []ir.SSAValue
        var instrs []*ir.Instr

        /* values computed from earlier ones */
        n := faker.IntRange(10, 60)
        for i := 0; i < n; i++ {
            v := alloc.Alloc(ir.GPR)
            if len(vals) < 2 || faker.Bool() {
                instrs = append(instrs, mov(v, ir.Imm(faker.Uint32())))
            } else {
                x := vals[faker.IntRange(0, len(vals)-1)]
                y := vals[faker.IntRange(0, len(vals)-1)]
                instrs = append(instrs, add(v, x, y))
            }
            vals = append(vals, v)
        }

        /* keep a random half alive until the end */
        for i, v := range vals {
            if faker.Bool() {
                instrs = append(instrs, store(v, int32(i*4)))
            }
        }

        /* spill */
        limit := uint32(faker.IntRange(3, 12))
        fn := ir.NewFunction(alloc, ir.PhiAllocator{}, []*ir.BasicBlock{ir.NewBasicBlock(0, append(instrs, exit())...)})
        SpillFile(newTestContext(fn, 75, 0), ir.GPR, limit)

        /* check the pressure */
        max := liveness.NewSimple(fn).CalcMaxLive(fn)
        require.LessOrEqual(t, max[ir.GPR], limit, "round %d:\n%s", round, fn)
        require.NotPanics(t, func() { VerifySSA(fn) }, "round %d:\n%s", round, fn)
    }
}

/* L0: n = 1; p = ...; phisrcs {n}
 * L1: i = phi(n, j); j = i + n; ... lots of values live around the loop; @p bra L1
 * L2: st j; exit */
func TestSpill_Loop(t *testing.T) {
    var alloc ir.SSAValueAllocator
    var phis ir.PhiAllocator
    id := phis.Alloc()
    n := alloc.Alloc(ir.GPR)
    i := alloc.Alloc(ir.GPR)
    j := alloc.Alloc(ir.GPR)
    p := alloc.Alloc(ir.Pred)

    /* values defined before the loop and read after it */
    var head []*ir.Instr
    var tail []*ir.Instr
    head = append(head, mov(n, ir.Imm(1)))
    for k := 0; k < 10; k++ {
        v := alloc.Alloc(ir.GPR)
        head = append(head, mov(v, ir.Imm(uint32(k))))
        tail = append(tail, store(v, int32(k*4)))
    }
    head = append(head, setp(p, n, n), phiSrcs([]uint32{id}, n))

    /* the loop */
    fn := ir.NewFunction(alloc, phis, []*ir.BasicBlock{
        ir.NewBasicBlock(0, head...),
        ir.NewBasicBlock(1, phiDsts([]uint32{id}, i), add(j, i, n), phiSrcs([]uint32{id}, j), bra(1, p)),
        ir.NewBasicBlock(2, append(append(tail, store(j, 64)), exit())...),
    })

    /* critical edges first, then spill with a tight budget */
    ctx := newTestContext(fn, 75, 0)
    SplitCritical{}.Apply(ctx)
    SpillFile(ctx, ir.GPR, 6)

    /* the pressure fits */
    max := liveness.NewSimple(fn).CalcMaxLive(fn)
    assert.LessOrEqual(t, max[ir.GPR], uint32(6))
    assert.NotZero(t, countOps[*ir.OpSpill](fn))
    require.NotPanics(t, func() { VerifySSA(fn) }, "%s", fn)
}

func requireSpillSlots(t require.TestingT, fn *ir.Function, sp *_Spiller) {
    defs := make(map[ir.SSAValue]bool)
    fn.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
        for _, v := range ins.SSADefs() {
            defs[v] = true
        }
    })

    /* walk every block in order */
    for bi := 0; bi < fn.Blocks.Len(); bi++ {
        spilled := make(map[ir.SSAValue]bool)
        filled := make(map[ir.SSAValue]bool)
        for _, ins := range fn.Blocks.At(bi).Instrs {
            switch op := ins.Op.(type) {
            case *ir.OpSpill:
                v, slot := scalarOf(op.Src.SSA), scalarOf(op.Dst.SSA)
                require.Equal(t, sp.spills[v], slot, "%s", ins)
                require.False(t, spilled[v], "%s spilled twice", v)
                require.False(t, filled[v], "%s spilled again after a fill", v)
                spilled[v] = true
            case *ir.OpFill:
                v, slot := scalarOf(op.Dst.SSA), scalarOf(op.Src.SSA)
                require.Equal(t, sp.spills[v], slot, "%s", ins)
                require.Equal(t, ir.Mem, slot.File(), "%s", ins)
                require.True(t, defs[slot], "%s reads a slot nothing writes", ins)
                filled[v] = true
            }
        }
    }
}

func TestSpill_Branchy(t *testing.T) {
    rapid.Check(t, func(t *rapid.T) {
        fn := branchyFunc(t)
        limit := rapid.IntRange(4, 10).Draw(t, "limit")
        ctx := newTestContext(fn, 75, 0)
        SplitCritical{}.Apply(ctx)
        ToCSSA{}.Apply(ctx)

        /* every fill reads the slot of its value */
        sp := newSpiller(fn, ir.GPR, limit)
        sp.run()
        requireSpillSlots(t, fn, sp)

        /* the repaired function fits */
        RepairSSA(fn)
        EliminateDeadCode(fn)
        max := liveness.NewSimple(fn).CalcMaxLive(fn)
        require.LessOrEqual(t, max[ir.GPR], uint32(limit), "%s", fn)
        require.NotPanics(t, func() { VerifySSA(fn) }, "%s", fn)
    })
}
