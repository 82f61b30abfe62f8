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

package liveness

import (
    `testing`

    `github.com/cloudwego/gpura/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
    `pgregory.net/rapid`
)

func mov(dst ir.SSAValue, src ir.Src) *ir.Instr {
    return ir.NewInstr(&ir.OpMov{Dst: ir.SSADst(dst), Src: src})
}

func add(dst ir.SSAValue, a ir.SSAValue, b ir.SSAValue) *ir.Instr {
    return ir.NewInstr(&ir.OpIAdd3{Dst: ir.SSADst(dst), Src: [3]ir.Src{ir.SSASrc(a), ir.SSASrc(b), ir.Zero()}})
}

func bra(target ir.Label, pred ir.SSAValue) *ir.Instr {
    ins := ir.NewInstr(&ir.OpBra{Target: target})
    if pred.IsValid() {
        ins.Pred = ir.SSAPred(pred)
    }
    return ins
}

func exit() *ir.Instr {
    return ir.NewInstr(&ir.OpExit{})
}

/* L0: a = 1; b = 2; p = a < b
 * L1: c = a + b; @p bra L1
 * L2: d = c + c; exit */
func loopFunc() (*ir.Function, []ir.SSAValue) {
    var alloc ir.SSAValueAllocator
    a := alloc.Alloc(ir.GPR)
    b := alloc.Alloc(ir.GPR)
    c := alloc.Alloc(ir.GPR)
    d := alloc.Alloc(ir.GPR)
    p := alloc.Alloc(ir.Pred)
    cmp := ir.NewInstr(&ir.OpISetP{Dst: ir.SSADst(p), Cmp: ir.ICmpLt, Src: [2]ir.Src{ir.SSASrc(a), ir.SSASrc(b)}, Accum: ir.True()})
    fn := ir.NewFunction(alloc, ir.PhiAllocator{}, []*ir.BasicBlock{
        ir.NewBasicBlock(0, mov(a, ir.Imm(1)), mov(b, ir.Imm(2)), cmp),
        ir.NewBasicBlock(1, add(c, a, b), bra(1, p)),
        ir.NewBasicBlock(2, add(d, c, c), exit()),
    })
    return fn, []ir.SSAValue{a, b, c, d, p}
}

func TestSimple_Loop(t *testing.T) {
    fn, v := loopFunc()
    a, b, c, d, p := v[0], v[1], v[2], v[3], v[4]
    live := NewSimple(fn)

    /* a, b and p stay live around the loop */
    for _, x := range []ir.SSAValue{a, b, p} {
        assert.True(t, live.IsLiveIn(1, x), "%s", x)
        assert.True(t, live.IsLiveOut(1, x), "%s", x)
        assert.False(t, live.IsLiveIn(2, x), "%s", x)
    }

    /* c flows into the exit block */
    assert.True(t, live.IsLiveOut(1, c))
    assert.True(t, live.IsLiveIn(2, c))
    assert.False(t, live.IsLiveAfterIP(2, 0, c))
    assert.False(t, live.IsLiveAfterIP(2, 0, d))

    /* definitions */
    assert.False(t, live.IsLiveAfterIP(0, 0, b))
    assert.True(t, live.IsLiveAfterIP(0, 1, b))
    bi, ip, ok := live.DefSite(c)
    require.True(t, ok)
    assert.Equal(t, 1, bi)
    assert.Equal(t, 0, ip)

    /* interference */
    assert.True(t, live.Interferes(a, b))
    assert.True(t, live.Interferes(a, c))
    assert.False(t, live.Interferes(c, d))
    assert.False(t, live.Interferes(a, d))

    /* pressure */
    max := live.CalcMaxLive(fn)
    assert.Equal(t, uint32(3), max[ir.GPR])
    assert.Equal(t, uint32(1), max[ir.Pred])
}

func TestNextUse_Loop(t *testing.T) {
    fn, v := loopFunc()
    a, c := v[0], v[2]
    nu := NewNextUse(fn)

    /* c is used right at the start of the exit block, two instructions past the loop start */
    assert.Equal(t, 2, nu.NextUseAfter(1, 0, c))
    assert.Equal(t, 0, nu.FirstUse(2, c))
    assert.True(t, nu.IsLiveOut(1, c))

    /* a is used at the top of the loop body */
    assert.Equal(t, 0, nu.FirstUse(1, a))
    assert.Equal(t, 2, nu.NextUseAfter(1, 0, a))
    assert.Equal(t, 3, nu.NextUseAfter(0, 2, a))
    assert.Equal(t, NoNextUse, nu.FirstUse(2, a))
    assert.True(t, nu.IsUsedIn(1, a))
    assert.False(t, nu.IsUsedIn(2, a))
}

func TestSimple_Soundness(t *testing.T) {
    rapid.Check(t, func(t *rapid.T) {
        var alloc ir.SSAValueAllocator
        var vals []ir.SSAValue
        var instrs []*ir.Instr

        /* random straight-line program */
        n := rapid.IntRange(1, 40).Draw(t, "n")
        for i := 0; i < n; i++ {
            v := alloc.Alloc(ir.GPR)
            if len(vals) < 2 || rapid.Bool().Draw(t, "imm") {
                instrs = append(instrs, mov(v, ir.Imm(uint32(i))))
            } else {
                x := rapid.SampledFrom(vals).Draw(t, "x")
                y := rapid.SampledFrom(vals).Draw(t, "y")
                instrs = append(instrs, add(v, x, y))
            }
            vals = append(vals, v)
        }

        /* build the function */
        instrs = append(instrs, exit())
        fn := ir.NewFunction(alloc, ir.PhiAllocator{}, []*ir.BasicBlock{ir.NewBasicBlock(0, instrs...)})
        live := NewSimple(fn)

        /* a value is live after ip iff it is defined at or before ip and read after ip */
        for ip := range instrs {
            for _, v := range vals {
                exp := false
                if _, dip, _ := live.DefSite(v); dip <= ip {
                    for _, ins := range instrs[ip+1:] {
                        for _, u := range ins.SSAUses() {
                            exp = exp || u == v
                        }
                    }
                }
                if live.IsLiveAt(0, ip, v) != exp {
                    t.Fatalf("liveness of %s after %d: expected %v", v, ip, exp)
                }
            }
        }
    })
}
