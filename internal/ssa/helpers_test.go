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
    `github.com/cloudwego/gpura/internal/hw`
    `github.com/cloudwego/gpura/internal/opts`
    `github.com/cloudwego/gpura/ir`
    `github.com/sirupsen/logrus`
    `pgregory.net/rapid`
)

func newTestContext(fn *ir.Function, sm uint8, flags opts.DebugFlags) *Context {
    log := logrus.New()
    log.SetLevel(logrus.WarnLevel)
    o := &opts.Options{Debug: flags, Logger: log}
    info := &ir.ShaderInfo{SM: sm}
    return NewContext(fn, info, hw.MustForSM(sm), o)
}

func mov(dst ir.SSAValue, src ir.Src) *ir.Instr {
    return ir.NewInstr(&ir.OpMov{Dst: ir.SSADst(dst), Src: src})
}

func add(dst ir.SSAValue, a ir.SSAValue, b ir.SSAValue) *ir.Instr {
    return ir.NewInstr(&ir.OpIAdd3{Dst: ir.SSADst(dst), Src: [3]ir.Src{ir.SSASrc(a), ir.SSASrc(b), ir.Zero()}})
}

func store(v ir.SSAValue, offset int32) *ir.Instr {
    return ir.NewInstr(&ir.OpSt{Addr: ir.Zero(), Data: ir.SSASrc(v), Offset: offset, Space: ir.MemGlobal})
}

func setp(dst ir.SSAValue, a ir.SSAValue, b ir.SSAValue) *ir.Instr {
    return ir.NewInstr(&ir.OpISetP{Dst: ir.SSADst(dst), Cmp: ir.ICmpLt, Src: [2]ir.Src{ir.SSASrc(a), ir.SSASrc(b)}, Accum: ir.True()})
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

func phiDsts(ids []uint32, dsts ...ir.SSAValue) *ir.Instr {
    op := new(ir.OpPhiDsts)
    for i, d := range dsts {
        op.Push(ids[i], ir.SSADst(d))
    }
    return ir.NewInstr(op)
}

func phiSrcs(ids []uint32, srcs ...ir.SSAValue) *ir.Instr {
    op := new(ir.OpPhiSrcs)
    for i, s := range srcs {
        op.Push(ids[i], ir.SSASrc(s))
    }
    return ir.NewInstr(op)
}

func blockOf(fn *ir.Function, label ir.Label) *ir.BasicBlock {
    bi, ok := fn.BlockIndex(label)
    if !ok {
        panic("test: no block " + label.String())
    }
    return fn.Blocks.At(bi)
}

func countOps[T ir.Op](fn *ir.Function) (n int) {
    fn.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
        if _, ok := ins.Op.(T); ok {
            n++
        }
    })
    return
}

func gpr(i uint32) ir.RegRef {
    return ir.NewRegRef(ir.GPR, i, 1)
}

/* L0: n values, p = v0 < v1; @p bra L2
 * L1: x = a + b; phisrcs {x}; bra L3
 * L2: y = c + d; phisrcs {y}
 * L3: m = phi(x, y); st m; phisrcs {m}
 * L4: i = phi(m, j); j = i + e; @p bra L4
 * L5: st j and some of the values from L0; exit */
func branchyFunc(t *rapid.T) *ir.Function {
    var alloc ir.SSAValueAllocator
    var phis ir.PhiAllocator
    merge := phis.Alloc()
    loop := phis.Alloc()
    p := alloc.Alloc(ir.Pred)
    x := alloc.Alloc(ir.GPR)
    y := alloc.Alloc(ir.GPR)
    m := alloc.Alloc(ir.GPR)
    i := alloc.Alloc(ir.GPR)
    j := alloc.Alloc(ir.GPR)

    /* values defined up front */
    var entry []*ir.Instr
    vals := make([]ir.SSAValue, rapid.IntRange(2, 16).Draw(t, "n"))
    for k := range vals {
        vals[k] = alloc.Alloc(ir.GPR)
        entry = append(entry, mov(vals[k], ir.Imm(uint32(k+1))))
    }
    pick := func(name string) ir.SSAValue {
        return rapid.SampledFrom(vals).Draw(t, name)
    }

    /* the loop body may read one more of them */
    body := []*ir.Instr{phiDsts([]uint32{loop}, i), add(j, i, pick("e"))}
    if rapid.Bool().Draw(t, "body") {
        body = append(body, store(pick("f"), 72))
    }

    /* some of them are still live after the loop */
    var tail []*ir.Instr
    for k, v := range vals {
        if rapid.Bool().Draw(t, "live") {
            tail = append(tail, store(v, int32(k*4)))
        }
    }

    /* diamond, then a self loop */
    return ir.NewFunction(alloc, phis, []*ir.BasicBlock{
        ir.NewBasicBlock(0, append(entry, setp(p, vals[0], vals[1]), bra(2, p))...),
        ir.NewBasicBlock(1, add(x, pick("a"), pick("b")), phiSrcs([]uint32{merge}, x), bra(3, 0)),
        ir.NewBasicBlock(2, add(y, pick("c"), pick("d")), phiSrcs([]uint32{merge}, y)),
        ir.NewBasicBlock(3, phiDsts([]uint32{merge}, m), store(m, 68), phiSrcs([]uint32{loop}, m)),
        ir.NewBasicBlock(4, append(body, phiSrcs([]uint32{loop}, j), bra(4, p))...),
        ir.NewBasicBlock(5, append(tail, store(j, 64), exit())...),
    })
}
