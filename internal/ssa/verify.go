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
    `fmt`

    `github.com/cloudwego/gpura/internal/liveness`
    `github.com/cloudwego/gpura/ir`
)

// verifyBefore prepares the checks run after a pass when the verify flag is
// set. The returned function does the checking.
func verifyBefore(ctx *Context, p Pass) func() {
    switch p.(type) {
    case *SplitCritical:
        return func() {
            ctx.Func.Blocks.Verify()
            VerifySSA(ctx.Func)
        }
    case *Legalize, *ToCSSA:
        return func() { VerifySSA(ctx.Func) }
    case *SpillAll:
        return func() {
            VerifySSA(ctx.Func)
            VerifyPressure(ctx)
        }
    case *RegAlloc:
        return newAllocChecker(ctx.Func).run
    default:
        return func() {}
    }
}

// VerifySSA checks that every value is defined exactly once and that the
// definition dominates every use.
func VerifySSA(fn *ir.Function) {
    type _Site struct {
        bi int
        ip int
    }

    /* find the definitions */
    cfg := fn.Blocks
    defs := make(map[ir.SSAValue]_Site)
    fn.ForEachInstr(func(bi int, ip int, ins *ir.Instr) {
        for _, v := range ins.SSADefs() {
            if _, dup := defs[v]; dup {
                panic(fmt.Sprintf("verify: %s is defined more than once", v))
            }
            defs[v] = _Site{bi: bi, ip: ip}
        }
    })

    /* check the uses */
    fn.ForEachInstr(func(bi int, ip int, ins *ir.Instr) {
        for _, v := range ins.SSAUses() {
            d, ok := defs[v]
            switch {
            case !ok:
                panic(fmt.Sprintf("verify: %s is used but never defined", v))
            case d.bi == bi && d.ip >= ip:
                panic(fmt.Sprintf("verify: %s is used before its definition in block %d", v, bi))
            case !cfg.Dominates(d.bi, bi):
                panic(fmt.Sprintf("verify: definition of %s does not dominate its use in block %d", v, bi))
            }
        }
    })
}

// VerifyPressure checks that no register file holds more live values than
// it has registers.
func VerifyPressure(ctx *Context) {
    max := liveness.NewSimple(ctx.Func).CalcMaxLive(ctx.Func)
    for _, f := range _SpillOrder {
        if limit := ctx.Opts.RegLimit(f == ir.GPR, ctx.Target.AllocatableRegs(f)); max[f] > limit {
            panic(fmt.Sprintf("verify: %d %s values live at once, limit is %d", max[f], f, limit))
        }
    }
}

type _SlotRef struct {
    slot int
    ref  ir.SSARef
}

type _InstrRec struct {
    pred ir.SSAValue
    srcs []_SlotRef
    dsts []_SlotRef
}

type _PhiRec struct {
    ids  []uint32
    vals []ir.SSAValue
    dsts *ir.OpPhiDsts
    srcs map[int]*ir.OpPhiSrcs
}

// _AllocChecker replays the allocated function tracking which value every
// register holds, and checks that every operand reads the value it read
// before allocation.
type _AllocChecker struct {
    fn   *ir.Function
    recs map[*ir.Instr]*_InstrRec
    phis []_PhiRec
    exit []map[ir.RegRef]ir.SSAValue
}

func newAllocChecker(fn *ir.Function) *_AllocChecker {
    nb := fn.Blocks.Len()
    ret := &_AllocChecker{
        fn:   fn,
        recs: make(map[*ir.Instr]*_InstrRec),
        phis: make([]_PhiRec, nb),
        exit: make([]map[ir.RegRef]ir.SSAValue, nb),
    }

    /* remember the SSA operands of every instruction */
    fn.ForEachInstr(func(bi int, _ int, ins *ir.Instr) {
        rec := new(_InstrRec)
        if ins.Pred.Kind == ir.PredSSA {
            rec.pred = ins.Pred.SSA
        }

        /* phis go away during allocation, the destination op keeps the registers */
        switch op := ins.Op.(type) {
        case *ir.OpPhiDsts:
            pr := &ret.phis[bi]
            pr.dsts = op
            pr.ids = append([]uint32(nil), op.Ids...)
            for _, d := range op.Dst {
                pr.vals = append(pr.vals, scalarOf(d.SSA))
            }
            return
        case *ir.OpPhiSrcs:
            cp := &ir.OpPhiSrcs{Ids: append([]uint32(nil), op.Ids...), Src: append([]ir.Src(nil), op.Src...)}
            for _, s := range fn.Blocks.Succ(bi) {
                if ret.phis[s].srcs == nil {
                    ret.phis[s].srcs = make(map[int]*ir.OpPhiSrcs)
                }
                ret.phis[s].srcs[bi] = cp
            }
            return
        }

        /* sources and destinations */
        for i, s := range ins.Op.Srcs() {
            if s.IsSSA() {
                rec.srcs = append(rec.srcs, _SlotRef{slot: i, ref: s.SSA})
            }
        }
        for i, d := range ins.Op.Dsts() {
            if d.IsSSA() {
                rec.dsts = append(rec.dsts, _SlotRef{slot: i, ref: d.SSA})
            }
        }
        ret.recs[ins] = rec
    })
    return ret
}

func (self *_AllocChecker) run() {
    cfg := self.fn.Blocks

    /* find the register contents until they settle */
    for changed := true; changed; {
        changed = false
        for bi := 0; bi < cfg.Len(); bi++ {
            st := self.walk(bi, false)
            if !sameContents(st, self.exit[bi]) {
                self.exit[bi] = st
                changed = true
            }
        }
    }

    /* then check every operand */
    for bi := 0; bi < cfg.Len(); bi++ {
        self.walk(bi, true)
    }
}

func sameContents(a map[ir.RegRef]ir.SSAValue, b map[ir.RegRef]ir.SSAValue) bool {
    if b == nil || len(a) != len(b) {
        return false
    }
    for r, v := range a {
        if b[r] != v {
            return false
        }
    }
    return true
}

// entry intersects the contents the predecessors leave behind, phi
// destinations take the value of their channel.
func (self *_AllocChecker) entry(bi int) map[ir.RegRef]ir.SSAValue {
    var ret map[ir.RegRef]ir.SSAValue
    pr := self.phis[bi]

    /* every processed predecessor */
    for _, p := range self.fn.Blocks.Pred(bi) {
        if self.exit[p] == nil {
            continue
        }

        /* contents along this edge */
        st := make(map[ir.RegRef]ir.SSAValue, len(self.exit[p]))
        for r, v := range self.exit[p] {
            st[r] = v
        }

        /* phi channels arrive in the phi register */
        for i, id := range pr.ids {
            d := pr.dsts.Dst[i]
            if !d.IsReg() {
                continue
            }

            /* the register must hold the source along this edge */
            src, ok := pr.srcs[p].Lookup(id)
            if ok && (!src.IsSSA() || self.exit[p][d.Reg] == src.SSA.At(0)) {
                st[d.Reg] = pr.vals[i]
            } else {
                delete(st, d.Reg)
            }
        }

        /* merge */
        if ret == nil {
            ret = st
        } else {
            for r, v := range ret {
                if st[r] != v {
                    delete(ret, r)
                }
            }
        }
    }

    /* the entry block */
    if ret == nil {
        ret = make(map[ir.RegRef]ir.SSAValue)
    }
    return ret
}

func (self *_AllocChecker) walk(bi int, check bool) map[ir.RegRef]ir.SSAValue {
    st := self.entry(bi)
    for _, ins := range self.fn.Blocks.At(bi).Instrs {
        rec, ok := self.recs[ins]

        /* copies inserted by the allocator move the contents around */
        if !ok {
            self.replay(st, ins)
            continue
        }

        /* every source must hold what it held before */
        if check {
            self.checkUses(st, ins, rec)
        }

        /* destinations now hold their values */
        dsts := ins.Op.Dsts()
        for _, d := range rec.dsts {
            reg := dsts[d.slot].Reg
            for i, v := range d.ref.Values() {
                st[reg.Comp(i)] = v
            }
        }
    }
    return st
}

func (self *_AllocChecker) checkUses(st map[ir.RegRef]ir.SSAValue, ins *ir.Instr, rec *_InstrRec) {
    expect := func(r ir.RegRef, v ir.SSAValue) {
        if got, ok := st[r]; !ok || got != v {
            panic(fmt.Sprintf("verify: %s reads %s expecting %s, but it holds %s", ins, r, v, got))
        }
    }

    /* the predicate */
    if rec.pred.IsValid() {
        expect(ins.Pred.Reg, rec.pred)
    }

    /* and the sources */
    srcs := ins.Op.Srcs()
    for _, s := range rec.srcs {
        reg := srcs[s.slot].Reg
        if !srcs[s.slot].IsReg() || reg.Comps() != s.ref.Comps() {
            panic(fmt.Sprintf("verify: %s was not allocated properly", ins))
        }
        for i, v := range s.ref.Values() {
            expect(reg.Comp(i), v)
        }
    }
}

func (self *_AllocChecker) replay(st map[ir.RegRef]ir.SSAValue, ins *ir.Instr) {
    pc, ok := ins.Op.(*ir.OpParCopy)
    if !ok {
        panic(fmt.Sprintf("verify: unexpected instruction %s inserted by the allocator", ins))
    }

    /* simultaneous assignment */
    moved := make(map[ir.RegRef]ir.SSAValue)
    for i, d := range pc.Dst {
        if s := pc.Src[i]; s.IsReg() {
            if v, ok := st[s.Reg]; ok {
                moved[d.Reg] = v
            }
        }
    }

    /* everything written loses its old contents */
    for _, d := range pc.Dst {
        delete(st, d.Reg)
    }
    for r, v := range moved {
        st[r] = v
    }
}
