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

    `github.com/cloudwego/gpura/ir`
    `github.com/oleiade/lane`
    `golang.org/x/exp/slices`
)

type _RepairDef struct {
    ip int
    v  ir.SSAValue
}

type _RepairBlock struct {
    defs   []_RepairDef
    liveIn ir.SSAValue
}

type _RepairPhi struct {
    bi   int
    id   uint32
    dst  ir.SSAValue
    srcs []ir.SSAValue
}

type _Repairer struct {
    fn     *ir.Function
    orig   ir.SSAValue
    phis   []_RepairPhi
    blocks []_RepairBlock
}

// RepairSSA gives every value defined more than once a fresh name per
// definition, inserting phis where the definitions meet. Phis left with a
// single distinct source are folded away afterwards.
func RepairSSA(fn *ir.Function) {
    var multi []ir.SSAValue
    ndefs := make(map[ir.SSAValue]int)

    /* count the definitions */
    fn.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
        for _, v := range ins.SSADefs() {
            if ndefs[v]++; ndefs[v] == 2 {
                multi = append(multi, v)
            }
        }
    })

    /* repair in allocation order */
    slices.Sort(multi)
    for _, v := range multi {
        rp := &_Repairer{
            fn:     fn,
            orig:   v,
            blocks: make([]_RepairBlock, fn.Blocks.Len()),
        }
        rp.rename()
        rp.insertPhis()
    }

    /* then clean up */
    PruneTrivialPhis(fn)
}

func (self *_Repairer) rename() {
    cfg := self.fn.Blocks

    /* Phase 1: Give every definition a new name */
    for bi := 0; bi < cfg.Len(); bi++ {
        rb := &self.blocks[bi]
        for ip, ins := range cfg.At(bi).Instrs {
            ins.ForEachSSADef(func(v *ir.SSAValue) {
                if *v == self.orig {
                    *v = self.fn.SSAAlloc.Alloc(v.File())
                    rb.defs = append(rb.defs, _RepairDef{ip: ip, v: *v})
                }
            })
        }
    }

    /* Phase 2: Point every use at the reaching definition */
    for bi := 0; bi < cfg.Len(); bi++ {
        for ip, ins := range cfg.At(bi).Instrs {
            ins.ForEachSSAUse(func(v *ir.SSAValue) {
                if *v == self.orig {
                    *v = self.reaching(bi, ip)
                }
            })
        }
    }
}

// reaching returns the name of the value right before instruction ip.
func (self *_Repairer) reaching(bi int, ip int) ir.SSAValue {
    defs := self.blocks[bi].defs
    for i := len(defs) - 1; i >= 0; i-- {
        if defs[i].ip < ip {
            return defs[i].v
        }
    }
    return self.liveIn(bi)
}

func (self *_Repairer) liveOut(bi int) ir.SSAValue {
    if defs := self.blocks[bi].defs; len(defs) != 0 {
        return defs[len(defs)-1].v
    } else {
        return self.liveIn(bi)
    }
}

func (self *_Repairer) liveIn(bi int) ir.SSAValue {
    rb := &self.blocks[bi]
    if rb.liveIn.IsValid() {
        return rb.liveIn
    }

    /* a single predecessor passes the value through */
    preds := self.fn.Blocks.Pred(bi)
    switch len(preds) {
    case 0:
        panic(fmt.Sprintf("repair: %s is used without a dominating definition", self.orig))
    case 1:
        rb.liveIn = self.liveOut(preds[0])
        return rb.liveIn
    }

    /* definitions meet here, the phi is named before the sources are looked up so loops terminate */
    rb.liveIn = self.fn.SSAAlloc.Alloc(self.orig.File())
    idx := len(self.phis)
    self.phis = append(self.phis, _RepairPhi{bi: bi, id: self.fn.PhiAlloc.Alloc(), dst: rb.liveIn})

    /* look up every source */
    for _, p := range preds {
        v := self.liveOut(p)
        self.phis[idx].srcs = append(self.phis[idx].srcs, v)
    }
    return self.blocks[bi].liveIn
}

func (self *_Repairer) insertPhis() {
    cfg := self.fn.Blocks
    for _, phi := range self.phis {
        bb := cfg.At(phi.bi)
        pd, ok := bb.PhiDsts()

        /* the block may not have phis yet */
        if !ok {
            pd = new(ir.OpPhiDsts)
            bb.Insert(0, ir.NewInstr(pd))
        }

        /* add the channel */
        pd.Push(phi.id, ir.SSADst(phi.dst))
        for i, p := range cfg.Pred(phi.bi) {
            pb := cfg.At(p)
            ps, ok := pb.PhiSrcs()

            /* neither may the predecessors */
            if !ok {
                ps = new(ir.OpPhiSrcs)
                pb.Insert(pb.EndIP(), ir.NewInstr(ps))
            }

            /* feed the channel */
            ps.Push(phi.id, ir.SSASrc(phi.srcs[i]))
        }
    }
}

func resolveAlias(alias map[ir.SSAValue]ir.SSAValue, v ir.SSAValue) ir.SSAValue {
    for {
        if r, ok := alias[v]; ok {
            v = r
        } else {
            return v
        }
    }
}

// trivialSource returns the only source of a phi apart from the phi itself.
func trivialSource(fn *ir.Function, bi int, id uint32, d ir.SSAValue, alias map[ir.SSAValue]ir.SSAValue) (ir.SSAValue, bool) {
    var same ir.SSAValue
    for _, p := range fn.Blocks.Pred(bi) {
        ps, ok := fn.Blocks.At(p).PhiSrcs()
        if !ok {
            return 0, false
        }

        /* only scalar SSA sources can be folded */
        src, ok := ps.Lookup(id)
        if !ok || !src.IsSSA() || src.SSA.Comps() != 1 {
            return 0, false
        }

        /* self references do not count */
        s := resolveAlias(alias, src.SSA.At(0))
        if s == d {
            continue
        }

        /* a second distinct source */
        if same.IsValid() && s != same {
            return 0, false
        }
        same = s
    }
    return same, same.IsValid()
}

// PruneTrivialPhis replaces every phi whose sources are all the same value
// (or the phi itself) by that value.
func PruneTrivialPhis(fn *ir.Function) {
    var heads []int
    wl := lane.NewQueue()
    queued := make(map[int]bool)
    dead := make(map[uint32]bool)
    alias := make(map[ir.SSAValue]ir.SSAValue)

    /* every block with phis */
    for bi := 0; bi < fn.Blocks.Len(); bi++ {
        if _, ok := fn.Blocks.At(bi).PhiDsts(); ok {
            heads = append(heads, bi)
            queued[bi] = true
            wl.Enqueue(bi)
        }
    }

    /* fold until nothing changes */
    for !wl.Empty() {
        bi := wl.Dequeue().(int)
        pd, _ := fn.Blocks.At(bi).PhiDsts()
        queued[bi] = false

        /* check every channel */
        for i, id := range pd.Ids {
            if dead[id] || !pd.Dst[i].IsSSA() || pd.Dst[i].SSA.Comps() != 1 {
                continue
            }

            /* not foldable */
            d := pd.Dst[i].SSA.At(0)
            s, ok := trivialSource(fn, bi, id, d, alias)
            if !ok {
                continue
            }

            /* other phis may read this one */
            alias[d] = s
            dead[id] = true
            for _, h := range heads {
                if !queued[h] {
                    queued[h] = true
                    wl.Enqueue(h)
                }
            }
        }
    }

    /* nothing folded */
    if len(dead) == 0 {
        return
    }

    /* rewrite the uses */
    fn.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
        ins.ForEachSSAUse(func(v *ir.SSAValue) {
            *v = resolveAlias(alias, *v)
        })
    })

    /* and drop the channels */
    fn.MapInstrs(func(_ int, _ int, ins *ir.Instr) []*ir.Instr {
        switch op := ins.Op.(type) {
        case *ir.OpPhiDsts:
            if removePhiDsts(op, dead) == 0 {
                return nil
            }
        case *ir.OpPhiSrcs:
            if removePhiSrcs(op, dead) == 0 {
                return nil
            }
        }
        return []*ir.Instr{ins}
    })
}
