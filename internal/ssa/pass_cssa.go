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
    `sort`

    `github.com/cloudwego/gpura/internal/liveness`
    `github.com/cloudwego/gpura/ir`
    `github.com/deckarep/golang-set/v2`
)

// ToCSSA converts the function into conventional SSA: every phi, its
// destination and all of its sources end up in one congruence class whose
// members never interfere, so phis can later be removed by assigning the
// whole class one register.
type ToCSSA struct{}

type _Class struct {
    vals mapset.Set[ir.SSAValue]
    phis mapset.Set[uint32]
}

type _CSSA struct {
    fn      *ir.Function
    live    *liveness.SimpleLiveness
    class   map[ir.SSAValue]*_Class
    block   map[uint32]int
    dst     map[uint32]ir.SSAValue
    dstCopy map[int]*ir.OpParCopy
    srcCopy map[int]*ir.OpParCopy
    copies  int
}

func (ToCSSA) Apply(ctx *Context) {
    fn := ctx.Func
    cs := &_CSSA{
        fn:      fn,
        live:    liveness.NewSimple(fn),
        class:   make(map[ir.SSAValue]*_Class),
        block:   make(map[uint32]int),
        dst:     make(map[uint32]ir.SSAValue),
        dstCopy: make(map[int]*ir.OpParCopy),
        srcCopy: make(map[int]*ir.OpParCopy),
    }

    /* index the phis */
    for bi := 0; bi < fn.Blocks.Len(); bi++ {
        if pd, ok := fn.Blocks.At(bi).PhiDsts(); ok {
            for i, id := range pd.Ids {
                cs.block[id] = bi
                cs.dst[id] = scalarOf(pd.Dst[i].SSA)
            }
        }
    }

    /* coalesce every phi in block order */
    for bi := 0; bi < fn.Blocks.Len(); bi++ {
        if pd, ok := fn.Blocks.At(bi).PhiDsts(); ok {
            for i := range pd.Ids {
                cs.coalesce(bi, pd, i)
            }
        }
    }

    ctx.Log("cssa").WithField("copies", cs.copies).Debug("converted to conventional SSA")
}

func scalarOf(ref ir.SSARef) ir.SSAValue {
    if ref.Comps() != 1 {
        panic("ssa: vector phi channel " + ref.String())
    }
    return ref.At(0)
}

func (self *_CSSA) classOf(v ir.SSAValue) *_Class {
    if c, ok := self.class[v]; ok {
        return c
    }

    /* singleton class */
    c := &_Class{
        vals: mapset.NewThreadUnsafeSet(v),
        phis: mapset.NewThreadUnsafeSet[uint32](),
    }
    self.class[v] = c
    return c
}

func (self *_CSSA) coalesce(bi int, pd *ir.OpPhiDsts, i int) {
    id := pd.Ids[i]
    d := scalarOf(pd.Dst[i].SSA)

    /* the class starts with just the phi itself */
    cls := &_Class{
        vals: mapset.NewThreadUnsafeSet[ir.SSAValue](),
        phis: mapset.NewThreadUnsafeSet(id),
    }

    /* try the destination first */
    if other := self.classOf(d); self.canJoin(cls, other) {
        self.merge(cls, other)
    } else {
        nd := self.fn.SSAAlloc.Alloc(d.File())
        pd.Dst[i] = ir.SSADst(nd)
        self.dstCopyOf(bi).Push(ir.SSADst(d), ir.SSASrc(nd))
        self.join(cls, nd)
    }

    /* then every source */
    for _, p := range self.fn.Blocks.Pred(bi) {
        ps, ok := self.fn.Blocks.At(p).PhiSrcs()
        if !ok {
            panic("cssa: predecessor without phi sources")
        }

        /* find the source of this phi */
        src, ok := ps.Lookup(id)
        if !ok {
            panic("cssa: phi without a source from a predecessor")
        }

        /* sources are plain SSA values after legalization */
        if !src.IsSSA() {
            panic("cssa: phi source is not an SSA value")
        }

        /* merge the class, or copy the source on the edge */
        s := scalarOf(src.SSA)
        if other := self.classOf(s); other == cls || self.canJoin(cls, other) {
            self.merge(cls, other)
        } else {
            ns := self.fn.SSAAlloc.Alloc(s.File())
            *src = ir.SSASrc(ns)
            self.srcCopyOf(p).Push(ir.SSADst(ns), ir.SSASrc(s))
            self.join(cls, ns)
        }
    }
}

// join adds a freshly made copy to a class. It lives on one edge of the phi
// only, so the phi itself accounts for its interference.
func (self *_CSSA) join(cls *_Class, v ir.SSAValue) {
    cls.vals.Add(v)
    self.class[v] = cls
    self.copies++
}

func (self *_CSSA) merge(cls *_Class, other *_Class) {
    if cls == other {
        return
    }
    other.vals.Each(func(v ir.SSAValue) bool {
        cls.vals.Add(v)
        self.class[v] = cls
        return false
    })
    other.phis.Each(func(id uint32) bool {
        cls.phis.Add(id)
        return false
    })
}

func (self *_CSSA) canJoin(a *_Class, b *_Class) bool {
    if a == b {
        return true
    }

    /* one register can not carry two phis */
    if a.phis.Cardinality() != 0 && b.phis.Cardinality() != 0 {
        return false
    }

    /* values against the phis of the other class */
    if self.phiConflicts(a.phis, b.vals) || self.phiConflicts(b.phis, a.vals) {
        return false
    }

    /* values against values */
    return !self.valuesInterfere(a.vals, b.vals)
}

// phiConflicts checks whether any value is live where a phi needs its
// register: across the end of a predecessor that does not feed it, or into
// the phi block.
func (self *_CSSA) phiConflicts(phis mapset.Set[uint32], vals mapset.Set[ir.SSAValue]) (ret bool) {
    phis.Each(func(id uint32) bool {
        bi := self.block[id]
        vals.Each(func(v ir.SSAValue) bool {
            ret = self.conflictsPhi(bi, id, v)
            return ret
        })
        return ret
    })
    return
}

func (self *_CSSA) conflictsPhi(bi int, id uint32, v ir.SSAValue) bool {
    if v != self.dst[id] && self.live.IsLiveIn(bi, v) {
        return true
    }

    /* live across a predecessor end it does not feed */
    for _, p := range self.fn.Blocks.Pred(bi) {
        if self.live.IsLiveOut(p, v) {
            ps, ok := self.fn.Blocks.At(p).PhiSrcs()
            if !ok {
                return true
            }
            if src, ok := ps.Lookup(id); !ok || !src.IsSSA() || src.SSA.At(0) != v {
                return true
            }
        }
    }
    return false
}

type _ClassMember struct {
    v    ir.SSAValue
    side int
    bi   int
    ip   int
}

// valuesInterfere walks the members of both sets in dominance order,
// keeping the chain of dominating definitions on a stack. Two values
// interfere only if one definition dominates the other, so every value is
// checked against the stacked values of the other set.
func (self *_CSSA) valuesInterfere(a mapset.Set[ir.SSAValue], b mapset.Set[ir.SSAValue]) bool {
    var all []_ClassMember
    cfg := self.fn.Blocks

    /* collect the members with a known definition */
    for side, set := range []mapset.Set[ir.SSAValue]{a, b} {
        set.Each(func(v ir.SSAValue) bool {
            if bi, ip, ok := self.live.DefSite(v); ok {
                all = append(all, _ClassMember{v: v, side: side, bi: bi, ip: ip})
            }
            return false
        })
    }

    /* dominator tree pre-order, then program order */
    sort.Slice(all, func(i int, j int) bool {
        pi, pj := cfg.DomPreIdx(all[i].bi), cfg.DomPreIdx(all[j].bi)
        if pi != pj {
            return pi < pj
        } else if all[i].ip != all[j].ip {
            return all[i].ip < all[j].ip
        } else {
            return all[i].v < all[j].v
        }
    })

    /* walk with the dominance stack */
    var stack []_ClassMember
    for _, m := range all {
        for len(stack) != 0 && !self.defDominates(stack[len(stack)-1], m) {
            stack = stack[:len(stack)-1]
        }

        /* check the dominating values of the other set */
        for _, s := range stack {
            if s.side != m.side && self.live.Interferes(s.v, m.v) {
                return true
            }
        }

        /* enter the value */
        stack = append(stack, m)
    }
    return false
}

func (self *_CSSA) defDominates(a _ClassMember, b _ClassMember) bool {
    if a.bi == b.bi {
        return a.ip <= b.ip
    } else {
        return self.fn.Blocks.Dominates(a.bi, b.bi)
    }
}

func (self *_CSSA) dstCopyOf(bi int) *ir.OpParCopy {
    if pc, ok := self.dstCopy[bi]; ok {
        return pc
    }

    /* right after the phi destinations */
    pc := new(ir.OpParCopy)
    self.fn.Blocks.At(bi).Insert(1, ir.NewInstr(pc))
    self.dstCopy[bi] = pc
    return pc
}

func (self *_CSSA) srcCopyOf(bi int) *ir.OpParCopy {
    if pc, ok := self.srcCopy[bi]; ok {
        return pc
    }

    /* right before the phi sources */
    bb := self.fn.Blocks.At(bi)
    pc := new(ir.OpParCopy)
    bb.Insert(bb.PhiSrcsIP(), ir.NewInstr(pc))
    self.srcCopy[bi] = pc
    return pc
}
