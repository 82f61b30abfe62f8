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

    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/gpura/internal/liveness`
    `github.com/cloudwego/gpura/ir`
    `golang.org/x/exp/maps`
    `golang.org/x/exp/slices`
)

// RegAlloc assigns a physical register to every SSA value, one independent
// allocator per register file. Spilling already bounded the pressure, so
// running out of registers is a bug.
type RegAlloc struct{}

type _RegFileState struct {
    file   ir.RegFile
    nregs  uint32
    used   *bitset.BitSet
    pinned *bitset.BitSet
    regOf  map[ir.SSAValue]uint32
    valOf  map[uint32]ir.SSAValue
}

func newRegFileState(file ir.RegFile, nregs uint32) *_RegFileState {
    return &_RegFileState{
        file:   file,
        nregs:  nregs,
        used:   bitset.New(0),
        pinned: bitset.New(0),
        regOf:  make(map[ir.SSAValue]uint32),
        valOf:  make(map[uint32]ir.SSAValue),
    }
}

func (self *_RegFileState) assign(v ir.SSAValue, r uint32) {
    if r >= self.nregs {
        panic(fmt.Sprintf("regalloc: %s%d is out of range", self.file.Prefix(), r))
    } else if self.used.Test(uint(r)) {
        panic(fmt.Sprintf("regalloc: %s%d is already taken by %s", self.file.Prefix(), r, self.valOf[r]))
    }
    self.regOf[v] = r
    self.valOf[r] = v
    self.used.Set(uint(r))
}

func (self *_RegFileState) free(v ir.SSAValue) {
    if r, ok := self.regOf[v]; ok {
        delete(self.regOf, v)
        delete(self.valOf, r)
        self.used.Clear(uint(r))
    }
}

func (self *_RegFileState) isFree(r uint32) bool {
    return r < self.nregs && !self.used.Test(uint(r))
}

func (self *_RegFileState) pin(base uint32, n int) {
    for i := 0; i < n; i++ {
        self.pinned.Set(uint(base) + uint(i))
    }
}

func (self *_RegFileState) rangeFree(base uint32, n int) bool {
    for i := 0; i < n; i++ {
        if !self.isFree(base + uint32(i)) {
            return false
        }
    }
    return true
}

// firstFree returns the lowest free register that skip does not reject.
func (self *_RegFileState) firstFree(skip func(r uint32) bool) (uint32, bool) {
    for i := uint(0); ; {
        r, ok := self.used.NextClear(i)
        if !ok {
            r = i
            if n := self.used.Len(); n > r {
                r = n
            }
        }

        /* check the limit */
        if uint32(r) >= self.nregs {
            return 0, false
        } else if skip == nil || !skip(uint32(r)) {
            return uint32(r), true
        } else {
            i = r + 1
        }
    }
}

func vectorAlign(n int) uint32 {
    switch {
    case n <= 1:
        return 1
    case n == 2:
        return 2
    default:
        return 4
    }
}

type _PhiUse struct {
    succ int
    id   uint32
}

type _RegAlloc struct {
    ctx     *Context
    fn      *ir.Function
    live    *liveness.SimpleLiveness
    state   ir.PerRegFile[*_RegFileState]
    entry   []map[ir.SSAValue]uint32
    exit    []map[ir.SSAValue]uint32
    phiIn   []map[uint32]ir.RegRef
    phiOut  []map[uint32]ir.Src
    vecOf   map[ir.SSAValue]ir.SSARef
    fixed   map[ir.SSAValue]uint32
    phiSrc  map[ir.SSAValue]_PhiUse
    memUse  []*ir.OpParCopy
    high    ir.PerRegFile[uint32]
    ncopies int
}

func (RegAlloc) Apply(ctx *Context) {
    nb := ctx.Func.Blocks.Len()
    ra := &_RegAlloc{
        ctx:    ctx,
        fn:     ctx.Func,
        live:   liveness.NewSimple(ctx.Func),
        entry:  make([]map[ir.SSAValue]uint32, nb),
        exit:   make([]map[ir.SSAValue]uint32, nb),
        phiIn:  make([]map[uint32]ir.RegRef, nb),
        phiOut: make([]map[uint32]ir.Src, nb),
        vecOf:  make(map[ir.SSAValue]ir.SSARef),
        fixed:  make(map[ir.SSAValue]uint32),
        phiSrc: make(map[ir.SSAValue]_PhiUse),
    }

    /* allocate in block order */
    ra.scan()
    for bi := 0; bi < nb; bi++ {
        ra.block(bi)
    }

    /* reconcile the edges, phis are done after that */
    ra.fixEdges()
    ra.dropPhis()

    /* allocation results */
    ctx.Info.NumGPRs = ra.high[ir.GPR]
    ctx.Log("regalloc").Debugf("%d gprs, %d memory slots, %d copies inserted", ra.high[ir.GPR], ra.high[ir.Mem], ra.ncopies)
}

// scan collects the allocation hints: vector groupings, fixed output
// registers and phi sources.
func (self *_RegAlloc) scan() {
    cfg := self.fn.Blocks
    self.fn.ForEachInstr(func(bi int, _ int, ins *ir.Instr) {
        switch op := ins.Op.(type) {
        case *ir.OpRegOut:
            self.scanRegOut(op)
        case *ir.OpPhiSrcs:
            if succ := cfg.Succ(bi); len(succ) == 1 {
                for i, src := range op.Src {
                    if src.IsSSA() {
                        self.phiSrc[src.SSA.At(0)] = _PhiUse{succ: succ[0], id: op.Ids[i]}
                    }
                }
            }
        }

        /* vector groupings, first claim wins */
        for _, s := range ins.Op.Srcs() {
            if s.IsSSA() && s.SSA.Comps() > 1 {
                self.claimVector(s.SSA)
            }
        }
        for _, d := range ins.Op.Dsts() {
            if d.IsSSA() && d.SSA.Comps() > 1 {
                self.claimVector(d.SSA)
            }
        }
    })
}

func (self *_RegAlloc) scanRegOut(op *ir.OpRegOut) {
    idx := uint32(0)
    for _, src := range op.Src {
        if !src.IsSSA() {
            idx++
            continue
        }
        for _, v := range src.SSA.Values() {
            self.fixed[v] = idx
            idx++
        }
    }
}

func (self *_RegAlloc) claimVector(ref ir.SSARef) {
    for _, v := range ref.Values() {
        if _, ok := self.vecOf[v]; !ok {
            self.vecOf[v] = ref
        }
    }
}

func (self *_RegAlloc) snapshot() map[ir.SSAValue]uint32 {
    ret := make(map[ir.SSAValue]uint32)
    for _, st := range self.state {
        for v, r := range st.regOf {
            ret[v] = r
        }
    }
    return ret
}

func (self *_RegAlloc) refOf(ref ir.SSARef) ir.RegRef {
    st := self.state[ref.File()]
    base, ok := st.regOf[ref.At(0)]

    /* must be allocated */
    if !ok {
        panic(fmt.Sprintf("regalloc: %s is used but not allocated", ref.At(0)))
    }

    /* components must be contiguous */
    for i, v := range ref.Values() {
        if r, ok := st.regOf[v]; !ok || r != base+uint32(i) {
            panic(fmt.Sprintf("regalloc: vector %s is not contiguous", ref))
        }
    }
    return ir.NewRegRef(ref.File(), base, ref.Comps())
}

func (self *_RegAlloc) assign(v ir.SSAValue, r uint32) {
    self.state[v.File()].assign(v, r)
    if r+1 > self.high[v.File()] {
        self.high[v.File()] = r + 1
    }
}

func (self *_RegAlloc) firstForward(bi int) int {
    for _, p := range self.fn.Blocks.Pred(bi) {
        if p < bi {
            return p
        }
    }
    return -1
}

func (self *_RegAlloc) block(bi int) {
    bb := self.fn.Blocks.At(bi)
    self.phiIn[bi] = make(map[uint32]ir.RegRef)
    self.phiOut[bi] = make(map[uint32]ir.Src)

    /* fresh register files */
    for _, f := range ir.AllRegFiles {
        self.state[f] = newRegFileState(f, self.ctx.Target.AllocatableRegs(f))
    }

    /* inherit the assignment of the first processed predecessor */
    p0 := self.firstForward(bi)
    for _, v := range self.live.LiveIn(bi) {
        if p0 < 0 {
            panic(fmt.Sprintf("regalloc: %s is live into entry block %d", v, bi))
        } else if r, ok := self.exit[p0][v]; !ok {
            panic(fmt.Sprintf("regalloc: %s is live into block %d but has no register", v, bi))
        } else {
            self.assign(v, r)
        }
    }

    /* save the entry state before the phis */
    self.entry[bi] = self.snapshot()

    /* phis prefer the register of their first source */
    if pd, ok := bb.PhiDsts(); ok {
        for i, id := range pd.Ids {
            if !pd.Dst[i].IsSSA() {
                panic("regalloc: phi destination is not an SSA value")
            }

            /* source hint */
            hint := int64(-1)
            v := scalarOf(pd.Dst[i].SSA)
            if p0 >= 0 {
                if src, ok := self.phiOut[p0][id]; ok && src.IsReg() && src.Reg.File() == v.File() {
                    hint = int64(src.Reg.Base())
                }
            }

            /* allocate the phi */
            ref := ir.NewRegRef(v.File(), self.allocScalar(v, hint), 1)
            self.phiIn[bi][id] = ref
            pd.Dst[i] = ir.RegDst(ref)
        }
    }

    /* allocate every instruction */
    var out []*ir.Instr
    for ip, ins := range bb.Instrs {
        switch op := ins.Op.(type) {
        case *ir.OpPhiDsts:
            out = append(out, ins)
        case *ir.OpPhiSrcs:
            self.phiSrcs(bi, ip, ins, op)
            out = append(out, ins)
        case *ir.OpRegOut:
            out = append(out, self.regOut(bi, ip, ins, op)...)
        default:
            out = append(out, self.instr(bi, ip, ins)...)
        }
    }

    /* save the exit state */
    bb.Instrs = out
    self.exit[bi] = self.snapshot()
}

func (self *_RegAlloc) unpinAll() {
    for _, st := range self.state {
        st.pinned.ClearAll()
    }
}

func (self *_RegAlloc) killUses(bi int, ip int, uses []ir.SSAValue) {
    for _, v := range uses {
        if !self.live.IsLiveAfterIP(bi, ip, v) {
            self.state[v.File()].free(v)
        }
    }
}

func (self *_RegAlloc) phiSrcs(bi int, ip int, ins *ir.Instr, op *ir.OpPhiSrcs) {
    uses := ins.SSAUses()
    for i := range op.Src {
        if op.Src[i].IsSSA() {
            op.Src[i] = ir.RegSrc(self.refOf(op.Src[i].SSA))
        }
        self.phiOut[bi][op.Ids[i]] = op.Src[i]
    }
    self.killUses(bi, ip, uses)
}

func (self *_RegAlloc) rewriteSrcs(ins *ir.Instr) {
    for _, s := range ins.Op.Srcs() {
        if s.IsSSA() {
            *s = ir.Src{Kind: ir.SrcReg, Mod: s.Mod, Reg: self.refOf(s.SSA)}
        }
    }

    /* the predicate too */
    if ins.Pred.Kind == ir.PredSSA {
        ins.Pred = ir.InstrPred{
            Kind: ir.PredReg,
            Reg:  self.refOf(ir.NewSSARef(ins.Pred.SSA)),
            Inv:  ins.Pred.Inv,
        }
    }
}

// copyHint returns the register a destination should share with its source
// so the copy disappears.
func copyHint(ins *ir.Instr, i int) int64 {
    var src *ir.Src
    switch op := ins.Op.(type) {
    case *ir.OpParCopy:
        src = &op.Src[i]
    case *ir.OpCopy:
        src = &op.Src
    case *ir.OpMov:
        src = &op.Src
    default:
        return -1
    }

    /* only plain registers */
    if src.IsReg() && src.Mod.IsNone() && src.Reg.Comps() == 1 {
        return int64(src.Reg.Base())
    } else {
        return -1
    }
}

func (self *_RegAlloc) instr(bi int, ip int, ins *ir.Instr) []*ir.Instr {
    var pre []*ir.Instr
    uses := ins.SSAUses()
    defs := ins.SSADefs()
    self.unpinAll()

    /* registers read by the instruction stay where they are */
    for _, v := range uses {
        st := self.state[v.File()]
        if r, ok := st.regOf[v]; ok {
            st.pin(r, 1)
        }
    }

    /* vector sources must be contiguous */
    for _, s := range ins.Op.Srcs() {
        if s.IsSSA() && s.SSA.Comps() > 1 {
            if pc := self.placeVector(s.SSA); pc != nil {
                pre = append(pre, ir.NewInstr(pc))
            }
        }
    }

    /* sources, then the killed ones are released */
    self.rewriteSrcs(ins)
    self.killUses(bi, ip, uses)

    /* destinations */
    for i, d := range ins.Op.Dsts() {
        if !d.IsSSA() {
            continue
        }

        /* scalars and vectors */
        if d.SSA.Comps() == 1 {
            v := d.SSA.At(0)
            r := self.allocScalar(v, copyHint(ins, i))
            self.state[v.File()].pin(r, 1)
            *d = ir.RegDst(ir.NewRegRef(v.File(), r, 1))
        } else {
            ref, pc := self.allocVector(d.SSA, ins)
            if pc != nil {
                pre = append(pre, ir.NewInstr(pc))
            }
            *d = ir.RegDst(ref)
        }
    }

    /* dead destinations are released right away */
    self.killUses(bi, ip, defs)

    /* parallel copies may need a scratch register */
    if pc, ok := ins.Op.(*ir.OpParCopy); ok {
        self.addTmps(pc)
    }

    /* evictions go before the instruction */
    self.ncopies += len(pre)
    return append(pre, ins)
}

func (self *_RegAlloc) allocScalar(v ir.SSAValue, hint int64) uint32 {
    r, ok := self.pickScalar(v, hint)
    if !ok {
        panic(fmt.Sprintf("regalloc: no %s register left for %s", v.File(), v))
    }
    self.assign(v, r)
    return r
}

func (self *_RegAlloc) pickScalar(v ir.SSAValue, hint int64) (uint32, bool) {
    st := self.state[v.File()]

    /* fixed output registers first */
    if r, ok := self.fixed[v]; ok && st.isFree(r) {
        return r, true
    }

    /* then the hint */
    if hint >= 0 && st.isFree(uint32(hint)) {
        return uint32(hint), true
    }

    /* phi sources go where the phi is if it is already placed */
    if pu, ok := self.phiSrc[v]; ok {
        if ref, ok := self.phiIn[pu.succ][pu.id]; ok && ref.File() == v.File() && st.isFree(ref.Base()) {
            return ref.Base(), true
        }
    }

    /* line up with the rest of the vector */
    if g, ok := self.vecOf[v]; ok {
        if r, ok := self.siblingSlot(st, g, v); ok {
            return r, true
        }
    }

    /* first fit */
    return st.firstFree(nil)
}

// siblingSlot finds the register that keeps v in line with the other
// components of its vector.
func (self *_RegAlloc) siblingSlot(st *_RegFileState, g ir.SSARef, v ir.SSAValue) (uint32, bool) {
    n := g.Comps()
    i := slotOf(g, v)
    align := vectorAlign(n)

    /* next to an already placed sibling */
    for j, w := range g.Values() {
        if rw, ok := st.regOf[w]; ok && j != i && rw >= uint32(j) {
            if base := rw - uint32(j); base%align == 0 && st.isFree(base+uint32(i)) {
                return base + uint32(i), true
            }
        }
    }

    /* or in a completely free range */
    for base := uint32(0); base+uint32(n) <= st.nregs; base += align {
        if st.rangeFree(base, n) {
            return base + uint32(i), true
        }
    }
    return 0, false
}

func slotOf(g ir.SSARef, v ir.SSAValue) int {
    for i, w := range g.Values() {
        if w == v {
            return i
        }
    }
    panic("regalloc: value is not part of the vector")
}

// placeVector moves the components of a vector source into an aligned
// range, evicting whatever else lives there.
func (self *_RegAlloc) placeVector(ref ir.SSARef) *ir.OpParCopy {
    n := ref.Comps()
    vals := ref.Values()
    align := vectorAlign(n)
    st := self.state[ref.File()]

    /* already in place */
    if base, ok := st.regOf[vals[0]]; ok && base%align == 0 {
        ok = true
        for i, v := range vals {
            if r, has := st.regOf[v]; !has || r != base+uint32(i) {
                ok = false
                break
            }
        }
        if ok {
            return nil
        }
    }

    /* find the range with the fewest foreign values to move */
    best, cost := int64(-1), n+1
    for base := uint32(0); base+uint32(n) <= st.nregs; base += align {
        if c, ok := self.placementCost(st, ref, base); ok && c < cost {
            best, cost = int64(base), c
        }
    }

    /* no room at all */
    if best < 0 {
        panic(fmt.Sprintf("regalloc: no room for vector %s", ref))
    }

    /* registers vacated by the components */
    var vacated []uint32
    base := uint32(best)
    inRange := func(r uint32) bool { return r >= base && r < base+uint32(n) }
    for _, v := range vals {
        if r := st.regOf[v]; !inRange(r) {
            vacated = append(vacated, r)
        }
    }

    /* components go into the range */
    pc := new(ir.OpParCopy)
    moves := make(map[ir.SSAValue]uint32)
    for i, v := range vals {
        if r := st.regOf[v]; r != base+uint32(i) {
            moves[v] = base + uint32(i)
        }
    }

    /* foreign values take the vacated registers first */
    for i := 0; i < n; i++ {
        r := base + uint32(i)
        if !st.used.Test(uint(r)) || ref.Contains(st.valOf[r]) {
            continue
        }

        /* find a new home */
        var to uint32
        if len(vacated) != 0 {
            to, vacated = vacated[0], vacated[1:]
        } else if t, ok := st.firstFree(func(x uint32) bool { return inRange(x) || st.pinned.Test(uint(x)) }); ok {
            to = t
        } else {
            panic(fmt.Sprintf("regalloc: no register to evict into for vector %s", ref))
        }
        moves[st.valOf[r]] = to
    }

    /* apply the moves */
    self.applyMoves(st, pc, moves)
    st.pin(base, n)
    return pc
}

// placementCost counts the values that must move to put ref at base. Ranges
// holding a pinned foreign value are not usable.
func (self *_RegAlloc) placementCost(st *_RegFileState, ref ir.SSARef, base uint32) (int, bool) {
    cost := 0
    for i := 0; i < ref.Comps(); i++ {
        r := base + uint32(i)
        if !st.used.Test(uint(r)) {
            continue
        }

        /* the right component is already there */
        w := st.valOf[r]
        if w == ref.At(i) {
            continue
        }

        /* a foreign value */
        if !ref.Contains(w) && st.pinned.Test(uint(r)) {
            return 0, false
        }
        cost++
    }
    return cost, true
}

// applyMoves relocates values simultaneously and records the copies.
func (self *_RegAlloc) applyMoves(st *_RegFileState, pc *ir.OpParCopy, moves map[ir.SSAValue]uint32) {
    vals := make([]ir.SSAValue, 0, len(moves))
    for v := range moves {
        vals = append(vals, v)
    }

    /* deterministic order */
    slices.Sort(vals)
    from := make([]uint32, len(vals))

    /* release everything first */
    for i, v := range vals {
        from[i] = st.regOf[v]
        st.free(v)
    }

    /* then take the new registers */
    for i, v := range vals {
        to := moves[v]
        self.assign(v, to)
        pc.Push(ir.RegDst(ir.NewRegRef(st.file, to, 1)), ir.RegSrc(ir.NewRegRef(st.file, from[i], 1)))
    }
    self.addTmps(pc)
}

// allocVector places a vector destination: over a killed source vector,
// into a free aligned range, or by evicting the values in the way.
func (self *_RegAlloc) allocVector(ref ir.SSARef, ins *ir.Instr) (ir.RegRef, *ir.OpParCopy) {
    var pc *ir.OpParCopy
    n := ref.Comps()
    file := ref.File()
    align := vectorAlign(n)
    st := self.state[file]
    base, ok := uint32(0), false

    /* reuse a killed source vector */
    for _, s := range ins.Op.Srcs() {
        if s.IsReg() && s.Reg.File() == file && s.Reg.Comps() >= n && s.Reg.Base()%align == 0 && st.rangeFree(s.Reg.Base(), n) {
            base, ok = s.Reg.Base(), true
            break
        }
    }

    /* a free aligned range */
    for r := uint32(0); !ok && r+uint32(n) <= st.nregs; r += align {
        if st.rangeFree(r, n) {
            base, ok = r, true
        }
    }

    /* evict the values in the way */
    if !ok {
        base, pc = self.evictRange(st, ref)
    }

    /* assign the components */
    for i, v := range ref.Values() {
        self.assign(v, base+uint32(i))
    }

    /* pinned until the instruction is done */
    st.pin(base, n)
    return ir.NewRegRef(file, base, n), pc
}

func (self *_RegAlloc) evictRange(st *_RegFileState, ref ir.SSARef) (uint32, *ir.OpParCopy) {
    n := ref.Comps()
    align := vectorAlign(n)
    best, cost := int64(-1), n+1

    /* the range with the fewest unpinned occupants */
    for base := uint32(0); base+uint32(n) <= st.nregs; base += align {
        c, ok := 0, true
        for i := uint32(0); ok && i < uint32(n); i++ {
            if st.used.Test(uint(base + i)) {
                c++
                ok = !st.pinned.Test(uint(base + i))
            }
        }
        if ok && c < cost {
            best, cost = int64(base), c
        }
    }

    /* nothing can be moved */
    if best < 0 {
        panic(fmt.Sprintf("regalloc: no room for vector %s", ref))
    }

    /* move the occupants out */
    base := uint32(best)
    pc := new(ir.OpParCopy)
    moves := make(map[ir.SSAValue]uint32)
    taken := make(map[uint32]bool)
    for i := uint32(0); i < uint32(n); i++ {
        if !st.used.Test(uint(base + i)) {
            continue
        }

        /* any free register outside the range */
        to, ok := st.firstFree(func(x uint32) bool {
            return (x >= base && x < base+uint32(n)) || st.pinned.Test(uint(x)) || taken[x]
        })
        if !ok {
            panic(fmt.Sprintf("regalloc: no register to evict into for vector %s", ref))
        }

        /* record the move */
        taken[to] = true
        moves[st.valOf[base+i]] = to
    }

    /* apply the moves */
    self.applyMoves(st, pc, moves)
    return base, pc
}

// regOut moves every output into its fixed GPR.
func (self *_RegAlloc) regOut(bi int, ip int, ins *ir.Instr, op *ir.OpRegOut) []*ir.Instr {
    idx := uint32(0)
    uses := ins.SSAUses()
    st := self.state[ir.GPR]
    pc := new(ir.OpParCopy)
    targets := make(map[uint32]bool)
    dests := make(map[ir.SSAValue]uint32)
    self.unpinAll()

    /* copy every output into place */
    for i := range op.Src {
        src := &op.Src[i]
        n := src.Comps()

        /* immediates are materialized by the copy */
        if !src.IsSSA() {
            pc.Push(ir.RegDst(ir.NewRegRef(ir.GPR, idx, 1)), *src)
            *src = ir.RegSrc(ir.NewRegRef(ir.GPR, idx, 1))
            targets[idx] = true
            idx++
            continue
        }

        /* one copy per component */
        for j, v := range src.SSA.Values() {
            r, ok := st.regOf[v]
            if !ok {
                panic(fmt.Sprintf("regalloc: output %s is not allocated", v))
            }
            if r != idx+uint32(j) {
                pc.Push(ir.RegDst(ir.NewRegRef(ir.GPR, idx+uint32(j), 1)), ir.RegSrc(ir.NewRegRef(ir.GPR, r, 1)))
            }
            if _, ok := dests[v]; !ok {
                dests[v] = idx + uint32(j)
            }
            targets[idx+uint32(j)] = true
        }

        /* the output now reads its fixed register */
        *src = ir.RegSrc(ir.NewRegRef(ir.GPR, idx, n))
        idx += uint32(n)
    }

    /* values still needed afterwards must leave the fixed registers */
    evict := make(map[ir.SSAValue]uint32)
    for _, t := range sortedKeys(targets) {
        w, ok := st.valOf[t]
        if !ok || !self.live.IsLiveAfterIP(bi, ip, w) {
            continue
        }
        if _, out := dests[w]; out {
            continue
        }

        /* find a new home */
        to, ok := st.firstFree(func(x uint32) bool { return targets[x] || st.pinned.Test(uint(x)) })
        if !ok {
            panic("regalloc: no register left to move a value out of an output register")
        }
        st.pin(to, 1)
        evict[w] = to
        pc.Push(ir.RegDst(ir.NewRegRef(ir.GPR, to, 1)), ir.RegSrc(ir.NewRegRef(ir.GPR, t, 1)))
    }

    /* update the register file */
    for t := range targets {
        if w, ok := st.valOf[t]; ok {
            st.free(w)
        }
    }
    for v := range dests {
        st.free(v)
    }
    for w, to := range evict {
        self.assign(w, to)
    }
    for v, t := range dests {
        if self.live.IsLiveAfterIP(bi, ip, v) {
            self.assign(v, t)
        }
    }

    /* whatever is dead by now */
    self.killUses(bi, ip, uses)
    if pc.Len() == 0 {
        return []*ir.Instr{ins}
    }

    /* the copies go first */
    self.ncopies++
    self.addTmps(pc)
    return []*ir.Instr{ir.NewInstr(pc), ins}
}

// addTmps gives a parallel copy a scratch register for every file that
// can not swap.
func (self *_RegAlloc) addTmps(pc *ir.OpParCopy) {
    var files ir.RegFileSet
    for _, d := range pc.Dst {
        if f, ok := d.File(); ok && !self.ctx.Target.HasSwap(f) {
            files.Add(f)
        }
    }

    /* memory slots get theirs when the frame size is known */
    for _, f := range ir.AllRegFiles {
        if !files.Has(f) {
            continue
        } else if _, ok := pc.Tmp(f); ok {
            continue
        }

        /* add the scratch register */
        if f == ir.Mem {
            self.memUse = append(self.memUse, pc)
        } else if self.ctx.Target.ReservesTmp(f) {
            pc.Tmps = append(pc.Tmps, self.ctx.Target.TmpReg(f))
        }
    }
}

func sortedKeys[K ir.SSAValue | uint32, V any](m map[K]V) []K {
    ret := maps.Keys(m)
    slices.Sort(ret)
    return ret
}

// fixEdges makes the exit state of every predecessor agree with the entry
// state of its successor.
func (self *_RegAlloc) fixEdges() {
    cfg := self.fn.Blocks
    for bi := 0; bi < cfg.Len(); bi++ {
        for _, p := range cfg.Pred(bi) {
            pc := new(ir.OpParCopy)

            /* values live across the edge */
            for _, v := range sortedKeys(self.entry[bi]) {
                to := self.entry[bi][v]
                from, ok := self.exit[p][v]

                /* must be allocated */
                if !ok {
                    panic(fmt.Sprintf("regalloc: %s is live across an edge but has no register", v))
                }

                /* add the copy */
                if from != to {
                    pc.Push(ir.RegDst(ir.NewRegRef(v.File(), to, 1)), ir.RegSrc(ir.NewRegRef(v.File(), from, 1)))
                }
            }

            /* and the phis */
            for _, id := range sortedKeys(self.phiIn[bi]) {
                ref := self.phiIn[bi][id]
                src, ok := self.phiOut[p][id]

                /* must be fed */
                if !ok {
                    panic(fmt.Sprintf("regalloc: phi %d is not fed by block %d", id, p))
                }

                /* add the copy */
                if !src.IsReg() || src.Reg != ref {
                    pc.Push(ir.RegDst(ref), src)
                }
            }

            /* nothing to fix */
            if pc.Len() == 0 {
                continue
            }

            /* at the end of the predecessor, or the top of the successor if it is the only way in */
            self.ncopies++
            self.addTmps(pc)
            if len(cfg.Succ(p)) == 1 {
                pb := cfg.At(p)
                pb.Insert(pb.BranchIP(), ir.NewInstr(pc))
            } else {
                sb := cfg.At(bi)
                if _, ok := sb.PhiDsts(); ok {
                    sb.Insert(1, ir.NewInstr(pc))
                } else {
                    sb.Insert(0, ir.NewInstr(pc))
                }
            }
        }
    }

    /* memory scratch slot sits right above the used slots */
    if len(self.memUse) != 0 {
        tmp := ir.NewRegRef(ir.Mem, self.high[ir.Mem], 1)
        self.high[ir.Mem]++
        for _, pc := range self.memUse {
            pc.Tmps = append(pc.Tmps, tmp)
        }
    }
}

func (self *_RegAlloc) dropPhis() {
    self.fn.MapInstrs(func(_ int, _ int, ins *ir.Instr) []*ir.Instr {
        switch ins.Op.(type) {
        case *ir.OpPhiDsts, *ir.OpPhiSrcs:
            return nil
        default:
            return []*ir.Instr{ins}
        }
    })
}
