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
    `sort`

    `github.com/cloudwego/gpura/internal/liveness`
    `github.com/cloudwego/gpura/ir`
    `github.com/deckarep/golang-set/v2`
    `github.com/oleiade/lane`
    `golang.org/x/exp/slices`
)

// SpillAll bounds the register pressure of every register file, moving
// values into backing storage where needed. Predicates, barriers and
// uniform registers spill into GPRs, so GPRs go last.
type SpillAll struct{}

var _SpillOrder = [...]ir.RegFile{
    ir.Pred,
    ir.UPred,
    ir.Bar,
    ir.UGPR,
    ir.GPR,
}

// SpillTarget returns the file that holds the spilled values of a file.
func SpillTarget(file ir.RegFile) ir.RegFile {
    switch file {
    case ir.Pred, ir.Bar, ir.UGPR:
        return ir.GPR
    case ir.UPred:
        return ir.UGPR
    case ir.GPR:
        return ir.Mem
    default:
        panic("spill: register file " + file.String() + " can not be spilled")
    }
}

func (SpillAll) Apply(ctx *Context) {
    for _, file := range _SpillOrder {
        limit := ctx.Opts.RegLimit(file == ir.GPR, ctx.Target.AllocatableRegs(file))
        live := liveness.NewSimple(ctx.Func)

        /* only spill when the pressure is too high */
        if max := live.CalcMaxLive(ctx.Func); max[file] > limit {
            ctx.Log("spill").Debugf("%s pressure is %d, limit is %d", file, max[file], limit)
            SpillFile(ctx, file, limit)
        }
    }
}

// SpillFile spills values of one register file until no more than limit of
// them are live at any point, then repairs the SSA form.
func SpillFile(ctx *Context, file ir.RegFile, limit uint32) {
    sp := newSpiller(ctx.Func, file, int(limit))
    sp.run()

    /* fills redefine values, repair the SSA form */
    RepairSSA(ctx.Func)
    EliminateDeadCode(ctx.Func)

    /* spill statistics */
    ctx.Log("spill").WithField("file", file.String()).Debugf("inserted %d spills and %d fills", sp.nspill, sp.nfill)
}

type _Spiller struct {
    fn       *ir.Function
    file     ir.RegFile
    target   ir.RegFile
    limit    int
    nu       *liveness.NextUseLiveness
    spills   map[ir.SSAValue]ir.SSAValue
    spilled  map[uint32]bool
    phiDsts  []mapset.Set[ir.SSAValue]
    loopUses map[int]mapset.Set[ir.SSAValue]
    wIn      []mapset.Set[ir.SSAValue]
    sIn      []mapset.Set[ir.SSAValue]
    wOut     []mapset.Set[ir.SSAValue]
    sOut     []mapset.Set[ir.SSAValue]
    nspill   int
    nfill    int
}

func newSpiller(fn *ir.Function, file ir.RegFile, limit int) *_Spiller {
    nb := fn.Blocks.Len()
    return &_Spiller{
        fn:       fn,
        file:     file,
        target:   SpillTarget(file),
        limit:    limit,
        nu:       liveness.NewNextUse(fn),
        spills:   make(map[ir.SSAValue]ir.SSAValue),
        spilled:  make(map[uint32]bool),
        phiDsts:  make([]mapset.Set[ir.SSAValue], nb),
        loopUses: make(map[int]mapset.Set[ir.SSAValue]),
        wIn:      make([]mapset.Set[ir.SSAValue], nb),
        sIn:      make([]mapset.Set[ir.SSAValue], nb),
        wOut:     make([]mapset.Set[ir.SSAValue], nb),
        sOut:     make([]mapset.Set[ir.SSAValue], nb),
    }
}

func newValueSet(vals ...ir.SSAValue) mapset.Set[ir.SSAValue] {
    return mapset.NewThreadUnsafeSet(vals...)
}

// sortedValues returns the members of a set in allocation order so the
// emitted code does not depend on map iteration.
func sortedValues(set mapset.Set[ir.SSAValue]) []ir.SSAValue {
    ret := set.ToSlice()
    slices.Sort(ret)
    return ret
}

func (self *_Spiller) run() {
    cfg := self.fn.Blocks
    self.findLoopUses()

    /* every block in order, loop headers before their bodies */
    for bi := 0; bi < cfg.Len(); bi++ {
        self.entry(bi)
        self.walk(bi)
    }

    /* then reconcile the edges */
    for bi := 0; bi < cfg.Len(); bi++ {
        for _, p := range cfg.Pred(bi) {
            self.fixEdge(p, bi)
        }
    }
}

func (self *_Spiller) spillOf(v ir.SSAValue) ir.SSAValue {
    if m, ok := self.spills[v]; ok {
        return m
    }
    m := self.fn.SSAAlloc.Alloc(self.target)
    self.spills[v] = m
    return m
}

func (self *_Spiller) spill(v ir.SSAValue) *ir.Instr {
    self.nspill++
    return ir.NewInstr(&ir.OpSpill{Dst: ir.SSADst(self.spillOf(v)), Src: ir.SSASrc(v)})
}

// fill reloads v from its slot. Values entering a block spilled get their
// spill on the incoming edges later, so the slot may not exist yet.
func (self *_Spiller) fill(v ir.SSAValue) *ir.Instr {
    self.nfill++
    return ir.NewInstr(&ir.OpFill{Dst: ir.SSADst(v), Src: ir.SSASrc(self.spillOf(v))})
}

// findLoopUses collects, for every loop header, the values read anywhere
// inside the loop.
func (self *_Spiller) findLoopUses() {
    cfg := self.fn.Blocks
    for h := 0; h < cfg.Len(); h++ {
        if !cfg.IsLoopHeader(h) {
            continue
        }

        /* scan the loop body */
        set := newValueSet()
        for bi := h; bi < cfg.Len(); bi++ {
            if cfg.InLoop(h, bi) {
                for _, ins := range cfg.At(bi).Instrs {
                    for _, v := range ins.SSAUses() {
                        if v.File() == self.file {
                            set.Add(v)
                        }
                    }
                }
            }
        }
        self.loopUses[h] = set
    }
}

type _SpillCand struct {
    v    ir.SSAValue
    dist int
    id   uint32
    phi  int
}

func (self *_Spiller) entry(bi int) {
    var cands []_SpillCand
    cfg := self.fn.Blocks
    preds := cfg.Pred(bi)
    self.phiDsts[bi] = newValueSet()

    /* values live into the block */
    for v, d := range self.nu.LiveIn(bi) {
        if v.File() == self.file {
            cands = append(cands, _SpillCand{v: v, dist: d, phi: -1})
        }
    }

    /* phi destinations are defined on entry */
    pd, hasPhi := cfg.At(bi).PhiDsts()
    if hasPhi {
        for i, dst := range pd.Dst {
            if dst.IsSSA() && dst.SSA.File() == self.file {
                d := scalarOf(dst.SSA)
                self.phiDsts[bi].Add(d)
                cands = append(cands, _SpillCand{v: d, dist: self.nu.NextUseAfter(bi, 0, d), id: pd.Ids[i], phi: i})
            }
        }
    }

    /* closest uses first */
    sort.Slice(cands, func(i int, j int) bool {
        if cands[i].dist != cands[j].dist {
            return cands[i].dist < cands[j].dist
        } else {
            return cands[i].v < cands[j].v
        }
    })

    /* pick the resident values */
    w := newValueSet()
    switch {
    case len(preds) == 0:
        break
    case cfg.IsLoopHeader(bi):
        self.admitLoop(bi, cands, w)
    default:
        self.admitMerge(bi, preds, cands, w)
    }

    /* everything else that is live is in memory */
    s := newValueSet()
    for _, c := range cands {
        if !w.Contains(c.v) {
            s.Add(c.v)
        }
    }

    /* and so is everything already spilled on some incoming path */
    for _, p := range preds {
        if self.sOut[p] != nil {
            self.sOut[p].Each(func(v ir.SSAValue) bool {
                if self.nu.IsLiveIn(bi, v) {
                    s.Add(v)
                }
                return false
            })
        }
    }

    /* phis that did not make it are redirected into memory */
    for _, c := range cands {
        if c.phi >= 0 && !w.Contains(c.v) {
            self.spilled[c.id] = true
            pd.Dst[c.phi] = ir.SSADst(self.spillOf(c.v))
        }
    }

    /* save the entry state */
    self.wIn[bi] = w
    self.sIn[bi] = s
}

// admitLoop fills a loop header: values read inside the loop first, then
// values only passing through it.
func (self *_Spiller) admitLoop(bi int, cands []_SpillCand, w mapset.Set[ir.SSAValue]) {
    used := self.loopUses[bi]
    for _, pass := range []bool{true, false} {
        for _, c := range cands {
            if w.Cardinality() < self.limit && used.Contains(c.v) == pass {
                w.Add(c.v)
            }
        }
    }
}

// admitMerge keeps the values resident on every incoming path, then admits
// the closest others. A single predecessor passes its state through as is.
func (self *_Spiller) admitMerge(bi int, preds []int, cands []_SpillCand, w mapset.Set[ir.SSAValue]) {
    var rest []_SpillCand
    for _, c := range cands {
        if w.Cardinality() >= self.limit {
            return
        }

        /* check every predecessor */
        all := true
        for _, p := range preds {
            all = all && self.wOut[p].Contains(self.incoming(p, bi, c))
        }

        /* keep it or try later */
        if all {
            w.Add(c.v)
        } else {
            rest = append(rest, c)
        }
    }

    /* admit the rest by distance */
    if len(preds) > 1 {
        for _, c := range rest {
            if w.Cardinality() < self.limit {
                w.Add(c.v)
            }
        }
    }
}

// incoming returns the value a candidate is fed by from a predecessor.
func (self *_Spiller) incoming(p int, bi int, c _SpillCand) ir.SSAValue {
    if c.phi < 0 {
        return c.v
    }

    /* look up the phi source */
    ps, ok := self.fn.Blocks.At(p).PhiSrcs()
    if !ok {
        panic("spill: predecessor without phi sources")
    }
    src, ok := ps.Lookup(c.id)
    if !ok || !src.IsSSA() {
        panic("spill: phi source is not an SSA value")
    }
    return scalarOf(src.SSA)
}

func (self *_Spiller) fileValues(vals []ir.SSAValue) []ir.SSAValue {
    var ret []ir.SSAValue
    seen := make(map[ir.SSAValue]bool)
    for _, v := range vals {
        if v.File() == self.file && !seen[v] {
            seen[v] = true
            ret = append(ret, v)
        }
    }
    return ret
}

type _SpillState struct {
    bi     int
    out    []*ir.Instr
    w      mapset.Set[ir.SSAValue]
    s      mapset.Set[ir.SSAValue]
    pinned mapset.Set[ir.SSAValue]
}

func (self *_Spiller) walk(bi int) {
    bb := self.fn.Blocks.At(bi)
    st := &_SpillState{
        bi:     bi,
        w:      self.wIn[bi].Clone(),
        s:      self.sIn[bi].Clone(),
        pinned: newValueSet(),
    }

    /* rewrite the block */
    for ip, ins := range bb.Instrs {
        switch op := ins.Op.(type) {
        case *ir.OpPhiDsts:
            st.out = append(st.out, ins)
        case *ir.OpPhiSrcs:
            self.phiSrcs(st, ip, ins)
        case *ir.OpParCopy:
            self.parCopy(st, ip, ins, op)
        default:
            self.instr(st, ip, ins)
        }
    }

    /* save the exit state */
    bb.Instrs = st.out
    self.wOut[bi] = st.w
    self.sOut[bi] = st.s
}

func (self *_Spiller) instr(st *_SpillState, ip int, ins *ir.Instr) {
    uses := self.fileValues(ins.SSAUses())
    defs := self.fileValues(ins.SSADefs())

    /* the sources must be in registers */
    self.reload(st, ip, uses)
    self.kill(st, ip, uses)

    /* the destinations need room while the live sources are still read */
    self.makeRoom(st, ip, len(defs), newValueSet(uses...))
    st.out = append(st.out, ins)
    self.define(st, ip, defs)
}

// phiSrcs loads the phi sources, which stay resident up to the end of the
// block so the edge can be reconciled.
func (self *_Spiller) phiSrcs(st *_SpillState, ip int, ins *ir.Instr) {
    uses := self.fileValues(ins.SSAUses())
    self.reload(st, ip, uses)
    st.pinned.Append(uses...)
    st.out = append(st.out, ins)
}

// parCopy moves the pairs whose source is not resident into memory: the
// destination then starts out spilled.
func (self *_Spiller) parCopy(st *_SpillState, ip int, ins *ir.Instr, op *ir.OpParCopy) {
    var uses []ir.SSAValue
    var defs []ir.SSAValue

    /* look at every pair */
    for i := range op.Dst {
        src, dst := &op.Src[i], &op.Dst[i]
        if !dst.IsSSA() || dst.SSA.File() != self.file {
            continue
        }

        /* copy between the spilled values */
        d := scalarOf(dst.SSA)
        if src.IsSSA() && !st.w.Contains(scalarOf(src.SSA)) {
            s := scalarOf(src.SSA)
            if !st.s.Contains(s) {
                panic(fmt.Sprintf("spill: %s is neither resident nor spilled", s))
            }
            *src = ir.SSASrc(self.spillOf(s))
            *dst = ir.SSADst(self.spillOf(d))
            st.s.Add(d)
            continue
        }

        /* a register to register copy */
        defs = append(defs, d)
        if src.IsSSA() {
            uses = append(uses, scalarOf(src.SSA))
        }
    }

    /* the usual rules for the remaining pairs */
    uses = self.fileValues(uses)
    self.kill(st, ip, uses)
    self.makeRoom(st, ip, len(defs), newValueSet(uses...))
    st.out = append(st.out, ins)
    self.define(st, ip, defs)
}

// reload brings the missing values of need into registers, spilling others
// to make room.
func (self *_Spiller) reload(st *_SpillState, ip int, need []ir.SSAValue) {
    var miss []ir.SSAValue
    for _, v := range need {
        if !st.w.Contains(v) {
            miss = append(miss, v)
        }
    }

    /* make room, the needed values stay */
    self.makeRoom(st, ip, len(miss), newValueSet(need...))

    /* then fill */
    for _, v := range miss {
        if !st.s.Contains(v) {
            panic(fmt.Sprintf("spill: %s is used but neither resident nor spilled", v))
        }
        st.out = append(st.out, self.fill(v))
        st.w.Add(v)
    }
}

func (self *_Spiller) kill(st *_SpillState, ip int, uses []ir.SSAValue) {
    for _, v := range uses {
        if !st.pinned.Contains(v) && self.nu.NextUseAfter(st.bi, ip, v) == liveness.NoNextUse {
            st.w.Remove(v)
        }
    }
}

func (self *_Spiller) define(st *_SpillState, ip int, defs []ir.SSAValue) {
    for _, v := range defs {
        if self.nu.NextUseAfter(st.bi, ip, v) != liveness.NoNextUse {
            st.w.Add(v)
        }
    }
}

const (
    _MaxSpillDist = 1 << 30
)

// makeRoom evicts resident values until n more fit, furthest next use
// first. Values in keep and pinned values are never evicted.
func (self *_Spiller) makeRoom(st *_SpillState, ip int, n int, keep mapset.Set[ir.SSAValue]) {
    if st.w.Cardinality()+n <= self.limit {
        return
    }

    /* rank the candidates */
    pq := lane.NewPQueue(lane.MAXPQ)
    st.w.Each(func(v ir.SSAValue) bool {
        if !keep.Contains(v) && !st.pinned.Contains(v) {
            d := self.nu.NextUseAfter(st.bi, ip, v)
            if d > _MaxSpillDist {
                d = _MaxSpillDist
            }
            pq.Push(v, d<<32|int(v.Idx()))
        }
        return false
    })

    /* evict until it fits */
    for st.w.Cardinality()+n > self.limit {
        if pq.Size() == 0 {
            panic(fmt.Sprintf("spill: more than %d %s values needed at once", self.limit, self.file))
        }

        /* spill the value unless it is dead or already spilled */
        x, d := pq.Pop()
        v := x.(ir.SSAValue)
        if d>>32 < _MaxSpillDist && !st.s.Contains(v) {
            st.out = append(st.out, self.spill(v))
            st.s.Add(v)
        }

        /* no longer resident */
        st.w.Remove(v)
    }
}

// fixEdge inserts the spills and fills reconciling the exit state of p
// with the entry state of bi.
func (self *_Spiller) fixEdge(p int, bi int) {
    fills := newValueSet()
    spills := newValueSet()

    /* resident values must arrive in registers */
    self.wIn[bi].Each(func(v ir.SSAValue) bool {
        if !self.phiDsts[bi].Contains(v) && !self.wOut[p].Contains(v) {
            fills.Add(v)
        }
        return false
    })

    /* spilled values must arrive spilled */
    self.sIn[bi].Each(func(v ir.SSAValue) bool {
        if !self.phiDsts[bi].Contains(v) && !self.sOut[p].Contains(v) {
            spills.Add(v)
        }
        return false
    })

    /* phi sources follow their phi */
    if pd, ok := self.fn.Blocks.At(bi).PhiDsts(); ok {
        ps, ok := self.fn.Blocks.At(p).PhiSrcs()
        if !ok {
            panic("spill: predecessor without phi sources")
        }

        /* check every channel */
        for _, id := range pd.Ids {
            src, ok := ps.Lookup(id)
            if !ok || !src.IsSSA() || src.SSA.File() != self.file {
                continue
            }

            /* a spilled phi reads the spilled source */
            x := scalarOf(src.SSA)
            if self.spilled[id] {
                if !self.sOut[p].Contains(x) {
                    spills.Add(x)
                }
                *src = ir.SSASrc(self.spillOf(x))
            } else if !self.wOut[p].Contains(x) {
                fills.Add(x)
            }
        }
    }

    /* nothing to do */
    if fills.Cardinality() == 0 && spills.Cardinality() == 0 {
        return
    }

    /* spills go first to free the registers */
    var code []*ir.Instr
    for _, v := range sortedValues(spills) {
        if !self.wOut[p].Contains(v) {
            panic(fmt.Sprintf("spill: %s must be spilled on an edge but is not resident", v))
        }
        code = append(code, self.spill(v))
        self.sOut[p].Add(v)
    }
    for _, v := range sortedValues(fills) {
        code = append(code, self.fill(v))
        self.wOut[p].Add(v)
    }

    /* at the end of the predecessor, shared by all of its outgoing edges */
    bb := self.fn.Blocks.At(p)
    bb.Insert(bb.EndIP(), code...)
}
