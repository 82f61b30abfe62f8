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

    `github.com/cloudwego/gpura/internal/opts`
    `github.com/cloudwego/gpura/ir`
)

// DepSched fills in the control information of every instruction: the
// scoreboards variable latency ops signal, the scoreboards an instruction
// waits on, and the issue delay fixed latency results need.
type DepSched struct{}

func (DepSched) Apply(ctx *Context) {
    ds := newDepScheduler(ctx)
    ds.pad()

    /* scoreboards first */
    if ctx.Opts.Debug.Has(opts.DebugSerial) {
        ds.serial()
    } else {
        ds.assign()
        ds.propagate()
    }

    /* then the delays */
    for bi := 0; bi < ctx.Func.Blocks.Len(); bi++ {
        ds.delays(ctx.Func.Blocks.At(bi))
    }

    /* barrier registers used by the shader */
    ctx.Info.NumBarriers = countRegs(ctx.Func, ir.Bar)
    ctx.Info.NumInstrs = uint32(ctx.Func.NumInstrs())
    ctx.Log("deps").Debugf("%d scoreboard waits added across blocks", ds.nwaits)
}

const (
    _PadDelay = 2
)

type _DepState struct {
    write map[ir.RegRef]uint8
    read  map[ir.RegRef]uint8
    age   []int
    clock int
}

func newDepState(n int) *_DepState {
    return &_DepState{
        write: make(map[ir.RegRef]uint8),
        read:  make(map[ir.RegRef]uint8),
        age:   make([]int, n),
    }
}

func (self *_DepState) busy() (ret uint8) {
    for _, m := range self.write {
        ret |= m
    }
    for _, m := range self.read {
        ret |= m
    }
    return
}

// release drops everything pending on the barriers in mask.
func (self *_DepState) release(mask uint8) {
    for _, m := range []map[ir.RegRef]uint8{self.write, self.read} {
        for r, v := range m {
            if v &^= mask; v == 0 {
                delete(m, r)
            } else {
                m[r] = v
            }
        }
    }
}

func (self *_DepState) merge(other *_DepState) {
    for r, v := range other.write {
        self.write[r] |= v
    }
    for r, v := range other.read {
        self.read[r] |= v
    }
}

func (self *_DepState) equals(other *_DepState) bool {
    if other == nil || len(self.write) != len(other.write) || len(self.read) != len(other.read) {
        return false
    }
    for r, v := range self.write {
        if other.write[r] != v {
            return false
        }
    }
    for r, v := range self.read {
        if other.read[r] != v {
            return false
        }
    }
    return true
}

// needs returns the barriers an instruction must wait on before it issues.
func (self *_DepState) needs(reads []ir.RegRef, writes []ir.RegRef) (ret uint8) {
    for _, r := range reads {
        ret |= self.write[r]
    }
    for _, r := range writes {
        ret |= self.write[r] | self.read[r]
    }
    return
}

// alloc picks a free barrier, or the oldest one which must then be waited on.
func (self *_DepState) alloc(wait *uint8) int8 {
    busy := self.busy()
    best := -1

    /* a free one */
    for b := range self.age {
        if busy&(1<<b) == 0 {
            best = b
            break
        }
    }

    /* the oldest one */
    if best < 0 {
        best = 0
        for b := range self.age {
            if self.age[b] < self.age[best] {
                best = b
            }
        }
        *wait |= 1 << best
        self.release(1 << best)
    }

    /* mark the use */
    self.clock++
    self.age[best] = self.clock
    return int8(best)
}

// signal records what a variable latency op leaves pending.
func (self *_DepState) signal(ins *ir.Instr, reads []ir.RegRef, writes []ir.RegRef) {
    if ins.Deps.WrBar >= 0 {
        for _, r := range writes {
            self.write[r] |= 1 << ins.Deps.WrBar
        }
    }
    if ins.Deps.RdBar >= 0 {
        for _, r := range reads {
            self.read[r] |= 1 << ins.Deps.RdBar
        }
    }
}

type _DepScheduler struct {
    ctx    *Context
    exit   []*_DepState
    nwaits int
}

func newDepScheduler(ctx *Context) *_DepScheduler {
    return &_DepScheduler{
        ctx:  ctx,
        exit: make([]*_DepState, ctx.Func.Blocks.Len()),
    }
}

// instrRegs lists the registers an instruction reads and writes, one entry
// per component.
func instrRegs(ins *ir.Instr) (reads []ir.RegRef, writes []ir.RegRef) {
    add := func(buf []ir.RegRef, r ir.RegRef) []ir.RegRef {
        for i := 0; i < r.Comps(); i++ {
            buf = append(buf, r.Comp(i))
        }
        return buf
    }

    /* the predicate is read too */
    switch ins.Pred.Kind {
    case ir.PredSSA:
        panic(fmt.Sprintf("deps: %s still has SSA operands", ins))
    case ir.PredReg:
        reads = add(reads, ins.Pred.Reg)
    }

    /* sources */
    for _, s := range ins.Op.Srcs() {
        if s.IsSSA() {
            panic(fmt.Sprintf("deps: %s still has SSA operands", ins))
        } else if s.IsReg() {
            reads = add(reads, s.Reg)
        }
    }

    /* destinations */
    for _, d := range ins.Op.Dsts() {
        if d.IsSSA() {
            panic(fmt.Sprintf("deps: %s still has SSA operands", ins))
        } else if d.IsReg() {
            writes = add(writes, d.Reg)
        }
    }
    return
}

// pad puts a no-op after every multi-cycle instruction on targets that
// need it.
func (self *_DepScheduler) pad() {
    hw := self.ctx.Target
    if !hw.PadsMultiCycle() {
        return
    }

    /* check every instruction */
    self.ctx.Func.MapInstrs(func(_ int, _ int, ins *ir.Instr) []*ir.Instr {
        if hw.ExecLatency(ins.Op) <= 1 {
            return []*ir.Instr{ins}
        }

        /* the padding */
        nop := ir.NewInstr(new(ir.OpNop))
        nop.Deps.Delay = _PadDelay
        return []*ir.Instr{ins, nop}
    })
}

// serial makes every variable latency op signal one of two barriers and
// every instruction wait on both.
func (self *_DepScheduler) serial() {
    rr := int8(0)
    self.ctx.Func.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
        reads, writes := instrRegs(ins)
        ins.Deps.WaitMask = 0b11

        /* fixed latency ops are covered by the delays */
        if self.ctx.Target.IsFixedLatency(ins.Op) {
            return
        }

        /* signal the next barrier */
        if len(writes) != 0 {
            ins.Deps.WrBar = rr
        }
        if len(reads) != 0 && self.ctx.Target.ReadsLate(ins.Op) {
            ins.Deps.RdBar = rr
        }
        rr ^= 1
    })
}

func (self *_DepScheduler) entryState(bi int) *_DepState {
    st := newDepState(self.ctx.Target.NumScoreboards())
    for _, p := range self.ctx.Func.Blocks.Pred(bi) {
        if self.exit[p] != nil {
            st.merge(self.exit[p])
        }
    }
    return st
}

// assign hands out barriers greedily in block order.
func (self *_DepScheduler) assign() {
    cfg := self.ctx.Func.Blocks
    hw := self.ctx.Target

    /* every block, starting from what the predecessors left pending */
    for bi := 0; bi < cfg.Len(); bi++ {
        st := self.entryState(bi)
        for _, ins := range cfg.At(bi).Instrs {
            reads, writes := instrRegs(ins)
            wait := st.needs(reads, writes)
            st.release(wait)

            /* variable latency ops signal when they are done */
            if !hw.IsFixedLatency(ins.Op) {
                if len(writes) != 0 {
                    ins.Deps.WrBar = st.alloc(&wait)
                }
                if len(reads) != 0 && hw.ReadsLate(ins.Op) {
                    ins.Deps.RdBar = st.alloc(&wait)
                }
            }

            /* record the wait */
            ins.Deps.WaitMask |= wait
            st.signal(ins, reads, writes)
        }

        /* save the exit state */
        self.exit[bi] = st
    }
}

// propagate adds the waits the greedy pass missed across back edges, until
// nothing changes.
func (self *_DepScheduler) propagate() {
    cfg := self.ctx.Func.Blocks
    for changed := true; changed; {
        changed = false
        for bi := 0; bi < cfg.Len(); bi++ {
            st := self.entryState(bi)

            /* replay the block with the barriers already assigned */
            for _, ins := range cfg.At(bi).Instrs {
                reads, writes := instrRegs(ins)
                if need := st.needs(reads, writes); need&^ins.Deps.WaitMask != 0 {
                    ins.Deps.WaitMask |= need
                    self.nwaits++
                    changed = true
                }

                /* waits release, signals add */
                st.release(ins.Deps.WaitMask)
                st.signal(ins, reads, writes)
            }

            /* check the exit state */
            if !st.equals(self.exit[bi]) {
                self.exit[bi] = st
                changed = true
            }
        }
    }
}

// delays computes the issue delays of a block backwards: an instruction
// waits long enough for the fixed latency results the following ones read.
// Everything is drained at the end of the block.
func (self *_DepScheduler) delays(bb *ir.BasicBlock) {
    hw := self.ctx.Target
    lo, hi := hw.DelayRange()
    next := make(map[ir.RegRef]int)

    /* times are relative to the end of the block */
    pos := 0
    for i := len(bb.Instrs) - 1; i >= 0; i-- {
        ins := bb.Instrs[i]
        reads, writes := instrRegs(ins)
        delay := int(hw.ExecLatency(ins.Op))

        /* fixed latency results must be ready for their first user */
        if hw.IsFixedLatency(ins.Op) && len(writes) != 0 {
            lat := int(hw.DstLatency(ins.Op))
            for _, r := range writes {
                at, ok := next[r]
                if !ok {
                    at = 0
                }
                if d := lat - (at - pos); d > delay {
                    delay = d
                }
            }
        }

        /* padding keeps its delay */
        if _, ok := ins.Op.(*ir.OpNop); ok && int(ins.Deps.Delay) > delay {
            delay = int(ins.Deps.Delay)
        }

        /* clamp into the encodable range */
        if delay < int(lo) {
            delay = int(lo)
        } else if delay > int(hi) {
            delay = int(hi)
        }

        /* this instruction issues delay cycles before the next one */
        ins.Deps.Delay = uint8(delay)
        pos -= delay
        for _, r := range reads {
            next[r] = pos
        }
        for _, r := range writes {
            next[r] = pos
        }
    }
}
