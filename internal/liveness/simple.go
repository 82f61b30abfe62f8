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
    `github.com/bits-and-blooms/bitset`
    `github.com/cloudwego/gpura/ir`
)

// Liveness answers block boundary liveness queries.
type Liveness interface {
    IsLiveIn(bi int, v ir.SSAValue) bool
    IsLiveOut(bi int, v ir.SSAValue) bool
}

type _DefSite struct {
    bi int
    ip int
}

type _BlockLiveness struct {
    uses    *bitset.BitSet
    defs    *bitset.BitSet
    liveIn  *bitset.BitSet
    liveOut *bitset.BitSet
    lastUse map[ir.SSAValue]int
    defIP   map[ir.SSAValue]int
}

// SimpleLiveness is the classic backward dataflow over use/def bit sets.
type SimpleLiveness struct {
    blocks []_BlockLiveness
    defs   map[ir.SSAValue]_DefSite
    vals   []ir.SSAValue
}

// NewSimple computes the live-in and live-out sets of every block.
func NewSimple(fn *ir.Function) *SimpleLiveness {
    n := uint(fn.SSAAlloc.Max() + 1)
    nb := fn.Blocks.Len()

    /* create the analysis */
    ret := &SimpleLiveness{
        blocks: make([]_BlockLiveness, nb),
        defs:   make(map[ir.SSAValue]_DefSite),
        vals:   make([]ir.SSAValue, n),
    }

    /* local use and def sets */
    for bi := 0; bi < nb; bi++ {
        bl := &ret.blocks[bi]
        bl.uses = bitset.New(n)
        bl.defs = bitset.New(n)
        bl.liveIn = bitset.New(n)
        bl.liveOut = bitset.New(n)
        bl.lastUse = make(map[ir.SSAValue]int)
        bl.defIP = make(map[ir.SSAValue]int)

        /* scan the block forward */
        for ip, ins := range fn.Blocks.At(bi).Instrs {
            for _, v := range ins.SSAUses() {
                ret.vals[v.Idx()] = v
                bl.lastUse[v] = ip

                /* upward exposed uses only */
                if !bl.defs.Test(uint(v.Idx())) {
                    bl.uses.Set(uint(v.Idx()))
                }
            }

            /* definitions */
            for _, v := range ins.SSADefs() {
                ret.vals[v.Idx()] = v
                bl.defs.Set(uint(v.Idx()))
                bl.defIP[v] = ip
                ret.defs[v] = _DefSite{bi: bi, ip: ip}
            }
        }
    }

    /* iterate to the fixpoint, backwards converges fastest */
    for changed := true; changed; {
        changed = false
        for bi := nb - 1; bi >= 0; bi-- {
            bl := &ret.blocks[bi]

            /* live-out is the union of all the successor live-ins */
            for _, s := range fn.Blocks.Succ(bi) {
                bl.liveOut.InPlaceUnion(ret.blocks[s].liveIn)
            }

            /* live-in = uses | (live-out - defs) */
            in := bl.liveOut.Difference(bl.defs)
            in.InPlaceUnion(bl.uses)

            /* check for changes */
            if !in.Equal(bl.liveIn) {
                bl.liveIn = in
                changed = true
            }
        }
    }
    return ret
}

func (self *SimpleLiveness) IsLiveIn(bi int, v ir.SSAValue) bool {
    return self.blocks[bi].liveIn.Test(uint(v.Idx()))
}

func (self *SimpleLiveness) IsLiveOut(bi int, v ir.SSAValue) bool {
    return self.blocks[bi].liveOut.Test(uint(v.Idx()))
}

// IsLiveAfterIP reports whether v is still needed right after instruction
// ip of block bi.
func (self *SimpleLiveness) IsLiveAfterIP(bi int, ip int, v ir.SSAValue) bool {
    bl := &self.blocks[bi]

    /* not defined yet */
    if d, ok := bl.defIP[v]; ok && d > ip {
        return false
    }

    /* used by a successor, or used later in this block */
    if bl.liveOut.Test(uint(v.Idx())) {
        return true
    } else {
        last, ok := bl.lastUse[v]
        return ok && last > ip
    }
}

// IsLiveAt reports whether v holds a value right after instruction ip, that
// is whether it is defined by then and still needed.
func (self *SimpleLiveness) IsLiveAt(bi int, ip int, v ir.SSAValue) bool {
    bl := &self.blocks[bi]
    if d, ok := bl.defIP[v]; ok {
        return d <= ip && self.IsLiveAfterIP(bi, ip, v)
    } else {
        return bl.liveIn.Test(uint(v.Idx())) && self.IsLiveAfterIP(bi, ip, v)
    }
}

// DefSite returns where v is defined.
func (self *SimpleLiveness) DefSite(v ir.SSAValue) (bi int, ip int, ok bool) {
    d, ok := self.defs[v]
    return d.bi, d.ip, ok
}

// Interferes reports whether the live ranges of a and b overlap. In strict
// SSA one of the two definitions dominates the other, so it is enough to
// check each value at the definition of the other.
func (self *SimpleLiveness) Interferes(a ir.SSAValue, b ir.SSAValue) bool {
    if a == b {
        return false
    }

    /* look up the definitions */
    da, oka := self.defs[a]
    db, okb := self.defs[b]

    /* a value with no definition can not overlap anything */
    if !oka || !okb {
        return false
    }

    /* check both directions */
    return self.IsLiveAt(db.bi, db.ip, a) || self.IsLiveAt(da.bi, da.ip, b)
}

// LiveIn returns the values live into block bi.
func (self *SimpleLiveness) LiveIn(bi int) []ir.SSAValue {
    return self.toValues(self.blocks[bi].liveIn)
}

// LiveOut returns the values live out of block bi.
func (self *SimpleLiveness) LiveOut(bi int) []ir.SSAValue {
    return self.toValues(self.blocks[bi].liveOut)
}

func (self *SimpleLiveness) toValues(set *bitset.BitSet) (ret []ir.SSAValue) {
    for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
        ret = append(ret, self.vals[i])
    }
    return
}

// LastUse returns the last instruction of block bi reading v.
func (self *SimpleLiveness) LastUse(bi int, v ir.SSAValue) (int, bool) {
    ip, ok := self.blocks[bi].lastUse[v]
    return ip, ok
}
