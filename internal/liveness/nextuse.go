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
    `github.com/cloudwego/gpura/ir`
)

// NoNextUse is the distance of a value that is never used again.
const NoNextUse = int(^uint(0) >> 1)

type _ValUses struct {
    defined bool
    uses    []int
}

type _NextUseBlock struct {
    size    int
    vals    map[ir.SSAValue]*_ValUses
    liveIn  map[ir.SSAValue]int
    liveOut map[ir.SSAValue]int
}

// NextUseLiveness records, for every value, the instructions using it. Uses
// past the end of a block are measured from the block start, so a value
// live-out of a block of n instructions whose successor reads it first at
// instruction k has its next use at n+k.
type NextUseLiveness struct {
    blocks []_NextUseBlock
}

// NewNextUse computes the next-use distances of every value.
func NewNextUse(fn *ir.Function) *NextUseLiveness {
    nb := fn.Blocks.Len()
    ret := &NextUseLiveness{blocks: make([]_NextUseBlock, nb)}

    /* local uses, ascending by construction */
    for bi := 0; bi < nb; bi++ {
        bb := fn.Blocks.At(bi)
        bl := &ret.blocks[bi]
        bl.size = len(bb.Instrs)
        bl.vals = make(map[ir.SSAValue]*_ValUses)
        bl.liveOut = make(map[ir.SSAValue]int)

        /* scan the block */
        for ip, ins := range bb.Instrs {
            for _, v := range ins.SSAUses() {
                vu := bl.entry(v)
                if n := len(vu.uses); n == 0 || vu.uses[n-1] != ip {
                    vu.uses = append(vu.uses, ip)
                }
            }
            for _, v := range ins.SSADefs() {
                bl.entry(v).defined = true
            }
        }

        /* upward exposed uses are live-in */
        bl.liveIn = make(map[ir.SSAValue]int)
        for v, vu := range bl.vals {
            if !vu.defined && len(vu.uses) != 0 {
                bl.liveIn[v] = vu.uses[0]
            }
        }
    }

    /* propagate the successor distances until nothing gets closer */
    for changed := true; changed; {
        changed = false
        for bi := nb - 1; bi >= 0; bi-- {
            bl := &ret.blocks[bi]

            /* live-out distance is measured from the successor start */
            for _, s := range fn.Blocks.Succ(bi) {
                for v, d := range ret.blocks[s].liveIn {
                    if old, ok := bl.liveOut[v]; !ok || d < old {
                        bl.liveOut[v] = d
                        changed = true
                    }
                }
            }

            /* pass through values this block does not define */
            for v, d := range bl.liveOut {
                if vu, ok := bl.vals[v]; ok && vu.defined {
                    continue
                }

                /* the local first use wins if there is one */
                dist := bl.size + d
                if vu, ok := bl.vals[v]; ok && len(vu.uses) != 0 {
                    dist = vu.uses[0]
                }

                /* update the live-in distance */
                if old, ok := bl.liveIn[v]; !ok || dist < old {
                    bl.liveIn[v] = dist
                    changed = true
                }
            }
        }
    }
    return ret
}

func (self *_NextUseBlock) entry(v ir.SSAValue) *_ValUses {
    if vu, ok := self.vals[v]; ok {
        return vu
    } else {
        vu = new(_ValUses)
        self.vals[v] = vu
        return vu
    }
}

func (self *NextUseLiveness) IsLiveIn(bi int, v ir.SSAValue) bool {
    _, ok := self.blocks[bi].liveIn[v]
    return ok
}

func (self *NextUseLiveness) IsLiveOut(bi int, v ir.SSAValue) bool {
    _, ok := self.blocks[bi].liveOut[v]
    return ok
}

// NextUseAfter returns the position of the first use of v strictly after
// instruction ip of block bi, or NoNextUse.
func (self *NextUseLiveness) NextUseAfter(bi int, ip int, v ir.SSAValue) int {
    bl := &self.blocks[bi]

    /* local uses first */
    if vu, ok := bl.vals[v]; ok {
        for _, u := range vu.uses {
            if u > ip {
                return u
            }
        }
    }

    /* then the successors */
    if d, ok := bl.liveOut[v]; ok {
        return bl.size + d
    } else {
        return NoNextUse
    }
}

// FirstUse returns the distance from the start of block bi to the first use
// of a value live into it, or NoNextUse.
func (self *NextUseLiveness) FirstUse(bi int, v ir.SSAValue) int {
    if d, ok := self.blocks[bi].liveIn[v]; ok {
        return d
    } else {
        return NoNextUse
    }
}

// LiveIn returns the values live into block bi with their distances.
func (self *NextUseLiveness) LiveIn(bi int) map[ir.SSAValue]int {
    return self.blocks[bi].liveIn
}

// LiveOut returns the values live out of block bi with their distances from
// the block end.
func (self *NextUseLiveness) LiveOut(bi int) map[ir.SSAValue]int {
    return self.blocks[bi].liveOut
}

// IsUsedIn reports whether block bi reads v at all.
func (self *NextUseLiveness) IsUsedIn(bi int, v ir.SSAValue) bool {
    vu, ok := self.blocks[bi].vals[v]
    return ok && len(vu.uses) != 0
}

// Size returns the number of instructions of block bi.
func (self *NextUseLiveness) Size(bi int) int {
    return self.blocks[bi].size
}
