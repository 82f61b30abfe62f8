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

// Pressure tracks how many values of each file are live.
type Pressure struct {
    live  map[ir.SSAValue]bool
    count ir.PerRegFile[uint32]
}

func NewPressure() *Pressure {
    return &Pressure{live: make(map[ir.SSAValue]bool)}
}

func (self *Pressure) Add(v ir.SSAValue) {
    if !self.live[v] {
        self.live[v] = true
        self.count[v.File()]++
    }
}

func (self *Pressure) Remove(v ir.SSAValue) {
    if self.live[v] {
        delete(self.live, v)
        self.count[v.File()]--
    }
}

func (self *Pressure) Count(file ir.RegFile) uint32 {
    return self.count[file]
}

func (self *Pressure) Contains(v ir.SSAValue) bool {
    return self.live[v]
}

// ForEachPoint walks every instruction of block bi and calls fn with the
// pressure right before it (all sources still live) and while it executes
// (killed sources freed, destinations allocated).
func (self *SimpleLiveness) ForEachPoint(fn *ir.Function, bi int, cb func(ip int, ins *ir.Instr, before *Pressure, during *Pressure)) {
    live := NewPressure()
    for _, v := range self.LiveIn(bi) {
        live.Add(v)
    }

    /* walk the block */
    for ip, ins := range fn.Blocks.At(bi).Instrs {
        before := live.clone()

        /* killed sources go first */
        for _, v := range ins.SSAUses() {
            if !self.IsLiveAfterIP(bi, ip, v) {
                live.Remove(v)
            }
        }

        /* then every destination takes a register, even a dead one */
        for _, v := range ins.SSADefs() {
            live.Add(v)
        }

        /* report the point */
        cb(ip, ins, before, live)

        /* dead destinations are freed right away */
        for _, v := range ins.SSADefs() {
            if !self.IsLiveAfterIP(bi, ip, v) {
                live.Remove(v)
            }
        }
    }
}

func (self *Pressure) clone() *Pressure {
    ret := &Pressure{live: make(map[ir.SSAValue]bool, len(self.live)), count: self.count}
    for v := range self.live {
        ret.live[v] = true
    }
    return ret
}

// CalcMaxLive returns the highest number of simultaneously live values of
// each register file over the whole function.
func (self *SimpleLiveness) CalcMaxLive(fn *ir.Function) (ret ir.PerRegFile[uint32]) {
    for bi := 0; bi < fn.Blocks.Len(); bi++ {
        for _, f := range ir.AllRegFiles {
            if n := uint32(len(filterFile(self.LiveIn(bi), f))); n > ret[f] {
                ret[f] = n
            }
        }

        /* check every instruction */
        self.ForEachPoint(fn, bi, func(_ int, _ *ir.Instr, before *Pressure, during *Pressure) {
            for _, f := range ir.AllRegFiles {
                if n := before.Count(f); n > ret[f] {
                    ret[f] = n
                }
                if n := during.Count(f); n > ret[f] {
                    ret[f] = n
                }
            }
        })
    }
    return
}

func filterFile(vals []ir.SSAValue, file ir.RegFile) (ret []ir.SSAValue) {
    for _, v := range vals {
        if v.File() == file {
            ret = append(ret, v)
        }
    }
    return
}
