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

package ir

import (
    `fmt`
    `strings`
)

// BasicBlock is a straight-line run of instructions ending in at most a
// couple of branches. Blocks refer to each other by label only.
type BasicBlock struct {
    Label   Label
    Uniform bool
    Instrs  []*Instr
}

func NewBasicBlock(label Label, instrs ...*Instr) *BasicBlock {
    return &BasicBlock{
        Label:  label,
        Instrs: instrs,
    }
}

// PhiDsts returns the phi destination op at the top of the block, if any.
func (self *BasicBlock) PhiDsts() (*OpPhiDsts, bool) {
    if len(self.Instrs) == 0 {
        return nil, false
    }
    op, ok := self.Instrs[0].Op.(*OpPhiDsts)
    return op, ok
}

// PhiSrcsIP returns the position of the phi source op feeding the
// successor, or -1 if there is none.
func (self *BasicBlock) PhiSrcsIP() int {
    for ip := self.BranchIP() - 1; ip >= 0; ip-- {
        switch self.Instrs[ip].Op.(type) {
        case *OpPhiSrcs:
            return ip
        case *OpParCopy:
            continue
        default:
            return -1
        }
    }
    return -1
}

// PhiSrcs returns the phi source op at the end of the block, if any.
func (self *BasicBlock) PhiSrcs() (*OpPhiSrcs, bool) {
    if ip := self.PhiSrcsIP(); ip < 0 {
        return nil, false
    } else {
        return self.Instrs[ip].Op.(*OpPhiSrcs), true
    }
}

// BranchIP returns the position of the first trailing branch, or the block
// length if the block simply falls through.
func (self *BasicBlock) BranchIP() int {
    ip := len(self.Instrs)
    for ip > 0 && self.Instrs[ip-1].IsBranch() {
        ip--
    }
    return ip
}

// EndIP returns where code running on the outgoing edges is inserted: before
// the phi sources, or before the branches.
func (self *BasicBlock) EndIP() int {
    if ip := self.PhiSrcsIP(); ip >= 0 {
        return ip
    } else {
        return self.BranchIP()
    }
}

// FallsThrough reports whether control may reach the next block in layout
// order.
func (self *BasicBlock) FallsThrough() bool {
    if n := len(self.Instrs); n == 0 {
        return true
    } else {
        return !self.Instrs[n-1].IsBranch() || !self.Instrs[n-1].IsUnconditional()
    }
}

// Targets returns the labels of all the branches of the block.
func (self *BasicBlock) Targets() (ret []Label) {
    for _, ins := range self.Instrs[self.BranchIP():] {
        if br, ok := ins.Op.(*OpBra); ok {
            ret = append(ret, br.Target)
        }
    }
    return
}

// Insert places instrs before position ip.
func (self *BasicBlock) Insert(ip int, instrs ...*Instr) {
    buf := make([]*Instr, 0, len(self.Instrs)+len(instrs))
    buf = append(buf, self.Instrs[:ip]...)
    buf = append(buf, instrs...)
    self.Instrs = append(buf, self.Instrs[ip:]...)
}

// MapInstrs replaces every instruction with the list returned by fn. A nil
// return removes the instruction.
func (self *BasicBlock) MapInstrs(fn func(ip int, ins *Instr) []*Instr) {
    buf := make([]*Instr, 0, len(self.Instrs))
    for ip, ins := range self.Instrs {
        buf = append(buf, fn(ip, ins)...)
    }
    self.Instrs = buf
}

func (self *BasicBlock) String() string {
    buf := []string{self.Label.String() + ":"}
    for _, ins := range self.Instrs {
        buf = append(buf, "    "+ins.String())
    }
    return strings.Join(buf, "\n")
}

// ShaderStage is the pipeline stage a function runs in.
type ShaderStage uint8

const (
    StageCompute ShaderStage = iota
    StageVertex
    StageFragment
)

func (self ShaderStage) String() string {
    switch self {
    case StageCompute:
        return "compute"
    case StageVertex:
        return "vertex"
    case StageFragment:
        return "fragment"
    default:
        return fmt.Sprintf("stage(%d)", uint8(self))
    }
}

// ShaderInfo carries the per-shader metadata. The back end reads SM and the
// memory sizes, and fills in the resource counts.
type ShaderInfo struct {
    SM         uint8
    Stage      ShaderStage
    LocalSize  uint32
    SharedSize uint32

    /* filled in by the back end */
    NumGPRs     uint32
    NumBarriers uint32
    SlmSize     uint32
    NumInstrs   uint32
}
