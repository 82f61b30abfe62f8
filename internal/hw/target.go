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

package hw

import (
    `github.com/cloudwego/gpura/ir`
    `github.com/pkg/errors`
)

const (
    _NumScoreboards = 6
    _MinDelay       = 1
    _MaxDelay       = 15
    _NumSpillSlots  = 1 << 24
)

var _SupportedSM = map[uint8]bool{
    50: true, 52: true, 53: true,
    60: true, 61: true, 62: true,
    70: true, 72: true, 75: true,
    80: true, 86: true, 87: true, 89: true,
    90: true,
}

// Target describes the capabilities of one hardware generation. A Target is
// never mutated after construction and may be shared between compiles.
type Target struct {
    sm    uint8
    regs  ir.PerRegFile[uint32]
    swap  ir.RegFileSet
    quirk bool
}

// ForSM returns the descriptor of the given SM version.
func ForSM(sm uint8) (*Target, error) {
    if !_SupportedSM[sm] {
        return nil, errors.Errorf("unsupported SM version %d", sm)
    }

    /* registers common to every generation */
    ret := &Target{sm: sm}
    ret.regs[ir.GPR] = 255
    ret.regs[ir.Pred] = 7
    ret.regs[ir.Mem] = _NumSpillSlots
    ret.swap.Add(ir.GPR)
    ret.swap.Add(ir.Pred)

    /* the older family has a single carry flag and no barrier registers */
    if sm < 70 {
        ret.regs[ir.Carry] = 1
        return ret, nil
    }

    /* the newer family has convergence barriers */
    ret.regs[ir.Bar] = 16
    ret.quirk = true

    /* uniform data path */
    if sm >= 75 {
        ret.regs[ir.UGPR] = 63
        ret.regs[ir.UPred] = 7
        ret.swap.Add(ir.UGPR)
        ret.swap.Add(ir.UPred)
    }
    return ret, nil
}

// MustForSM is like ForSM but panics on unsupported versions.
func MustForSM(sm uint8) *Target {
    if ret, err := ForSM(sm); err != nil {
        panic(err)
    } else {
        return ret
    }
}

func (self *Target) SM() uint8 {
    return self.sm
}

// IsNewISA reports whether the target belongs to the SM70+ family.
func (self *Target) IsNewISA() bool {
    return self.sm >= 70
}

// NumRegs returns the number of physical registers of a file.
func (self *Target) NumRegs(file ir.RegFile) uint32 {
    return self.regs[file]
}

// HasSwap reports whether the file has a hardware swap sequence.
func (self *Target) HasSwap(file ir.RegFile) bool {
    return self.swap.Has(file)
}

// ReservesTmp reports whether the top register of the file is kept out of
// allocation to break parallel copy cycles.
func (self *Target) ReservesTmp(file ir.RegFile) bool {
    return !self.HasSwap(file) && self.regs[file] > 1
}

// TmpReg returns the cycle-breaking register of a file without swap.
func (self *Target) TmpReg(file ir.RegFile) ir.RegRef {
    if !self.ReservesTmp(file) {
        panic("hw: register file " + file.String() + " has no temporary register")
    }
    return ir.NewRegRef(file, self.regs[file]-1, 1)
}

// ScratchGPR returns the GPR kept free for lowering memory-to-memory and
// barrier-to-barrier copies.
func (self *Target) ScratchGPR() ir.RegRef {
    return ir.NewRegRef(ir.GPR, self.regs[ir.GPR]-1, 1)
}

// AllocatableRegs returns the number of registers the allocator may hand
// out, after the scratch and temporary registers are set aside.
func (self *Target) AllocatableRegs(file ir.RegFile) uint32 {
    switch n := self.regs[file]; {
    case file == ir.GPR:
        return n - 1
    case self.ReservesTmp(file):
        return n - 1
    default:
        return n
    }
}

// NumScoreboards returns the number of dependency barriers.
func (self *Target) NumScoreboards() int {
    return _NumScoreboards
}

// DelayRange returns the issue delays an instruction can encode.
func (self *Target) DelayRange() (uint8, uint8) {
    return _MinDelay, _MaxDelay
}

// PadsMultiCycle reports whether instructions taking more than one issue
// slot must be followed by a 2-cycle no-op. Only observed on the SM70+
// family.
func (self *Target) PadsMultiCycle() bool {
    return self.quirk
}
