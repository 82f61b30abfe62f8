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

// InstrDeps is the scheduling control word of an instruction.
type InstrDeps struct {
    Delay    uint8
    Yield    bool
    WrBar    int8
    RdBar    int8
    WaitMask uint8
}

// NewInstrDeps returns a control word with no barriers and the minimum delay.
func NewInstrDeps() InstrDeps {
    return InstrDeps{
        Delay: 1,
        WrBar: -1,
        RdBar: -1,
    }
}

func (self InstrDeps) String() string {
    buf := []string{fmt.Sprintf("delay=%d", self.Delay)}
    if self.WaitMask != 0 {
        buf = append(buf, fmt.Sprintf("wt=%06b", self.WaitMask))
    }
    if self.RdBar >= 0 {
        buf = append(buf, fmt.Sprintf("rd=%d", self.RdBar))
    }
    if self.WrBar >= 0 {
        buf = append(buf, fmt.Sprintf("wr=%d", self.WrBar))
    }
    if self.Yield {
        buf = append(buf, "yld")
    }
    return strings.Join(buf, " ")
}

// Instr is a predicated operation together with its scheduling information.
type Instr struct {
    Pred InstrPred
    Op   Op
    Deps InstrDeps
}

func NewInstr(op Op) *Instr {
    return &Instr{
        Op:   op,
        Deps: NewInstrDeps(),
    }
}

// ForEachSSAUse calls fn with a pointer to every SSA value the instruction
// reads, including the predicate.
func (self *Instr) ForEachSSAUse(fn func(v *SSAValue)) {
    if self.Pred.Kind == PredSSA {
        fn(&self.Pred.SSA)
    }
    for _, s := range self.Op.Srcs() {
        if s.Kind == SrcSSA {
            for i := range s.SSA.Values() {
                fn(&s.SSA.Values()[i])
            }
        }
    }
}

// ForEachSSADef calls fn with a pointer to every SSA value the instruction defines.
func (self *Instr) ForEachSSADef(fn func(v *SSAValue)) {
    for _, d := range self.Op.Dsts() {
        if d.Kind == DstSSA {
            for i := range d.SSA.Values() {
                fn(&d.SSA.Values()[i])
            }
        }
    }
}

// SSAUses returns the SSA values read by the instruction.
func (self *Instr) SSAUses() (ret []SSAValue) {
    self.ForEachSSAUse(func(v *SSAValue) { ret = append(ret, *v) })
    return
}

// SSADefs returns the SSA values defined by the instruction.
func (self *Instr) SSADefs() (ret []SSAValue) {
    self.ForEachSSADef(func(v *SSAValue) { ret = append(ret, *v) })
    return
}

// IsBranch reports whether the instruction ends its block.
func (self *Instr) IsBranch() bool {
    return IsBranch(self.Op)
}

// IsUnconditional reports whether the instruction always executes.
func (self *Instr) IsUnconditional() bool {
    return self.Pred.IsTrue()
}

func (self *Instr) String() string {
    if self.Pred.IsTrue() {
        return self.Op.String()
    } else {
        return self.Pred.String() + " " + self.Op.String()
    }
}
