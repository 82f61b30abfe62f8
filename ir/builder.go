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

// Builder appends instructions to a buffer, allocating destination values
// on the fly.
type Builder struct {
    alloc  *SSAValueAllocator
    pred   InstrPred
    instrs []*Instr
}

func NewBuilder(alloc *SSAValueAllocator) *Builder {
    return &Builder{alloc: alloc}
}

// Predicate guards every following instruction with p.
func (self *Builder) Predicate(p InstrPred) *Builder {
    self.pred = p
    return self
}

func (self *Builder) Push(op Op) *Instr {
    ins := NewInstr(op)
    ins.Pred = self.pred
    self.instrs = append(self.instrs, ins)
    return ins
}

func (self *Builder) PushInstr(ins *Instr) {
    self.instrs = append(self.instrs, ins)
}

// Instrs returns the built instructions and resets the buffer.
func (self *Builder) Instrs() []*Instr {
    ret := self.instrs
    self.instrs = nil
    return ret
}

func (self *Builder) Alloc(file RegFile) SSAValue {
    return self.alloc.Alloc(file)
}

func (self *Builder) AllocVec(file RegFile, comps int) SSARef {
    return self.alloc.AllocVec(file, comps)
}

// Copy copies src into a fresh value of the given file.
func (self *Builder) Copy(file RegFile, src Src) SSAValue {
    v := self.alloc.Alloc(file)
    self.Push(&OpCopy{Dst: SSADst(v), Src: src})
    return v
}

// CopyTo copies src into dst.
func (self *Builder) CopyTo(dst Dst, src Src) {
    self.Push(&OpCopy{Dst: dst, Src: src})
}

func (self *Builder) Mov(src Src) SSAValue {
    v := self.alloc.Alloc(GPR)
    self.Push(&OpMov{Dst: SSADst(v), Src: src})
    return v
}

func (self *Builder) FAdd(a Src, b Src) SSAValue {
    v := self.alloc.Alloc(GPR)
    self.Push(&OpFAdd{Dst: SSADst(v), Src: [2]Src{a, b}})
    return v
}

// Lop2 emits a two-source logic op of the older ISA family.
func (self *Builder) Lop2(op LogicOp2, a Src, b Src) SSAValue {
    v := self.alloc.Alloc(GPR)
    self.Push(&OpLop2{Dst: SSADst(v), Op: op, Src: [2]Src{a, b}})
    return v
}

// Lop3 emits a lookup-table logic op.
func (self *Builder) Lop3(lut uint8, a Src, b Src, c Src) SSAValue {
    v := self.alloc.Alloc(GPR)
    self.Push(&OpLop3{Dst: SSADst(v), Lut: lut, Src: [3]Src{a, b, c}})
    return v
}

// IAdd emits the integer add of the target family.
func (self *Builder) IAdd(sm uint8, a Src, b Src) SSAValue {
    v := self.alloc.Alloc(GPR)
    if sm >= 70 {
        self.Push(&OpIAdd3{Dst: SSADst(v), Src: [3]Src{Zero(), a, b}})
    } else {
        self.Push(&OpIAdd2{Dst: SSADst(v), Src: [2]Src{a, b}})
    }
    return v
}

func (self *Builder) Undef(file RegFile) SSAValue {
    v := self.alloc.Alloc(file)
    self.Push(&OpUndef{Dst: SSADst(v)})
    return v
}
