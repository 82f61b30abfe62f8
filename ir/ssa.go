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

const (
    _B_file    = 29
    _M_ssaIdx  = (1 << _B_file) - 1
    _MaxSSARef = 4
)

// SSAValue is a virtual register: a (register file, index) pair. Indices are
// handed out by one allocator per function and are unique across all files.
type SSAValue uint32

// NoSSAValue is the zero value and never names a real SSA value.
const NoSSAValue SSAValue = 0

func NewSSAValue(file RegFile, idx uint32) SSAValue {
    if idx == 0 || idx > _M_ssaIdx {
        panic(fmt.Sprintf("ir: invalid SSA index %d", idx))
    } else {
        return SSAValue(uint32(file)<<_B_file | idx)
    }
}

func (self SSAValue) File() RegFile {
    return RegFile(self >> _B_file)
}

func (self SSAValue) Idx() uint32 {
    return uint32(self) & _M_ssaIdx
}

func (self SSAValue) IsValid() bool {
    return self.Idx() != 0
}

func (self SSAValue) String() string {
    return fmt.Sprintf("%%%s%d", self.File().Prefix(), self.Idx())
}

// SSARef groups 1 to 4 SSA values that are produced or consumed together,
// such as the two halves of a 64-bit value.
type SSARef struct {
    comps [_MaxSSARef]SSAValue
    n     uint8
}

func NewSSARef(vals ...SSAValue) (ret SSARef) {
    if len(vals) == 0 || len(vals) > _MaxSSARef {
        panic(fmt.Sprintf("ir: invalid SSA vector width %d", len(vals)))
    }

    /* all components must live in the same file */
    for i, v := range vals {
        if v.File() != vals[0].File() {
            panic("ir: SSA vector mixes register files")
        }
        ret.comps[i] = v
    }

    /* set the component count */
    ret.n = uint8(len(vals))
    return
}

func (self SSARef) Comps() int {
    return int(self.n)
}

func (self SSARef) At(i int) SSAValue {
    if i >= int(self.n) {
        panic("ir: SSA component out of range")
    }
    return self.comps[i]
}

func (self SSARef) File() RegFile {
    return self.comps[0].File()
}

// Values returns a mutable view of the components.
func (self *SSARef) Values() []SSAValue {
    return self.comps[:self.n]
}

func (self SSARef) Contains(v SSAValue) bool {
    for _, c := range self.comps[:self.n] {
        if c == v {
            return true
        }
    }
    return false
}

func (self SSARef) String() string {
    if self.n == 1 {
        return self.comps[0].String()
    }
    buf := make([]string, 0, self.n)
    for _, v := range self.comps[:self.n] {
        buf = append(buf, v.String())
    }
    return "{" + strings.Join(buf, " ") + "}"
}

// SSAValueAllocator hands out monotonically increasing SSA indices.
type SSAValueAllocator struct {
    count uint32
}

func (self *SSAValueAllocator) Alloc(file RegFile) SSAValue {
    self.count++
    return NewSSAValue(file, self.count)
}

func (self *SSAValueAllocator) AllocVec(file RegFile, comps int) SSARef {
    vals := make([]SSAValue, comps)
    for i := range vals {
        vals[i] = self.Alloc(file)
    }
    return NewSSARef(vals...)
}

// Max returns the largest index allocated so far.
func (self *SSAValueAllocator) Max() uint32 {
    return self.count
}

// PhiAllocator hands out phi channel indices.
type PhiAllocator struct {
    count uint32
}

func (self *PhiAllocator) Alloc() uint32 {
    self.count++
    return self.count
}
