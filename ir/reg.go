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
)

const (
    _B_regFile  = 29
    _B_regComps = 27
    _M_regBase  = (1 << _B_regComps) - 1
)

// RegRef is a reference to a contiguous range of physical registers.
type RegRef uint32

func NewRegRef(file RegFile, base uint32, comps int) RegRef {
    if comps < 1 || comps > _MaxSSARef {
        panic(fmt.Sprintf("ir: invalid register range width %d", comps))
    } else if base > _M_regBase {
        panic(fmt.Sprintf("ir: register index %d out of range", base))
    } else {
        return RegRef(uint32(file)<<_B_regFile | uint32(comps-1)<<_B_regComps | base)
    }
}

func (self RegRef) File() RegFile {
    return RegFile(self >> _B_regFile)
}

func (self RegRef) Base() uint32 {
    return uint32(self) & _M_regBase
}

func (self RegRef) Comps() int {
    return int((self>>_B_regComps)&3) + 1
}

// Comp returns the i-th register of the range as a scalar reference.
func (self RegRef) Comp(i int) RegRef {
    if i >= self.Comps() {
        panic("ir: register component out of range")
    }
    return NewRegRef(self.File(), self.Base()+uint32(i), 1)
}

// Overlaps reports whether two ranges share any (file, index) pair.
func (self RegRef) Overlaps(other RegRef) bool {
    if self.File() != other.File() {
        return false
    }
    a0, a1 := self.Base(), self.Base()+uint32(self.Comps())
    b0, b1 := other.Base(), other.Base()+uint32(other.Comps())
    return a0 < b1 && b0 < a1
}

func (self RegRef) String() string {
    if self.Comps() == 1 {
        return fmt.Sprintf("%s%d", self.File().Prefix(), self.Base())
    } else {
        return fmt.Sprintf("%s%d..%d", self.File().Prefix(), self.Base(), self.Base()+uint32(self.Comps()))
    }
}
