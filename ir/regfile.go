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
    `strings`
)

// RegFile identifies one of the hardware register files.
type RegFile uint8

const (
    GPR RegFile = iota
    UGPR
    Pred
    UPred
    Carry
    Bar
    Mem
)

// NumRegFiles is the number of register files.
const NumRegFiles = 7

// AllRegFiles lists every register file in declaration order.
var AllRegFiles = [NumRegFiles]RegFile{GPR, UGPR, Pred, UPred, Carry, Bar, Mem}

var _RegFileNames = [NumRegFiles]string{
    GPR:   "gpr",
    UGPR:  "ugpr",
    Pred:  "pred",
    UPred: "upred",
    Carry: "carry",
    Bar:   "bar",
    Mem:   "mem",
}

var _RegFilePrefix = [NumRegFiles]string{
    GPR:   "r",
    UGPR:  "ur",
    Pred:  "p",
    UPred: "up",
    Carry: "c",
    Bar:   "b",
    Mem:   "m",
}

func (self RegFile) String() string {
    if int(self) >= NumRegFiles {
        return "invalid"
    } else {
        return _RegFileNames[self]
    }
}

// Prefix returns the short name used when printing registers of this file.
func (self RegFile) Prefix() string {
    return _RegFilePrefix[self]
}

// IsUniform reports whether the file holds warp-uniform values.
func (self RegFile) IsUniform() bool {
    return self == UGPR || self == UPred
}

// IsPredicate reports whether the file holds 1-bit predicates.
func (self RegFile) IsPredicate() bool {
    return self == Pred || self == UPred
}

// IsGPR reports whether the file holds 32-bit general purpose values.
func (self RegFile) IsGPR() bool {
    return self == GPR || self == UGPR
}

// ToWarp returns the non-uniform counterpart of a uniform file.
func (self RegFile) ToWarp() RegFile {
    switch self {
    case UGPR:
        return GPR
    case UPred:
        return Pred
    default:
        return self
    }
}

// RegFileSet is a bit set of register files.
type RegFileSet uint8

func (self RegFileSet) Has(file RegFile) bool {
    return self&(1<<file) != 0
}

func (self *RegFileSet) Add(file RegFile) {
    *self |= 1 << file
}

func (self RegFileSet) Len() int {
    n := 0
    for _, f := range AllRegFiles {
        if self.Has(f) {
            n++
        }
    }
    return n
}

func (self RegFileSet) String() string {
    var buf []string
    for _, f := range AllRegFiles {
        if self.Has(f) {
            buf = append(buf, f.String())
        }
    }
    return "{" + strings.Join(buf, ", ") + "}"
}

// PerRegFile is a small fixed array indexed by register file.
type PerRegFile[T any] [NumRegFiles]T

// NewPerRegFile builds a PerRegFile by calling fn for each file.
func NewPerRegFile[T any](fn func(file RegFile) T) (ret PerRegFile[T]) {
    for _, f := range AllRegFiles {
        ret[f] = fn(f)
    }
    return
}

func (self *PerRegFile[T]) Get(file RegFile) *T {
    return &self[file]
}

func (self *PerRegFile[T]) ForEach(fn func(file RegFile, v *T)) {
    for _, f := range AllRegFiles {
        fn(f, &self[f])
    }
}
