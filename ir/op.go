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

// Label names a basic block as a branch target.
type Label uint32

func (self Label) String() string {
    return fmt.Sprintf("L%d", uint32(self))
}

// Op is the closed set of operations. The concrete type is the opcode; use a
// type switch to dispatch on it.
type Op interface {
    fmt.Stringer
    op()

    // Srcs returns pointers to the source slots so passes can rewrite them in place.
    Srcs() []*Src

    // Dsts returns pointers to the destination slots.
    Dsts() []*Dst

    // SrcTypes declares the type contract of each slot returned by Srcs.
    SrcTypes() []SrcType
}

func (*OpFAdd) op() {}
func (*OpFMul) op() {}
func (*OpFFma) op() {}
func (*OpFMnMx) op() {}
func (*OpFSetP) op() {}
func (*OpDAdd) op() {}
func (*OpMuFu) op() {}
func (*OpIAdd2) op() {}
func (*OpIAdd3) op() {}
func (*OpIMad) op() {}
func (*OpISetP) op() {}
func (*OpLop2) op() {}
func (*OpLop3) op() {}
func (*OpShf) op() {}
func (*OpShl) op() {}
func (*OpShr) op() {}
func (*OpSel) op() {}
func (*OpPLop3) op() {}
func (*OpMov) op() {}
func (*OpR2UR) op() {}
func (*OpLd) op() {}
func (*OpSt) op() {}
func (*OpBMov) op() {}
func (*OpBar) op() {}
func (*OpBra) op() {}
func (*OpExit) op() {}
func (*OpNop) op() {}
func (*OpCopy) op() {}
func (*OpSwap) op() {}
func (*OpParCopy) op() {}
func (*OpPhiSrcs) op() {}
func (*OpPhiDsts) op() {}
func (*OpSpill) op() {}
func (*OpFill) op() {}
func (*OpUndef) op() {}
func (*OpRegOut) op() {}

func fmtOp(name string, dsts []*Dst, srcs []*Src, extra ...string) string {
    buf := make([]string, 0, len(dsts)+len(srcs)+len(extra)+1)

    /* destinations first */
    for _, d := range dsts {
        buf = append(buf, d.String())
    }

    /* then the opcode and modifiers */
    if len(dsts) != 0 {
        buf = append(buf, "=")
    }
    buf = append(buf, strings.Join(append([]string{name}, extra...), "."))

    /* and finally the sources */
    for _, s := range srcs {
        buf = append(buf, s.String())
    }
    return strings.Join(buf, " ")
}

// FloatCmp is a float comparison.
type FloatCmp uint8

const (
    FCmpLt FloatCmp = iota
    FCmpEq
    FCmpLe
    FCmpGt
    FCmpNe
    FCmpGe
    FCmpNum
    FCmpNan
)

var _FloatCmpNames = [...]string{"lt", "eq", "le", "gt", "ne", "ge", "num", "nan"}

func (self FloatCmp) String() string { return _FloatCmpNames[self] }

// IntCmp is an integer comparison.
type IntCmp uint8

const (
    ICmpLt IntCmp = iota
    ICmpEq
    ICmpLe
    ICmpGt
    ICmpNe
    ICmpGe
)

var _IntCmpNames = [...]string{"lt", "eq", "le", "gt", "ne", "ge"}

func (self IntCmp) String() string { return _IntCmpNames[self] }

// LogicOp2 is the operation of a two-source logic op.
type LogicOp2 uint8

const (
    LogicAnd LogicOp2 = iota
    LogicOr
    LogicXor
    LogicPassB
)

var _LogicOp2Names = [...]string{"and", "or", "xor", "passb"}

func (self LogicOp2) String() string { return _LogicOp2Names[self] }

// Lookup-table inputs for three-source logic ops.
const (
    LutA uint8 = 0xf0
    LutB uint8 = 0xcc
    LutC uint8 = 0xaa
)

// MuFuOp is a multi-function unit operation.
type MuFuOp uint8

const (
    MuFuRcp MuFuOp = iota
    MuFuRsq
    MuFuSin
    MuFuCos
    MuFuEx2
    MuFuLg2
    MuFuSqrt
)

var _MuFuNames = [...]string{"rcp", "rsq", "sin", "cos", "ex2", "lg2", "sqrt"}

func (self MuFuOp) String() string { return _MuFuNames[self] }

// MemSpace is the address space of a memory access.
type MemSpace uint8

const (
    MemGlobal MemSpace = iota
    MemLocal
    MemShared
)

var _MemSpaceNames = [...]string{"global", "local", "shared"}

func (self MemSpace) String() string { return _MemSpaceNames[self] }

type OpFAdd struct {
    Dst      Dst
    Src      [2]Src
    Saturate bool
}

func (self *OpFAdd) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1]} }
func (self *OpFAdd) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpFAdd) SrcTypes() []SrcType { return []SrcType{TypeF32, TypeF32} }

func (self *OpFAdd) String() string {
    if self.Saturate {
        return fmtOp("fadd", self.Dsts(), self.Srcs(), "sat")
    } else {
        return fmtOp("fadd", self.Dsts(), self.Srcs())
    }
}

type OpFMul struct {
    Dst Dst
    Src [2]Src
}

func (self *OpFMul) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1]} }
func (self *OpFMul) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpFMul) SrcTypes() []SrcType { return []SrcType{TypeF32, TypeF32} }
func (self *OpFMul) String() string { return fmtOp("fmul", self.Dsts(), self.Srcs()) }

type OpFFma struct {
    Dst Dst
    Src [3]Src
}

func (self *OpFFma) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1], &self.Src[2]} }
func (self *OpFFma) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpFFma) SrcTypes() []SrcType { return []SrcType{TypeF32, TypeF32, TypeF32} }
func (self *OpFFma) String() string { return fmtOp("ffma", self.Dsts(), self.Srcs()) }

// OpFMnMx selects the minimum when Min is true and the maximum otherwise.
type OpFMnMx struct {
    Dst Dst
    Src [2]Src
    Min Src
}

func (self *OpFMnMx) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1], &self.Min} }
func (self *OpFMnMx) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpFMnMx) SrcTypes() []SrcType { return []SrcType{TypeF32, TypeF32, TypePred} }
func (self *OpFMnMx) String() string { return fmtOp("fmnmx", self.Dsts(), self.Srcs()) }

type OpFSetP struct {
    Dst   Dst
    Cmp   FloatCmp
    Src   [2]Src
    Accum Src
}

func (self *OpFSetP) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1], &self.Accum} }
func (self *OpFSetP) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpFSetP) SrcTypes() []SrcType { return []SrcType{TypeF32, TypeF32, TypePred} }
func (self *OpFSetP) String() string { return fmtOp("fsetp", self.Dsts(), self.Srcs(), self.Cmp.String()) }

// OpDAdd adds two 64-bit floats held in register pairs.
type OpDAdd struct {
    Dst Dst
    Src [2]Src
}

func (self *OpDAdd) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1]} }
func (self *OpDAdd) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpDAdd) SrcTypes() []SrcType { return []SrcType{TypeF64, TypeF64} }
func (self *OpDAdd) String() string { return fmtOp("dadd", self.Dsts(), self.Srcs()) }

type OpMuFu struct {
    Dst Dst
    Op  MuFuOp
    Src Src
}

func (self *OpMuFu) Srcs() []*Src { return []*Src{&self.Src} }
func (self *OpMuFu) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpMuFu) SrcTypes() []SrcType { return []SrcType{TypeF32} }
func (self *OpMuFu) String() string { return fmtOp("mufu", self.Dsts(), self.Srcs(), self.Op.String()) }

// OpIAdd2 is the two-source integer add of the older ISA family. CarryOut
// optionally receives the carry bit.
type OpIAdd2 struct {
    Dst      Dst
    CarryOut Dst
    Src      [2]Src
}

func (self *OpIAdd2) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1]} }
func (self *OpIAdd2) Dsts() []*Dst { return []*Dst{&self.Dst, &self.CarryOut} }
func (self *OpIAdd2) SrcTypes() []SrcType { return []SrcType{TypeI32, TypeI32} }
func (self *OpIAdd2) String() string { return fmtOp("iadd", self.Dsts(), self.Srcs()) }

// OpIAdd3 is the three-source integer add of the newer ISA family.
type OpIAdd3 struct {
    Dst      Dst
    Overflow Dst
    Src      [3]Src
}

func (self *OpIAdd3) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1], &self.Src[2]} }
func (self *OpIAdd3) Dsts() []*Dst { return []*Dst{&self.Dst, &self.Overflow} }
func (self *OpIAdd3) SrcTypes() []SrcType { return []SrcType{TypeI32, TypeI32, TypeI32} }
func (self *OpIAdd3) String() string { return fmtOp("iadd3", self.Dsts(), self.Srcs()) }

type OpIMad struct {
    Dst    Dst
    Src    [3]Src
    Signed bool
}

func (self *OpIMad) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1], &self.Src[2]} }
func (self *OpIMad) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpIMad) SrcTypes() []SrcType { return []SrcType{TypeALU, TypeALU, TypeALU} }

func (self *OpIMad) String() string {
    if self.Signed {
        return fmtOp("imad", self.Dsts(), self.Srcs(), "s32")
    } else {
        return fmtOp("imad", self.Dsts(), self.Srcs(), "u32")
    }
}

type OpISetP struct {
    Dst    Dst
    Cmp    IntCmp
    Signed bool
    Src    [2]Src
    Accum  Src
}

func (self *OpISetP) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1], &self.Accum} }
func (self *OpISetP) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpISetP) SrcTypes() []SrcType { return []SrcType{TypeALU, TypeALU, TypePred} }
func (self *OpISetP) String() string { return fmtOp("isetp", self.Dsts(), self.Srcs(), self.Cmp.String()) }

// OpLop2 is the two-source logic op of the older ISA family.
type OpLop2 struct {
    Dst Dst
    Op  LogicOp2
    Src [2]Src
}

func (self *OpLop2) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1]} }
func (self *OpLop2) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpLop2) SrcTypes() []SrcType { return []SrcType{TypeB32, TypeB32} }
func (self *OpLop2) String() string { return fmtOp("lop", self.Dsts(), self.Srcs(), self.Op.String()) }

// OpLop3 is the lookup-table logic op of the newer ISA family.
type OpLop3 struct {
    Dst Dst
    Lut uint8
    Src [3]Src
}

func (self *OpLop3) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1], &self.Src[2]} }
func (self *OpLop3) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpLop3) SrcTypes() []SrcType { return []SrcType{TypeALU, TypeALU, TypeALU} }
func (self *OpLop3) String() string { return fmtOp("lop3", self.Dsts(), self.Srcs(), fmt.Sprintf("%#02x", self.Lut)) }

// OpShf is a funnel shift of the 64-bit value High:Low.
type OpShf struct {
    Dst   Dst
    Low   Src
    Shift Src
    High  Src
    Right bool
}

func (self *OpShf) Srcs() []*Src { return []*Src{&self.Low, &self.Shift, &self.High} }
func (self *OpShf) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpShf) SrcTypes() []SrcType { return []SrcType{TypeGPR, TypeALU, TypeGPR} }

func (self *OpShf) String() string {
    if self.Right {
        return fmtOp("shf", self.Dsts(), self.Srcs(), "r")
    } else {
        return fmtOp("shf", self.Dsts(), self.Srcs(), "l")
    }
}

type OpShl struct {
    Dst   Dst
    Src   Src
    Shift Src
}

func (self *OpShl) Srcs() []*Src { return []*Src{&self.Src, &self.Shift} }
func (self *OpShl) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpShl) SrcTypes() []SrcType { return []SrcType{TypeGPR, TypeALU} }
func (self *OpShl) String() string { return fmtOp("shl", self.Dsts(), self.Srcs()) }

type OpShr struct {
    Dst    Dst
    Src    Src
    Shift  Src
    Signed bool
}

func (self *OpShr) Srcs() []*Src { return []*Src{&self.Src, &self.Shift} }
func (self *OpShr) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpShr) SrcTypes() []SrcType { return []SrcType{TypeGPR, TypeALU} }
func (self *OpShr) String() string { return fmtOp("shr", self.Dsts(), self.Srcs()) }

// OpSel picks Src[0] when Cond is true and Src[1] otherwise.
type OpSel struct {
    Dst  Dst
    Cond Src
    Src  [2]Src
}

func (self *OpSel) Srcs() []*Src { return []*Src{&self.Cond, &self.Src[0], &self.Src[1]} }
func (self *OpSel) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpSel) SrcTypes() []SrcType { return []SrcType{TypePred, TypeGPR, TypeALU} }
func (self *OpSel) String() string { return fmtOp("sel", self.Dsts(), self.Srcs()) }

// OpPLop3 is the lookup-table logic op on predicates.
type OpPLop3 struct {
    Dst Dst
    Lut uint8
    Src [3]Src
}

func (self *OpPLop3) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1], &self.Src[2]} }
func (self *OpPLop3) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpPLop3) SrcTypes() []SrcType { return []SrcType{TypePred, TypePred, TypePred} }
func (self *OpPLop3) String() string { return fmtOp("plop3", self.Dsts(), self.Srcs(), fmt.Sprintf("%#02x", self.Lut)) }

type OpMov struct {
    Dst Dst
    Src Src
}

func (self *OpMov) Srcs() []*Src { return []*Src{&self.Src} }
func (self *OpMov) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpMov) SrcTypes() []SrcType { return []SrcType{TypeALU} }
func (self *OpMov) String() string { return fmtOp("mov", self.Dsts(), self.Srcs()) }

// OpR2UR moves a warp register into a uniform register.
type OpR2UR struct {
    Dst Dst
    Src Src
}

func (self *OpR2UR) Srcs() []*Src { return []*Src{&self.Src} }
func (self *OpR2UR) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpR2UR) SrcTypes() []SrcType { return []SrcType{TypeGPR} }
func (self *OpR2UR) String() string { return fmtOp("r2ur", self.Dsts(), self.Srcs()) }

// OpLd loads Dst.Comps() words from Addr + Offset.
type OpLd struct {
    Dst    Dst
    Addr   Src
    Offset int32
    Space  MemSpace
}

func (self *OpLd) Srcs() []*Src { return []*Src{&self.Addr} }
func (self *OpLd) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpLd) SrcTypes() []SrcType { return []SrcType{TypeGPR} }

func (self *OpLd) String() string {
    return fmtOp("ld", self.Dsts(), self.Srcs(), self.Space.String(), fmt.Sprintf("%+d", self.Offset))
}

// OpSt stores Data.Comps() words to Addr + Offset.
type OpSt struct {
    Addr   Src
    Data   Src
    Offset int32
    Space  MemSpace
}

func (self *OpSt) Srcs() []*Src { return []*Src{&self.Addr, &self.Data} }
func (self *OpSt) Dsts() []*Dst { return nil }
func (self *OpSt) SrcTypes() []SrcType { return []SrcType{TypeGPR, TypeGPR} }

func (self *OpSt) String() string {
    return fmtOp("st", nil, self.Srcs(), self.Space.String(), fmt.Sprintf("%+d", self.Offset))
}

// OpBMov moves between a barrier register and a GPR. Clear resets the
// barrier after reading it.
type OpBMov struct {
    Dst   Dst
    Src   Src
    Clear bool
}

func (self *OpBMov) Srcs() []*Src { return []*Src{&self.Src} }
func (self *OpBMov) Dsts() []*Dst { return []*Dst{&self.Dst} }

func (self *OpBMov) SrcTypes() []SrcType {
    if f, ok := self.Dst.File(); ok && f == Bar {
        return []SrcType{TypeGPR}
    } else {
        return []SrcType{TypeBar}
    }
}

func (self *OpBMov) String() string { return fmtOp("bmov", self.Dsts(), self.Srcs()) }

// OpBar is a workgroup barrier.
type OpBar struct{}

func (self *OpBar) Srcs() []*Src { return nil }
func (self *OpBar) Dsts() []*Dst { return nil }
func (self *OpBar) SrcTypes() []SrcType { return nil }
func (self *OpBar) String() string { return "bar.sync" }

type OpBra struct {
    Target Label
}

func (self *OpBra) Srcs() []*Src { return nil }
func (self *OpBra) Dsts() []*Dst { return nil }
func (self *OpBra) SrcTypes() []SrcType { return nil }
func (self *OpBra) String() string { return "bra " + self.Target.String() }

type OpExit struct{}

func (self *OpExit) Srcs() []*Src { return nil }
func (self *OpExit) Dsts() []*Dst { return nil }
func (self *OpExit) SrcTypes() []SrcType { return nil }
func (self *OpExit) String() string { return "exit" }

type OpNop struct{}

func (self *OpNop) Srcs() []*Src { return nil }
func (self *OpNop) Dsts() []*Dst { return nil }
func (self *OpNop) SrcTypes() []SrcType { return nil }
func (self *OpNop) String() string { return "nop" }

// OpCopy is a register file agnostic copy, lowered after allocation.
type OpCopy struct {
    Dst Dst
    Src Src
}

func (self *OpCopy) Srcs() []*Src { return []*Src{&self.Src} }
func (self *OpCopy) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpCopy) SrcTypes() []SrcType { return []SrcType{TypeAny} }
func (self *OpCopy) String() string { return fmtOp("copy", self.Dsts(), self.Srcs()) }

// OpSwap exchanges two registers of the same file.
type OpSwap struct {
    Dst [2]Dst
    Src [2]Src
}

func (self *OpSwap) Srcs() []*Src { return []*Src{&self.Src[0], &self.Src[1]} }
func (self *OpSwap) Dsts() []*Dst { return []*Dst{&self.Dst[0], &self.Dst[1]} }
func (self *OpSwap) SrcTypes() []SrcType { return []SrcType{TypeSSA, TypeSSA} }
func (self *OpSwap) String() string { return fmtOp("swap", self.Dsts(), self.Srcs()) }

// OpParCopy assigns every Srcs[i] to Dsts[i] simultaneously. Tmps optionally
// provides one scratch register per file for breaking cycles.
type OpParCopy struct {
    Dst  []Dst
    Src  []Src
    Tmps []RegRef
}

func (self *OpParCopy) Push(dst Dst, src Src) {
    self.Dst = append(self.Dst, dst)
    self.Src = append(self.Src, src)
}

func (self *OpParCopy) Len() int {
    return len(self.Dst)
}

// Tmp returns the scratch register of the given file, if any.
func (self *OpParCopy) Tmp(file RegFile) (RegRef, bool) {
    for _, t := range self.Tmps {
        if t.File() == file {
            return t, true
        }
    }
    return 0, false
}

func (self *OpParCopy) Srcs() []*Src {
    ret := make([]*Src, len(self.Src))
    for i := range self.Src {
        ret[i] = &self.Src[i]
    }
    return ret
}

func (self *OpParCopy) Dsts() []*Dst {
    ret := make([]*Dst, len(self.Dst))
    for i := range self.Dst {
        ret[i] = &self.Dst[i]
    }
    return ret
}

func (self *OpParCopy) SrcTypes() []SrcType {
    ret := make([]SrcType, len(self.Src))
    for i := range ret {
        ret[i] = TypeAny
    }
    return ret
}

func (self *OpParCopy) String() string {
    buf := make([]string, 0, len(self.Dst))
    for i := range self.Dst {
        buf = append(buf, fmt.Sprintf("%s = %s", self.Dst[i], self.Src[i]))
    }
    return "par_copy {" + strings.Join(buf, ", ") + "}"
}

// OpPhiSrcs sits at the end of a predecessor and feeds the phi channels Ids.
type OpPhiSrcs struct {
    Src []Src
    Ids []uint32
}

func (self *OpPhiSrcs) Push(id uint32, src Src) {
    self.Ids = append(self.Ids, id)
    self.Src = append(self.Src, src)
}

// Lookup returns the slot feeding phi channel id.
func (self *OpPhiSrcs) Lookup(id uint32) (*Src, bool) {
    for i, v := range self.Ids {
        if v == id {
            return &self.Src[i], true
        }
    }
    return nil, false
}

func (self *OpPhiSrcs) Srcs() []*Src {
    ret := make([]*Src, len(self.Src))
    for i := range self.Src {
        ret[i] = &self.Src[i]
    }
    return ret
}

func (self *OpPhiSrcs) Dsts() []*Dst { return nil }

func (self *OpPhiSrcs) SrcTypes() []SrcType {
    ret := make([]SrcType, len(self.Src))
    for i := range ret {
        ret[i] = TypeSSA
    }
    return ret
}

func (self *OpPhiSrcs) String() string {
    buf := make([]string, 0, len(self.Src))
    for i := range self.Src {
        buf = append(buf, fmt.Sprintf("φ%d = %s", self.Ids[i], self.Src[i]))
    }
    return "phi_src {" + strings.Join(buf, ", ") + "}"
}

// OpPhiDsts sits at the top of a block and reads the phi channels Ids.
type OpPhiDsts struct {
    Dst []Dst
    Ids []uint32
}

func (self *OpPhiDsts) Push(id uint32, dst Dst) {
    self.Ids = append(self.Ids, id)
    self.Dst = append(self.Dst, dst)
}

func (self *OpPhiDsts) Lookup(id uint32) (*Dst, bool) {
    for i, v := range self.Ids {
        if v == id {
            return &self.Dst[i], true
        }
    }
    return nil, false
}

func (self *OpPhiDsts) Srcs() []*Src { return nil }
func (self *OpPhiDsts) SrcTypes() []SrcType { return nil }

func (self *OpPhiDsts) Dsts() []*Dst {
    ret := make([]*Dst, len(self.Dst))
    for i := range self.Dst {
        ret[i] = &self.Dst[i]
    }
    return ret
}

func (self *OpPhiDsts) String() string {
    buf := make([]string, 0, len(self.Dst))
    for i := range self.Dst {
        buf = append(buf, fmt.Sprintf("%s = φ%d", self.Dst[i], self.Ids[i]))
    }
    return "phi_dst {" + strings.Join(buf, ", ") + "}"
}

// OpSpill moves a value into its backing storage file.
type OpSpill struct {
    Dst Dst
    Src Src
}

func (self *OpSpill) Srcs() []*Src { return []*Src{&self.Src} }
func (self *OpSpill) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpSpill) SrcTypes() []SrcType { return []SrcType{TypeSSA} }
func (self *OpSpill) String() string { return fmtOp("spill", self.Dsts(), self.Srcs()) }

// OpFill reloads a spilled value.
type OpFill struct {
    Dst Dst
    Src Src
}

func (self *OpFill) Srcs() []*Src { return []*Src{&self.Src} }
func (self *OpFill) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpFill) SrcTypes() []SrcType { return []SrcType{TypeSSA} }
func (self *OpFill) String() string { return fmtOp("fill", self.Dsts(), self.Srcs()) }

// OpUndef defines a value with unspecified contents.
type OpUndef struct {
    Dst Dst
}

func (self *OpUndef) Srcs() []*Src { return nil }
func (self *OpUndef) Dsts() []*Dst { return []*Dst{&self.Dst} }
func (self *OpUndef) SrcTypes() []SrcType { return nil }
func (self *OpUndef) String() string { return fmtOp("undef", self.Dsts(), nil) }

// OpRegOut pins Src[i] to GPR i at the end of the shader.
type OpRegOut struct {
    Src []Src
}

func (self *OpRegOut) Srcs() []*Src {
    ret := make([]*Src, len(self.Src))
    for i := range self.Src {
        ret[i] = &self.Src[i]
    }
    return ret
}

func (self *OpRegOut) Dsts() []*Dst { return nil }

func (self *OpRegOut) SrcTypes() []SrcType {
    ret := make([]SrcType, len(self.Src))
    for i := range ret {
        ret[i] = TypeGPR
    }
    return ret
}

func (self *OpRegOut) String() string { return fmtOp("reg_out", nil, self.Srcs()) }

// HasSideEffects reports whether op must be kept even if it defines nothing
// that is used.
func HasSideEffects(op Op) bool {
    switch op.(type) {
    case *OpSt, *OpLd, *OpBar, *OpBra, *OpExit, *OpNop, *OpPhiSrcs, *OpPhiDsts, *OpRegOut:
        return true
    default:
        return false
    }
}

// IsBranch reports whether op ends a block.
func IsBranch(op Op) bool {
    switch op.(type) {
    case *OpBra, *OpExit:
        return true
    default:
        return false
    }
}

// IsPseudo reports whether op has no hardware encoding and must be lowered.
func IsPseudo(op Op) bool {
    switch op.(type) {
    case *OpCopy, *OpSwap, *OpParCopy, *OpPhiSrcs, *OpPhiDsts, *OpSpill, *OpFill, *OpUndef, *OpRegOut:
        return true
    default:
        return false
    }
}
