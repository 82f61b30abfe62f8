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
    `math`
)

// SrcMod is a modifier applied to a source operand when it is read.
type SrcMod uint8

const (
    ModNone SrcMod = iota
    ModFAbs
    ModFNeg
    ModFNegAbs
    ModINeg
    ModBNot
)

func (self SrcMod) IsNone() bool { return self == ModNone }
func (self SrcMod) HasFAbs() bool { return self == ModFAbs || self == ModFNegAbs }
func (self SrcMod) HasFNeg() bool { return self == ModFNeg || self == ModFNegAbs }
func (self SrcMod) IsFloat() bool { return self == ModFAbs || self == ModFNeg || self == ModFNegAbs }

// FNeg returns the modifier after negating a float source.
func (self SrcMod) FNeg() SrcMod {
    switch self {
    case ModNone:
        return ModFNeg
    case ModFAbs:
        return ModFNegAbs
    case ModFNeg:
        return ModNone
    case ModFNegAbs:
        return ModFAbs
    default:
        panic("ir: float negate of an integer modifier")
    }
}

func (self SrcMod) String() string {
    switch self {
    case ModNone:
        return ""
    case ModFAbs:
        return "|.|"
    case ModFNeg:
        return "-"
    case ModFNegAbs:
        return "-|.|"
    case ModINeg:
        return "-"
    case ModBNot:
        return "!"
    default:
        return "?"
    }
}

// SrcKind tags the payload of a Src.
type SrcKind uint8

const (
    SrcZero SrcKind = iota
    SrcTrue
    SrcFalse
    SrcImm32
    SrcCBuf
    SrcSSA
    SrcReg
)

// CBufRef is a location in a constant buffer.
type CBufRef struct {
    Buf    uint8
    Offset uint16
}

func (self CBufRef) String() string {
    return fmt.Sprintf("c[%#x][%#x]", self.Buf, self.Offset)
}

// Src is a source operand.
type Src struct {
    Kind SrcKind
    Mod  SrcMod
    SSA  SSARef
    Reg  RegRef
    Imm  uint32
    CBuf CBufRef
}

func Zero() Src { return Src{Kind: SrcZero} }
func True() Src { return Src{Kind: SrcTrue} }
func False() Src { return Src{Kind: SrcFalse} }
func Imm(v uint32) Src { return Src{Kind: SrcImm32, Imm: v} }
func ImmI(v int32) Src { return Src{Kind: SrcImm32, Imm: uint32(v)} }
func CBuf(b CBufRef) Src { return Src{Kind: SrcCBuf, CBuf: b} }
func RegSrc(r RegRef) Src { return Src{Kind: SrcReg, Reg: r} }

func ImmF32(v float32) Src {
    return Src{Kind: SrcImm32, Imm: math.Float32bits(v)}
}

func SSASrc(vals ...SSAValue) Src {
    return Src{Kind: SrcSSA, SSA: NewSSARef(vals...)}
}

func RefSrc(ref SSARef) Src {
    return Src{Kind: SrcSSA, SSA: ref}
}

func (self Src) WithMod(mod SrcMod) Src {
    self.Mod = mod
    return self
}

func (self Src) FNeg() Src {
    self.Mod = self.Mod.FNeg()
    return self
}

func (self Src) IsSSA() bool { return self.Kind == SrcSSA }
func (self Src) IsReg() bool { return self.Kind == SrcReg }
func (self Src) IsImm() bool { return self.Kind == SrcImm32 }

// IsZero reports whether the source reads as the constant 0.
func (self Src) IsZero() bool {
    return self.Mod.IsNone() && (self.Kind == SrcZero || (self.Kind == SrcImm32 && self.Imm == 0))
}

// IsRegResident reports whether the source can be read directly from a
// register slot: SSA values, physical registers and the zero/true/false
// sentinel registers.
func (self Src) IsRegResident() bool {
    switch self.Kind {
    case SrcSSA, SrcReg, SrcZero, SrcTrue, SrcFalse:
        return true
    default:
        return false
    }
}

// Comps returns the number of components the source reads.
func (self Src) Comps() int {
    switch self.Kind {
    case SrcSSA:
        return self.SSA.Comps()
    case SrcReg:
        return self.Reg.Comps()
    default:
        return 1
    }
}

// File returns the register file read by an SSA or register source.
func (self Src) File() (RegFile, bool) {
    switch self.Kind {
    case SrcSSA:
        return self.SSA.File(), true
    case SrcReg:
        return self.Reg.File(), true
    default:
        return 0, false
    }
}

func (self Src) String() string {
    var s string
    switch self.Kind {
    case SrcZero:
        s = "rZ"
    case SrcTrue:
        s = "pT"
    case SrcFalse:
        s = "!pT"
    case SrcImm32:
        s = fmt.Sprintf("%#x", self.Imm)
    case SrcCBuf:
        s = self.CBuf.String()
    case SrcSSA:
        s = self.SSA.String()
    case SrcReg:
        s = self.Reg.String()
    }
    switch self.Mod {
    case ModNone:
        return s
    case ModFAbs:
        return "|" + s + "|"
    case ModFNegAbs:
        return "-|" + s + "|"
    default:
        return self.Mod.String() + s
    }
}

// DstKind tags the payload of a Dst.
type DstKind uint8

const (
    DstNone DstKind = iota
    DstSSA
    DstReg
)

// Dst is a destination operand.
type Dst struct {
    Kind DstKind
    SSA  SSARef
    Reg  RegRef
}

func NoDst() Dst { return Dst{} }
func RegDst(r RegRef) Dst { return Dst{Kind: DstReg, Reg: r} }
func RefDst(ref SSARef) Dst { return Dst{Kind: DstSSA, SSA: ref} }

func SSADst(vals ...SSAValue) Dst {
    return Dst{Kind: DstSSA, SSA: NewSSARef(vals...)}
}

func (self Dst) IsNone() bool { return self.Kind == DstNone }
func (self Dst) IsSSA() bool { return self.Kind == DstSSA }
func (self Dst) IsReg() bool { return self.Kind == DstReg }

func (self Dst) Comps() int {
    switch self.Kind {
    case DstSSA:
        return self.SSA.Comps()
    case DstReg:
        return self.Reg.Comps()
    default:
        return 0
    }
}

func (self Dst) File() (RegFile, bool) {
    switch self.Kind {
    case DstSSA:
        return self.SSA.File(), true
    case DstReg:
        return self.Reg.File(), true
    default:
        return 0, false
    }
}

func (self Dst) String() string {
    switch self.Kind {
    case DstSSA:
        return self.SSA.String()
    case DstReg:
        return self.Reg.String()
    default:
        return "_"
    }
}

// SrcType is the per-slot type contract an opcode declares for its sources.
type SrcType uint8

const (
    // TypeSSA accepts only SSA values (pseudo ops).
    TypeSSA SrcType = iota
    // TypeGPR requires a GPR-resident value.
    TypeGPR
    // TypeALU accepts a GPR, an immediate or a constant buffer.
    TypeALU
    // TypeF32 is TypeALU plus float modifiers.
    TypeF32
    // TypeF64 is a 64-bit float, two GPR components or a constant.
    TypeF64
    // TypeI32 is TypeALU plus integer negation.
    TypeI32
    // TypeB32 is TypeALU plus bitwise not.
    TypeB32
    // TypePred requires a predicate or true/false.
    TypePred
    // TypeBar requires a barrier register.
    TypeBar
    // TypeCarry requires a carry register.
    TypeCarry
    // TypeAny accepts anything, used by copies.
    TypeAny
)

var _SrcTypeNames = [...]string{
    TypeSSA:   "ssa",
    TypeGPR:   "gpr",
    TypeALU:   "alu",
    TypeF32:   "f32",
    TypeF64:   "f64",
    TypeI32:   "i32",
    TypeB32:   "b32",
    TypePred:  "pred",
    TypeBar:   "bar",
    TypeCarry: "carry",
    TypeAny:   "any",
}

func (self SrcType) String() string {
    return _SrcTypeNames[self]
}

// IsALU reports whether the slot accepts immediates and constant buffers.
func (self SrcType) IsALU() bool {
    switch self {
    case TypeALU, TypeF32, TypeF64, TypeI32, TypeB32:
        return true
    default:
        return false
    }
}

// SupportsMod reports whether a slot of this type can carry the modifier.
func (self SrcType) SupportsMod(mod SrcMod) bool {
    switch {
    case mod.IsNone():
        return true
    case self == TypeF32 || self == TypeF64:
        return mod.IsFloat()
    case self == TypeI32:
        return mod == ModINeg
    case self == TypeB32 || self == TypePred:
        return mod == ModBNot
    default:
        return false
    }
}

// PredKind tags the payload of an InstrPred.
type PredKind uint8

const (
    PredNone PredKind = iota
    PredSSA
    PredReg
)

// InstrPred is the predicate guarding execution of an instruction.
type InstrPred struct {
    Kind PredKind
    SSA  SSAValue
    Reg  RegRef
    Inv  bool
}

func SSAPred(v SSAValue) InstrPred { return InstrPred{Kind: PredSSA, SSA: v} }

func (self InstrPred) IsTrue() bool {
    return self.Kind == PredNone && !self.Inv
}

func (self InstrPred) IsFalse() bool {
    return self.Kind == PredNone && self.Inv
}

func (self InstrPred) String() string {
    var s string
    switch self.Kind {
    case PredNone:
        s = "pT"
    case PredSSA:
        s = self.SSA.String()
    case PredReg:
        s = self.Reg.String()
    }
    if self.Inv {
        return "@!" + s
    } else {
        return "@" + s
    }
}
