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
    `math`

    `github.com/cloudwego/gpura/ir`
)

const (
    _ImmBits20   = 20
    _ImmF32Shift = 12
)

// ImmFits reports whether an immediate with its modifier already folded in
// can be encoded directly in a slot of the given type of op.
func (self *Target) ImmFits(op ir.Op, typ ir.SrcType, imm uint32) bool {
    if self.IsNewISA() {
        return true
    }

    /* moves always have a full 32-bit form */
    if _, ok := op.(*ir.OpMov); ok {
        return true
    }

    /* floats keep the top 20 bits */
    switch typ {
    case ir.TypeF32, ir.TypeF64:
        return imm&(1<<_ImmF32Shift-1) == 0
    default:
        return fitsSigned(int32(imm), _ImmBits20)
    }
}

func fitsSigned(v int32, bits uint) bool {
    lo := -int64(1) << (bits - 1)
    hi := int64(1)<<(bits-1) - 1
    return int64(v) >= lo && int64(v) <= hi
}

// FoldImm applies a source modifier to an immediate so the modifier can be
// dropped from the operand.
func FoldImm(imm uint32, mod ir.SrcMod) uint32 {
    switch mod {
    case ir.ModNone:
        return imm
    case ir.ModFAbs:
        return imm &^ (1 << 31)
    case ir.ModFNeg:
        return imm ^ (1 << 31)
    case ir.ModFNegAbs:
        return imm | (1 << 31)
    case ir.ModINeg:
        return uint32(-int32(imm))
    case ir.ModBNot:
        return ^imm
    default:
        panic("hw: unknown source modifier")
    }
}

// FoldF32 applies a float modifier to v.
func FoldF32(v float32, mod ir.SrcMod) float32 {
    return math.Float32frombits(FoldImm(math.Float32bits(v), mod))
}
