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

package ssa

import (
    `fmt`

    `github.com/cloudwego/gpura/ir`
)

// sm70 legalizes one instruction for the SM70+ family. Most ALU ops read
// a register in the first slot and accept one immediate, constant buffer or
// uniform register in the others.
func (self *_Legalizer) sm70(ins *ir.Instr) {
    switch op := ins.Op.(type) {
    case *ir.OpFAdd:
        swapToReg(&op.Src[0], &op.Src[1])
        self.regSrc(&op.Src[0], ir.TypeF32)
        self.aluSrc(op, &op.Src[1], ir.TypeF32)
    case *ir.OpFMul:
        swapToReg(&op.Src[0], &op.Src[1])
        self.regSrc(&op.Src[0], ir.TypeF32)
        self.aluSrc(op, &op.Src[1], ir.TypeF32)
    case *ir.OpFFma:
        swapToReg(&op.Src[0], &op.Src[1])
        self.regSrc(&op.Src[0], ir.TypeF32)
        self.twoALU(op, &op.Src[1], &op.Src[2], ir.TypeF32)
    case *ir.OpFMnMx:
        swapToReg(&op.Src[0], &op.Src[1])
        self.regSrc(&op.Src[0], ir.TypeF32)
        self.aluSrc(op, &op.Src[1], ir.TypeF32)
        predSrc(&op.Min)
    case *ir.OpFSetP:
        if swapToReg(&op.Src[0], &op.Src[1]) {
            op.Cmp = flipCmp(op.Cmp, ir.FCmpLt, ir.FCmpLe, ir.FCmpGt, ir.FCmpGe)
        }
        self.regSrc(&op.Src[0], ir.TypeF32)
        self.aluSrc(op, &op.Src[1], ir.TypeF32)
        predSrc(&op.Accum)
    case *ir.OpDAdd:
        swapToReg(&op.Src[0], &op.Src[1])
        self.regSrc(&op.Src[0], ir.TypeF64)
        self.f64Src(op, &op.Src[1])
    case *ir.OpIAdd3:
        self.iadd3(op)
    case *ir.OpIMad:
        swapToReg(&op.Src[0], &op.Src[1])
        self.regSrc(&op.Src[0], ir.TypeALU)
        self.twoALU(op, &op.Src[1], &op.Src[2], ir.TypeALU)
    case *ir.OpISetP:
        if swapToReg(&op.Src[0], &op.Src[1]) {
            op.Cmp = flipCmp(op.Cmp, ir.ICmpLt, ir.ICmpLe, ir.ICmpGt, ir.ICmpGe)
        }
        self.regSrc(&op.Src[0], ir.TypeALU)
        self.aluSrc(op, &op.Src[1], ir.TypeALU)
        predSrc(&op.Accum)
    case *ir.OpLop3:
        self.lop3(op)
    case *ir.OpPLop3:
        foldLutNots(&op.Lut, op.Src[:])
        for i := range op.Src {
            predSrc(&op.Src[i])
        }
    case *ir.OpSel:
        self.sel(op)
    case *ir.OpR2UR:
        self.regSrc(&op.Src, ir.TypeGPR)
    case *ir.OpIAdd2, *ir.OpLop2:
        panic(fmt.Sprintf("legalize: '%s' is not supported on sm%d", ins, self.hw.SM()))
    default:
        self.common(ins)
    }
}

func (self *_Legalizer) iadd3(op *ir.OpIAdd3) {
    if !isReg(&op.Src[0]) {
        for i := 1; i < 3; i++ {
            if isReg(&op.Src[i]) {
                op.Src[0], op.Src[i] = op.Src[i], op.Src[0]
                break
            }
        }
    }

    /* the overflow flag is a predicate */
    if f, ok := op.Overflow.File(); ok && !f.IsPredicate() {
        panic("legalize: iadd3 overflow must be a predicate")
    }

    /* legalize the sources */
    self.regSrc(&op.Src[0], ir.TypeI32)
    self.twoALU(op, &op.Src[1], &op.Src[2], ir.TypeI32)
}

func (self *_Legalizer) lop3(op *ir.OpLop3) {
    foldLutNots(&op.Lut, op.Src[:])

    /* move a register into the first slot */
    if !isReg(&op.Src[0]) {
        for i := 1; i < 3; i++ {
            if isReg(&op.Src[i]) {
                op.Src[0], op.Src[i] = op.Src[i], op.Src[0]
                op.Lut = lutSwap(op.Lut, 0, i)
                break
            }
        }
    }

    /* legalize the sources */
    self.regSrc(&op.Src[0], ir.TypeALU)
    self.twoALU(op, &op.Src[1], &op.Src[2], ir.TypeALU)
}

func (self *_Legalizer) sel(op *ir.OpSel) {
    if swapToReg(&op.Src[0], &op.Src[1]) {
        if op.Cond.Mod == ir.ModBNot {
            op.Cond.Mod = ir.ModNone
        } else {
            op.Cond.Mod = ir.ModBNot
        }
    }

    /* legalize the sources */
    predSrc(&op.Cond)
    self.regSrc(&op.Src[0], ir.TypeGPR)
    self.aluSrc(op, &op.Src[1], ir.TypeALU)
}

// f64Src legalizes the second source of a 64-bit op: a register pair, a
// constant buffer or the high word of the constant.
func (self *_Legalizer) f64Src(op ir.Op, src *ir.Src) {
    switch {
    case src.IsSSA() && src.SSA.Comps() != 2:
        panic(fmt.Sprintf("legalize: %s is not a 64-bit operand", src))
    case src.IsSSA():
        return
    default:
        self.aluSrc(op, src, ir.TypeF64)
    }
}
