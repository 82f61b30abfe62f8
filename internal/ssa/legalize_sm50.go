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

// sm50 legalizes one instruction for the SM50..SM62 family. ALU ops read a
// register in the first slot and one 20-bit immediate or constant buffer in
// the second.
func (self *_Legalizer) sm50(ins *ir.Instr) {
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
        self.ffma50(op)
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
    case *ir.OpIAdd2:
        swapToReg(&op.Src[0], &op.Src[1])
        self.regSrc(&op.Src[0], ir.TypeI32)
        self.aluSrc(op, &op.Src[1], ir.TypeI32)
        if f, ok := op.CarryOut.File(); ok && f != ir.Carry {
            panic("legalize: iadd carry out must be a carry register")
        }
    case *ir.OpIMad:
        swapToReg(&op.Src[0], &op.Src[1])
        self.regSrc(&op.Src[0], ir.TypeALU)
        self.aluSrc(op, &op.Src[1], ir.TypeALU)
        self.regSrc(&op.Src[2], ir.TypeALU)
    case *ir.OpISetP:
        if swapToReg(&op.Src[0], &op.Src[1]) {
            op.Cmp = flipCmp(op.Cmp, ir.ICmpLt, ir.ICmpLe, ir.ICmpGt, ir.ICmpGe)
        }
        self.regSrc(&op.Src[0], ir.TypeALU)
        self.aluSrc(op, &op.Src[1], ir.TypeALU)
        predSrc(&op.Accum)
    case *ir.OpLop2:
        if op.Op != ir.LogicPassB {
            swapToReg(&op.Src[0], &op.Src[1])
        }
        self.regSrc(&op.Src[0], ir.TypeB32)
        self.aluSrc(op, &op.Src[1], ir.TypeB32)
    case *ir.OpPLop3:
        foldLutNots(&op.Lut, op.Src[:])
        for i := range op.Src {
            predSrc(&op.Src[i])
        }
    case *ir.OpSel:
        self.sel(op)
    case *ir.OpIAdd3, *ir.OpLop3, *ir.OpR2UR:
        panic(fmt.Sprintf("legalize: '%s' is not supported on sm%d", ins, self.hw.SM()))
    default:
        self.common(ins)
    }
}

// ffma50 handles the fused multiply-add, whose third slot takes a
// register or a constant buffer but never an immediate.
func (self *_Legalizer) ffma50(op *ir.OpFFma) {
    swapToReg(&op.Src[0], &op.Src[1])
    self.regSrc(&op.Src[0], ir.TypeF32)

    /* no immediate in the addend */
    if op.Src[2].IsImm() {
        self.regSrc(&op.Src[2], ir.TypeF32)
    }

    /* at most one of the other two */
    self.twoALU(op, &op.Src[1], &op.Src[2], ir.TypeF32)
}
