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

    `github.com/cloudwego/gpura/internal/hw`
    `github.com/cloudwego/gpura/ir`
)

// Legalize rewrites the operands of every instruction into a form the
// target can encode: register-only slots get registers, immediates get
// their modifiers folded and get materialized when they do not fit, and
// vector sources get one contiguous grouping each.
type Legalize struct{}

const (
    _NegZeroF32 = 0x80000000
)

type _Legalizer struct {
    b     *ir.Builder
    hw    *hw.Target
    vecOf map[ir.SSAValue]ir.SSARef
}

func (Legalize) Apply(ctx *Context) {
    fn := ctx.Func
    lz := &_Legalizer{
        b:     ir.NewBuilder(&fn.SSAAlloc),
        hw:    ctx.Target,
        vecOf: make(map[ir.SSAValue]ir.SSARef),
    }

    /* legalize every instruction, the copies go right before it */
    fn.MapInstrs(func(_ int, _ int, ins *ir.Instr) []*ir.Instr {
        if lz.hw.IsNewISA() {
            lz.sm70(ins)
        } else {
            lz.sm50(ins)
        }

        /* then the vector sources */
        lz.vectors(ins)
        return append(lz.b.Instrs(), ins)
    })
}

func isReg(s *ir.Src) bool {
    switch s.Kind {
    case ir.SrcZero:
        return true
    case ir.SrcSSA:
        return s.SSA.File() == ir.GPR
    default:
        return false
    }
}

func isPred(s *ir.Src) bool {
    switch s.Kind {
    case ir.SrcTrue, ir.SrcFalse:
        return true
    case ir.SrcSSA:
        return s.SSA.File().IsPredicate()
    default:
        return false
    }
}

// swapToReg makes a the register operand of a commutative pair, if b is one.
func swapToReg(a *ir.Src, b *ir.Src) bool {
    if !isReg(a) && isReg(b) {
        *a, *b = *b, *a
        return true
    }
    return false
}

// materialize computes src, modifier included, into a fresh GPR.
func (self *_Legalizer) materialize(src ir.Src) ir.SSAValue {
    switch {
    case src.IsImm():
        return self.b.Copy(ir.GPR, ir.Imm(hw.FoldImm(src.Imm, src.Mod)))
    case src.Mod.IsNone():
        return self.b.Copy(ir.GPR, src)
    case src.Mod.IsFloat():
        if !isReg(&src) {
            src = ir.SSASrc(self.b.Copy(ir.GPR, src.WithMod(ir.ModNone))).WithMod(src.Mod)
        }
        return self.b.FAdd(src, ir.Imm(_NegZeroF32))
    case src.Mod == ir.ModINeg:
        return self.b.IAdd(self.hw.SM(), ir.Zero(), src)
    case src.Mod == ir.ModBNot && self.hw.IsNewISA():
        return self.b.Lop3(^ir.LutB, ir.Zero(), src.WithMod(ir.ModNone), ir.Zero())
    case src.Mod == ir.ModBNot:
        return self.b.Lop2(ir.LogicPassB, ir.Zero(), src)
    default:
        panic("legalize: unknown source modifier " + src.Mod.String())
    }
}

// regSrc makes a slot that only reads registers hold a GPR.
func (self *_Legalizer) regSrc(src *ir.Src, typ ir.SrcType) {
    if isReg(src) && typ.SupportsMod(src.Mod) {
        return
    }

    /* vectors are copied component-wise */
    if src.IsSSA() && src.SSA.Comps() > 1 && src.Mod.IsNone() {
        vals := make([]ir.SSAValue, src.SSA.Comps())
        for i := range vals {
            vals[i] = self.b.Copy(ir.GPR, ir.SSASrc(src.SSA.At(i)))
        }
        *src = ir.SSASrc(vals...)
        return
    }

    /* a 64-bit immediate is the high word of the value */
    if typ == ir.TypeF64 && !src.IsSSA() {
        lo := self.b.Copy(ir.GPR, ir.Zero())
        hi := self.materialize(*src)
        *src = ir.SSASrc(lo, hi)
        return
    }

    /* keep modifiers the slot can carry */
    if mod := src.Mod; typ.SupportsMod(mod) && !src.IsImm() {
        *src = ir.SSASrc(self.materialize(src.WithMod(ir.ModNone))).WithMod(mod)
    } else {
        *src = ir.SSASrc(self.materialize(*src))
    }
}

// aluSrc makes a slot that can also read immediates and constant buffers
// encodable: immediates get their modifier folded and must fit, other
// modifiers must be supported by the slot.
func (self *_Legalizer) aluSrc(op ir.Op, src *ir.Src, typ ir.SrcType) {
    switch src.Kind {
    case ir.SrcImm32:
        v := hw.FoldImm(src.Imm, src.Mod)
        if *src = ir.Imm(v); !self.hw.ImmFits(op, typ, v) {
            self.regSrc(src, typ)
        }
    case ir.SrcSSA:
        if src.SSA.File() != ir.GPR && src.SSA.File() != ir.UGPR {
            panic(fmt.Sprintf("legalize: %s can not be read by an ALU slot", src))
        }
        if !typ.SupportsMod(src.Mod) {
            self.regSrc(src, typ)
        }
    default:
        if !typ.SupportsMod(src.Mod) {
            self.regSrc(src, typ)
        }
    }
}

// twoALU handles two slots of which at most one may be a non-register.
func (self *_Legalizer) twoALU(op ir.Op, a *ir.Src, b *ir.Src, typ ir.SrcType) {
    if !isReg(a) && !isReg(b) {
        self.regSrc(b, typ)
    }
    self.aluSrc(op, a, typ)
    self.aluSrc(op, b, typ)
}

func predSrc(src *ir.Src) {
    if !isPred(src) {
        panic(fmt.Sprintf("legalize: %s is not a predicate", src))
    }
}

// common legalizes the ops shared by both families.
func (self *_Legalizer) common(ins *ir.Instr) {
    switch op := ins.Op.(type) {
    case *ir.OpLd:
        self.regSrc(&op.Addr, ir.TypeGPR)
    case *ir.OpSt:
        self.regSrc(&op.Addr, ir.TypeGPR)
        self.regSrc(&op.Data, ir.TypeGPR)
    case *ir.OpRegOut:
        for i := range op.Src {
            self.regSrc(&op.Src[i], ir.TypeGPR)
        }
    case *ir.OpShf:
        self.regSrc(&op.Low, ir.TypeGPR)
        self.regSrc(&op.High, ir.TypeGPR)
        self.aluSrc(op, &op.Shift, ir.TypeALU)
    case *ir.OpShl:
        self.regSrc(&op.Src, ir.TypeGPR)
        self.aluSrc(op, &op.Shift, ir.TypeALU)
    case *ir.OpShr:
        self.regSrc(&op.Src, ir.TypeGPR)
        self.aluSrc(op, &op.Shift, ir.TypeALU)
    case *ir.OpMuFu:
        self.regSrc(&op.Src, ir.TypeF32)
    case *ir.OpCopy:
        if !op.Src.Mod.IsNone() {
            op.Src = ir.SSASrc(self.materialize(op.Src))
        }
    case *ir.OpPhiSrcs:
        for i := range op.Src {
            self.phiSrc(&op.Src[i])
        }
    case *ir.OpMov:
        self.mov(ins, op)
    default:
        checkSrcTypes(ins)
    }
}

// phiSrc makes a phi source a plain SSA value.
func (self *_Legalizer) phiSrc(src *ir.Src) {
    switch {
    case src.IsSSA() && src.Mod.IsNone():
        return
    case src.Kind == ir.SrcTrue || src.Kind == ir.SrcFalse:
        *src = ir.SSASrc(self.b.Copy(ir.Pred, *src))
    case src.IsSSA() && src.SSA.File().IsPredicate():
        *src = ir.SSASrc(self.b.Copy(src.SSA.File(), *src))
    default:
        *src = ir.SSASrc(self.materialize(*src))
    }
}

// mov turns a move with a modifier into the arithmetic op computing it.
func (self *_Legalizer) mov(ins *ir.Instr, op *ir.OpMov) {
    switch {
    case op.Src.IsImm():
        op.Src = ir.Imm(hw.FoldImm(op.Src.Imm, op.Src.Mod))
    case op.Src.Mod.IsNone():
        return
    case op.Src.Mod.IsFloat():
        ins.Op = &ir.OpFAdd{Dst: op.Dst, Src: [2]ir.Src{op.Src, ir.Imm(_NegZeroF32)}}
        self.regSrc(&ins.Op.(*ir.OpFAdd).Src[0], ir.TypeF32)
    default:
        v := self.materialize(op.Src)
        op.Src = ir.SSASrc(v)
    }
}

// checkSrcTypes asserts that every source already satisfies the type its
// slot declares.
func checkSrcTypes(ins *ir.Instr) {
    srcs := ins.Op.Srcs()
    for i, typ := range ins.Op.SrcTypes() {
        if !srcFitsType(srcs[i], typ) {
            panic(fmt.Sprintf("legalize: source %d of '%s' is not a valid %s operand", i, ins, typ))
        }
    }
}

func srcFitsType(src *ir.Src, typ ir.SrcType) bool {
    if !typ.SupportsMod(src.Mod) && typ != ir.TypeAny {
        return false
    }

    /* check the slot type */
    switch typ {
    case ir.TypeAny:
        return true
    case ir.TypeSSA:
        return src.IsSSA()
    case ir.TypeGPR:
        return isReg(src)
    case ir.TypePred:
        return isPred(src)
    case ir.TypeBar:
        return src.IsSSA() && src.SSA.File() == ir.Bar
    case ir.TypeCarry:
        return src.IsSSA() && src.SSA.File() == ir.Carry
    default:
        return src.Kind != ir.SrcTrue && src.Kind != ir.SrcFalse && (!src.IsSSA() || src.SSA.File().IsGPR())
    }
}

// vectors gives every vector source a grouping of its own: a component
// read twice by one source, or already grouped with other components, is
// copied first.
func (self *_Legalizer) vectors(ins *ir.Instr) {
    for _, src := range ins.Op.Srcs() {
        if !src.IsSSA() || src.SSA.Comps() == 1 {
            continue
        }

        /* check whether the grouping is unambiguous */
        ok := true
        seen := make(map[ir.SSAValue]bool)
        for _, v := range src.SSA.Values() {
            if seen[v] {
                ok = false
            }
            if g, has := self.vecOf[v]; has && g != src.SSA {
                ok = false
            }
            seen[v] = true
        }

        /* copy the components if not */
        if !ok {
            file := src.SSA.File()
            vals := make([]ir.SSAValue, src.SSA.Comps())
            for i, v := range src.SSA.Values() {
                vals[i] = self.b.Copy(file, ir.SSASrc(v))
            }
            src.SSA = ir.NewSSARef(vals...)
        }

        /* claim the grouping */
        for _, v := range src.SSA.Values() {
            self.vecOf[v] = src.SSA
        }
    }

    /* vector destinations define their own grouping */
    for _, dst := range ins.Op.Dsts() {
        if dst.IsSSA() && dst.SSA.Comps() > 1 {
            for _, v := range dst.SSA.Values() {
                self.vecOf[v] = dst.SSA
            }
        }
    }
}

// flipCmp returns the comparison with its operands exchanged.
func flipCmp[T ir.FloatCmp | ir.IntCmp](c T, lt T, le T, gt T, ge T) T {
    switch c {
    case lt:
        return gt
    case le:
        return ge
    case gt:
        return lt
    case ge:
        return le
    default:
        return c
    }
}

// lutIndexBit returns the bit of a lookup-table index selected by source i.
func lutIndexBit(i int) uint {
    return uint(2 - i)
}

// lutInvert returns the table computing the same function with source i
// inverted.
func lutInvert(lut uint8, i int) (ret uint8) {
    m := 1 << lutIndexBit(i)
    for k := 0; k < 8; k++ {
        ret |= (lut >> (k ^ m) & 1) << k
    }
    return
}

// lutSwap returns the table computing the same function with sources i and
// j exchanged.
func lutSwap(lut uint8, i int, j int) (ret uint8) {
    bi, bj := lutIndexBit(i), lutIndexBit(j)
    for k := 0; k < 8; k++ {
        x, y := (k>>bi)&1, (k>>bj)&1
        k2 := k&^(1<<bi|1<<bj) | x<<bj | y<<bi
        ret |= (lut >> k2 & 1) << k
    }
    return
}

// foldLutNots moves source inversions into the table.
func foldLutNots(lut *uint8, srcs []ir.Src) {
    for i := range srcs {
        if srcs[i].Mod == ir.ModBNot {
            *lut = lutInvert(*lut, i)
            srcs[i].Mod = ir.ModNone
        }
    }
}
