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

// LowerCopies turns copies, swaps, spills and fills between physical
// registers into machine instructions. Memory slots live in local memory
// right above what the shader itself uses.
type LowerCopies struct{}

const (
    _LutXor = ir.LutA ^ ir.LutB
)

type _CopyLowerer struct {
    ctx   *Context
    slots uint32
}

func (LowerCopies) Apply(ctx *Context) {
    cl := &_CopyLowerer{ctx: ctx}
    cl.slots = countRegs(ctx.Func, ir.Mem)

    /* lower every pseudo copy */
    ctx.Func.MapInstrs(func(_ int, _ int, ins *ir.Instr) []*ir.Instr {
        var ret []*ir.Instr
        switch op := ins.Op.(type) {
        case *ir.OpCopy:
            ret = cl.copy(op.Dst, op.Src)
        case *ir.OpSpill:
            ret = cl.copy(op.Dst, op.Src)
        case *ir.OpFill:
            ret = cl.copy(op.Dst, op.Src)
        case *ir.OpSwap:
            ret = cl.swap(op.Dst[0], op.Dst[1])
        default:
            return []*ir.Instr{ins}
        }

        /* the lowered code runs under the same predicate */
        for _, v := range ret {
            v.Pred = ins.Pred
        }
        return ret
    })

    /* spill slots grow the local memory */
    ctx.Info.SlmSize = ctx.Info.LocalSize + cl.slots*4
    if n := countRegs(ctx.Func, ir.GPR); n > ctx.Info.NumGPRs {
        ctx.Info.NumGPRs = n
    }

    /* statistics */
    ctx.Log("lower_copy").Debugf("%d spill slots, %d bytes of local memory", cl.slots, ctx.Info.SlmSize)
}

// countRegs returns one past the highest register of a file in use.
func countRegs(fn *ir.Function, file ir.RegFile) uint32 {
    n := uint32(0)
    bump := func(r ir.RegRef) {
        if r.File() == file && r.Base()+uint32(r.Comps()) > n {
            n = r.Base() + uint32(r.Comps())
        }
    }

    /* scan every operand */
    fn.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
        if ins.Pred.Kind == ir.PredReg {
            bump(ins.Pred.Reg)
        }
        for _, s := range ins.Op.Srcs() {
            if s.IsReg() {
                bump(s.Reg)
            }
        }
        for _, d := range ins.Op.Dsts() {
            if d.IsReg() {
                bump(d.Reg)
            }
        }
        if pc, ok := ins.Op.(*ir.OpParCopy); ok {
            for _, t := range pc.Tmps {
                bump(t)
            }
        }
    })
    return n
}

func (self *_CopyLowerer) offset(slot ir.RegRef) int32 {
    return int32(self.ctx.Info.LocalSize + slot.Base()*4)
}

func (self *_CopyLowerer) scratchGPR() ir.RegRef {
    return self.ctx.Target.ScratchGPR()
}

func (self *_CopyLowerer) copy(dst ir.Dst, src ir.Src) []*ir.Instr {
    if !dst.IsReg() {
        panic("lower_copy: destination " + dst.String() + " is not a register")
    } else if !src.Mod.IsNone() && !(src.Mod == ir.ModBNot && src.IsReg() && src.Reg.File().IsPredicate()) {
        panic("lower_copy: copy source " + src.String() + " has a modifier")
    }

    /* nothing to do */
    if src.IsReg() && src.Reg == dst.Reg && src.Mod.IsNone() {
        return nil
    }

    /* by destination file */
    switch d := dst.Reg; d.File() {
    case ir.GPR:
        return self.toGPR(d, src)
    case ir.UGPR:
        return self.toUGPR(d, src)
    case ir.Pred, ir.UPred:
        return self.toPred(d, src)
    case ir.Bar:
        return self.toBar(d, src)
    case ir.Mem:
        return self.toMem(d, src)
    default:
        panic(fmt.Sprintf("lower_copy: can not copy into %s", d))
    }
}

func srcFile(src ir.Src) (ir.RegFile, bool) {
    if src.IsReg() {
        return src.Reg.File(), true
    } else {
        return 0, false
    }
}

// predToInt selects 1 for a set predicate and 0 otherwise.
func predToInt(dst ir.RegRef, src ir.Src) *ir.Instr {
    return ir.NewInstr(&ir.OpSel{
        Dst:  ir.RegDst(dst),
        Cond: src.WithMod(ir.ModBNot),
        Src:  [2]ir.Src{ir.Zero(), ir.Imm(1)},
    })
}

// intToPred sets a predicate if the integer is not zero.
func intToPred(dst ir.RegRef, src ir.Src) *ir.Instr {
    return ir.NewInstr(&ir.OpISetP{
        Dst:   ir.RegDst(dst),
        Cmp:   ir.ICmpNe,
        Src:   [2]ir.Src{src, ir.Zero()},
        Accum: ir.True(),
    })
}

func movTo(dst ir.RegRef, src ir.Src) *ir.Instr {
    return ir.NewInstr(&ir.OpMov{Dst: ir.RegDst(dst), Src: src})
}

func (self *_CopyLowerer) load(dst ir.RegRef, slot ir.RegRef) *ir.Instr {
    return ir.NewInstr(&ir.OpLd{Dst: ir.RegDst(dst), Addr: ir.Zero(), Offset: self.offset(slot), Space: ir.MemLocal})
}

func (self *_CopyLowerer) store(slot ir.RegRef, data ir.Src) *ir.Instr {
    return ir.NewInstr(&ir.OpSt{Addr: ir.Zero(), Data: data, Offset: self.offset(slot), Space: ir.MemLocal})
}

func (self *_CopyLowerer) toGPR(d ir.RegRef, src ir.Src) []*ir.Instr {
    switch src.Kind {
    case ir.SrcTrue:
        return []*ir.Instr{movTo(d, ir.Imm(1))}
    case ir.SrcFalse:
        return []*ir.Instr{movTo(d, ir.Zero())}
    }

    /* registers by file */
    f, _ := srcFile(src)
    switch {
    case !src.IsReg() || f.IsGPR():
        return []*ir.Instr{movTo(d, src)}
    case f.IsPredicate():
        return []*ir.Instr{predToInt(d, src)}
    case f == ir.Bar:
        return []*ir.Instr{ir.NewInstr(&ir.OpBMov{Dst: ir.RegDst(d), Src: src})}
    case f == ir.Mem:
        return []*ir.Instr{self.load(d, src.Reg)}
    default:
        panic(fmt.Sprintf("lower_copy: can not copy %s into %s", src, d))
    }
}

func (self *_CopyLowerer) toUGPR(d ir.RegRef, src ir.Src) []*ir.Instr {
    switch f, _ := srcFile(src); {
    case !src.IsReg() || f == ir.UGPR:
        return []*ir.Instr{movTo(d, src)}
    case f == ir.GPR:
        return []*ir.Instr{ir.NewInstr(&ir.OpR2UR{Dst: ir.RegDst(d), Src: src})}
    case f == ir.UPred:
        return []*ir.Instr{predToInt(d, src)}
    default:
        panic(fmt.Sprintf("lower_copy: can not copy %s into %s", src, d))
    }
}

func (self *_CopyLowerer) toPred(d ir.RegRef, src ir.Src) []*ir.Instr {
    switch f, _ := srcFile(src); {
    case src.Kind == ir.SrcTrue || src.Kind == ir.SrcFalse || (src.IsReg() && f.IsPredicate()):
        lut := ir.LutA
        if src.Mod == ir.ModBNot {
            lut, src = ^lut, src.WithMod(ir.ModNone)
        }
        return []*ir.Instr{ir.NewInstr(&ir.OpPLop3{
            Dst: ir.RegDst(d),
            Lut: lut,
            Src: [3]ir.Src{src, ir.True(), ir.True()},
        })}
    case src.IsReg() && f.IsGPR():
        return []*ir.Instr{intToPred(d, src)}
    default:
        panic(fmt.Sprintf("lower_copy: can not copy %s into %s", src, d))
    }
}

func (self *_CopyLowerer) toBar(d ir.RegRef, src ir.Src) []*ir.Instr {
    switch f, _ := srcFile(src); {
    case src.IsReg() && f == ir.GPR:
        return []*ir.Instr{ir.NewInstr(&ir.OpBMov{Dst: ir.RegDst(d), Src: src})}
    case src.IsReg() && f == ir.Bar:
        tmp := self.scratchGPR()
        return []*ir.Instr{
            ir.NewInstr(&ir.OpBMov{Dst: ir.RegDst(tmp), Src: src}),
            ir.NewInstr(&ir.OpBMov{Dst: ir.RegDst(d), Src: ir.RegSrc(tmp)}),
        }
    default:
        panic(fmt.Sprintf("lower_copy: can not copy %s into %s", src, d))
    }
}

func (self *_CopyLowerer) toMem(d ir.RegRef, src ir.Src) []*ir.Instr {
    switch f, _ := srcFile(src); {
    case src.IsReg() && f == ir.GPR:
        return []*ir.Instr{self.store(d, src)}
    case src.IsReg() && f == ir.Mem:
        tmp := self.scratchGPR()
        return []*ir.Instr{self.load(tmp, src.Reg), self.store(d, ir.RegSrc(tmp))}
    case !src.IsReg():
        tmp := self.scratchGPR()
        return append(self.toGPR(tmp, src), self.store(d, ir.RegSrc(tmp)))
    default:
        panic(fmt.Sprintf("lower_copy: can not copy %s into %s", src, d))
    }
}

// swap exchanges two registers with three XORs.
func (self *_CopyLowerer) swap(a ir.Dst, b ir.Dst) []*ir.Instr {
    if !a.IsReg() || !b.IsReg() || a.Reg.File() != b.Reg.File() {
        panic("lower_copy: invalid swap of " + a.String() + " and " + b.String())
    }

    /* same register */
    x, y := a.Reg, b.Reg
    if x == y {
        return nil
    }

    /* x ^= y; y ^= x; x ^= y */
    return []*ir.Instr{
        self.xor(x, y),
        self.xor(y, x),
        self.xor(x, y),
    }
}

func (self *_CopyLowerer) xor(dst ir.RegRef, src ir.RegRef) *ir.Instr {
    a, b := ir.RegSrc(dst), ir.RegSrc(src)
    switch f := dst.File(); {
    case f.IsPredicate():
        return ir.NewInstr(&ir.OpPLop3{Dst: ir.RegDst(dst), Lut: _LutXor, Src: [3]ir.Src{a, b, ir.True()}})
    case f.IsGPR() && self.ctx.Target.IsNewISA():
        return ir.NewInstr(&ir.OpLop3{Dst: ir.RegDst(dst), Lut: _LutXor, Src: [3]ir.Src{a, b, ir.Zero()}})
    case f == ir.GPR:
        return ir.NewInstr(&ir.OpLop2{Dst: ir.RegDst(dst), Op: ir.LogicXor, Src: [2]ir.Src{a, b}})
    default:
        panic(fmt.Sprintf("lower_copy: %s registers can not be swapped", f))
    }
}
