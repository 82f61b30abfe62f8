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
    `github.com/oleiade/lane`
)

// LowerParCopies turns every parallel copy into a sequence of copies and
// swaps that has the same effect.
type LowerParCopies struct{}

func (LowerParCopies) Apply(ctx *Context) {
    ctx.Func.MapInstrs(func(_ int, _ int, ins *ir.Instr) []*ir.Instr {
        if pc, ok := ins.Op.(*ir.OpParCopy); ok {
            return LowerParCopy(ctx.Target, pc)
        } else {
            return []*ir.Instr{ins}
        }
    })
}

type _CopyPair struct {
    dst ir.RegRef
    src ir.Src
}

// LowerParCopy sequences a parallel copy between physical registers. Pairs
// are emitted as soon as nothing reads their destination anymore; what is
// left are cycles, resolved with swaps or through the scratch register.
func LowerParCopy(target *hw.Target, pc *ir.OpParCopy) []*ir.Instr {
    var ret []*ir.Instr
    var imms []_CopyPair
    var pairs []_CopyPair

    /* split into scalar register pairs */
    for i := range pc.Dst {
        dst, src := pc.Dst[i], pc.Src[i]
        if !dst.IsReg() {
            panic("parcopy: destination " + dst.String() + " is not a register")
        }

        /* constants can be written after everything else */
        if !src.IsReg() {
            if src.IsSSA() {
                panic("parcopy: source " + src.String() + " is not a register")
            }
            imms = append(imms, _CopyPair{dst: dst.Reg, src: src})
            continue
        }

        /* one pair per component, identities are dropped */
        for c := 0; c < dst.Reg.Comps(); c++ {
            d, s := dst.Reg.Comp(c), src.Reg.Comp(c)
            if d != s {
                pairs = append(pairs, _CopyPair{dst: d, src: ir.RegSrc(s)})
            }
        }
    }

    /* registers read by pending pairs */
    reads := make(map[ir.RegRef]int)
    srcOf := make(map[ir.RegRef]int)
    for i, p := range pairs {
        if _, dup := srcOf[p.dst]; dup {
            panic("parcopy: register " + p.dst.String() + " is written twice")
        }
        srcOf[p.dst] = i
        reads[p.src.Reg]++
    }

    /* destinations nobody reads are ready */
    done := make([]bool, len(pairs))
    ready := lane.NewQueue()
    for i, p := range pairs {
        if reads[p.dst] == 0 {
            ready.Enqueue(i)
        }
    }

    /* emit the trees */
    for !ready.Empty() {
        i := ready.Dequeue().(int)
        p := pairs[i]
        done[i] = true
        ret = append(ret, newCopy(p.dst, p.src))

        /* the source may be free to overwrite now */
        if reads[p.src.Reg]--; reads[p.src.Reg] == 0 {
            if j, ok := srcOf[p.src.Reg]; ok && !done[j] {
                ready.Enqueue(j)
            }
        }
    }

    /* what is left are disjoint cycles */
    for i := range pairs {
        if !done[i] {
            ret = append(ret, lowerCycle(target, pc, pairs, srcOf, done, i)...)
        }
    }

    /* constants last */
    for _, p := range imms {
        ret = append(ret, newCopy(p.dst, p.src))
    }
    return ret
}

func newCopy(dst ir.RegRef, src ir.Src) *ir.Instr {
    return ir.NewInstr(&ir.OpCopy{Dst: ir.RegDst(dst), Src: src})
}

func newSwap(a ir.RegRef, b ir.RegRef) *ir.Instr {
    return ir.NewInstr(&ir.OpSwap{
        Dst: [2]ir.Dst{ir.RegDst(a), ir.RegDst(b)},
        Src: [2]ir.Src{ir.RegSrc(b), ir.RegSrc(a)},
    })
}

// lowerCycle resolves the cycle containing pair i. A cycle of k registers
// takes k-1 swaps, or k+1 copies through the scratch register.
func lowerCycle(target *hw.Target, pc *ir.OpParCopy, pairs []_CopyPair, srcOf map[ir.RegRef]int, done []bool, i int) []*ir.Instr {
    var ret []*ir.Instr
    var regs []ir.RegRef

    /* walk the cycle: regs[k] receives regs[k+1] */
    for j := i; !done[j]; {
        done[j] = true
        regs = append(regs, pairs[j].dst)
        if next, ok := srcOf[pairs[j].src.Reg]; !ok {
            panic("parcopy: broken copy cycle at " + pairs[j].dst.String())
        } else {
            j = next
        }
    }

    /* swaps if the file has them and no scratch register was given */
    file := regs[0].File()
    tmp, ok := pc.Tmp(file)
    if !ok && target.HasSwap(file) {
        for k := 0; k+1 < len(regs); k++ {
            ret = append(ret, newSwap(regs[k], regs[k+1]))
        }
        return ret
    }

    /* otherwise go through the scratch register */
    if !ok {
        panic(fmt.Sprintf("parcopy: %s cycle without swap or scratch register", file))
    }

    /* save the first, shift, restore into the last */
    ret = append(ret, newCopy(tmp, ir.RegSrc(regs[0])))
    for k := 0; k+1 < len(regs); k++ {
        ret = append(ret, newCopy(regs[k], ir.RegSrc(regs[k+1])))
    }
    ret = append(ret, newCopy(regs[len(regs)-1], ir.RegSrc(tmp)))
    return ret
}
