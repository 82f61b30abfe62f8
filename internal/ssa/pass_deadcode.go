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
    `github.com/cloudwego/gpura/ir`
)

// DCE removes instructions, parallel copy pairs and phi channels whose
// results are never read.
type DCE struct{}

func (DCE) Apply(ctx *Context) {
    EliminateDeadCode(ctx.Func)
}

func isUnused(dst *ir.Dst, used map[ir.SSAValue]bool) bool {
    if !dst.IsSSA() {
        return dst.IsNone()
    }
    for _, v := range dst.SSA.Values() {
        if used[v] {
            return false
        }
    }
    return true
}

func isDeadInstr(ins *ir.Instr, used map[ir.SSAValue]bool) bool {
    dsts := ins.Op.Dsts()
    if len(dsts) == 0 || ir.HasSideEffects(ins.Op) {
        return false
    }
    for _, d := range dsts {
        if !isUnused(d, used) {
            return false
        }
    }
    return true
}

// EliminateDeadCode runs until no more code can be removed.
func EliminateDeadCode(fn *ir.Function) {
    for {
        done := true
        dead := make(map[uint32]bool)
        used := make(map[ir.SSAValue]bool)

        /* Phase 1: Find all value usages */
        fn.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
            for _, v := range ins.SSAUses() {
                used[v] = true
            }
        })

        /* Phase 2: Find the phi channels nobody reads */
        fn.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
            if pd, ok := ins.Op.(*ir.OpPhiDsts); ok {
                for i := range pd.Dst {
                    if isUnused(&pd.Dst[i], used) {
                        dead[pd.Ids[i]] = true
                    }
                }
            }
        })

        /* Phase 3: Remove all dead definitions */
        fn.MapInstrs(func(_ int, _ int, ins *ir.Instr) []*ir.Instr {
            switch op := ins.Op.(type) {
            case *ir.OpPhiDsts:
                if removePhiDsts(op, dead) == 0 {
                    return nil
                }
            case *ir.OpPhiSrcs:
                if removePhiSrcs(op, dead) == 0 {
                    return nil
                }
            case *ir.OpParCopy:
                if n := op.Len(); removeDeadPairs(op, used) != n {
                    done = false
                }
                if op.Len() == 0 {
                    return nil
                }
            default:
                if isDeadInstr(ins, used) {
                    done = false
                    return nil
                }
            }
            return []*ir.Instr{ins}
        })

        /* no more modifications */
        if done && len(dead) == 0 {
            break
        }
    }
}

func removePhiDsts(op *ir.OpPhiDsts, dead map[uint32]bool) int {
    ids, dst := op.Ids[:0], op.Dst[:0]
    for i, id := range op.Ids {
        if !dead[id] {
            ids = append(ids, id)
            dst = append(dst, op.Dst[i])
        }
    }
    op.Ids, op.Dst = ids, dst
    return len(ids)
}

func removePhiSrcs(op *ir.OpPhiSrcs, dead map[uint32]bool) int {
    ids, src := op.Ids[:0], op.Src[:0]
    for i, id := range op.Ids {
        if !dead[id] {
            ids = append(ids, id)
            src = append(src, op.Src[i])
        }
    }
    op.Ids, op.Src = ids, src
    return len(ids)
}

func removeDeadPairs(op *ir.OpParCopy, used map[ir.SSAValue]bool) int {
    dst, src := op.Dst[:0], op.Src[:0]
    for i := range op.Dst {
        if !op.Dst[i].IsSSA() || !isUnused(&op.Dst[i], used) {
            dst = append(dst, op.Dst[i])
            src = append(src, op.Src[i])
        }
    }
    op.Dst, op.Src = dst, src
    return len(dst)
}
