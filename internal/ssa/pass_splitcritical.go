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

type _CrEdge struct {
    from int
    to   int
}

// SplitCritical splits critical edges (those that go from a block with
// more than one outedge to a block with more than one inedge) by inserting
// an empty block.
//
// Edge copies inserted by CSSA, spilling and register allocation need a
// block that runs on that edge only.
type SplitCritical struct{}

func (SplitCritical) Apply(ctx *Context) {
    var edges []_CrEdge
    fn := ctx.Func
    cfg := fn.Blocks

    /* find all critical edges */
    for i := 0; i < cfg.Len(); i++ {
        if len(cfg.Pred(i)) > 1 {
            for _, p := range cfg.Pred(i) {
                if len(cfg.Succ(p)) > 1 {
                    edges = append(edges, _CrEdge{from: p, to: i})
                }
            }
        }
    }

    /* nothing to do */
    if len(edges) == 0 {
        return
    }

    /* new blocks go right after a fall-through source, or at the end */
    next := fn.NextLabel()
    after := make(map[int][]*ir.BasicBlock)
    var tail []*ir.BasicBlock

    /* insert empty block between the edges */
    for _, e := range edges {
        src := cfg.At(e.from)
        dst := cfg.At(e.to)
        bb := ir.NewBasicBlock(next, ir.NewInstr(&ir.OpBra{Target: dst.Label}))
        bb.Uniform = src.Uniform
        next++

        /* redirect the branch, or place the block on the fall-through path */
        if moveBranch(src, dst.Label, bb.Label) {
            tail = append(tail, bb)
        } else if src.FallsThrough() && e.to == e.from+1 {
            after[e.from] = append(after[e.from], bb)
        } else {
            panic("splitcritical: edge without a branch or fall-through")
        }

        /* the phi sources of the target now live in the new block */
        movePhiSrcs(src, dst, bb)
    }

    /* rebuild the CFG */
    var blocks []*ir.BasicBlock
    for i := 0; i < cfg.Len(); i++ {
        blocks = append(blocks, cfg.At(i))
        blocks = append(blocks, after[i]...)
    }
    fn.Rebuild(append(blocks, tail...))
    ctx.Log("splitcritical").WithField("edges", len(edges)).Debug("split critical edges")
}

func moveBranch(bb *ir.BasicBlock, from ir.Label, to ir.Label) bool {
    for _, ins := range bb.Instrs[bb.BranchIP():] {
        if br, ok := ins.Op.(*ir.OpBra); ok && br.Target == from {
            br.Target = to
            return true
        }
    }
    return false
}

func movePhiSrcs(src *ir.BasicBlock, dst *ir.BasicBlock, bb *ir.BasicBlock) {
    ip := src.PhiSrcsIP()
    if ip < 0 {
        return
    }

    /* the phi channels read by the target */
    pd, ok := dst.PhiDsts()
    if !ok {
        return
    }

    /* split the sources */
    ps := src.Instrs[ip].Op.(*ir.OpPhiSrcs)
    moved := new(ir.OpPhiSrcs)
    kept := new(ir.OpPhiSrcs)
    for i, id := range ps.Ids {
        if _, ok := pd.Lookup(id); ok {
            moved.Push(id, ps.Src[i])
        } else {
            kept.Push(id, ps.Src[i])
        }
    }

    /* drop the original op if nothing is left in it */
    if *ps = *kept; len(kept.Ids) == 0 {
        src.Instrs = append(src.Instrs[:ip], src.Instrs[ip+1:]...)
    }
    if len(moved.Ids) != 0 {
        bb.Insert(0, ir.NewInstr(moved))
    }
}
