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

// Function is a shader function: its value allocators and its blocks in
// reverse post-order.
type Function struct {
    SSAAlloc SSAValueAllocator
    PhiAlloc PhiAllocator
    Blocks   *CFG[*BasicBlock]
}

// NewFunction builds a function out of blocks given in layout order. The
// first block is the entry.
func NewFunction(alloc SSAValueAllocator, phis PhiAllocator, blocks []*BasicBlock) *Function {
    fn := &Function{SSAAlloc: alloc, PhiAlloc: phis}
    fn.SetBlocks(blocks)
    return fn
}

// SetBlocks replaces the blocks of the function and derives the CFG from
// the branch targets and fall-through edges. Blocks unreachable from the
// entry are dropped, the others are laid out in reverse post-order and an
// explicit branch is appended wherever a fall-through edge got broken.
func (self *Function) SetBlocks(blocks []*BasicBlock) {
    var edges [][2]int
    labels := make(map[Label]int, len(blocks))

    /* index the labels */
    for i, bb := range blocks {
        if _, ok := labels[bb.Label]; ok {
            panic(fmt.Sprintf("ir: duplicated block label %s", bb.Label))
        }
        labels[bb.Label] = i
    }

    /* the fall-through edge comes first to keep it adjacent in the order */
    fall := make([]int, len(blocks))
    for i, bb := range blocks {
        fall[i] = -1
        seen := map[int]bool{}

        /* the next block in layout order */
        if bb.FallsThrough() {
            if i+1 >= len(blocks) {
                panic(fmt.Sprintf("ir: block %s falls off the end of the function", bb.Label))
            }
            fall[i] = i + 1
            seen[i+1] = true
            edges = append(edges, [2]int{i, i + 1})
        }

        /* the branch targets */
        for _, lb := range bb.Targets() {
            if t, ok := labels[lb]; !ok {
                panic(fmt.Sprintf("ir: branch to undefined label %s", lb))
            } else if !seen[t] {
                seen[t] = true
                edges = append(edges, [2]int{i, t})
            }
        }
    }

    /* build the graph */
    cfg, order := NewCFG(blocks, edges)
    self.Blocks = cfg

    /* restore broken fall-through edges */
    for i, old := range order {
        if f := fall[old]; f >= 0 && (i+1 >= len(order) || order[i+1] != f) {
            bb := cfg.At(i)
            bb.Instrs = append(bb.Instrs, NewInstr(&OpBra{Target: blocks[f].Label}))
        }
    }
}

// Rebuild recomputes the CFG after blocks have been added or branches
// changed.
func (self *Function) Rebuild(blocks []*BasicBlock) {
    self.SetBlocks(blocks)
}

// NextLabel returns a label not used by any block.
func (self *Function) NextLabel() Label {
    max := Label(0)
    for _, bb := range self.Blocks.Nodes() {
        if bb.Label >= max {
            max = bb.Label + 1
        }
    }
    return max
}

// BlockIndex returns the position of the block carrying label.
func (self *Function) BlockIndex(label Label) (int, bool) {
    for i := 0; i < self.Blocks.Len(); i++ {
        if self.Blocks.At(i).Label == label {
            return i, true
        }
    }
    return -1, false
}

// ForEachInstr calls fn for every instruction in block order.
func (self *Function) ForEachInstr(fn func(bi int, ip int, ins *Instr)) {
    for bi := 0; bi < self.Blocks.Len(); bi++ {
        for ip, ins := range self.Blocks.At(bi).Instrs {
            fn(bi, ip, ins)
        }
    }
}

// MapInstrs rewrites every block with BasicBlock.MapInstrs.
func (self *Function) MapInstrs(fn func(bi int, ip int, ins *Instr) []*Instr) {
    for bi := 0; bi < self.Blocks.Len(); bi++ {
        self.Blocks.At(bi).MapInstrs(func(ip int, ins *Instr) []*Instr {
            return fn(bi, ip, ins)
        })
    }
}

// NumInstrs counts the instructions of the function.
func (self *Function) NumInstrs() (n int) {
    for _, bb := range self.Blocks.Nodes() {
        n += len(bb.Instrs)
    }
    return
}

func (self *Function) String() string {
    var buf []string
    for i := 0; i < self.Blocks.Len(); i++ {
        var pred []string
        var succ []string

        /* edge annotations */
        for _, p := range self.Blocks.Pred(i) {
            pred = append(pred, self.Blocks.At(p).Label.String())
        }
        for _, s := range self.Blocks.Succ(i) {
            succ = append(succ, self.Blocks.At(s).Label.String())
        }

        /* the block itself */
        buf = append(buf, fmt.Sprintf("; preds: %s", strings.Join(pred, ", ")))
        buf = append(buf, self.Blocks.At(i).String())
        buf = append(buf, fmt.Sprintf("; succs: %s", strings.Join(succ, ", ")))
    }
    return strings.Join(buf, "\n")
}
