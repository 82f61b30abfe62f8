/*
 * Copyright 2022 CloudWeGo Authors
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

package debug

import (
	"github.com/cloudwego/gpura/ir"
	"github.com/davecgh/go-spew/spew"
)

// A Stats records statistics about a compiled shader.
type Stats struct {
	Code      CodeStats
	Resources ResourceStats
}

// A CodeStats counts what the back end added to the code.
type CodeStats struct {
	Instrs int
	Spills int
	Fills  int
	Copies int
	Nops   int
	Waits  int
}

// A ResourceStats records the hardware resources a shader needs.
type ResourceStats struct {
	GPRs     int
	Barriers int
	SlmSize  int
}

// GetStats returns statistics of a function compiled with the shader info.
func GetStats(fn *ir.Function, info *ir.ShaderInfo) Stats {
	var ret Stats
	fn.ForEachInstr(func(_ int, _ int, ins *ir.Instr) {
		ret.Code.Instrs++
		countOp(&ret.Code, ins.Op)

		/* every instruction waiting on at least one scoreboard */
		if ins.Deps.WaitMask != 0 {
			ret.Code.Waits++
		}
	})

	/* copy the resource usage */
	ret.Resources.GPRs = int(info.NumGPRs)
	ret.Resources.Barriers = int(info.NumBarriers)
	ret.Resources.SlmSize = int(info.SlmSize)
	return ret
}

func countOp(st *CodeStats, op ir.Op) {
	switch v := op.(type) {
	case *ir.OpSt:
		if v.Space == ir.MemLocal {
			st.Spills++
		}
	case *ir.OpLd:
		if v.Space == ir.MemLocal {
			st.Fills++
		}
	case *ir.OpSpill:
		st.Spills++
	case *ir.OpFill:
		st.Fills++
	case *ir.OpMov, *ir.OpBMov, *ir.OpCopy, *ir.OpSwap:
		st.Copies++
	case *ir.OpParCopy:
		st.Copies += len(v.Dst)
	case *ir.OpNop:
		st.Nops++
	}
}

// Dump formats the statistics for humans.
func (self Stats) Dump() string {
	cfg := spew.ConfigState{
		Indent:                  "    ",
		DisablePointerAddresses: true,
		DisableCapacities:       true,
		SortKeys:                true,
	}
	return cfg.Sdump(self)
}
