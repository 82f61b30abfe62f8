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
    `github.com/cloudwego/gpura/ir`
)

// IsFixedLatency reports whether the result of op is ready after a fixed
// number of cycles. Other ops signal a scoreboard when they complete.
func (self *Target) IsFixedLatency(op ir.Op) bool {
    switch op.(type) {
    case *ir.OpLd, *ir.OpSt, *ir.OpMuFu, *ir.OpBMov, *ir.OpBar:
        return false
    case *ir.OpDAdd:
        return self.IsNewISA()
    default:
        return true
    }
}

// ReadsLate reports whether a variable latency op reads its sources after
// issue, so overwriting them must wait for its read scoreboard.
func (self *Target) ReadsLate(op ir.Op) bool {
    switch op.(type) {
    case *ir.OpSt, *ir.OpLd, *ir.OpBMov:
        return true
    default:
        return false
    }
}

// DstLatency returns the cycles between issuing a fixed latency op and the
// first op able to read its destination.
func (self *Target) DstLatency(op ir.Op) uint8 {
    if !self.IsFixedLatency(op) {
        panic("hw: variable latency op has no fixed destination latency")
    }

    /* the newer family forwards most ALU results in fewer cycles */
    switch op.(type) {
    case *ir.OpDAdd:
        return 8
    case *ir.OpFSetP, *ir.OpISetP, *ir.OpPLop3:
        if self.IsNewISA() {
            return 5
        } else {
            return 13
        }
    default:
        if self.IsNewISA() {
            return 5
        } else {
            return 6
        }
    }
}

// ExecLatency returns the number of issue slots op occupies.
func (self *Target) ExecLatency(op ir.Op) uint8 {
    switch op.(type) {
    case *ir.OpDAdd:
        return 2
    case *ir.OpIMad:
        if self.IsNewISA() {
            return 1
        } else {
            return 2
        }
    default:
        return 1
    }
}
