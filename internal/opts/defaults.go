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

package opts

import (
	"os"
	"strconv"
	"strings"
)

const (
	_DefaultSpillLimit = 16 // GPR budget when the spill flag is set
)

var (
	DefaultDebugFlags = parseDebugFlags("GPURA_DEBUG")
	DefaultSpillLimit = parseOrDefault("GPURA_SPILL_LIMIT", _DefaultSpillLimit, 4)
)

// DebugFlags are the process-wide debug switches.
type DebugFlags uint8

const (
	// DebugPrint logs the IR after every pass.
	DebugPrint DebugFlags = 1 << iota

	// DebugSerial replaces dependency scheduling with the serial fallback.
	DebugSerial

	// DebugSpill lowers the GPR budget to force spilling.
	DebugSpill

	// DebugVerify runs the consistency checks between passes.
	DebugVerify
)

var _DebugFlagNames = map[string]DebugFlags{
	"print":  DebugPrint,
	"serial": DebugSerial,
	"spill":  DebugSpill,
	"verify": DebugVerify,
}

func (self DebugFlags) Has(f DebugFlags) bool {
	return self&f != 0
}

func (self DebugFlags) String() string {
	var buf []string
	for _, k := range []string{"print", "serial", "spill", "verify"} {
		if self.Has(_DebugFlagNames[k]) {
			buf = append(buf, k)
		}
	}
	return strings.Join(buf, ",")
}

// ParseDebugFlags parses a comma separated flag list.
func ParseDebugFlags(val string) (DebugFlags, bool) {
	ret := DebugFlags(0)
	for _, v := range strings.Split(val, ",") {
		if v = strings.TrimSpace(v); v == "" {
			continue
		} else if f, ok := _DebugFlagNames[v]; !ok {
			return 0, false
		} else {
			ret |= f
		}
	}
	return ret, true
}

func parseDebugFlags(key string) DebugFlags {
	if ret, ok := ParseDebugFlags(os.Getenv(key)); !ok {
		panic("gpura: invalid value for " + key)
	} else {
		return ret
	}
}

func parseOrDefault(key string, def int, min int) int {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseUint(env, 0, 64); err != nil {
		panic("gpura: invalid value for " + key)
	} else if ret := int(val); ret < min {
		panic("gpura: value too small for " + key)
	} else {
		return ret
	}
}
