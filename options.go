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

package gpura

import (
	"fmt"

	"github.com/cloudwego/gpura/internal/opts"
	"github.com/sirupsen/logrus"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

const (
	_MinSpillLimit = 4
)

// WithDebug enables debug flags by name: "print", "serial", "spill" and
// "verify". They are added to the ones read from the `GPURA_DEBUG`
// environment variable.
func WithDebug(flags ...string) Option {
	var ret opts.DebugFlags
	for _, f := range flags {
		if v, ok := opts.ParseDebugFlags(f); !ok {
			panic(fmt.Sprintf("gpura: invalid debug flag: %q", f))
		} else {
			ret |= v
		}
	}
	return func(o *opts.Options) { o.Debug |= ret }
}

// WithLogger sets the logger the passes report to. By default warnings go
// to stderr, and everything does when the "print" flag is set.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *opts.Options) { o.Logger = log }
}

// WithSerialSchedule replaces dependency scheduling with the fully
// serialized fallback, where every instruction waits for everything before
// it.
func WithSerialSchedule(v bool) Option {
	return func(o *opts.Options) {
		if v {
			o.Debug |= opts.DebugSerial
		} else {
			o.Debug &^= opts.DebugSerial
		}
	}
}

// WithSpillLimit caps the number of GPRs live at once below what the
// hardware provides, trading local memory traffic for occupancy.
//
// The default value "0" means no cap.
func WithSpillLimit(n int) Option {
	if n != 0 && n < _MinSpillLimit {
		panic(fmt.Sprintf("gpura: invalid spill limit: %d", n))
	} else {
		return func(o *opts.Options) { o.SpillLimit = n }
	}
}

// WithVerify runs the consistency checks between passes. A failed check
// panics.
func WithVerify(v bool) Option {
	return func(o *opts.Options) {
		if v {
			o.Debug |= opts.DebugVerify
		} else {
			o.Debug &^= opts.DebugVerify
		}
	}
}
