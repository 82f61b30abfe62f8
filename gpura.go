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

// Package gpura is the register allocation and scheduling back end of a GPU
// shader compiler. It takes a function in SSA form and turns it into code
// using physical registers only, with the scoreboards and issue delays
// filled in.
package gpura

import (
	"github.com/cloudwego/gpura/internal/hw"
	"github.com/cloudwego/gpura/internal/opts"
	"github.com/cloudwego/gpura/internal/ssa"
	"github.com/cloudwego/gpura/ir"
)

// Compile lowers fn in place for the SM version in info and records the
// resources it ended up using in info.
//
// An unsupported SM version is fatal: Compile panics with a *ConfigError.
// Use CheckTarget to find out beforehand.
func Compile(fn *ir.Function, info *ir.ShaderInfo, options ...Option) {
	target, err := hw.ForSM(info.SM)
	if err != nil {
		panic(&ConfigError{SM: info.SM, Err: err})
	}

	/* apply the options */
	o := opts.Options{Debug: opts.DefaultDebugFlags}
	for _, opt := range options {
		opt(&o)
	}

	/* run the passes */
	ssa.Compile(ssa.NewContext(fn, info, target, &o))
}

// CheckTarget reports whether shaders can be compiled for an SM version.
func CheckTarget(sm uint8) error {
	if _, err := hw.ForSM(sm); err != nil {
		return &ConfigError{SM: sm, Err: err}
	} else {
		return nil
	}
}
