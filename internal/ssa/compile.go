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
    `time`

    `github.com/cloudwego/gpura/internal/hw`
    `github.com/cloudwego/gpura/internal/opts`
    `github.com/cloudwego/gpura/ir`
    `github.com/sirupsen/logrus`
)

// Context is everything a pass may look at. One Context is used for one
// function only.
type Context struct {
    Func   *ir.Function
    Info   *ir.ShaderInfo
    Target *hw.Target
    Opts   *opts.Options
}

// NewContext creates a pass context with default options if o is nil.
func NewContext(fn *ir.Function, info *ir.ShaderInfo, target *hw.Target, o *opts.Options) *Context {
    if o == nil {
        v := opts.GetDefaultOptions()
        o = &v
    }
    if o.Logger == nil {
        o.Logger = opts.NewLogger(o.Debug)
    }
    return &Context{
        Func:   fn,
        Info:   info,
        Target: target,
        Opts:   o,
    }
}

// Log returns the logger of a pass.
func (self *Context) Log(pass string) logrus.FieldLogger {
    return self.Opts.Logger.WithField("pass", pass)
}

type Pass interface {
    Apply(*Context)
}

type PassDescriptor struct {
    Pass Pass
    Name string
}

var Passes = [...]PassDescriptor{
    {Name: "Critical Edge Splitting", Pass: new(SplitCritical)},
    {Name: "Legalization", Pass: new(Legalize)},
    {Name: "Conventional SSA", Pass: new(ToCSSA)},
    {Name: "Spilling", Pass: new(SpillAll)},
    {Name: "Register Allocation", Pass: new(RegAlloc)},
    {Name: "Parallel Copy Lowering", Pass: new(LowerParCopies)},
    {Name: "Copy Lowering", Pass: new(LowerCopies)},
    {Name: "Dependency Scheduling", Pass: new(DepSched)},
}

// Compile runs every pass over the function in order.
func Compile(ctx *Context) {
    log := ctx.Opts.Logger.WithField("sm", ctx.Target.SM())
    for _, p := range Passes {
        check := func() {}
        start := time.Now()

        /* consistency checks need a look before the pass */
        if ctx.Opts.Debug.Has(opts.DebugVerify) {
            check = verifyBefore(ctx, p.Pass)
        }

        /* run the pass */
        p.Pass.Apply(ctx)

        /* pass statistics */
        log.WithFields(logrus.Fields{
            "pass":   p.Name,
            "instrs": ctx.Func.NumInstrs(),
            "blocks": ctx.Func.Blocks.Len(),
            "time":   time.Since(start),
        }).Debug("pass done")

        /* dump the IR if requested */
        if ctx.Opts.Debug.Has(opts.DebugPrint) {
            log.WithField("pass", p.Name).Debugf("IR after pass:\n%s", ctx.Func)
        }

        /* and after */
        check()
    }
}
