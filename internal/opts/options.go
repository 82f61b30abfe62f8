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

	"github.com/sirupsen/logrus"
)

type Options struct {
	Debug      DebugFlags
	Logger     logrus.FieldLogger
	SpillLimit int
}

// RegLimit returns the number of registers the spiller may keep live in a
// file, given what the hardware leaves for allocation.
func (self *Options) RegLimit(gpr bool, hw uint32) uint32 {
	switch {
	case !gpr:
		return hw
	case self.SpillLimit > 0 && uint32(self.SpillLimit) < hw:
		return uint32(self.SpillLimit)
	case self.Debug.Has(DebugSpill) && uint32(DefaultSpillLimit) < hw:
		return uint32(DefaultSpillLimit)
	default:
		return hw
	}
}

// NewLogger returns the logger used when none is configured: warnings only,
// or everything when the IR is printed.
func NewLogger(flags DebugFlags) logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)

	/* printing the IR goes through the debug level */
	if flags.Has(DebugPrint) {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func GetDefaultOptions() Options {
	return Options{
		Debug:      DefaultDebugFlags,
		Logger:     NewLogger(DefaultDebugFlags),
		SpillLimit: 0,
	}
}
