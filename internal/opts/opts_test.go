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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDebugFlags(t *testing.T) {
	f, ok := ParseDebugFlags("print, spill")
	require.True(t, ok)
	assert.True(t, f.Has(DebugPrint))
	assert.True(t, f.Has(DebugSpill))
	assert.False(t, f.Has(DebugSerial))
	assert.Equal(t, "print,spill", f.String())

	f, ok = ParseDebugFlags("")
	require.True(t, ok)
	assert.Equal(t, DebugFlags(0), f)

	_, ok = ParseDebugFlags("print,bogus")
	assert.False(t, ok)
}

func TestParseOrDefault(t *testing.T) {
	t.Setenv("GPURA_TEST_LIMIT", "")
	assert.Equal(t, 7, parseOrDefault("GPURA_TEST_LIMIT", 7, 1))
	t.Setenv("GPURA_TEST_LIMIT", "0x20")
	assert.Equal(t, 32, parseOrDefault("GPURA_TEST_LIMIT", 7, 1))
	t.Setenv("GPURA_TEST_LIMIT", "2")
	assert.Panics(t, func() { parseOrDefault("GPURA_TEST_LIMIT", 7, 4) })
	t.Setenv("GPURA_TEST_LIMIT", "x")
	assert.Panics(t, func() { parseOrDefault("GPURA_TEST_LIMIT", 7, 4) })
}

func TestOptions_RegLimit(t *testing.T) {
	o := Options{}
	assert.Equal(t, uint32(254), o.RegLimit(true, 254))
	assert.Equal(t, uint32(7), o.RegLimit(false, 7))

	o.Debug = DebugSpill
	assert.Equal(t, uint32(DefaultSpillLimit), o.RegLimit(true, 254))
	assert.Equal(t, uint32(7), o.RegLimit(false, 7))

	o.SpillLimit = 8
	assert.Equal(t, uint32(8), o.RegLimit(true, 254))
	assert.Equal(t, uint32(4), o.RegLimit(true, 4))
}
