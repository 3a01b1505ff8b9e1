/*
 * Copyright © 2026 Fabric Testbed Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package confutil holds small generic helpers for working with the
// pointer-typed, defaultable fields used throughout internal/config.
package confutil

import (
	"time"

	"github.com/fabric-testbed/control-core/internal/msgs"
)

// P returns a pointer to its argument, for building *T default literals
// inline in ConfigDefaults vars.
func P[T any](v T) *T {
	return &v
}

// String returns *s if set, otherwise def.
func String(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

// Int returns *i if set, otherwise def.
func Int(i *int, def int) int {
	if i == nil {
		return def
	}
	return *i
}

// Int64 returns *i if set, otherwise def.
func Int64(i *int64, def int64) int64 {
	if i == nil {
		return def
	}
	return *i
}

// Bool returns *b if set, otherwise def.
func Bool(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Float64 returns *f if set, otherwise def.
func Float64(f *float64, def float64) float64 {
	if f == nil {
		return def
	}
	return *f
}

// Duration parses *s as a time.Duration, falling back to def (itself a
// duration string) when unset or unparsable.
func Duration(s *string, def string) time.Duration {
	if s == nil || *s == "" {
		d, _ := time.ParseDuration(def)
		return d
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}

// DurationMin behaves like Duration but clamps the result to be no
// smaller than min, so misconfigured poll/tick intervals can't spin a
// tight loop.
func DurationMin(s *string, def string, min time.Duration) time.Duration {
	d := Duration(s, def)
	if d < min {
		return min
	}
	return d
}

// ValidateRange returns a msgs error if v falls outside [lo, hi].
func ValidateRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return msgs.NewError(nil, msgs.MsgConfigInvalid, field, "value out of range")
	}
	return nil
}
