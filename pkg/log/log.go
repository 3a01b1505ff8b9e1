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

// Package log provides the context-scoped logging helper used throughout
// the actor kernel: log.L(ctx).Debugf(...) everywhere, with fields
// attached to the context via log.WithField rather than threaded
// through every function signature.
package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

type ctxKeyLogger struct{}

var rootLogger = logrus.New()

func init() {
	rootLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel adjusts the root logger level (debug/info/warn/error/trace).
func SetLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	rootLogger.SetLevel(l)
	return nil
}

// L returns the logger entry attached to ctx, or the root logger if none
// has been attached yet.
func L(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return logrus.NewEntry(rootLogger)
	}
	if e, ok := ctx.Value(ctxKeyLogger{}).(*logrus.Entry); ok {
		return e
	}
	return logrus.NewEntry(rootLogger)
}

// WithField returns a new context carrying a logger entry with the given
// field added (and any existing fields preserved).
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return context.WithValue(ctx, ctxKeyLogger{}, L(ctx).WithField(key, value))
}

// WithFields is the multi-field form of WithField.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return context.WithValue(ctx, ctxKeyLogger{}, L(ctx).WithFields(fields))
}
