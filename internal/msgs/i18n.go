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

// Package msgs is the message catalog for the control-core actor kernel:
// a small translation table keyed by a two-letter-plus-digits prefix,
// with a status hint per error so that every response's result_code
// can be derived from the message key that produced it.
package msgs

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

type MessageKey string
type ErrorMessageKey MessageKey

const cfPrefix = "CF"

var (
	statusHints = map[string]int{}
	msgIDUniq   = map[string]bool{}

	fallbackLangPrinter = message.NewPrinter(language.AmericanEnglish)
	defaultLangPrinter  *message.Printer

	prefixValidator = regexp.MustCompile(`[A-Z][A-Z]\d\d`)
)

type ctxLangKey struct{}

func init() {
	defaultLangPrinter = message.NewPrinter(language.AmericanEnglish)
}

// WithLang sets the response language on the context.
func WithLang(ctx context.Context, lang language.Tag) context.Context {
	return context.WithValue(ctx, ctxLangKey{}, lang)
}

func pFor(ctx context.Context) *message.Printer {
	if ctx == nil {
		return defaultLangPrinter
	}
	lang := ctx.Value(ctxLangKey{})
	if lang == nil {
		return defaultLangPrinter
	}
	tag, ok := lang.(language.Tag)
	if !ok {
		return defaultLangPrinter
	}
	return message.NewPrinter(tag)
}

// cfe registers a new error message under the CF prefix and returns its key.
func cfe(key, translation string, statusHint int) ErrorMessageKey {
	if !prefixValidator.MatchString(key) || !strings.HasPrefix(key, cfPrefix) {
		panic(fmt.Sprintf("invalid message id %q: must start with %q followed by two digits", key, cfPrefix))
	}
	if msgIDUniq[key] {
		panic(fmt.Sprintf("message id %s re-used", key))
	}
	msgIDUniq[key] = true
	statusHints[key] = statusHint
	_ = message.Set(language.AmericanEnglish, key, catalog.String(translation))
	return ErrorMessageKey(key)
}

// NewError builds an error from a registered message key, translating and
// formatting it for the context's language (falling back to American
// English when no translation is registered).
func NewError(ctx context.Context, key ErrorMessageKey, inserts ...interface{}) error {
	return &Error{key: key, inserts: inserts, ctx: ctx}
}

// Error is the concrete error type returned by NewError. It carries the
// message key so callers (notably the RPC response builder) can recover
// the result_code without parsing the message text.
type Error struct {
	key     ErrorMessageKey
	inserts []interface{}
	ctx     context.Context
}

func (e *Error) Error() string {
	k := string(e.key)
	translation := pFor(e.ctx).Sprintf(k, e.inserts...)
	if translation == k {
		translation = fallbackLangPrinter.Sprintf(k, e.inserts...)
	}
	return fmt.Sprintf("%s: %s", k, translation)
}

// Key returns the message key backing this error.
func (e *Error) Key() ErrorMessageKey { return e.key }

// StatusHint returns the result_code associated with this error's key.
func (e *Error) StatusHint() int {
	if h, ok := statusHints[string(e.key)]; ok {
		return h
	}
	return -1
}

// ResultCode extracts a result_code from any error: registered CF errors
// return their status hint, everything else returns a generic internal
// error code.
func ResultCode(err error) int {
	if err == nil {
		return 0
	}
	if ce, ok := err.(*Error); ok {
		return ce.StatusHint()
	}
	return CodeInternalError
}
