// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"strconv"
)

// Reader resolves environment keys one at a time, echoing each resolved value, and keeps the
// first parse error. It is used by Load and by the other tools reading their options from the
// environment.
type Reader struct {
	lookup LookupFn
	out    io.Writer
	err    error
}

// NewReader creates a Reader using lookup, echoing resolved keys to out (if not nil).
func NewReader(lookup LookupFn, out io.Writer) *Reader {
	if out == nil {
		out = io.Discard
	}
	return &Reader{lookup: lookup, out: out}
}

// Err returns the first parse error, as a *ParseError, or nil.
func (r *Reader) Err() error { return r.err }

// raw returns the environment value, or ok=false if unset or "null".
func (r *Reader) raw(key string) (value string, ok bool) {
	value, found := r.lookup(key)
	if !found || value == NullValue {
		return "", false
	}
	return value, true
}

func (r *Reader) echo(key string, value any) {
	_, _ = fmt.Fprintf(r.out, "read env key: %s, value:%v\n", key, value)
}

func (r *Reader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = &ParseError{Key: key, Value: value, Err: err}
	}
}

// String resolves key as a string.
func (r *Reader) String(key, defaultValue string) string {
	v, ok := r.raw(key)
	if !ok {
		v = defaultValue
	}
	r.echo(key, v)
	return v
}

// Int resolves key as an integer.
func (r *Reader) Int(key string, defaultValue int) int {
	s, ok := r.raw(key)
	if !ok {
		r.echo(key, defaultValue)
		return defaultValue
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		r.fail(key, s, err)
		return defaultValue
	}
	r.echo(key, v)
	return v
}

// Float returns the float value of key, or defaultValue if unset. A malformed value is
// recorded as a *ParseError, see Reader.Err.
func (r *Reader) Float(key string, defaultValue float64) float64 {
	s, ok := r.raw(key)
	if !ok {
		r.echo(key, defaultValue)
		return defaultValue
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(key, s, err)
		return defaultValue
	}
	r.echo(key, v)
	return v
}

// Bool returns the boolean value of key as parsed by strconv.ParseBool, or defaultValue if
// unset. A malformed value is recorded as a *ParseError.
func (r *Reader) Bool(key string, defaultValue bool) bool {
	s, ok := r.raw(key)
	if !ok {
		r.echo(key, defaultValue)
		return defaultValue
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		r.fail(key, s, err)
		return defaultValue
	}
	r.echo(key, v)
	return v
}
