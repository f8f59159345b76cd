// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package record

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the type of a loaded field value.
type Kind uint8

const (
	// Absent marks a missing or empty value.
	Absent Kind = iota
	// Int is a 64-bit integer.
	Int
	// Float is a 64-bit float.
	Float
	// String is an uninterpreted string.
	String
)

var kindNames = [...]string{"absent", "int", "float", "str"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ParseKind parses a field type name as written in loader configs. Both the
// short ("int", "str") and long ("integer", "string") spellings are
// accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer", "long":
		return Int, nil
	case "float", "double":
		return Float, nil
	case "str", "string", "unicode":
		return String, nil
	}
	return Absent, fmt.Errorf("unknown field type %q", s)
}

// Value is a loaded field value. The zero Value is Absent.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// IntValue returns an Int value.
func IntValue(i int64) Value { return Value{kind: Int, i: i} }

// FloatValue returns a Float value.
func FloatValue(f float64) Value { return Value{kind: Float, f: f} }

// StringValue returns a String value.
func StringValue(s string) Value { return Value{kind: String, s: s} }

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// Interface returns v as a JSON-encodable value; Absent maps to nil.
func (v Value) Interface() interface{} {
	switch v.kind {
	case Int:
		return v.i
	case Float:
		return v.f
	case String:
		return v.s
	}
	return nil
}

// Int returns the integer payload of an Int value.
func (v Value) Int() int64 { return v.i }

// Float returns the payload of a Float value.
func (v Value) Float() float64 { return v.f }

// Str returns the payload of a String value.
func (v Value) Str() string { return v.s }

func (v Value) String() string {
	switch v.kind {
	case Int:
		return strconv.FormatInt(v.i, 10)
	case Float:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case String:
		return v.s
	}
	return "<absent>"
}

// InferKind guesses the kind of a raw field, the way a literal would be
// read: integers first, then floats, falling back to strings.
func InferKind(raw string) Kind {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return String
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Int
	}
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return Float
	}
	return String
}

// Parse converts raw into a Value of kind k. Blank values, and the tokens
// na, nan, inf and ? in numeric fields, are Absent. Integer fields accept
// values written as "2.0".
func Parse(k Kind, raw string) (Value, error) {
	raw = strings.Replace(raw, `"`, "", -1)
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Value{}, nil
	}
	if k != String {
		switch strings.ToLower(trimmed) {
		case "na", "nan", "inf", "?":
			return Value{}, nil
		}
	}
	switch k {
	case Int:
		i, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			i, err = strconv.ParseInt(strings.TrimSuffix(trimmed, ".0"), 10, 64)
		}
		if err != nil {
			return Value{}, fmt.Errorf("%q is not an integer", raw)
		}
		return IntValue(i), nil
	case Float:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a float", raw)
		}
		return FloatValue(f), nil
	case String:
		return StringValue(raw), nil
	}
	return Value{}, nil
}
