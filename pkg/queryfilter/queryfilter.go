// Package queryfilter implements the small, uniform filter/sort operator
// set consumed by the Storage Port (C3) — no general query language, by
// design.
package queryfilter

import (
	"sort"
	"strconv"
	"strings"
)

// Op is one of the enumerated comparison operators.
type Op string

const (
	Equals           Op = "equals"
	NotEquals        Op = "notEquals"
	StartsWith       Op = "startsWith"
	EndsWith         Op = "endsWith"
	Contains         Op = "contains"
	GreaterOrEquals  Op = "greaterOrEquals"
	GreaterThan      Op = "greaterThan"
	LessOrEquals     Op = "lessOrEquals"
	LessThan         Op = "lessThan"
	Before           Op = "before"
	After            Op = "after"
	NotBefore        Op = "notBefore"
	NotAfter         Op = "notAfter"
	OneOf            Op = "oneOf"
)

// Condition is a single `{op: value}` pair attached to a field.
type Condition struct {
	Op    Op
	Value any
}

// Filter maps field name to the condition it must satisfy. Evaluation is
// conjunctive across fields; an empty Filter matches every record.
type Filter map[string]Condition

// SortMode is the direction a SearchOptions sort applies.
type SortMode string

const (
	Ascending  SortMode = "Ascending"
	Descending SortMode = "Descending"
)

// SearchOptions carries pagination and sort parameters, with the defaults
// from spec §4.2.
type SearchOptions struct {
	PageNumber int
	PageSize   int
	SortField  string
	SortMode   SortMode
}

// DefaultSearchOptions returns the documented defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		PageNumber: 1,
		PageSize:   20,
		SortField:  "id",
		SortMode:   Ascending,
	}
}

// Normalize fills in zero-valued fields with their documented defaults and
// clamps PageNumber/PageSize to their minimums.
func (o SearchOptions) Normalize() SearchOptions {
	out := o
	if out.PageNumber < 1 {
		out.PageNumber = 1
	}
	if out.PageSize < 1 {
		out.PageSize = 20
	}
	if out.SortField == "" {
		out.SortField = "id"
	}
	if out.SortMode == "" {
		out.SortMode = Ascending
	}
	return out
}

// Record is the minimal surface Match/Sort need over a heterogeneous
// storage record: field lookup by name. Storage backends adapt their native
// row representation (a struct, a map, a JSON document) to this.
type Record interface {
	Field(name string) any
}

// Match reports whether a record satisfies every condition in the filter.
func Match(f Filter, r Record) bool {
	for field, cond := range f {
		if !matchOne(cond, r.Field(field)) {
			return false
		}
	}
	return true
}

func matchOne(cond Condition, actual any) bool {
	switch cond.Op {
	case Equals:
		return compareEqual(actual, cond.Value)
	case NotEquals:
		return !compareEqual(actual, cond.Value)
	case StartsWith:
		return strings.HasPrefix(strings.ToLower(toString(actual)), strings.ToLower(toString(cond.Value)))
	case EndsWith:
		return strings.HasSuffix(strings.ToLower(toString(actual)), strings.ToLower(toString(cond.Value)))
	case Contains:
		return strings.Contains(strings.ToLower(toString(actual)), strings.ToLower(toString(cond.Value)))
	case GreaterOrEquals:
		return compareNumeric(actual, cond.Value) >= 0
	case GreaterThan:
		return compareNumeric(actual, cond.Value) > 0
	case LessOrEquals:
		return compareNumeric(actual, cond.Value) <= 0
	case LessThan:
		return compareNumeric(actual, cond.Value) < 0
	case Before:
		return toString(actual) < toString(cond.Value)
	case After:
		return toString(actual) > toString(cond.Value)
	case NotBefore:
		return toString(actual) >= toString(cond.Value)
	case NotAfter:
		return toString(actual) <= toString(cond.Value)
	case OneOf:
		values, ok := cond.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if compareEqual(actual, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compareEqual implements the case-insensitive string / numeric equality
// the spec's testable property requires for `equals`.
func compareEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return strings.EqualFold(toString(a), toString(b))
}

func compareNumeric(a, b any) int {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// toString stringifies a field value for the string-shaped operators
// (startsWith, contains, before/after on RFC3339 timestamps, ...). Numbers
// are formatted so equals/oneOf can still fall back to it when asFloat
// fails on mixed-type comparisons.
func toString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case bool:
		return strconv.FormatBool(n)
	default:
		return ""
	}
}

// Sort orders records in place per SearchOptions. The comparator falls back
// to string comparison when the field isn't numeric, which is sufficient
// for RFC3339 timestamp fields (lexicographic order matches chronological
// order).
func Sort[T Record](records []T, opts SearchOptions) {
	sort.SliceStable(records, func(i, j int) bool {
		vi := records[i].Field(opts.SortField)
		vj := records[j].Field(opts.SortField)
		less := compareNumeric(vi, vj) < 0
		if opts.SortMode == Descending {
			return !less && compareNumeric(vi, vj) != 0
		}
		return less
	})
}

// Paginate slices records according to PageNumber/PageSize (1-indexed
// pages), applied after filter+sort per spec §4.2.
func Paginate[T any](records []T, opts SearchOptions) []T {
	opts = opts.Normalize()
	start := (opts.PageNumber - 1) * opts.PageSize
	if start >= len(records) {
		return []T{}
	}
	end := start + opts.PageSize
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}
