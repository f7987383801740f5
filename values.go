package airlift

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ValueMapper derives one value from a row. Returning nil (with a nil error)
// means "no value for this row" and the caller drops the property. A mapper
// may also return a slice, which expands to multiple set members.
type ValueMapper interface {
	Apply(row Row) (interface{}, error)
}

// ValueFunc adapts a bare func to a ValueMapper, like http.HandlerFunc.
type ValueFunc func(row Row) (interface{}, error)

// Apply implements ValueMapper.
func (f ValueFunc) Apply(row Row) (interface{}, error) { return f(row) }

// Condition is a row predicate gating a flight, entity or association
// definition.
type Condition interface {
	Eval(row Row) (bool, error)
}

// ConditionFunc adapts a bare func to a Condition.
type ConditionFunc func(row Row) (bool, error)

// Eval implements Condition.
func (f ConditionFunc) Eval(row Row) (bool, error) { return f(row) }

// ColumnValue looks a single column up in the row. Missing columns and nil
// cells yield no value.
type ColumnValue struct {
	Column string
}

// Apply implements ValueMapper.
func (c ColumnValue) Apply(row Row) (interface{}, error) {
	return row[c.Column], nil
}

// ConstantValue yields the same value for every row.
type ConstantValue struct {
	Value interface{}
}

// Apply implements ValueMapper.
func (c ConstantValue) Apply(row Row) (interface{}, error) {
	return c.Value, nil
}

// Transform is one step in a value-transform chain. Transforms receive the
// previous step's value and may return nil to drop the value.
type Transform interface {
	Transform(v interface{}) (interface{}, error)
}

// ChainValue reads a source value and pushes it through a series of
// transforms in order. A nil anywhere in the chain short-circuits to nil.
type ChainValue struct {
	Source     ValueMapper
	Transforms []Transform
}

// Apply implements ValueMapper.
func (c ChainValue) Apply(row Row) (interface{}, error) {
	v, err := c.Source.Apply(row)
	if err != nil {
		return nil, err
	}
	for _, t := range c.Transforms {
		if v == nil {
			return nil, nil
		}
		v, err = t.Transform(v)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

// asString coerces a transform input to string. Transforms operate on the
// string forms of cells; non-string scalars are rendered with canonical.
func asString(v interface{}) string {
	return canonical(v)
}

// SplitTransform splits a string on a separator and selects one piece.
// Index may be a 0-based number or "last". If IfMoreThan is set, the piece
// is only returned when the split produced more than that many pieces.
// ValueElse is returned when the index is out of range, blank meaning nil.
type SplitTransform struct {
	Separator  string
	Index      string
	ValueElse  string
	IfMoreThan *int
}

// Transform implements Transform.
func (s SplitTransform) Transform(v interface{}) (interface{}, error) {
	str := strings.TrimSpace(asString(v))
	if str == "" {
		return nil, nil
	}
	pieces := strings.Split(str, s.Separator)
	idx := 0
	if s.Index == "last" {
		idx = len(pieces) - 1
	} else {
		var err error
		idx, err = strconv.Atoi(s.Index)
		if err != nil {
			return nil, errors.Wrapf(err, "bad split index '%s'", s.Index)
		}
	}
	if s.IfMoreThan != nil && len(pieces) <= *s.IfMoreThan {
		return nil, nil
	}
	if idx >= 0 && idx < len(pieces) {
		return strings.TrimSpace(pieces[idx]), nil
	}
	if s.ValueElse != "" {
		return s.ValueElse, nil
	}
	return nil, nil
}

// PaddingTransform pads the input to a fixed length by repeating a pattern,
// prepending when Pre is set, and optionally trimming oversized input when
// Cutoff is set.
type PaddingTransform struct {
	Pattern string
	Length  int
	Pre     bool
	Cutoff  bool
}

// Transform implements Transform.
func (p PaddingTransform) Transform(v interface{}) (interface{}, error) {
	if p.Length < 0 {
		return nil, errors.New("negative padding length")
	}
	if p.Pattern == "" {
		return nil, errors.New("empty padding pattern")
	}
	str := asString(v)
	if len(str) > p.Length {
		if !p.Cutoff {
			return str, nil
		}
		if p.Pre {
			return str[len(str)-p.Length:], nil
		}
		return str[:p.Length], nil
	}
	b := strings.Builder{}
	b.WriteString(str)
	if p.Pre {
		for b.Len() < p.Length {
			s := b.String()
			b.Reset()
			b.WriteString(p.Pattern)
			b.WriteString(s)
		}
		s := b.String()
		return s[len(s)-p.Length:], nil
	}
	for b.Len() < p.Length {
		b.WriteString(p.Pattern)
	}
	return b.String()[:p.Length], nil
}

// ParseBoolTransform parses "1"/"yes"/"true"/"on" (case-insensitive) as
// true and everything else as false. Blank input yields nil.
type ParseBoolTransform struct{}

// Transform implements Transform.
func (ParseBoolTransform) Transform(v interface{}) (interface{}, error) {
	str := strings.TrimSpace(asString(v))
	if str == "" {
		return nil, nil
	}
	switch strings.ToLower(str) {
	case "1", "yes", "true", "on":
		return true, nil
	}
	return false, nil
}

// PrefixSubstringTransform strips a substring starting at Location, but only
// when the input carries the given prefix; otherwise it passes the value
// through untouched.
type PrefixSubstringTransform struct {
	Prefix   string
	Location int
}

// Transform implements Transform.
func (p PrefixSubstringTransform) Transform(v interface{}) (interface{}, error) {
	str := asString(v)
	if strings.HasPrefix(str, p.Prefix) {
		if p.Location > len(str) {
			return "", nil
		}
		return str[p.Location:], nil
	}
	return str, nil
}

// DateTimeTransform parses a string against a list of layouts (Go reference
// time layouts), first match wins, optionally in a named zone.
type DateTimeTransform struct {
	Patterns []string
	Timezone string
}

// Transform implements Transform.
func (d DateTimeTransform) Transform(v interface{}) (interface{}, error) {
	str := strings.TrimSpace(asString(v))
	if str == "" {
		return nil, nil
	}
	loc := time.UTC
	if d.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(d.Timezone)
		if err != nil {
			return nil, errors.Wrapf(err, "loading timezone '%s'", d.Timezone)
		}
	}
	for _, pattern := range d.Patterns {
		if ts, err := time.ParseInLocation(pattern, str, loc); err == nil {
			return ts, nil
		}
	}
	return nil, errors.Errorf("value '%s' matched none of %d datetime patterns", str, len(d.Patterns))
}

// NotBlankCondition is true when the column holds a non-blank value.
// Reverse turns it into an is-blank test.
type NotBlankCondition struct {
	Column  string
	Reverse bool
}

// Eval implements Condition.
func (c NotBlankCondition) Eval(row Row) (bool, error) {
	blank := strings.TrimSpace(canonical(row[c.Column])) == ""
	return blank == c.Reverse, nil
}

// ContainsCondition is true when the column's string form contains Value.
// Blank cells never match.
type ContainsCondition struct {
	Column     string
	Value      string
	IgnoreCase bool
}

// Eval implements Condition.
func (c ContainsCondition) Eval(row Row) (bool, error) {
	cell := canonical(row[c.Column])
	if strings.TrimSpace(cell) == "" {
		return false, nil
	}
	needle := c.Value
	if c.IgnoreCase {
		cell = strings.ToLower(cell)
		needle = strings.ToLower(needle)
	}
	return strings.Contains(cell, needle), nil
}

// AllConditions is the conjunction of its members. Empty is true.
type AllConditions []Condition

// Eval implements Condition.
func (cs AllConditions) Eval(row Row) (bool, error) {
	for _, c := range cs {
		ok, err := c.Eval(row)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// NotCondition negates its inner condition.
type NotCondition struct {
	Inner Condition
}

// Eval implements Condition.
func (n NotCondition) Eval(row Row) (bool, error) {
	ok, err := n.Inner.Eval(row)
	return !ok, err
}

// ConditionalValue selects between two mappers based on a condition. A nil
// branch passes nil through.
type ConditionalValue struct {
	Condition Condition
	IfTrue    ValueMapper
	IfFalse   ValueMapper
}

// Apply implements ValueMapper.
func (c ConditionalValue) Apply(row Row) (interface{}, error) {
	ok, err := c.Condition.Eval(row)
	if err != nil {
		return nil, err
	}
	m := c.IfFalse
	if ok {
		m = c.IfTrue
	}
	if m == nil {
		return nil, nil
	}
	return m.Apply(row)
}

// ConcatValue joins several column values with a separator, skipping blanks.
// Useful for composite identifiers in custom generators.
type ConcatValue struct {
	Columns   []string
	Separator string
}

// Apply implements ValueMapper.
func (c ConcatValue) Apply(row Row) (interface{}, error) {
	parts := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		s := strings.TrimSpace(canonical(row[col]))
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return strings.Join(parts, c.Separator), nil
}
