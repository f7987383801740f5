package airlift

import (
	"testing"
	"time"
)

func intp(i int) *int { return &i }

func TestSplitTransform(t *testing.T) {
	tests := []struct {
		name string
		tr   SplitTransform
		in   string
		out  interface{}
	}{
		{"first", SplitTransform{Separator: " ", Index: "0"}, "Ada Lovelace", "Ada"},
		{"last", SplitTransform{Separator: " ", Index: "last"}, "Ada King Lovelace", "Lovelace"},
		{"out of range else", SplitTransform{Separator: " ", Index: "5", ValueElse: "none"}, "Ada", "none"},
		{"out of range no else", SplitTransform{Separator: " ", Index: "5"}, "Ada", nil},
		{"if more than met", SplitTransform{Separator: " ", Index: "1", IfMoreThan: intp(1)}, "Ada Lovelace", "Lovelace"},
		{"if more than not met", SplitTransform{Separator: " ", Index: "0", IfMoreThan: intp(1)}, "Ada", nil},
		{"trims pieces", SplitTransform{Separator: ",", Index: "1"}, "a, b ,c", "b"},
	}
	for _, test := range tests {
		got, err := test.tr.Transform(test.in)
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if got != test.out {
			t.Fatalf("%s: expected %v, got %v", test.name, test.out, got)
		}
	}
}

func TestSplitTransformBlank(t *testing.T) {
	got, err := SplitTransform{Separator: " ", Index: "0"}.Transform("   ")
	if err != nil || got != nil {
		t.Fatalf("blank input should yield nil, got %v, %v", got, err)
	}
}

func TestPaddingTransform(t *testing.T) {
	tests := []struct {
		name string
		tr   PaddingTransform
		in   string
		out  string
	}{
		{"pad right", PaddingTransform{Pattern: "0", Length: 5}, "12", "12000"},
		{"pad left", PaddingTransform{Pattern: "0", Length: 5, Pre: true}, "12", "00012"},
		{"long untouched", PaddingTransform{Pattern: "0", Length: 3}, "123456", "123456"},
		{"cutoff right", PaddingTransform{Pattern: "0", Length: 3, Cutoff: true}, "123456", "123"},
		{"cutoff left", PaddingTransform{Pattern: "0", Length: 3, Pre: true, Cutoff: true}, "123456", "456"},
	}
	for _, test := range tests {
		got, err := test.tr.Transform(test.in)
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if got != test.out {
			t.Fatalf("%s: expected %q, got %v", test.name, test.out, got)
		}
	}
}

func TestPaddingTransformBadConfig(t *testing.T) {
	if _, err := (PaddingTransform{Pattern: "", Length: 3}).Transform("x"); err == nil {
		t.Fatal("expected error for empty pattern")
	}
	if _, err := (PaddingTransform{Pattern: "0", Length: -1}).Transform("x"); err == nil {
		t.Fatal("expected error for negative length")
	}
}

func TestParseBoolTransform(t *testing.T) {
	truthy := []string{"1", "yes", "YES", "true", "True", "on"}
	for _, in := range truthy {
		got, err := ParseBoolTransform{}.Transform(in)
		if err != nil || got != true {
			t.Fatalf("%q: expected true, got %v, %v", in, got, err)
		}
	}
	got, err := ParseBoolTransform{}.Transform("nope")
	if err != nil || got != false {
		t.Fatalf("expected false, got %v, %v", got, err)
	}
	got, err = ParseBoolTransform{}.Transform(" ")
	if err != nil || got != nil {
		t.Fatalf("blank should yield nil, got %v, %v", got, err)
	}
}

func TestPrefixSubstringTransform(t *testing.T) {
	tr := PrefixSubstringTransform{Prefix: "ID-", Location: 3}
	got, err := tr.Transform("ID-12345")
	if err != nil || got != "12345" {
		t.Fatalf("expected 12345, got %v, %v", got, err)
	}
	got, err = tr.Transform("12345")
	if err != nil || got != "12345" {
		t.Fatalf("non-prefixed input should pass through, got %v, %v", got, err)
	}
}

func TestDateTimeTransform(t *testing.T) {
	tr := DateTimeTransform{Patterns: []string{"01/02/2006", "2006-01-02"}}
	got, err := tr.Transform("2020-05-17")
	if err != nil {
		t.Fatal(err)
	}
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", got)
	}
	if ts.Year() != 2020 || ts.Month() != time.May || ts.Day() != 17 {
		t.Fatalf("wrong parse %v", ts)
	}

	if _, err := tr.Transform("not a date"); err == nil {
		t.Fatal("expected error for unparseable input")
	}
	got, err = tr.Transform("  ")
	if err != nil || got != nil {
		t.Fatalf("blank should yield nil, got %v, %v", got, err)
	}
}

func TestChainValueShortCircuits(t *testing.T) {
	chain := ChainValue{
		Source: ColumnValue{Column: "missing"},
		Transforms: []Transform{
			SplitTransform{Separator: " ", Index: "0"},
		},
	}
	got, err := chain.Apply(Row{"other": "x"})
	if err != nil || got != nil {
		t.Fatalf("nil source should short-circuit, got %v, %v", got, err)
	}
}

func TestConditions(t *testing.T) {
	row := Row{"a": "hello world", "b": "", "n": 42}

	ok, _ := NotBlankCondition{Column: "a"}.Eval(row)
	if !ok {
		t.Fatal("a is not blank")
	}
	ok, _ = NotBlankCondition{Column: "b"}.Eval(row)
	if ok {
		t.Fatal("b is blank")
	}
	ok, _ = NotBlankCondition{Column: "b", Reverse: true}.Eval(row)
	if !ok {
		t.Fatal("reversed blank check should pass")
	}

	ok, _ = ContainsCondition{Column: "a", Value: "WORLD", IgnoreCase: true}.Eval(row)
	if !ok {
		t.Fatal("case-insensitive contains should match")
	}
	ok, _ = ContainsCondition{Column: "a", Value: "WORLD"}.Eval(row)
	if ok {
		t.Fatal("case-sensitive contains should not match")
	}
	ok, _ = ContainsCondition{Column: "b", Value: ""}.Eval(row)
	if ok {
		t.Fatal("blank cells never match")
	}

	all := AllConditions{NotBlankCondition{Column: "a"}, ContainsCondition{Column: "a", Value: "hello"}}
	ok, _ = all.Eval(row)
	if !ok {
		t.Fatal("conjunction should hold")
	}
	ok, _ = NotCondition{Inner: all}.Eval(row)
	if ok {
		t.Fatal("negation should fail")
	}
}

func TestConditionalValue(t *testing.T) {
	cv := ConditionalValue{
		Condition: NotBlankCondition{Column: "nickname"},
		IfTrue:    ColumnValue{Column: "nickname"},
		IfFalse:   ColumnValue{Column: "name"},
	}
	got, err := cv.Apply(Row{"name": "Augusta Ada", "nickname": "Ada"})
	if err != nil || got != "Ada" {
		t.Fatalf("expected nickname, got %v, %v", got, err)
	}
	got, err = cv.Apply(Row{"name": "Augusta Ada"})
	if err != nil || got != "Augusta Ada" {
		t.Fatalf("expected name, got %v, %v", got, err)
	}
}

func TestConcatValue(t *testing.T) {
	cv := ConcatValue{Columns: []string{"first", "last"}, Separator: "|"}
	got, err := cv.Apply(Row{"first": "Ada", "last": "Lovelace"})
	if err != nil || got != "Ada|Lovelace" {
		t.Fatalf("expected joined value, got %v, %v", got, err)
	}
	got, err = cv.Apply(Row{"first": " ", "last": ""})
	if err != nil || got != nil {
		t.Fatalf("all blanks should yield nil, got %v, %v", got, err)
	}
}
