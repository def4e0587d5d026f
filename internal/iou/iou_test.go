package iou

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"integer", "1000", "1000"},
		{"fraction", "1.5", "1.5"},
		{"trailing zeros", "1.500000", "1.5"},
		{"leading zeros", "007.50", "7.5"},
		{"negative", "-25", "-25"},
		{"exponent", "1e3", "1000"},
		{"small", "0.000001", "0.000001"},
		{"zero", "0.00", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "  ", "abc", "1.2.3", "NaN", "Infinity", "-Inf", "1,000"} {
		if _, err := Parse(input); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Parse(%q): expected ErrInvalidAmount, got %v", input, err)
		}
	}
}

func TestParsePositive(t *testing.T) {
	if _, err := ParsePositive("1000"); err != nil {
		t.Fatalf("ParsePositive(1000) failed: %v", err)
	}
	for _, input := range []string{"0", "0.0", "-1", "-0.0001"} {
		if _, err := ParsePositive(input); !errors.Is(err, ErrNotPositive) {
			t.Errorf("ParsePositive(%q): expected ErrNotPositive, got %v", input, err)
		}
	}
	if _, err := ParsePositive("twelve"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestArithmetic(t *testing.T) {
	a := MustParse("1000")
	b := MustParse("250.5")

	if got := a.Sub(b).String(); got != "749.5" {
		t.Errorf("Sub = %s, want 749.5", got)
	}
	if got := a.Add(b).String(); got != "1250.5" {
		t.Errorf("Add = %s, want 1250.5", got)
	}
	if !b.LessThan(a) || a.LessThan(b) {
		t.Error("LessThan ordering wrong")
	}
	if a.Cmp(MustParse("1000.000")) != 0 {
		t.Error("expected equal amounts to compare 0")
	}
	if got := b.Neg().String(); got != "-250.5" {
		t.Errorf("Neg = %s, want -250.5", got)
	}
}

func TestZeroValue(t *testing.T) {
	var z Amount
	if !z.IsZero() || z.String() != "0" {
		t.Errorf("zero value = %q", z.String())
	}
	if got := z.Add(MustParse("3")).String(); got != "3" {
		t.Errorf("zero + 3 = %s", got)
	}
	if MustParse("-1").Cmp(Zero()) >= 0 {
		t.Error("expected -1 < 0")
	}
}

func TestFromDrops(t *testing.T) {
	tests := map[string]string{
		"1000000":  "1",
		"20000000": "20",
		"1":        "0.000001",
		"0":        "0",
		"12345678": "12.345678",
	}
	for drops, want := range tests {
		got, err := FromDrops(drops)
		if err != nil {
			t.Fatalf("FromDrops(%q) failed: %v", drops, err)
		}
		if got.String() != want {
			t.Errorf("FromDrops(%q) = %s, want %s", drops, got, want)
		}
	}
}

func TestTextRoundTrip(t *testing.T) {
	var a Amount
	if err := a.UnmarshalText([]byte("42.10")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	b, _ := a.MarshalText()
	if string(b) != "42.1" {
		t.Errorf("MarshalText = %s", b)
	}
	if err := a.UnmarshalText([]byte("nope")); err == nil {
		t.Error("expected error for invalid text")
	}
}
