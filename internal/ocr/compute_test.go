package ocr

import (
	"strings"
	"testing"
)

func TestEvalArithmetic(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"3+5", 8},
		{"10-4", 6},
		{"6*7", 42},
		{"9/2", 4.5},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"-5+8", 3},
		{"2*(3+(4-1))", 12},
		{"1.5*2", 3},
		{" 7 + 1 ", 8},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvalArithmetic(tt.expr)
			if err != nil {
				t.Fatalf("eval %q: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("eval %q = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalArithmeticErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"division by zero", "5/0"},
		{"unbalanced parens", "(2+3"},
		{"trailing garbage", "2+3)"},
		{"letters", "2+a"},
		{"no operand", "2+"},
		{"injection attempt", "__import__('os')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EvalArithmetic(tt.expr); err == nil {
				t.Errorf("eval %q should fail", tt.expr)
			}
		})
	}
}

func TestNormalizeArithmetic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"3+5=?", "3+5"},
		{"3+5=", "3+5"},
		{"6x7", "6*7"},
		{"8÷2", "8/2"},
		{"6x7=?", "6*7"},
		{"12-4", "12-4"},
	}

	for _, tt := range tests {
		got := NormalizeArithmetic(tt.in)
		if got != tt.want {
			t.Errorf("normalize %q = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeThenEval(t *testing.T) {
	got, err := EvalArithmetic(NormalizeArithmetic("8x4=?"))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != 32 {
		t.Errorf("got %v, want 32", got)
	}

	if _, err := EvalArithmetic(NormalizeArithmetic("9÷0=?")); err == nil {
		t.Error("division by zero should fail")
	} else if !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("unexpected error: %v", err)
	}
}
