package mssql

import (
	"testing"
	"time"
)

func TestRenderValue(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{ts, "2024-03-15T10:30:00Z"},
		{[]byte{0xDE, 0xAD}, "0xDEAD"},
		{true, "1"},
		{false, "0"},
		{int64(42), "42"},
		{"text", "text"},
		{3.14, "3.14"},
	}
	for _, tt := range tests {
		if got := renderValue(tt.in); got != tt.want {
			t.Errorf("renderValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
