package params

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-sql/civil"
)

// --- integers ---

func TestCoerce_Int(t *testing.T) {
	meta := Metadata{DataType: "int"}

	tests := []struct {
		in   any
		want int64
	}{
		{int64(5), 5},
		{7, 7},
		{float64(9), 9},
		{"  42 ", 42},
		{true, 1},
		{false, 0},
	}
	for _, tt := range tests {
		got, err := Coerce(tt.in, meta)
		if err != nil {
			t.Errorf("Coerce(%v) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Coerce(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCoerce_IntRejectsFraction(t *testing.T) {
	if _, err := Coerce(1.5, Metadata{DataType: "bigint"}); err == nil {
		t.Error("Coerce(1.5) as bigint succeeded, want error")
	}
}

// --- decimals ---

func TestCoerce_DecimalRoundsToScale(t *testing.T) {
	got, err := Coerce("123.4567", Metadata{DataType: "decimal", Precision: 10, Scale: 2})
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	if got != "123.46" {
		t.Errorf("Coerce() = %v, want 123.46", got)
	}
}

func TestCoerce_DecimalRejectsGarbage(t *testing.T) {
	if _, err := Coerce("not-a-number", Metadata{DataType: "numeric"}); err == nil {
		t.Error("Coerce(not-a-number) succeeded, want error")
	}
}

// --- strings ---

func TestCoerce_StringLengthLimit(t *testing.T) {
	meta := Metadata{DataType: "varchar", MaxLength: 5}

	if _, err := Coerce("short", meta); err != nil {
		t.Errorf("Coerce(short) error = %v", err)
	}
	if _, err := Coerce("toolong", meta); err == nil {
		t.Error("Coerce(toolong) succeeded, want length error")
	}
}

func TestCoerce_WideStringHalvesByteLength(t *testing.T) {
	// nvarchar(5) is reported as max_length 10 bytes.
	meta := Metadata{DataType: "nvarchar", MaxLength: 10}

	if _, err := Coerce("five!", meta); err != nil {
		t.Errorf("Coerce(five chars) error = %v", err)
	}
	if _, err := Coerce("sixsix", meta); err == nil {
		t.Error("Coerce(six chars) succeeded, want length error")
	}
}

func TestCoerce_MaxTypesUnbounded(t *testing.T) {
	meta := Metadata{DataType: "nvarchar", MaxLength: -1}
	long := make([]byte, 10000)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := Coerce(string(long), meta); err != nil {
		t.Errorf("Coerce(long string) with MAX type error = %v", err)
	}
}

// --- bit ---

func TestCoerce_Bit(t *testing.T) {
	meta := Metadata{DataType: "bit"}

	tests := []struct {
		in   any
		want bool
	}{
		{true, true},
		{"1", true},
		{"TRUE", true},
		{"0", false},
		{"false", false},
		{int64(0), false},
	}
	for _, tt := range tests {
		got, err := Coerce(tt.in, meta)
		if err != nil {
			t.Errorf("Coerce(%v) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Coerce(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// --- temporal ---

func TestCoerce_DateTimeLayouts(t *testing.T) {
	meta := Metadata{DataType: "datetime"}

	for _, in := range []string{
		"2024-03-15T10:30:00Z",
		"2024-03-15T10:30:00",
		"2024-03-15 10:30:00",
		"2024-03-15",
	} {
		got, err := Coerce(in, meta)
		if err != nil {
			t.Errorf("Coerce(%q) error = %v", in, err)
			continue
		}
		if _, ok := got.(time.Time); !ok {
			t.Errorf("Coerce(%q) = %T, want time.Time", in, got)
		}
	}
}

func TestCoerce_DateTruncatesTime(t *testing.T) {
	got, err := Coerce("2024-03-15T10:30:00Z", Metadata{DataType: "date"})
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	d, ok := got.(civil.Date)
	if !ok {
		t.Fatalf("Coerce() = %T, want civil.Date", got)
	}
	want := civil.Date{Year: 2024, Month: time.March, Day: 15}
	if d != want {
		t.Errorf("Coerce() = %v, want %v", d, want)
	}
}

func TestCoerce_TimeOfDay(t *testing.T) {
	got, err := Coerce("14:30:15", Metadata{DataType: "time"})
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	tm, ok := got.(civil.Time)
	if !ok {
		t.Fatalf("Coerce() = %T, want civil.Time", got)
	}
	if tm.Hour != 14 || tm.Minute != 30 || tm.Second != 15 {
		t.Errorf("Coerce() = %v, want 14:30:15", tm)
	}
}

// --- uniqueidentifier ---

func TestCoerce_UUID(t *testing.T) {
	meta := Metadata{DataType: "uniqueidentifier"}

	got, err := Coerce("6F9619FF-8B86-D011-B42D-00C04FC964FF", meta)
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	if got != "6f9619ff-8b86-d011-b42d-00c04fc964ff" {
		t.Errorf("Coerce() = %v, want canonical lowercase form", got)
	}

	if _, err := Coerce("not-a-uuid", meta); err == nil {
		t.Error("Coerce(not-a-uuid) succeeded, want error")
	}
}

// --- binary ---

func TestCoerce_BinaryDecodesBase64(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	encoded := base64.StdEncoding.EncodeToString(raw)

	got, err := Coerce(encoded, Metadata{DataType: "varbinary", MaxLength: 16})
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	b, ok := got.([]byte)
	if !ok {
		t.Fatalf("Coerce() = %T, want []byte", got)
	}
	if string(b) != string(raw) {
		t.Errorf("Coerce() = % X, want % X", b, raw)
	}
}

func TestCoerce_BinaryRejectsOversize(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("0123456789"))
	if _, err := Coerce(encoded, Metadata{DataType: "varbinary", MaxLength: 4}); err == nil {
		t.Error("Coerce(oversize binary) succeeded, want error")
	}
}

// --- general ---

func TestCoerce_NilIsNull(t *testing.T) {
	got, err := Coerce(nil, Metadata{DataType: "int"})
	if err != nil {
		t.Fatalf("Coerce(nil) error = %v", err)
	}
	if got != nil {
		t.Errorf("Coerce(nil) = %v, want nil", got)
	}
}

func TestCoerce_UnknownTypePassesThrough(t *testing.T) {
	got, err := Coerce("anything", Metadata{DataType: "geography"})
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	if got != "anything" {
		t.Errorf("Coerce() = %v, want passthrough", got)
	}
}
