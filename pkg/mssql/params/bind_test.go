package params

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
)

func procMeta() []Metadata {
	return []Metadata{
		{Name: "@RETURN_VALUE", Ordinal: 0, DataType: "int"},
		{Name: "@UserID", Ordinal: 1, DataType: "int"},
		{Name: "@Name", Ordinal: 2, DataType: "nvarchar", MaxLength: 100},
		{Name: "@Limit", Ordinal: 3, DataType: "int", HasDefault: true},
		{Name: "@Total", Ordinal: 4, DataType: "int", IsOutput: true},
	}
}

func TestBind_HappyPath(t *testing.T) {
	bound, err := Bind(map[string]any{"@UserID": float64(7), "name": "alice"}, procMeta())
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	// UserID, Name and the output-only Total; the defaulted Limit is omitted.
	if len(bound) != 3 {
		t.Fatalf("Bind() returned %d parameters, want 3", len(bound))
	}
	if bound[0].Name != "UserID" || bound[0].Value != int64(7) {
		t.Errorf("bound[0] = %+v, want UserID=7", bound[0])
	}
	if bound[1].Name != "Name" || bound[1].Value != "alice" {
		t.Errorf("bound[1] = %+v, want Name=alice", bound[1])
	}
	if bound[2].Name != "Total" || !bound[2].IsOutput {
		t.Errorf("bound[2] = %+v, want output parameter Total", bound[2])
	}
}

func TestBind_SkipsReturnValueSlot(t *testing.T) {
	bound, err := Bind(map[string]any{"UserID": 1, "Name": "x"}, procMeta())
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	for _, p := range bound {
		if p.Name == "RETURN_VALUE" {
			t.Error("Bind() included the return-value slot")
		}
	}
}

func TestBind_ReportsAllViolationsAtOnce(t *testing.T) {
	in := map[string]any{
		"Name":    "toolong" + strings.Repeat("x", 100),
		"Unknown": 1,
	}
	_, err := Bind(in, procMeta())
	if err == nil {
		t.Fatal("Bind() succeeded, want aggregated validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Bind() error = %T, want *ValidationError", err)
	}
	if len(verr.Missing) != 1 || verr.Missing[0] != "@UserID" {
		t.Errorf("Missing = %v, want [@UserID]", verr.Missing)
	}
	if len(verr.Unknown) != 1 || verr.Unknown[0] != "Unknown" {
		t.Errorf("Unknown = %v, want the caller's spelling [Unknown]", verr.Unknown)
	}
	if len(verr.Conversion) != 1 {
		t.Errorf("Conversion = %v, want one entry for Name", verr.Conversion)
	}
}

func TestBind_UnknownKeepsCallerSpelling(t *testing.T) {
	in := map[string]any{"UserID": 1, "Name": "x", "@ExtraParam": true}

	_, err := Bind(in, procMeta())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Bind() error = %v, want *ValidationError", err)
	}
	if len(verr.Unknown) != 1 || verr.Unknown[0] != "@ExtraParam" {
		t.Errorf("Unknown = %v, want [@ExtraParam] as the caller wrote it", verr.Unknown)
	}
}

func TestBind_OutputParameterMayBeSupplied(t *testing.T) {
	bound, err := Bind(map[string]any{"UserID": 1, "Name": "x", "Total": 5}, procMeta())
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	for _, p := range bound {
		if p.Name == "Total" {
			if !p.IsOutput || p.Value != int64(5) {
				t.Errorf("Total = %+v, want output with initial value 5", p)
			}
			return
		}
	}
	t.Error("Bind() dropped the supplied output parameter")
}

func TestBind_EmptyInputNeedsOnlyDefaults(t *testing.T) {
	meta := []Metadata{
		{Name: "@Limit", Ordinal: 1, DataType: "int", HasDefault: true},
	}
	bound, err := Bind(nil, meta)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if len(bound) != 0 {
		t.Errorf("Bind() = %v, want no bound parameters", bound)
	}
}

// --- NativeParameter.Arg ---

func TestArg_OutputUsesSqlOut(t *testing.T) {
	p := NativeParameter{Name: "Total", IsOutput: true}

	arg := p.Arg()
	named, ok := arg.(sql.NamedArg)
	if !ok {
		t.Fatalf("Arg() = %T, want sql.NamedArg", arg)
	}
	if named.Name != "Total" {
		t.Errorf("Arg() Name = %q, want Total", named.Name)
	}
	if _, ok := named.Value.(sql.Out); !ok {
		t.Errorf("Arg() Value = %T, want sql.Out", named.Value)
	}
}

func TestArg_InputIsPlainNamed(t *testing.T) {
	p := NativeParameter{Name: "UserID", Value: int64(3)}

	named, ok := p.Arg().(sql.NamedArg)
	if !ok {
		t.Fatalf("Arg() = %T, want sql.NamedArg", p.Arg())
	}
	if named.Value != int64(3) {
		t.Errorf("Arg() Value = %v, want 3", named.Value)
	}
}
