// Package params turns loosely-typed external parameter maps into native,
// correctly typed SQL Server parameters validated against stored-procedure
// catalog metadata.
//
// The pipeline runs in independently testable steps: name normalization,
// value normalization, metadata-driven validation, and type coercion. All
// violations for one call are collected and reported together.
package params

import "database/sql"

// Metadata is one row of the procedure's parameter catalog. Ordinal 0 is the
// implicit return-value slot and never takes part in user-facing validation.
type Metadata struct {
	Name         string
	Ordinal      int
	DataType     string
	MaxLength    int // bytes; -1 for MAX types
	Precision    int
	Scale        int
	IsOutput     bool
	HasDefault   bool
	DefaultValue string
	IsNullable   bool
}

// Required reports whether a caller must supply this parameter: it is
// neither defaulted nor output-only.
func (m Metadata) Required() bool {
	return !m.HasDefault && !m.IsOutput
}

// NativeParameter is one fully coerced parameter ready to bind.
type NativeParameter struct {
	Name     string // catalog name without the @ prefix
	Value    any
	IsOutput bool
}

// Arg returns the driver argument for this parameter. Output parameters bind
// through sql.Out so the call can execute even with no supplied value.
func (p NativeParameter) Arg() any {
	if p.IsOutput {
		v := p.Value
		return sql.Named(p.Name, sql.Out{Dest: &v})
	}
	return sql.Named(p.Name, p.Value)
}
