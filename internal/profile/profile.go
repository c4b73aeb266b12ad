// Package profile computes per-column value profiles from normalized
// tables. Column types are not declared up front; storage derives the
// narrowest SQL type from the ranges observed here.
package profile

import (
	"fmt"

	"spotifyetl/internal/normalize"
)

// Column kinds. A column is exactly one of these, fixed by the value type
// of its record field.
const (
	KindString  = "string"
	KindNumeric = "numeric"
)

// ColumnProfile describes the observed values of one column.
//
// MaxLength is set for string columns. Min and Max are set for numeric
// columns with no outlier trimming. Float records whether any observed
// value was floating point, which keeps the column out of the integer
// type tiers.
type ColumnProfile struct {
	Name      string
	Kind      string
	MaxLength int
	Min       float64
	Max       float64
	Float     bool
}

// AnalyzeColumns profiles every column of t in column order. A table with
// no rows has no observable ranges and is an error, not an empty result.
func AnalyzeColumns(t normalize.Table) ([]ColumnProfile, error) {
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("profile: table %q has no rows", t.Name)
	}

	profiles := make([]ColumnProfile, 0, len(t.Columns))
	for ci, name := range t.Columns {
		p, err := profileColumn(t, ci, name)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func profileColumn(t normalize.Table, ci int, name string) (ColumnProfile, error) {
	p := ColumnProfile{Name: name}

	for ri, row := range t.Rows {
		if ci >= len(row) {
			return p, fmt.Errorf("profile: table %q row %d has %d values, want %d", t.Name, ri, len(row), len(t.Columns))
		}

		switch v := row[ci].(type) {
		case string:
			if err := setKind(&p, KindString, t.Name, name); err != nil {
				return p, err
			}
			if len(v) > p.MaxLength {
				p.MaxLength = len(v)
			}

		case int:
			if err := observeNumeric(&p, float64(v), ri == 0, t.Name, name); err != nil {
				return p, err
			}

		case int64:
			if err := observeNumeric(&p, float64(v), ri == 0, t.Name, name); err != nil {
				return p, err
			}

		case float64:
			if err := observeNumeric(&p, v, ri == 0, t.Name, name); err != nil {
				return p, err
			}
			p.Float = true

		default:
			return p, fmt.Errorf("profile: table %q column %q has unsupported value type %T", t.Name, name, v)
		}
	}

	return p, nil
}

func observeNumeric(p *ColumnProfile, v float64, first bool, table, col string) error {
	if err := setKind(p, KindNumeric, table, col); err != nil {
		return err
	}
	if first {
		p.Min, p.Max = v, v
		return nil
	}
	if v < p.Min {
		p.Min = v
	}
	if v > p.Max {
		p.Max = v
	}
	return nil
}

func setKind(p *ColumnProfile, kind, table, col string) error {
	if p.Kind == "" {
		p.Kind = kind
		return nil
	}
	if p.Kind != kind {
		return fmt.Errorf("profile: table %q column %q mixes %s and %s values", table, col, p.Kind, kind)
	}
	return nil
}
