// TableSpec and the type-derivation rules live here so backend packages can
// import them without circular deps.
package storage

import (
	"fmt"
	"strings"

	"spotifyetl/internal/normalize"
	"spotifyetl/internal/profile"
)

// TrackIDColumn is the fixed primary key of every materialized table. Its
// type never depends on observed data.
const (
	TrackIDColumn = "Track_ID"
	trackIDType   = "VARCHAR(50)"
)

// varcharBuffer is headroom added to the observed max string length so
// marginally longer future values still fit.
const varcharBuffer = 5

// maxVarchar is the widest VARCHAR emitted; longer columns fall back to TEXT.
const maxVarchar = 255

// Integer tier boundaries, closed on both ends.
const (
	tinyMin, tinyMax   = -128, 127
	smallMin, smallMax = -32768, 32767
	intMin, intMax     = -2147483648, 2147483647
)

// Column is one non-key column with its derived SQL type, in the generic
// dialect (TINYINT..BIGINT, DOUBLE, VARCHAR, TEXT). Backends translate
// types their engine lacks.
type Column struct {
	Name    string
	SQLType string
}

// ForeignKey declares a single-column reference to another table.
type ForeignKey struct {
	Column           string
	Table            string
	ReferencedColumn string
}

// TableSpec is a fully derived table: the Track_ID primary key plus the
// non-key columns in source order.
type TableSpec struct {
	Name       string
	Columns    []Column
	ForeignKey *ForeignKey
}

// BuildTableSpec derives a TableSpec from column profiles.
//
// Track_ID must be among the profiled columns and is always typed
// VARCHAR(50) regardless of observed lengths. Non-key columns keep the
// profile order. String columns get VARCHAR(maxLength+5), or TEXT past
// 255. Integer columns get the narrowest tier whose closed range covers
// [min, max]. Columns that held any floating-point value get DOUBLE and
// never enter the integer tiers.
func BuildTableSpec(name string, profiles []profile.ColumnProfile, fk *ForeignKey) (TableSpec, error) {
	if strings.TrimSpace(name) == "" {
		return TableSpec{}, fmt.Errorf("storage: empty table name")
	}

	spec := TableSpec{Name: name, ForeignKey: fk}

	hasKey := false
	for _, p := range profiles {
		if p.Name == TrackIDColumn {
			hasKey = true
			continue
		}
		sqlType, err := deriveType(p)
		if err != nil {
			return TableSpec{}, fmt.Errorf("storage: table %s: %w", name, err)
		}
		spec.Columns = append(spec.Columns, Column{Name: p.Name, SQLType: sqlType})
	}
	if !hasKey {
		return TableSpec{}, fmt.Errorf("storage: table %s has no %s column", name, TrackIDColumn)
	}

	return spec, nil
}

func deriveType(p profile.ColumnProfile) (string, error) {
	switch p.Kind {
	case profile.KindString:
		length := p.MaxLength + varcharBuffer
		if length > maxVarchar {
			return "TEXT", nil
		}
		return fmt.Sprintf("VARCHAR(%d)", length), nil

	case profile.KindNumeric:
		if p.Float {
			return "DOUBLE", nil
		}
		switch {
		case tinyMin <= p.Min && p.Max <= tinyMax:
			return "TINYINT", nil
		case smallMin <= p.Min && p.Max <= smallMax:
			return "SMALLINT", nil
		case intMin <= p.Min && p.Max <= intMax:
			return "INT", nil
		default:
			return "BIGINT", nil
		}

	default:
		return "", fmt.Errorf("column %q has unknown kind %q", p.Name, p.Kind)
	}
}

// CreateTableSQL renders idempotent DDL for spec in the generic dialect.
// translate maps each generic type to the backend's equivalent; pass nil
// for backends that accept the generic types as-is.
func CreateTableSQL(spec TableSpec, translate func(string) string) string {
	if translate == nil {
		translate = func(t string) string { return t }
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(SQLIdent(spec.Name))
	b.WriteString(" (\n    ")
	b.WriteString(SQLIdent(TrackIDColumn))
	b.WriteString(" ")
	b.WriteString(translate(trackIDType))
	b.WriteString(" PRIMARY KEY")

	for _, c := range spec.Columns {
		b.WriteString(",\n    ")
		b.WriteString(SQLIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(translate(c.SQLType))
	}

	if fk := spec.ForeignKey; fk != nil {
		b.WriteString(",\n    FOREIGN KEY (")
		b.WriteString(SQLIdent(fk.Column))
		b.WriteString(") REFERENCES ")
		b.WriteString(SQLIdent(fk.Table))
		b.WriteString("(")
		b.WriteString(SQLIdent(fk.ReferencedColumn))
		b.WriteString(")")
	}

	b.WriteString("\n);")
	return b.String()
}

// SQLIdent double-quotes an identifier. Both SQLite and Postgres accept
// "quoted identifiers".
func SQLIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// SpecFromTable is a convenience that profiles t and derives its spec in
// one step.
func SpecFromTable(t normalize.Table, fk *ForeignKey) (TableSpec, error) {
	profiles, err := profile.AnalyzeColumns(t)
	if err != nil {
		return TableSpec{}, err
	}
	return BuildTableSpec(t.Name, profiles, fk)
}
