package parse

import (
	"fmt"
	"math"
	"strings"

	"tidbyt.dev/gtfsync/table"
)

// Cell contents treated as absent.
var nullTokens = map[string]bool{
	"":     true,
	"NULL": true,
}

// A column holding values that can't be represented in the type the
// store has for it.
type SchemaMismatchError struct {
	Table    string
	Column   string
	Expected table.ColumnType

	// Number of offending cells, and the first of them.
	Count   int
	Example string
	Err     error
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf(
		"%s.%s: %d value(s) not convertible to %s (e.g. %q): %v",
		e.Table, e.Column, e.Count, e.Expected, e.Example, e.Err,
	)
}

func (e *SchemaMismatchError) Unwrap() error {
	return e.Err
}

// All column mismatches found in one table.
type SchemaMismatchErrors []*SchemaMismatchError

func (errs SchemaMismatchErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (errs SchemaMismatchErrors) Unwrap() []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// True if v is absent or a null token.
func IsNull(v table.Value) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return nullTokens[x]
	case float64:
		return math.IsNaN(x)
	}
	return false
}

func CleanValue(v table.Value) table.Value {
	if IsNull(v) {
		return nil
	}
	return v
}

// Copy of r with null tokens replaced by nil.
func CleanRecord(r table.Row) table.Row {
	out := make(table.Row, len(r))
	for k, v := range r {
		out[k] = CleanValue(v)
	}
	return out
}

// Normalizes a raw table: null tokens become nil in every cell, and
// each column listed in types is converted to that type. Columns not
// in types pass through as they are.
//
// Cells that can't be converted become nil, and their column is
// reported as a *SchemaMismatchError. All such errors are returned
// together as SchemaMismatchErrors, next to a table where every cell
// holds its column's type. The input table is not modified.
func Sanitize(t table.Table, types table.Types) (table.Table, error) {
	out := table.Table{
		Name:    t.Name,
		Columns: append([]string{}, t.Columns...),
		Rows:    make([]table.Row, len(t.Rows)),
		Types:   table.Types{},
	}
	for i, r := range t.Rows {
		out.Rows[i] = CleanRecord(r)
	}

	var mismatches SchemaMismatchErrors
	for _, column := range t.Columns {
		typ, ok := types[column]
		if !ok {
			continue
		}

		converted := make([]table.Value, len(out.Rows))
		var mismatch *SchemaMismatchError
		for i, r := range out.Rows {
			v, err := table.Coerce(r[column], typ)
			if err != nil {
				if mismatch == nil {
					mismatch = &SchemaMismatchError{
						Table:    t.Name,
						Column:   column,
						Expected: typ,
						Example:  table.Format(r[column]),
						Err:      err,
					}
				}
				mismatch.Count++
				continue
			}
			converted[i] = v
		}

		if mismatch != nil {
			mismatches = append(mismatches, mismatch)
		}

		for i, r := range out.Rows {
			r[column] = converted[i]
		}
		out.Types[column] = typ
	}

	if len(mismatches) > 0 {
		return out, mismatches
	}
	return out, nil
}
