package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Holds a single cell. The only absent marker is nil; otherwise a
// Value is one of string, int64, float64 or bool.
type Value = any

// A record, keyed by column name. Columns missing from the map are
// absent.
type Row map[string]Value

// An in-memory table, carrying its column order and (optionally) the
// types its columns are expected to hold.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
	Types   Types
}

func New(name string, columns []string, rows []Row) Table {
	return Table{
		Name:    name,
		Columns: columns,
		Rows:    rows,
	}
}

func (t Table) Len() int {
	return len(t.Rows)
}

func (t Table) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Returns the columns in want that the table lacks, in want's order.
func (t Table) Missing(want []string) []string {
	missing := []string{}
	for _, c := range want {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// Copy of the table with all rows copied. Cell values are immutable
// so rows are copied one level deep.
func (t Table) Clone() Table {
	c := Table{
		Name:    t.Name,
		Columns: append([]string{}, t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		c.Rows[i] = r.Clone()
	}
	if t.Types != nil {
		c.Types = t.Types.Clone()
	}
	return c
}

func (r Row) Clone() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// String value of a column, "" if absent.
func (r Row) String(column string) string {
	return Format(r[column])
}

type ColumnType int

const (
	String ColumnType = iota
	Int
	Float
	Bool
)

func (c ColumnType) String() string {
	switch c {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("ColumnType(%d)", int(c))
}

// Maps column name to type. This is the remembered shape of a table
// as last read from the store.
type Types map[string]ColumnType

func (t Types) Clone() Types {
	c := make(Types, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// Merges other into a copy of t. Columns in other win.
func (t Types) Merge(other Types) Types {
	m := t.Clone()
	for k, v := range other {
		m[k] = v
	}
	return m
}

// Type of a non-nil canonical value.
func TypeOf(v Value) (ColumnType, bool) {
	switch v.(type) {
	case string:
		return String, true
	case int64:
		return Int, true
	case float64:
		return Float, true
	case bool:
		return Bool, true
	}
	return String, false
}

// Infers column types from the first non-nil value of each
// column. Columns mixing ints and floats become Float. Columns with
// only nil values are left out.
func InferTypes(columns []string, rows []Row) Types {
	types := Types{}
	for _, c := range columns {
		for _, r := range rows {
			typ, ok := TypeOf(r[c])
			if !ok {
				continue
			}
			prev, seen := types[c]
			if !seen {
				types[c] = typ
				continue
			}
			if prev == Int && typ == Float {
				types[c] = Float
			}
		}
	}
	return types
}

// Converts driver and decoder output into a canonical Value.
func Normalize(v any) Value {
	switch x := v.(type) {
	case nil:
		return nil
	case string, int64, float64, bool:
		return x
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

// Canonical string form of a value. nil formats as "".
func Format(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

// Converts v to the given type. nil stays nil. Fails if v holds a
// value with no faithful representation in typ.
func Coerce(v Value, typ ColumnType) (Value, error) {
	v = Normalize(v)
	if v == nil {
		return nil, nil
	}

	switch typ {
	case String:
		return Format(v), nil

	case Int:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("%v is not a whole number", x)
			}
			return int64(x), nil
		case string:
			s := strings.TrimSpace(x)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || f != math.Trunc(f) {
				return nil, fmt.Errorf("%q is not an integer", x)
			}
			return int64(f), nil
		}

	case Float:
		switch x := v.(type) {
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", x)
			}
			return f, nil
		}

	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("%q is not a boolean", x)
			}
			return b, nil
		}
	}

	return nil, fmt.Errorf("cannot convert %T %q to %s", v, Format(v), typ)
}
