// Package param models values flowing between callers and drivers: the
// closed set of value kinds, by-value copies, by-reference accessors, and
// the binding record the statement registry stores.
package param

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	"github.com/shrek82/dbo/sqlstate"
)

// Kind tags a bound or fetched value.
type Kind int

const (
	Null Kind = iota
	Integer
	Float
	Boolean
	String
	LargeObject
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Boolean:
		return "boolean"
	case String:
		return "string"
	case LargeObject:
		return "lob"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a kind plus its canonical text. The text of a Null value is empty.
type Value struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// NullValue is the SQL NULL.
var NullValue = Value{Kind: Null}

func Int(v int64) Value       { return Value{Kind: Integer, Text: strconv.FormatInt(v, 10)} }
func Float64(v float64) Value { return Value{Kind: Float, Text: strconv.FormatFloat(v, 'g', -1, 64)} }
func Text(v string) Value     { return Value{Kind: String, Text: v} }
func Bytes(v []byte) Value    { return Value{Kind: LargeObject, Text: string(v)} }

func Bool(v bool) Value {
	if v {
		return Value{Kind: Boolean, Text: "1"}
	}
	return Value{Kind: Boolean, Text: "0"}
}

// IsNull reports whether v is the SQL NULL.
func (v Value) IsNull() bool { return v.Kind == Null }

// Literal returns the unquoted inline form used by emulated binding for
// Null, Integer and Boolean values.
func (v Value) Literal() string {
	if v.Kind == Null {
		return "NULL"
	}
	return v.Text
}

// Native converts v into the Go value database/sql drivers accept.
func (v Value) Native() any {
	switch v.Kind {
	case Null:
		return nil
	case Integer:
		if n, err := strconv.ParseInt(v.Text, 10, 64); err == nil {
			return n
		}
	case Float:
		if f, err := strconv.ParseFloat(v.Text, 64); err == nil {
			return f
		}
	case Boolean:
		return v.Text == "1"
	case LargeObject:
		return []byte(v.Text)
	}
	return v.Text
}

// Of converts an arbitrary Go value into a Value once, eagerly.
func Of(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return NullValue, nil
	case Value:
		return v, nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return Value{Kind: Integer, Text: strconv.FormatUint(uint64(v), 10)}, nil
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint64:
		return Value{Kind: Integer, Text: strconv.FormatUint(v, 10)}, nil
	case float32:
		return Value{Kind: Float, Text: strconv.FormatFloat(float64(v), 'g', -1, 32)}, nil
	case float64:
		return Float64(v), nil
	case bool:
		return Bool(v), nil
	case string:
		return Text(v), nil
	case []byte:
		if v == nil {
			return NullValue, nil
		}
		return Bytes(v), nil
	case time.Time:
		return Text(v.Format("2006-01-02 15:04:05.999999999")), nil
	case *int64:
		if v == nil {
			return NullValue, nil
		}
		return Int(*v), nil
	case *string:
		if v == nil {
			return NullValue, nil
		}
		return Text(*v), nil
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil {
			return NullValue, sqlstate.New(sqlstate.DataException, err.Error())
		}
		if _, again := dv.(driver.Valuer); again {
			return NullValue, sqlstate.Newf(sqlstate.InvalidParamType, "unsupported value %T", x)
		}
		return Of(dv)
	case fmt.Stringer:
		return Text(v.String()), nil
	}
	return NullValue, sqlstate.Newf(sqlstate.InvalidParamType, "unsupported value %T", x)
}
