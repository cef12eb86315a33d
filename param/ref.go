package param

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unsafe"

	"github.com/shrek82/dbo/sqlstate"
)

// Ref is a live accessor to caller storage. Parameters bound by reference
// are read on every execute; columns bound by reference are written on every
// fetch.
type Ref interface {
	Kind() Kind
	Load() Value
	Store(text string, null bool) error
}

type integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

type floating interface {
	~float32 | ~float64
}

// IntRef binds a signed integer variable.
func IntRef[T integer](p *T) Ref { return intRef[T]{p} }

// FloatRef binds a floating point variable.
func FloatRef[T floating](p *T) Ref { return floatRef[T]{p} }

// BoolRef binds a boolean variable.
func BoolRef(p *bool) Ref { return boolRef{p} }

// StringRef binds a string variable.
func StringRef(p *string) Ref { return stringRef{p} }

// FuncRef builds a Ref from a pair of callbacks.
func FuncRef(kind Kind, load func() Value, store func(text string, null bool) error) Ref {
	return funcRef{kind: kind, load: load, store: store}
}

// RefOf picks the Ref for a pointer to one of the supported families.
func RefOf(p any) (Ref, error) {
	switch v := p.(type) {
	case Ref:
		return v, nil
	case *int:
		return IntRef(v), nil
	case *int8:
		return IntRef(v), nil
	case *int16:
		return IntRef(v), nil
	case *int32:
		return IntRef(v), nil
	case *int64:
		return IntRef(v), nil
	case *float32:
		return FloatRef(v), nil
	case *float64:
		return FloatRef(v), nil
	case *bool:
		return BoolRef(v), nil
	case *string:
		return StringRef(v), nil
	}
	return nil, sqlstate.Newf(sqlstate.InvalidParamType, "cannot bind %T by reference", p)
}

type intRef[T integer] struct{ p *T }

func (r intRef[T]) Kind() Kind  { return Integer }
func (r intRef[T]) Load() Value { return Int(int64(*r.p)) }

func (r intRef[T]) Store(text string, null bool) error {
	if null {
		*r.p = 0
		return nil
	}
	text = strings.TrimSpace(text)
	bits := int(unsafe.Sizeof(*r.p)) * 8
	n, err := strconv.ParseInt(text, 10, bits)
	if err == nil {
		*r.p = T(n)
		return nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return sqlstate.Newf(sqlstate.NumericOutOfRange, "%q does not fit a %d-bit integer", text, bits)
	}
	// Integral floats such as "3.0" or "1e3" are accepted.
	f, ferr := strconv.ParseFloat(text, 64)
	if ferr != nil && !errors.Is(ferr, strconv.ErrRange) {
		return sqlstate.Newf(sqlstate.InvalidCastValue, "%q is not an integer", text)
	}
	if f != math.Trunc(f) {
		return sqlstate.Newf(sqlstate.InvalidCastValue, "%q is not an integral value", text)
	}
	if limit := math.Ldexp(1, bits-1); f < -limit || f >= limit {
		return sqlstate.Newf(sqlstate.NumericOutOfRange, "%q does not fit a %d-bit integer", text, bits)
	}
	*r.p = T(f)
	return nil
}

type floatRef[T floating] struct{ p *T }

func (r floatRef[T]) Kind() Kind  { return Float }
func (r floatRef[T]) Load() Value { return Float64(float64(*r.p)) }

func (r floatRef[T]) Store(text string, null bool) error {
	if null {
		*r.p = 0
		return nil
	}
	bits := int(unsafe.Sizeof(*r.p)) * 8
	f, err := strconv.ParseFloat(strings.TrimSpace(text), bits)
	if errors.Is(err, strconv.ErrRange) {
		return sqlstate.Newf(sqlstate.NumericOutOfRange, "%q does not fit a %d-bit float", text, bits)
	}
	if err != nil {
		return sqlstate.Newf(sqlstate.InvalidCastValue, "%q is not a number", text)
	}
	*r.p = T(f)
	return nil
}

type boolRef struct{ p *bool }

func (r boolRef) Kind() Kind  { return Boolean }
func (r boolRef) Load() Value { return Bool(*r.p) }

func (r boolRef) Store(text string, null bool) error {
	if null {
		*r.p = false
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "1", "t", "true", "y", "yes", "on":
		*r.p = true
	case "0", "f", "false", "n", "no", "off", "":
		*r.p = false
	default:
		return sqlstate.Newf(sqlstate.InvalidCastValue, "%q is not a boolean", text)
	}
	return nil
}

type stringRef struct{ p *string }

func (r stringRef) Kind() Kind  { return String }
func (r stringRef) Load() Value { return Text(*r.p) }

func (r stringRef) Store(text string, null bool) error {
	*r.p = text
	return nil
}

type funcRef struct {
	kind  Kind
	load  func() Value
	store func(string, bool) error
}

func (r funcRef) Kind() Kind { return r.kind }

func (r funcRef) Load() Value {
	if r.load == nil {
		return NullValue
	}
	return r.load()
}

func (r funcRef) Store(text string, null bool) error {
	if r.store == nil {
		return nil
	}
	return r.store(text, null)
}
