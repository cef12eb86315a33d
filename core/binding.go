package core

import (
	"strings"

	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/query"
	"github.com/shrek82/dbo/sqlstate"
)

// bindings is an ordered binding registry. A binding is keyed by its name,
// or by its position when it has none.
type bindings struct {
	list []*param.Binding
}

func bindingKey(b *param.Binding) string { return b.Identity() }

// replace removes every binding sharing b's identity and returns them.
func (r *bindings) replace(b *param.Binding) []*param.Binding {
	key := bindingKey(b)
	var removed []*param.Binding
	kept := r.list[:0]
	for _, old := range r.list {
		if bindingKey(old) == key || (b.Position >= 0 && old.Position == b.Position) {
			removed = append(removed, old)
			continue
		}
		kept = append(kept, old)
	}
	r.list = kept
	return removed
}

func (r *bindings) add(b *param.Binding) { r.list = append(r.list, b) }

func (r *bindings) drop(b *param.Binding) {
	for i, x := range r.list {
		if x == b {
			r.list = append(r.list[:i], r.list[i+1:]...)
			return
		}
	}
}

func (r *bindings) clear() []*param.Binding {
	out := r.list
	r.list = nil
	return out
}

func (r *bindings) each(fn func(*param.Binding) error) error {
	for _, b := range r.list {
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

// Count, Named and Positional let the rewriter inline bound values.

func (r *bindings) Count() int { return len(r.list) }

func (r *bindings) Named(name string) (param.Value, bool) {
	for _, b := range r.list {
		if b.Name == name {
			return b.Current(), true
		}
	}
	return param.Value{}, false
}

func (r *bindings) Positional(i int) (param.Value, bool) {
	for _, b := range r.list {
		if b.Position == i {
			return b.Current(), true
		}
	}
	return param.Value{}, false
}

// identify fills Position or Name from a caller-supplied identity: an
// integer is a 1-based position, a string a name.
func identify(b *param.Binding, id any) error {
	b.Position = -1
	switch v := id.(type) {
	case int:
		return position(b, int64(v))
	case int32:
		return position(b, int64(v))
	case int64:
		return position(b, v)
	case string:
		if v == "" {
			return sqlstate.New(sqlstate.InvalidParamNumber, "Columns/Parameters need a name or a 1-based position")
		}
		b.Name = v
		if b.IsParam && v[0] != ':' && v[0] != '$' {
			b.Name = ":" + v
		}
		return nil
	}
	return sqlstate.Newf(sqlstate.InvalidParamNumber, "Columns/Parameters cannot bind to %T", id)
}

func position(b *param.Binding, n int64) error {
	if n < 1 {
		return sqlstate.New(sqlstate.InvalidParamNumber, "Columns/Parameters are 1-based")
	}
	b.Position = int(n - 1)
	return nil
}

// register stores a parameter or column binding. A binding the driver's
// normalize or alloc hook rejects is not retained.
func (s *Statement) register(id any, b *param.Binding) error {
	if s.state == stateClosed {
		return ErrStmtClosed
	}
	if err := identify(b, id); err != nil {
		return err
	}
	reg := &s.columns
	if b.IsParam {
		reg = &s.params
	} else if b.Name != "" && len(s.cols) > 0 {
		if err := s.resolveColumn(b); err != nil {
			return err
		}
	}
	if b.IsParam {
		if err := s.nameToPosition(b); err != nil {
			return err
		}
	}
	if err := s.drv.ParamHook(b, param.Normalize); err != nil {
		return err
	}
	for _, old := range reg.replace(b) {
		s.drv.ParamHook(old, param.Free)
	}
	reg.add(b)
	if err := s.drv.ParamHook(b, param.Alloc); err != nil {
		reg.drop(b)
		return err
	}
	return nil
}

func (s *Statement) resolveColumn(b *param.Binding) error {
	for i, c := range s.cols {
		if c.Name == b.Name {
			b.Position = i
			return nil
		}
	}
	return columnNotFound(b.Name)
}

func columnNotFound(name string) error {
	return sqlstate.Newf(sqlstate.General, "Did not find column name '%s' in the defined columns; it will not be bound", name)
}

// nameToPosition assigns positions to named parameters when the driver
// rewrote :name markers to "?".
func (s *Statement) nameToPosition(b *param.Binding) error {
	rw, ok := s.drv.(dialect.Rewritten)
	if !ok {
		return nil
	}
	res := rw.Rewrite()
	if res == nil || res.Outcome != query.Rewritten || res.Labels != nil {
		return nil
	}
	if b.Name == "" {
		if b.Position >= len(res.Order) {
			return sqlstate.New(sqlstate.InvalidParamNumber, "parameter was not defined")
		}
		return nil
	}
	at := -1
	for i, name := range res.Order {
		if name != b.Name {
			continue
		}
		if at >= 0 {
			return sqlstate.New(sqlstate.DriverNotCapable, "refuses to handle repeating the same :named parameter for multiple positions with this driver, as it might be unsafe to do so. Consider using a separate name for each parameter instead")
		}
		at = i
	}
	if at < 0 {
		return sqlstate.New(sqlstate.InvalidParamNumber, "parameter was not defined")
	}
	b.Position = at
	return nil
}

// BindValue binds a copy of v, converted once to its canonical text.
func (s *Statement) BindValue(id any, v any) error {
	s.err = nil
	val, err := param.Of(v)
	if err != nil {
		return s.raise(err)
	}
	return s.raise(s.register(id, &param.Binding{IsParam: true, Value: val}))
}

// BindParam binds caller storage; its current value is read on every
// Execute. ref is a pointer to an integer, float, bool or string variable,
// or a param.Ref.
func (s *Statement) BindParam(id any, ref any) error {
	s.err = nil
	r, err := param.RefOf(ref)
	if err != nil {
		return s.raise(err)
	}
	return s.raise(s.register(id, &param.Binding{IsParam: true, Ref: r}))
}

// BindColumn binds caller storage to a result column, by 1-based number or
// by name. The storage is written on every successful fetch.
func (s *Statement) BindColumn(id any, ref any) error {
	s.err = nil
	r, err := param.RefOf(ref)
	if err != nil {
		return s.raise(err)
	}
	return s.raise(s.register(id, &param.Binding{Ref: r}))
}

// NamedArg is an inline Execute argument addressed by name.
type NamedArg struct {
	Name  string
	Value any
}

// Named wraps v for Execute so it binds to :name.
func Named(name string, v any) NamedArg {
	return NamedArg{Name: strings.TrimPrefix(name, ":"), Value: v}
}

// bindInline replaces all parameter bindings with args, bound by value.
func (s *Statement) bindInline(args []any) error {
	for _, old := range s.params.clear() {
		s.drv.ParamHook(old, param.Free)
	}
	pos := 0
	for _, a := range args {
		var id any
		if n, ok := a.(NamedArg); ok {
			id, a = n.Name, n.Value
		} else {
			pos++
			id = pos
		}
		v, err := param.Of(a)
		if err != nil {
			return err
		}
		if err := s.register(id, &param.Binding{IsParam: true, Value: v}); err != nil {
			return err
		}
	}
	return nil
}
