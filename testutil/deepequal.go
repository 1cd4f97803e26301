package testutil

import (
	"fmt"
	"reflect"

	"github.com/leftmike/rowcache/sql"
)

type differ struct {
	trace string
}

func (d *differ) notEqual(v1, v2 reflect.Value) bool {
	d.trace = fmt.Sprintf("%#v != %#v\n%s", v1, v2, d.trace)
	return false
}

func (d *differ) values(v1, v2 reflect.Value) bool {
	if !v1.IsValid() || !v2.IsValid() {
		return v1.IsValid() == v2.IsValid()
	}
	if v1.Type() != v2.Type() {
		d.trace = fmt.Sprintf("%#v.Type() != %#v.Type()\n", v1, v2)
		return false
	}

	switch v1.Kind() {
	case reflect.Array, reflect.Slice:
		if v1.Kind() == reflect.Slice {
			if v1.IsNil() != v2.IsNil() || v1.Len() != v2.Len() {
				return d.notEqual(v1, v2)
			}
			if v1.Pointer() == v2.Pointer() {
				return true
			}
		}
		for i := 0; i < v1.Len(); i++ {
			if !d.values(v1.Index(i), v2.Index(i)) {
				d.trace = fmt.Sprintf("%s[%d]: %s", v1.Type(), i, d.trace)
				return false
			}
		}
		return true
	case reflect.Interface:
		if v1.IsNil() || v2.IsNil() {
			if v1.IsNil() != v2.IsNil() {
				return d.notEqual(v1, v2)
			}
			return true
		}
		return d.values(v1.Elem(), v2.Elem())
	case reflect.Ptr:
		if v1.Pointer() == v2.Pointer() {
			return true
		}
		return d.values(v1.Elem(), v2.Elem())
	case reflect.Struct:
		for i := 0; i < v1.NumField(); i++ {
			if !d.values(v1.Field(i), v2.Field(i)) {
				d.trace = fmt.Sprintf("%s.%s: %s", v1.Type(), v1.Type().Field(i).Name, d.trace)
				return false
			}
		}
		return true
	case reflect.Map:
		if v1.IsNil() != v2.IsNil() || v1.Len() != v2.Len() {
			return d.notEqual(v1, v2)
		}
		for _, k := range v1.MapKeys() {
			val2 := v2.MapIndex(k)
			if !val2.IsValid() {
				return d.notEqual(v1, v2)
			}
			if !d.values(v1.MapIndex(k), val2) {
				d.trace = fmt.Sprintf("%s[%v]: %s", v1.Type(), k, d.trace)
				return false
			}
		}
		return true
	case reflect.Func:
		if v1.IsNil() && v2.IsNil() {
			return true
		}
		return d.notEqual(v1, v2)
	default:
		if v1.CanInterface() && v1.Interface() != v2.Interface() {
			return d.notEqual(v1, v2)
		}
		return true
	}
}

// DeepEqual is reflect.DeepEqual except that rows are compared value by value
// and trc, when given, is set to a description of the first difference.
func DeepEqual(x, y interface{}, trc ...*string) bool {
	if len(trc) > 1 {
		panic("testutil.DeepEqual: more than one optional argument")
	}

	var d differ
	var eq bool
	if r1, ok := x.(sql.Row); ok {
		r2, ok := y.(sql.Row)
		eq = ok && r1.Equal(r2)
		if !eq {
			d.trace = fmt.Sprintf("%v != %v\n", x, y)
		}
	} else if x == nil || y == nil {
		eq = x == y
		if !eq {
			d.trace = fmt.Sprintf("%#v != %#v\n", x, y)
		}
	} else {
		eq = d.values(reflect.ValueOf(x), reflect.ValueOf(y))
	}

	if len(trc) == 1 && trc[0] != nil {
		*trc[0] = d.trace
	}
	return eq
}
