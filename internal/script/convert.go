package script

import (
	"fmt"
	"reflect"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/hearth/internal/extension"
)

// fielder is implemented by values that present themselves to scripts as a
// plain table, such as bridge events and window descriptions.
type fielder interface {
	Fields() map[string]any
}

// Converter converts values between Go and Lua.
type Converter struct {
	L *lua.LState

	// capture turns a Lua function into a Callback. When nil functions
	// convert to nil.
	capture func(*lua.LFunction) extension.Callback
}

// NewConverter creates a Converter for L. capture may be nil.
func NewConverter(L *lua.LState, capture func(*lua.LFunction) extension.Callback) *Converter {
	return &Converter{L: L, capture: capture}
}

// ToGo converts a Lua value to nil, bool, int64, float64, string, []any,
// map[string]any, extension.Callback, or the value held by userdata.
// Integral numbers become int64. A table with keys 1..n becomes a list.
func (c *Converter) ToGo(lv lua.LValue) any {
	return c.toGo(lv, make(map[*lua.LTable]bool))
}

func (c *Converter) toGo(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		out := c.tableToGo(v, visited)
		delete(visited, v)
		return out
	case *lua.LFunction:
		if c.capture == nil {
			return nil
		}
		return c.capture(v)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func (c *Converter) tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	isArray := true
	maxN, count := 0, 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = c.toGo(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = kv.String()
		default:
			key = k.String()
		}
		m[key] = c.toGo(v, visited)
	})
	return m
}

// ToLua converts a Go value to a Lua value.
func (c *Converter) ToLua(v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case time.Time:
		return lua.LNumber(float64(val.UnixMilli()) / 1000)
	case time.Duration:
		return lua.LNumber(val.Milliseconds())
	case []any:
		t := c.L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, c.ToLua(item))
		}
		return t
	case []string:
		t := c.L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, lua.LString(item))
		}
		return t
	case map[string]any:
		t := c.L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, c.ToLua(item))
		}
		return t
	case map[string]string:
		t := c.L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	case fielder:
		return c.ToLua(val.Fields())
	case extension.Callback:
		if fn, ok := val.(*callback); ok {
			return fn.fn
		}
		return lua.LNil
	case error:
		return ErrorTable(c.L, val)
	default:
		return c.reflectToLua(v)
	}
}

// reflectToLua handles named numeric and string types, slices, maps and
// structs.
func (c *Converter) reflectToLua(v any) lua.LValue {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.Ptr:
		if rv.IsNil() {
			return lua.LNil
		}
		return c.ToLua(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		t := c.L.CreateTable(rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, c.ToLua(rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		t := c.L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(c.ToLua(iter.Key().Interface()), c.ToLua(iter.Value().Interface()))
		}
		return t
	case reflect.Struct:
		return c.structToTable(rv)
	default:
		ud := c.L.NewUserData()
		ud.Value = v
		return ud
	}
}

// structToTable uses the json tag name when present, else the field name.
func (c *Converter) structToTable(rv reflect.Value) *lua.LTable {
	t := c.L.NewTable()
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue
		}
		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" && tag != "-" {
			for j := 0; j < len(tag); j++ {
				if tag[j] == ',' {
					tag = tag[:j]
					break
				}
			}
			if tag != "" {
				name = tag
			}
		}
		t.RawSetString(name, c.ToLua(rv.Field(i).Interface()))
	}
	return t
}

// ArgsToGo converts the values on L's stack from index start to the top.
func (c *Converter) ArgsToGo(L *lua.LState, start int) []any {
	top := L.GetTop()
	if top < start {
		return nil
	}
	args := make([]any, 0, top-start+1)
	for i := start; i <= top; i++ {
		args = append(args, c.ToGo(L.Get(i)))
	}
	return args
}

// callback is a Lua function captured as an op argument.
type callback struct {
	id int64
	fn *lua.LFunction
}

// CallbackID implements extension.Callback.
func (c *callback) CallbackID() int64 {
	return c.id
}

func (c *callback) String() string {
	return fmt.Sprintf("callback#%d", c.id)
}
