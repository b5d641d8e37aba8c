package layering

import "reflect"

// Merge composes values ordered from strongest to weakest. A field keeps the
// strongest non-zero setting; zero scalars, nil pointers, and empty slices
// fall through to weaker layers. A non-nil pointer to a scalar is explicit and
// wins even when it points at a zero value. Maps merge key by key.
//
// Unexported struct fields are left at their zero value.
func Merge[T any](layers ...T) T {
	var out T
	if len(layers) == 0 {
		return out
	}
	dst := reflect.ValueOf(&out).Elem()
	for i := range layers {
		fill(dst, reflect.ValueOf(&layers[i]).Elem())
	}
	return out
}

// fill copies into dst every part of src that dst has not set yet. dst is
// always owned by the merge, so nested writes never reach a layer.
func fill(dst, src reflect.Value) {
	switch dst.Kind() {
	case reflect.Struct:
		for i := 0; i < dst.NumField(); i++ {
			if field := dst.Field(i); field.CanSet() {
				fill(field, src.Field(i))
			}
		}
	case reflect.Pointer:
		switch {
		case src.IsNil():
		case dst.IsNil():
			dst.Set(deepCopy(src))
		case dst.Elem().Kind() == reflect.Struct:
			fill(dst.Elem(), src.Elem())
		}
	case reflect.Map:
		if src.IsNil() {
			return
		}
		if dst.IsNil() {
			dst.Set(deepCopy(src))
			return
		}
		for iter := src.MapRange(); iter.Next(); {
			key := iter.Key()
			current := dst.MapIndex(key)
			if !current.IsValid() {
				dst.SetMapIndex(key, deepCopy(iter.Value()))
				continue
			}
			slot := reflect.New(dst.Type().Elem()).Elem()
			slot.Set(current)
			fill(slot, iter.Value())
			dst.SetMapIndex(key, slot)
		}
	case reflect.Slice:
		if (dst.IsNil() && !src.IsNil()) || (dst.Len() == 0 && src.Len() > 0) {
			dst.Set(deepCopy(src))
		}
	case reflect.Interface:
		if dst.IsNil() && !src.IsNil() {
			dst.Set(deepCopy(src))
		}
	default:
		if dst.IsZero() {
			dst.Set(src)
		}
	}
}

// deepCopy returns v with fresh backing storage for every pointer, map, and
// slice reachable through exported fields.
func deepCopy(v reflect.Value) reflect.Value {
	out := reflect.New(v.Type()).Elem()
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			elem := reflect.New(v.Type().Elem())
			elem.Elem().Set(deepCopy(v.Elem()))
			out.Set(elem)
		}
	case reflect.Interface:
		if !v.IsNil() {
			out.Set(deepCopy(v.Elem()))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if field := out.Field(i); field.CanSet() {
				field.Set(deepCopy(v.Field(i)))
			}
		}
	case reflect.Map:
		if !v.IsNil() {
			out.Set(reflect.MakeMapWithSize(v.Type(), v.Len()))
			for iter := v.MapRange(); iter.Next(); {
				out.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
			}
		}
	case reflect.Slice:
		if !v.IsNil() {
			out.Set(reflect.MakeSlice(v.Type(), v.Len(), v.Len()))
			for i := 0; i < v.Len(); i++ {
				out.Index(i).Set(deepCopy(v.Index(i)))
			}
		}
	default:
		out.Set(v)
	}
	return out
}
