package forgetest

import (
	"fmt"
	"reflect"
)

// copyValue assigns val into the value pointed to by out using
// reflection, mirroring what json.Unmarshal would do to a typed
// destination pointer without requiring an actual JSON round-trip.
func copyValue(out any, val any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("forgetest: FetchJSON out must be a non-nil pointer, got %T", out)
	}
	elem := rv.Elem()
	valRV := reflect.ValueOf(val)
	if !valRV.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("forgetest: fixture type %T is not assignable to out type %T", val, out)
	}
	elem.Set(valRV)
	return nil
}
