package task

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Canonicalize renders an intent-parameter value as deterministic JSON:
// object keys are emitted in sorted order at every depth, arrays preserve
// order, times serialize as RFC3339, and values JSON cannot represent
// (functions, channels, cycles) collapse to a sentinel string. Two maps with
// the same entries always canonicalize identically regardless of insertion
// order.
func Canonicalize(v any) string {
	var b strings.Builder
	writeCanonical(&b, reflect.ValueOf(v), map[uintptr]bool{})
	return b.String()
}

const unserializable = `"[unserializable]"`

func writeCanonical(b *strings.Builder, v reflect.Value, seen map[uintptr]bool) {
	if !v.IsValid() {
		b.WriteString("null")
		return
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			b.WriteString("null")
			return
		}
		if v.Kind() == reflect.Pointer {
			ptr := v.Pointer()
			if seen[ptr] {
				b.WriteString(unserializable)
				return
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		writeCanonical(b, v.Elem(), seen)
	case reflect.Map:
		ptr := v.Pointer()
		if seen[ptr] {
			b.WriteString(unserializable)
			return
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		keys := make([]string, 0, v.Len())
		byKey := make(map[string]reflect.Value, v.Len())
		for _, k := range v.MapKeys() {
			ks := fmt.Sprint(k.Interface())
			keys = append(keys, ks)
			byKey[ks] = v.MapIndex(k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeCanonical(b, byKey[k], seen)
		}
		b.WriteByte('}')
	case reflect.Slice:
		if v.IsNil() {
			b.WriteString("null")
			return
		}
		ptr := v.Pointer()
		if seen[ptr] {
			b.WriteString(unserializable)
			return
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		writeArray(b, v, seen)
	case reflect.Array:
		writeArray(b, v, seen)
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			b.WriteString(strconv.Quote(t.UTC().Format(time.RFC3339Nano)))
			return
		}
		// Structs round-trip through JSON into a map so field tags and
		// omitempty apply, then canonicalize as an object.
		raw, err := json.Marshal(v.Interface())
		if err != nil {
			b.WriteString(unserializable)
			return
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			// Non-object struct encodings (e.g. custom marshalers) are
			// already deterministic.
			b.Write(raw)
			return
		}
		writeCanonical(b, reflect.ValueOf(m), seen)
	case reflect.String:
		b.WriteString(strconv.Quote(v.String()))
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Large integers serialize as strings so they survive consumers that
		// parse JSON numbers as float64.
		i := v.Int()
		if i > maxInt53 || i < -maxInt53 {
			b.WriteString(strconv.Quote(strconv.FormatInt(i, 10)))
			return
		}
		b.WriteString(strconv.FormatInt(i, 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > maxInt53 {
			b.WriteString(strconv.Quote(strconv.FormatUint(u, 10)))
			return
		}
		b.WriteString(strconv.FormatUint(u, 10))
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			b.WriteString("null")
			return
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	default:
		b.WriteString(unserializable)
	}
}

func writeArray(b *strings.Builder, v reflect.Value, seen map[uintptr]bool) {
	b.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		writeCanonical(b, v.Index(i), seen)
	}
	b.WriteByte(']')
}

// maxInt53 is the largest integer exactly representable as a float64.
const maxInt53 = 1<<53 - 1
