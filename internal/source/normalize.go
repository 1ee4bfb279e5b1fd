package source

import (
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const maxValuerDepth = 4

// Normalize maps a backend-native value onto string, int64, float64, bool or nil.
// Temporal, decimal and binary values become deterministic strings.
func Normalize(value any) any {
	return normalize(value, 0)
}

func normalize(value any, depth int) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case bool:
		return typed
	case string:
		return typed
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case int64:
		return typed
	case uint:
		return fromUint(uint64(typed))
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		return fromUint(typed)
	case float32:
		return fromFloat(float64(typed))
	case float64:
		return fromFloat(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if typed == nil {
			return nil
		}
		return typed.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return typed.String()
	case []byte:
		if typed == nil {
			return nil
		}
		if utf8.Valid(typed) {
			return string(typed)
		}
		return base64.StdEncoding.EncodeToString(typed)
	case json.RawMessage:
		return string(typed)
	case json.Number:
		return typed.String()
	case *big.Int:
		if typed == nil {
			return nil
		}
		return typed.String()
	case *big.Rat:
		if typed == nil {
			return nil
		}
		return RatString(typed)
	case *big.Float:
		if typed == nil {
			return nil
		}
		return typed.Text('f', -1)
	case driver.Valuer:
		if depth >= maxValuerDepth {
			return fmt.Sprint(typed)
		}
		if isNilPointer(typed) {
			return nil
		}
		inner, err := typed.Value()
		if err != nil {
			return fmt.Sprint(typed)
		}
		return normalize(inner, depth+1)
	case fmt.Stringer:
		if isNilPointer(typed) {
			return nil
		}
		return typed.String()
	}
	return normalizeComposite(value, depth)
}

func fromUint(value uint64) any {
	if value > math.MaxInt64 {
		return strconv.FormatUint(value, 10)
	}
	return int64(value)
}

func fromFloat(value float64) any {
	switch {
	case math.IsNaN(value):
		return "NaN"
	case math.IsInf(value, 1):
		return "Infinity"
	case math.IsInf(value, -1):
		return "-Infinity"
	}
	return value
}

func normalizeComposite(value any, depth int) any {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		if depth >= maxValuerDepth {
			return fmt.Sprint(value)
		}
		return normalize(rv.Elem().Interface(), depth+1)
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fromUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return fromFloat(rv.Float())
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(buf), rv)
			return normalize(buf, depth)
		}
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(encoded)
}

// RatString renders r as an exact decimal when its denominator allows it, and with 18
// fractional digits otherwise.
func RatString(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	denom := new(big.Int).Set(r.Denom())
	two, five := big.NewInt(2), big.NewInt(5)
	zero := big.NewInt(0)
	mod := new(big.Int)
	twos, fives := 0, 0
	for mod.Mod(denom, two).Cmp(zero) == 0 {
		denom.Quo(denom, two)
		twos++
	}
	for mod.Mod(denom, five).Cmp(zero) == 0 {
		denom.Quo(denom, five)
		fives++
	}
	if denom.Cmp(big.NewInt(1)) == 0 {
		return r.FloatString(max(twos, fives))
	}
	return r.FloatString(18)
}

// DecimalString renders an unscaled integer with the given scale, e.g. (12345, 2) -> "123.45".
func DecimalString(unscaled *big.Int, scale int) string {
	if unscaled == nil {
		return ""
	}
	if scale <= 0 {
		return unscaled.String()
	}
	digits := new(big.Int).Abs(unscaled).String()
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale
	out := digits[:point] + "." + digits[point:]
	if unscaled.Sign() < 0 {
		out = "-" + out
	}
	return out
}

func isNilPointer(value any) bool {
	rv := reflect.ValueOf(value)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
