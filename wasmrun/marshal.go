package wasmrun

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/hanzoai/compute/params"
)

// positionalKeys names object-form parameters a,b,c,... up to 8 (spec §4.9).
var positionalKeys = []string{"a", "b", "c", "d", "e", "f", "g", "h"}

// coerceParams implements the spec §4.9 parameter marshaling rules: an
// array indexes positionally, an object indexes by a..h, a bare number only
// populates parameter 0, and anything else yields all zeros. Each slot then
// coerces via as_i64/as_f64-style "unwrap_or(0)" semantics.
func coerceParams(kinds []wasmer.ValueKind, paramsJSON []byte) ([]interface{}, error) {
	var v interface{}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &v); err != nil {
			return nil, err
		}
	}

	n := len(kinds)
	raw := make([]interface{}, n)
	switch t := v.(type) {
	case []interface{}:
		for i := 0; i < n; i++ {
			if i < len(t) {
				raw[i] = t[i]
			}
		}
	case map[string]interface{}:
		for i := 0; i < n && i < len(positionalKeys); i++ {
			raw[i] = t[positionalKeys[i]]
		}
	case float64:
		if n > 0 {
			raw[0] = t
		}
	}

	out := make([]interface{}, n)
	for i, kind := range kinds {
		f := asFloat64(raw[i])
		switch kind {
		case wasmer.I32:
			out[i] = int32(f)
		case wasmer.I64:
			out[i] = int64(f)
		case wasmer.F32:
			out[i] = float32(f)
		case wasmer.F64:
			out[i] = f
		default:
			out[i] = int32(f)
		}
	}
	return out, nil
}

// asFloat64 mirrors as_i64().unwrap_or(0)/as_f64().unwrap_or(0.0): anything
// that isn't a number coerces to zero. Accepts both JSON-decoded float64
// parameters and native Go scalar results (int32/int64/float32/float64).
func asFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// isStringReturnFunc applies the string-return naming convention: name ends
// in "_str", equals "hello", or begins with "get_string" (spec §4.9).
func isStringReturnFunc(name string) bool {
	return strings.HasSuffix(name, "_str") || name == "hello" || strings.HasPrefix(name, "get_string")
}

// marshalReturn implements the spec §4.9 return marshaling rules given the
// native Go value(s) wasmer.Function.Call produced: nil for zero results, a
// bare int32/int64/float32/float64 for one result, or []interface{} of those
// for multiple results.
func marshalReturn(funcName string, kinds []wasmer.ValueKind, result interface{}, ctx *execContext) (interface{}, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	if len(kinds) > 1 {
		multi, _ := result.([]interface{})
		arr := make([]interface{}, len(multi))
		copy(arr, multi)
		return arr, nil
	}

	kind := kinds[0]
	switch kind {
	case wasmer.F32, wasmer.F64:
		f := asFloat64(result)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return f, nil
	case wasmer.I32, wasmer.I64:
		if isStringReturnFunc(funcName) {
			offset := int32(asFloat64(result))
			if offset >= 0 {
				if s, ok := ctx.readCString(offset, params.WasmMaxStringReadLen); ok {
					return s, nil
				}
			}
		}
		return result, nil
	default:
		return result, nil
	}
}
