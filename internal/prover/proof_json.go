package prover

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// hasJSONValue reports whether raw holds something other than nothing or null.
func hasJSONValue(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// decodeProofJSON converts the receipt's proof object into a value of typ's Go type, so it can be
// packed back into a contract call. Tuple fields match by their ABI name, case-insensitively.
// Integers may be JSON numbers, decimal strings, or 0x hex strings; byte types are 0x hex.
func decodeProofJSON(typ abi.Type, raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode proof json: %w", err)
	}
	out, err := jsonToABI(typ, v, "proof")
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

func jsonToABI(typ abi.Type, v any, path string) (reflect.Value, error) {
	goType := typ.GetType()
	switch typ.T {
	case abi.TupleTy:
		obj, ok := v.(map[string]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%s: want object, got %T", path, v)
		}
		out := reflect.New(goType).Elem()
		for i, elem := range typ.TupleElems {
			name := typ.TupleRawNames[i]
			fv, ok := lookupField(obj, name)
			if !ok {
				return reflect.Value{}, fmt.Errorf("%s.%s: missing", path, name)
			}
			val, err := jsonToABI(*elem, fv, path+"."+name)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Field(i).Set(val)
		}
		return out, nil

	case abi.SliceTy, abi.ArrayTy:
		items, ok := v.([]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%s: want array, got %T", path, v)
		}
		var out reflect.Value
		if typ.T == abi.ArrayTy {
			if len(items) != typ.Size {
				return reflect.Value{}, fmt.Errorf("%s: want %d items, got %d", path, typ.Size, len(items))
			}
			out = reflect.New(goType).Elem()
		} else {
			out = reflect.MakeSlice(goType, len(items), len(items))
		}
		for i, item := range items {
			val, err := jsonToABI(*typ.Elem, item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(val)
		}
		return out, nil

	case abi.IntTy, abi.UintTy:
		n, err := jsonInt(v)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%s: %w", path, err)
		}
		if typ.T == abi.UintTy && n.Sign() < 0 {
			return reflect.Value{}, fmt.Errorf("%s: negative value for %s", path, typ.String())
		}
		if goType == reflect.TypeOf(&big.Int{}) {
			return reflect.ValueOf(n), nil
		}
		out := reflect.New(goType).Elem()
		if typ.T == abi.UintTy {
			if !n.IsUint64() || out.OverflowUint(n.Uint64()) {
				return reflect.Value{}, fmt.Errorf("%s: %s overflows %s", path, n, typ.String())
			}
			out.SetUint(n.Uint64())
		} else {
			if !n.IsInt64() || out.OverflowInt(n.Int64()) {
				return reflect.Value{}, fmt.Errorf("%s: %s overflows %s", path, n, typ.String())
			}
			out.SetInt(n.Int64())
		}
		return out, nil

	case abi.BoolTy:
		b, ok := v.(bool)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%s: want bool, got %T", path, v)
		}
		return reflect.ValueOf(b), nil

	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%s: want string, got %T", path, v)
		}
		return reflect.ValueOf(s), nil

	case abi.AddressTy:
		s, ok := v.(string)
		if !ok || !common.IsHexAddress(s) {
			return reflect.Value{}, fmt.Errorf("%s: want hex address, got %v", path, v)
		}
		return reflect.ValueOf(common.HexToAddress(s)), nil

	case abi.BytesTy, abi.FixedBytesTy:
		s, ok := v.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%s: want hex string, got %T", path, v)
		}
		b, err := hexutil.Decode(s)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%s: %w", path, err)
		}
		if typ.T == abi.BytesTy {
			return reflect.ValueOf(b), nil
		}
		if len(b) != typ.Size {
			return reflect.Value{}, fmt.Errorf("%s: want %d bytes, got %d", path, typ.Size, len(b))
		}
		out := reflect.New(goType).Elem()
		reflect.Copy(out, reflect.ValueOf(b))
		return out, nil

	default:
		return reflect.Value{}, fmt.Errorf("%s: unsupported abi type %s", path, typ.String())
	}
}

func lookupField(obj map[string]any, name string) (any, bool) {
	if v, ok := obj[name]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func jsonInt(v any) (*big.Int, error) {
	switch x := v.(type) {
	case json.Number:
		n, ok := new(big.Int).SetString(x.String(), 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", x.String())
		}
		return n, nil
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			n, ok := new(big.Int).SetString(s[2:], 16)
			if !ok {
				return nil, fmt.Errorf("invalid hex integer %q", s)
			}
			return n, nil
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("want integer, got %T", v)
	}
}
