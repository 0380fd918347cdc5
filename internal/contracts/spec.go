package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrInvalidSpec = errors.New("contracts: invalid spec")

// Spec is a compiled contract: its ABI plus creation bytecode.
type Spec struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

// HasMethod reports whether the ABI declares name.
func (s Spec) HasMethod(name string) bool {
	_, ok := s.ABI.Methods[name]
	return ok
}

// LoadSpec reads a forge build artifact (out/<File>.sol/<Name>.json).
func LoadSpec(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("contracts: read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParseSpec(name, raw)
}

// ParseSpec decodes a forge artifact. Bytecode may be absent for ABI-only usage.
func ParseSpec(name string, raw []byte) (Spec, error) {
	var art struct {
		ABI      json.RawMessage `json:"abi"`
		Bytecode json.RawMessage `json:"bytecode"`
	}
	if err := json.Unmarshal(raw, &art); err != nil {
		return Spec{}, fmt.Errorf("%w: %s: decode artifact: %v", ErrInvalidSpec, name, err)
	}
	if len(bytes.TrimSpace(art.ABI)) == 0 {
		return Spec{}, fmt.Errorf("%w: %s: missing abi", ErrInvalidSpec, name)
	}
	parsed, err := abi.JSON(bytes.NewReader(art.ABI))
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %s: parse abi: %v", ErrInvalidSpec, name, err)
	}

	code, err := decodeBytecode(art.Bytecode)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %s: bytecode: %v", ErrInvalidSpec, name, err)
	}
	return Spec{Name: name, ABI: parsed, Bytecode: code}, nil
}

// Forge emits {"object":"0x.."}; hardhat and solc emit a bare hex string.
func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var hexStr string
	if raw[0] == '{' {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		hexStr = obj.Object
	} else if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, err
	}
	hexStr = strings.TrimSpace(hexStr)
	if hexStr == "" || hexStr == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(hexStr, "0x") {
		hexStr = "0x" + hexStr
	}
	return hexutil.Decode(hexStr)
}
