package evm

import (
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ERC20ABI covers the calls the wallet makes to fungible tokens.
const ERC20ABI = `[
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var erc20ABI = mustParseABI(ERC20ABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// EncodeCall packs a call to method of the contract described by abiJSON.
// Arguments are given as strings and converted by the declared input type:
// addresses as hex, integers in decimal or 0x hex, bools, strings and hex
// encoded bytes. A method missing from the ABI is MethodNotFound.
func EncodeCall(abiJSON string, method string, args []string) ([]byte, error) {
	const op = "evm.encode_call"

	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
	}

	m, ok := parsed.Methods[method]
	if !ok {
		return nil, walleterr.New(walleterr.KindMethodNotFound, op, "method %q is not in the ABI", method)
	}
	if len(args) != len(m.Inputs) {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "%s takes %d arguments, got %d", method, len(m.Inputs), len(args))
	}

	values := make([]interface{}, len(args))
	for i, input := range m.Inputs {
		v, err := convertArg(input.Type, args[i])
		if err != nil {
			return nil, walleterr.New(walleterr.KindInvalidRequest, op, "argument %s: %v", input.Name, err)
		}
		values[i] = v
	}

	data, err := parsed.Pack(method, values...)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
	}

	return data, nil
}

func convertArg(t abi.Type, s string) (interface{}, error) {
	s = strings.TrimSpace(s)

	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, errInvalidArg("address", s)
		}
		return common.HexToAddress(s), nil

	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, errInvalidArg(t.String(), s)
		}
		if t.T == abi.UintTy && n.Sign() < 0 {
			return nil, errInvalidArg(t.String(), s)
		}
		bits := n.BitLen()
		if t.T == abi.IntTy {
			bits++
		}
		if bits > t.Size {
			return nil, errInvalidArg(t.String(), s)
		}

		goType := t.GetType()
		if goType == reflect.TypeOf(&big.Int{}) {
			return n, nil
		}
		if t.T == abi.UintTy {
			return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
		}
		return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil

	case abi.BoolTy:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errInvalidArg("bool", s)
		}
		return b, nil

	case abi.StringTy:
		return s, nil

	case abi.BytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, errInvalidArg("bytes", s)
		}
		return b, nil

	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil || len(b) != t.Size {
			return nil, errInvalidArg(t.String(), s)
		}
		v := reflect.New(t.GetType()).Elem()
		reflect.Copy(v, reflect.ValueOf(b))
		return v.Interface(), nil

	default:
		return nil, walleterr.New(walleterr.KindInvalidRequest, "evm.encode_call", "arguments of type %s are not supported", t.String())
	}
}

func errInvalidArg(typ string, s string) error {
	return walleterr.New(walleterr.KindInvalidRequest, "evm.encode_call", "%q is not a valid %s", s, typ)
}

func encodeTokenCall(kind Kind, to common.Address, amount *big.Int) ([]byte, error) {
	method := "transfer"
	if kind == KindTokenApproval {
		method = "approve"
	}
	data, err := erc20ABI.Pack(method, to, amount)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidRequest, "evm.encode_token_call", err)
	}
	return data, nil
}
