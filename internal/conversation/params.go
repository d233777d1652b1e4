package conversation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/ethpilot/internal/id"
)

// ParamType is the semantic type of a command parameter. Each type owns its
// validator.
type ParamType int

const (
	WalletAddress ParamType = iota
	ContractAddress
	UsdAmount
	SlippagePercent
	AddressList
)

func (t ParamType) String() string {
	switch t {
	case WalletAddress:
		return "wallet address"
	case ContractAddress:
		return "contract address"
	case UsdAmount:
		return "USD amount"
	case SlippagePercent:
		return "slippage percent"
	case AddressList:
		return "address list"
	default:
		return "unknown"
	}
}

// Value is a validated parameter. Only the field matching the type is set.
type Value struct {
	Address   common.Address
	Addresses []common.Address
	Decimal   decimal.Decimal
	Warning   string
}

func (t ParamType) Validate(input string) (Value, error) {
	switch t {
	case WalletAddress, ContractAddress:
		addr, err := id.ParseAddress(input)
		if err != nil {
			return Value{}, err
		}
		return Value{Address: addr}, nil
	case UsdAmount:
		amount, err := id.ParseUSDAmount(input)
		if err != nil {
			return Value{}, err
		}
		return Value{Decimal: amount}, nil
	case SlippagePercent:
		pct, warn, err := id.ParseSlippage(input)
		if err != nil {
			return Value{}, err
		}
		v := Value{Decimal: pct}
		if warn {
			v.Warning = fmt.Sprintf("slippage of %s%% is above %d%% and may lose most of the trade value", pct.String(), id.SlippageWarnAbove)
		}
		return v, nil
	case AddressList:
		addrs, err := id.ParseAddressList(input)
		if err != nil {
			return Value{}, err
		}
		return Value{Addresses: addrs}, nil
	default:
		return Value{}, fmt.Errorf("unknown parameter type %d", t)
	}
}

type Param struct {
	Name   string
	Type   ParamType
	Prompt string
}
