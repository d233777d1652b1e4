package registry

import "strings"

const (
	PublicMainnetRPC  = "https://eth.llamarpc.com"
	AlchemyMainnetRPC = "https://eth-mainnet.g.alchemy.com/v2/"
	EtherscanBaseURL  = "https://api.etherscan.io/v2/api"
	HoneypotBaseURL   = "https://api.honeypot.is"
	MoralisBaseURL    = "https://deep-index.moralis.io/api/v2.2"
	ChainbaseBaseURL  = "https://api.chainbase.online/v1"

	EtherscanTxURL      = "https://etherscan.io/tx/"
	EtherscanAddressURL = "https://etherscan.io/address/"
)

// Addresses that hold supply without being able to sell it.
var burnAddresses = map[string]struct{}{
	"0x0000000000000000000000000000000000000000": {},
	"0x000000000000000000000000000000000000dead": {},
	"0xdead000000000000000042069420694206942069": {},
}

// Routers and lockers whose balances are pool liquidity, not a holder.
var liquidityAddresses = map[string]struct{}{
	"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": {}, // Uniswap V2 router
	"0xe592427a0aece92de3edee1f18e0157c05861564": {}, // Uniswap V3 router
	"0x663a5c229c09b049e36dcc11a9b0d4a8eb9db214": {}, // Unicrypt locker
	"0xe2fe530c047f2d85298b07d9333c05737f1435fb": {}, // Team Finance locker
}

func IsBurnAddress(address string) bool {
	_, ok := burnAddresses[strings.ToLower(strings.TrimSpace(address))]
	return ok
}

func IsLiquidityAddress(address string) bool {
	_, ok := liquidityAddresses[strings.ToLower(strings.TrimSpace(address))]
	return ok
}

// ResolveRPCURL picks the JSON-RPC endpoint: explicit override, then
// Alchemy when a key is configured, then a public mainnet node.
func ResolveRPCURL(override, alchemyKey string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	if v := strings.TrimSpace(alchemyKey); v != "" {
		return AlchemyMainnetRPC + v
	}
	return PublicMainnetRPC
}
