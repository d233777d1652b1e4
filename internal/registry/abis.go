package registry

// ABI fragments used by the node adapter.
const (
	ERC20MetadataABI = `[
		{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	OwnableABI = `[
		{"name":"owner","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`
)

// Function signatures whose selectors in deployed bytecode indicate the
// token can be minted after launch.
var MintSignatures = []string{
	"mint(address,uint256)",
	"mint(uint256)",
	"mintTo(address,uint256)",
	"issue(uint256)",
}

// Function signatures indicating transfers can be blocked per address.
var BlacklistSignatures = []string{
	"blacklist(address)",
	"addToBlacklist(address)",
	"setBlacklist(address,bool)",
	"blacklistAddress(address,bool)",
	"isBlacklisted(address)",
	"addBots(address[])",
	"setBots(address[],bool)",
}
