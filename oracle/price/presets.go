package price

import "strings"

// Preset is a well-known price endpoint together with the label written on-chain for it.
type Preset struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Label    string `json:"label"`
}

var presets = []Preset{
	{
		Name:     "Bitcoin (CoinGecko)",
		Endpoint: "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd",
		Label:    "CoinGecko BTC/USD",
	},
	{
		Name:     "Ethereum (CoinGecko)",
		Endpoint: "https://api.coingecko.com/api/v3/simple/price?ids=ethereum&vs_currencies=usd",
		Label:    "CoinGecko ETH/USD",
	},
	{
		Name:     "Solana (CoinGecko)",
		Endpoint: "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd",
		Label:    "CoinGecko SOL/USD",
	},
}

func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

func DefaultPreset() Preset {
	return presets[0]
}

// PresetByName matches a preset by its display name, its coin name or its label,
// case-insensitively. "bitcoin", "Bitcoin (CoinGecko)" and "coingecko btc/usd" all match.
func PresetByName(name string) (Preset, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Preset{}, false
	}

	for _, p := range presets {
		short := strings.ToLower(strings.SplitN(p.Name, " ", 2)[0])
		if needle == strings.ToLower(p.Name) || needle == strings.ToLower(p.Label) || needle == short {
			return p, true
		}
	}

	return Preset{}, false
}
