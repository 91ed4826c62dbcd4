package service

import (
	"fmt"
	"sort"
)

type Preset struct {
	Name           string   `json:"name" mapstructure:"name"`
	Symbols        []string `json:"symbols" mapstructure:"symbols"`
	Days           int      `json:"days" mapstructure:"days"`
	InitialBalance float64  `json:"initial_balance" mapstructure:"initial_balance"`
}

var presets = map[string]Preset{
	"conservative": {
		Name:           "conservative",
		Symbols:        []string{"BTC/USDT", "ETH/USDT", "UNI/USDT", "AAVE/USDT"},
		Days:           30,
		InitialBalance: 1000,
	},
	"meme_focus": {
		Name:           "meme_focus",
		Symbols:        []string{"DOGE/USDT", "SHIB/USDT", "PEPE/USDT", "FLOKI/USDT"},
		Days:           14,
		InitialBalance: 500,
	},
	"diversified": {
		Name:           "diversified",
		Symbols:        []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "DOGE/USDT", "UNI/USDT", "MATIC/USDT", "MANA/USDT"},
		Days:           21,
		InitialBalance: 2000,
	},
	"quick_test": {
		Name:           "quick_test",
		Symbols:        []string{"BTC/USDT", "ETH/USDT", "MANA/USDT"},
		Days:           7,
		InitialBalance: 500,
	},
}

func PresetByName(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q", name)
	}
	p.Symbols = append([]string(nil), p.Symbols...)
	return p, nil
}

// Presets lists the built-in presets sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		p.Symbols = append([]string(nil), p.Symbols...)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
