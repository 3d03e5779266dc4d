package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"ovenmint/crypto"
	"ovenmint/native/minter"
)

// Genesis describes the initial minter state. Ratios are human decimals
// ("0.08" is 8%, MinCollateralRatio is a percentage); OvenCap is in native
// base units and an empty value disables the cap.
type Genesis struct {
	GenesisTime   uint64        `toml:"GenesisTime"`
	Params        Params        `toml:"Params"`
	Collaborators Collaborators `toml:"Collaborators"`
	Allocations   []Allocation  `toml:"Allocations,omitempty"`
}

type Params struct {
	MinCollateralRatio string `toml:"MinCollateralRatio"`
	StabilityFee       string `toml:"StabilityFee"`
	LiquidationFee     string `toml:"LiquidationFee"`
	DevFundSplit       string `toml:"DevFundSplit"`
	OvenCap            string `toml:"OvenCap"`
	PeriodSeconds      uint64 `toml:"PeriodSeconds"`
	NativeScale        string `toml:"NativeScale"`
}

type Collaborators struct {
	Governor      string `toml:"Governor"`
	Token         string `toml:"Token"`
	OvenProxy     string `toml:"OvenProxy"`
	StabilityFund string `toml:"StabilityFund"`
	DevFund       string `toml:"DevFund"`
}

// Allocation seeds a native balance, typically an oven's custody, when the
// chain state is first created. Native is in base units.
type Allocation struct {
	Address string `toml:"Address"`
	Native  string `toml:"Native"`
}

// NativeAllocation is a decoded Allocation.
type NativeAllocation struct {
	Address crypto.Address
	Amount  *uint256.Int
}

// LoadGenesis loads the genesis file at path, writing the defaults there
// first when it does not exist.
func LoadGenesis(path string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Genesis{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis file %s has unknown key %q", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns the launch parameters with no collaborators configured.
func Default() *Genesis {
	return &Genesis{
		Params: Params{
			MinCollateralRatio: "200",
			StabilityFee:       "0",
			LiquidationFee:     "0.08",
			DevFundSplit:       "0.1",
			OvenCap:            "100000000",
			PeriodSeconds:      minter.DefaultPeriodSeconds,
			NativeScale:        fmt.Sprint(minter.DefaultNativeScale),
		},
	}
}

func (g *Genesis) applyDefaults() {
	def := Default().Params
	if strings.TrimSpace(g.Params.MinCollateralRatio) == "" {
		g.Params.MinCollateralRatio = def.MinCollateralRatio
	}
	if strings.TrimSpace(g.Params.StabilityFee) == "" {
		g.Params.StabilityFee = def.StabilityFee
	}
	if strings.TrimSpace(g.Params.LiquidationFee) == "" {
		g.Params.LiquidationFee = def.LiquidationFee
	}
	if strings.TrimSpace(g.Params.DevFundSplit) == "" {
		g.Params.DevFundSplit = def.DevFundSplit
	}
	if g.Params.PeriodSeconds == 0 {
		g.Params.PeriodSeconds = def.PeriodSeconds
	}
	if strings.TrimSpace(g.Params.NativeScale) == "" {
		g.Params.NativeScale = def.NativeScale
	}
}

// MinterParams converts the human readable parameters into scaled values.
func (g *Genesis) MinterParams() (minter.Params, error) {
	var (
		out minter.Params
		err error
	)
	scaled := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"MinCollateralRatio", g.Params.MinCollateralRatio, &out.MinCollateralRatio},
		{"StabilityFee", g.Params.StabilityFee, &out.StabilityFee},
		{"LiquidationFee", g.Params.LiquidationFee, &out.LiquidationFeeRate},
		{"DevFundSplit", g.Params.DevFundSplit, &out.DevFundSplit},
	}
	for _, s := range scaled {
		if *s.dst, err = minter.ParseScaled(s.raw); err != nil {
			return minter.Params{}, fmt.Errorf("Params.%s: %w", s.name, err)
		}
	}
	if strings.TrimSpace(g.Params.OvenCap) != "" {
		if out.OvenCap, err = minter.ParseAmount(g.Params.OvenCap); err != nil {
			return minter.Params{}, fmt.Errorf("Params.OvenCap: %w", err)
		}
	}
	if out.NativeScale, err = minter.ParseAmount(g.Params.NativeScale); err != nil {
		return minter.Params{}, fmt.Errorf("Params.NativeScale: %w", err)
	}
	out.PeriodSeconds = g.Params.PeriodSeconds
	if err := out.Validate(); err != nil {
		return minter.Params{}, err
	}
	return out, nil
}

// MinterCollaborators decodes the collaborator addresses. All of them are
// required.
func (g *Genesis) MinterCollaborators() (minter.Collaborators, error) {
	var out minter.Collaborators
	fields := []struct {
		name string
		raw  string
		dst  *crypto.Address
	}{
		{"Governor", g.Collaborators.Governor, &out.Governor},
		{"Token", g.Collaborators.Token, &out.Token},
		{"OvenProxy", g.Collaborators.OvenProxy, &out.OvenProxy},
		{"StabilityFund", g.Collaborators.StabilityFund, &out.StabilityFund},
		{"DevFund", g.Collaborators.DevFund, &out.DevFund},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			return minter.Collaborators{}, fmt.Errorf("Collaborators.%s is required", f.name)
		}
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return minter.Collaborators{}, fmt.Errorf("Collaborators.%s: %w", f.name, err)
		}
		*f.dst = addr
	}
	return out, nil
}

// NativeAllocations decodes the genesis allocations. Duplicate addresses are
// rejected.
func (g *Genesis) NativeAllocations() ([]NativeAllocation, error) {
	out := make([]NativeAllocation, 0, len(g.Allocations))
	seen := make(map[string]struct{}, len(g.Allocations))
	for i, alloc := range g.Allocations {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return nil, fmt.Errorf("Allocations[%d].Address: %w", i, err)
		}
		if _, dup := seen[addr.String()]; dup {
			return nil, fmt.Errorf("Allocations[%d]: duplicate address %s", i, addr)
		}
		seen[addr.String()] = struct{}{}
		amount, err := minter.ParseAmount(alloc.Native)
		if err != nil {
			return nil, fmt.Errorf("Allocations[%d].Native: %w", i, err)
		}
		out = append(out, NativeAllocation{Address: addr, Amount: amount})
	}
	return out, nil
}

// State builds the genesis minter state.
func (g *Genesis) State() (minter.State, error) {
	params, err := g.MinterParams()
	if err != nil {
		return minter.State{}, err
	}
	collaborators, err := g.MinterCollaborators()
	if err != nil {
		return minter.State{}, err
	}
	return minter.NewState(params, collaborators, g.GenesisTime), nil
}

// createDefault creates and saves a default genesis file.
func createDefault(path string) (*Genesis, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
