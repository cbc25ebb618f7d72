package stakingd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/native/staking"
)

// InitPayload is the TOML document used to initialise an empty pool.
type InitPayload struct {
	Owner            string `toml:"Owner"`
	StakingToken     string `toml:"StakingToken"`
	RewardToken      string `toml:"RewardToken"`
	DistributionTime uint64 `toml:"DistributionTime"`
	RewardTotal      string `toml:"RewardTotal"`
}

// LoadInitPayload decodes and validates the init file at path.
func LoadInitPayload(path string) (InitPayload, error) {
	var payload InitPayload
	meta, err := toml.DecodeFile(path, &payload)
	if err != nil {
		return payload, fmt.Errorf("decode init file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return payload, fmt.Errorf("unknown init keys: %v", undecoded)
	}
	if !common.IsHexAddress(strings.TrimSpace(payload.Owner)) {
		return payload, fmt.Errorf("owner must be a hex address")
	}
	if _, err := payload.Config(); err != nil {
		return payload, err
	}
	return payload, nil
}

// Config converts the payload into an engine schedule.
func (p InitPayload) Config() (staking.Config, error) {
	return parseConfig(p.StakingToken, p.RewardToken, p.DistributionTime, p.RewardTotal)
}

func parseConfig(stakingToken, rewardToken string, distributionTime uint64, rewardTotal string) (staking.Config, error) {
	if !common.IsHexAddress(strings.TrimSpace(stakingToken)) {
		return staking.Config{}, fmt.Errorf("staking token must be a hex address")
	}
	if !common.IsHexAddress(strings.TrimSpace(rewardToken)) {
		return staking.Config{}, fmt.Errorf("reward token must be a hex address")
	}
	total, err := parseAmount(rewardTotal)
	if err != nil {
		return staking.Config{}, fmt.Errorf("reward total: %w", err)
	}
	cfg := staking.Config{
		StakingToken:     common.HexToAddress(strings.TrimSpace(stakingToken)),
		RewardToken:      common.HexToAddress(strings.TrimSpace(rewardToken)),
		DistributionTime: distributionTime,
		RewardTotal:      total,
	}
	return cfg, cfg.Validate()
}

func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(uint256.Int), nil
	}
	value, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return value, nil
}

// Bootstrap initialises the engine from the payload unless state was already
// restored.
func Bootstrap(ctx context.Context, engine *staking.Engine, payload InitPayload) error {
	if engine.Pool().Initialized {
		return nil
	}
	cfg, err := payload.Config()
	if err != nil {
		return err
	}
	_, err = engine.Initialize(ctx, common.HexToAddress(strings.TrimSpace(payload.Owner)), cfg)
	if errors.Is(err, staking.ErrAlreadyInitialized) {
		return nil
	}
	return err
}
