/*
Package config loads vestingd configuration.

SOURCES (later wins):
  1. Default()
  2. YAML file (optional)
  3. Environment: VESTING_SERVER__PORT=9090 sets server.port

EXAMPLE:
  server:
    port: 8080
  database:
    driver: sqlite
    path: vesting.db
  treasury:
    address: treasury
    initial_supply: "1000000000"
  roles:
    owner: owner
    vesting_managers: [ops]
  staking:
    validators: [1, 2]
    periods: [2, 6, 12]
  seed_plans:
    - cliff_months: 12
      total_duration_months: 36
      interval_unit: month
      interval_length: 3
      terminable: true
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/warp/vesting-engine/factory"
	"github.com/warp/vesting-engine/token"
)

const EnvPrefix = "VESTING_"

type Config struct {
	Server    ServerConfig       `koanf:"server"`
	Database  DatabaseConfig     `koanf:"database"`
	Treasury  TreasuryConfig     `koanf:"treasury"`
	Rewards   RewardsConfig      `koanf:"rewards"`
	Roles     RolesConfig        `koanf:"roles"`
	Staking   StakingConfig      `koanf:"staking"`
	Scheduler SchedulerConfig    `koanf:"scheduler"`
	Log       LogConfig          `koanf:"log"`
	SeedPlans []factory.PlanJSON `koanf:"seed_plans"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite | memory
	Path   string `koanf:"path"`
}

type TreasuryConfig struct {
	Address string `koanf:"address"`
	// Minted once, when the treasury has no ledger history yet.
	InitialSupply string `koanf:"initial_supply"`
}

type RewardsConfig struct {
	PoolAddress string `koanf:"pool_address"`
	// Minted once, when the pool has no ledger history yet.
	InitialSupply string `koanf:"initial_supply"`
}

type RolesConfig struct {
	Owner           string   `koanf:"owner"`
	Administrators  []string `koanf:"administrators"`
	VestingManagers []string `koanf:"vesting_managers"`
}

type StakingConfig struct {
	Validators []uint64 `koanf:"validators"`
	Periods    []int    `koanf:"periods"`
}

type SchedulerConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
	// Caller used for settlement; defaults to roles.owner.
	Manager string `koanf:"manager"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

func Default() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "sqlite", Path: "vesting.db"},
		Treasury: TreasuryConfig{Address: "treasury", InitialSupply: "0"},
		Rewards:  RewardsConfig{PoolAddress: "rewards-pool", InitialSupply: "0"},
		Roles:    RolesConfig{Owner: "owner"},
		Staking: StakingConfig{
			Validators: []uint64{1},
			Periods:    []int{2, 6, 12},
		},
		Scheduler: SchedulerConfig{Enabled: true, Interval: time.Minute},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path (skipped when empty) on top of the
// defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	if path == "" {
		return LoadProvider(nil)
	}
	return LoadProvider(file.Provider(path))
}

// LoadProvider is Load with an arbitrary YAML source. A nil provider means
// defaults and environment only.
func LoadProvider(provider koanf.Provider) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("error loading defaults: %w", err)
	}
	if provider != nil {
		if err := k.Load(provider, yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("error loading config: %w", err)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("error loading env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if cfg.Scheduler.Manager == "" {
		cfg.Scheduler.Manager = cfg.Roles.Owner
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "memory":
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Treasury.Address == "" {
		errs = append(errs, errors.New("treasury.address is required"))
	}
	if err := validateSupply("treasury.initial_supply", c.Treasury.InitialSupply); err != nil {
		errs = append(errs, err)
	}
	if c.Rewards.PoolAddress == "" {
		errs = append(errs, errors.New("rewards.pool_address is required"))
	} else if c.Rewards.PoolAddress == c.Treasury.Address {
		errs = append(errs, errors.New("rewards.pool_address must differ from treasury.address"))
	}
	if err := validateSupply("rewards.initial_supply", c.Rewards.InitialSupply); err != nil {
		errs = append(errs, err)
	}
	if c.Roles.Owner == "" {
		errs = append(errs, errors.New("roles.owner is required"))
	}
	for _, p := range c.Staking.Periods {
		if p <= 0 {
			errs = append(errs, fmt.Errorf("staking.periods: %d is not positive", p))
		}
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	for i, pj := range c.SeedPlans {
		if _, err := pj.ToPlan(); err != nil {
			errs = append(errs, fmt.Errorf("seed_plans[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func validateSupply(key, s string) error {
	if s == "" {
		return nil
	}
	a, err := token.ParseAmount(s)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if a.IsNegative() {
		return fmt.Errorf("%s must not be negative", key)
	}
	return nil
}
