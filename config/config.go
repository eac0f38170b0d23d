package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stake-group/models"
)

// EnvPrefix prefixes every environment override, e.g. STAKE_SERVER_PORT
const EnvPrefix = "STAKE"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	LevelDB  LevelDBConfig  `mapstructure:"leveldb"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Hooks    HooksConfig    `mapstructure:"hooks"`
	Contract ContractConfig `mapstructure:"contract"`
}

type ServerConfig struct {
	Port      int     `mapstructure:"port"`
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

type ChainConfig struct {
	GenesisHeight uint64        `mapstructure:"genesis_height"`
	GenesisTime   string        `mapstructure:"genesis_time"`
	BlockTime     time.Duration `mapstructure:"block_time"`
}

type HooksConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ContractConfig is applied once, when the store holds no group yet
type ContractConfig struct {
	Denom           string          `mapstructure:"denom"`
	TokensPerWeight uint64          `mapstructure:"tokens_per_weight"`
	MinBond         uint64          `mapstructure:"min_bond"`
	UnbondingPeriod models.Duration `mapstructure:"unbonding_period"`
	Admin           string          `mapstructure:"admin"`
	Address         string          `mapstructure:"address"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)

	v.SetDefault("log.app_log_file", "stdout")
	v.SetDefault("log.level", "info")

	v.SetDefault("leveldb.path", "data/stake")

	v.SetDefault("chain.genesis_height", 0)
	v.SetDefault("chain.genesis_time", "")
	v.SetDefault("chain.block_time", 5*time.Second)

	v.SetDefault("hooks.timeout", 5*time.Second)

	v.SetDefault("contract.tokens_per_weight", 1)
	v.SetDefault("contract.min_bond", 0)
	v.SetDefault("contract.admin", "")
	v.SetDefault("contract.address", "stake-group")
}

// BindServeFlags binds cobra flags to viper for the serve command.
func BindServeFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.Int("port", 0, "HTTP listen port")
	f.String("db", "", "leveldb directory")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-file", "", "log file, stdout when empty")

	_ = v.BindPFlag("server.port", f.Lookup("port"))
	_ = v.BindPFlag("leveldb.path", f.Lookup("db"))
	_ = v.BindPFlag("log.level", f.Lookup("log-level"))
	_ = v.BindPFlag("log.app_log_file", f.Lookup("log-file"))
}

// Load reads config from flags, env, and file, returning the merged Config.
// A .env file in the working directory is loaded into the environment first
// when present.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Chain.BlockTime <= 0 {
		return errors.New("chain.block_time must be greater than 0")
	}
	genesis, err := c.Chain.Genesis()
	if err != nil {
		return err
	}
	if genesis.IsZero() {
		genesis = time.Now()
	}
	if c.Contract.Denom == "" {
		return errors.New("contract.denom is required")
	}
	if c.Contract.TokensPerWeight == 0 {
		return errors.New("contract.tokens_per_weight must be greater than 0")
	}
	if err := c.Contract.UnbondingPeriod.Validate(); err != nil {
		return fmt.Errorf("contract.unbonding_period: %w", err)
	}
	start := models.BlockInfo{Height: c.Chain.GenesisHeight, Time: genesis}
	if _, err := c.Contract.UnbondingPeriod.After(start); err != nil {
		return fmt.Errorf("contract.unbonding_period: %w", err)
	}
	if c.Contract.Address == "" {
		return errors.New("contract.address is required")
	}
	return nil
}

// Genesis parses the configured genesis time. An empty value yields the
// zero time, which starts the chain at process start.
func (c ChainConfig) Genesis() (time.Time, error) {
	if c.GenesisTime == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.GenesisTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("chain.genesis_time: %w", err)
	}
	return t, nil
}

// InstantiateMsg builds the message that sets up a fresh group
func (c ContractConfig) InstantiateMsg() models.InstantiateMsg {
	msg := models.InstantiateMsg{
		Config: models.Config{
			Denom:           c.Denom,
			TokensPerWeight: c.TokensPerWeight,
			MinBond:         c.MinBond,
			UnbondingPeriod: c.UnbondingPeriod,
		},
	}
	if c.Admin != "" {
		admin := c.Admin
		msg.Admin = &admin
	}
	return msg
}
