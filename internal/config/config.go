package config

import (
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/amount"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/bitcoin"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Transports accepted by LEDGER_TRANSPORT.
const (
	TransportHID      = "hid"
	TransportTCP      = "tcp"
	TransportEmulator = "emulator"
)

type LoggerConfig struct {
	Level              string `mapstructure:"level" json:"level"`
	PrettyPrintConsole bool   `mapstructure:"pretty" json:"pretty"`
	Caller             bool   `mapstructure:"caller" json:"caller"`
}

type LedgerConfig struct {
	Transport       string        `mapstructure:"transport" json:"transport"`
	HIDPath         string        `mapstructure:"hid_path" json:"hidPath"`
	TCPAddr         string        `mapstructure:"tcp_addr" json:"tcpAddr"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" json:"connectTimeout"`
	SignTimeout     time.Duration `mapstructure:"sign_timeout" json:"signTimeout"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout" json:"exchangeTimeout"`
	// EmulatorMnemonic seeds the software device. Only used with the
	// emulator transport.
	EmulatorMnemonic string `mapstructure:"emulator_mnemonic" json:"-"`
	// EmulatorKeystore is an encrypted mnemonic file, preferred over
	// EmulatorMnemonic when set.
	EmulatorKeystore string `mapstructure:"emulator_keystore" json:"emulatorKeystore"`
	EmulatorPassword string `mapstructure:"emulator_password" json:"-"`
	EmulatorApp      string `mapstructure:"emulator_app" json:"emulatorApp"`
}

type EVMConfig struct {
	// RPCURLs is a comma separated list tried in order.
	RPCURLs          string `mapstructure:"rpc_urls" json:"rpcUrls"`
	MaxFeePerGasGwei string `mapstructure:"max_fee_per_gas_gwei" json:"maxFeePerGasGwei"`
	GasMarginPercent uint64 `mapstructure:"gas_margin_percent" json:"gasMarginPercent"`
}

type BitcoinConfig struct {
	EsploraURL       string        `mapstructure:"esplora_url" json:"esploraUrl"`
	Network          string        `mapstructure:"network" json:"network"`
	MinConfirmations int64         `mapstructure:"min_confirmations" json:"minConfirmations"`
	DustLimit        int64         `mapstructure:"dust_limit" json:"dustLimit"`
	MaxFeeRatio      float64       `mapstructure:"max_fee_ratio" json:"maxFeeRatio"`
	Strategy         string        `mapstructure:"strategy" json:"strategy"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout"`
}

type SolanaConfig struct {
	RPCURL         string        `mapstructure:"rpc_url" json:"rpcUrl"`
	Commitment     string        `mapstructure:"commitment" json:"commitment"`
	MaxPriorityFee uint64        `mapstructure:"max_priority_fee" json:"maxPriorityFee"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" json:"confirmTimeout"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" json:"maxAttempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" json:"initialInterval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" json:"maxInterval"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `mapstructure:"addr" json:"addr"`
}

// Config is the complete runtime configuration. Every key maps to an
// environment variable by upper casing it and replacing "." with "_",
// e.g. ledger.sign_timeout is LEDGER_SIGN_TIMEOUT.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"log" json:"logger"`
	Ledger  LedgerConfig  `mapstructure:"ledger" json:"ledger"`
	EVM     EVMConfig     `mapstructure:"evm" json:"evm"`
	Bitcoin BitcoinConfig `mapstructure:"bitcoin" json:"bitcoin"`
	Solana  SolanaConfig  `mapstructure:"solana" json:"solana"`
	Retry   RetryConfig   `mapstructure:"retry" json:"retry"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", zerolog.InfoLevel.String())
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.caller", false)

	v.SetDefault("ledger.transport", TransportHID)
	v.SetDefault("ledger.hid_path", "")
	v.SetDefault("ledger.tcp_addr", device.DefaultSpeculosAddr)
	v.SetDefault("ledger.connect_timeout", device.DefaultConnectTimeout)
	v.SetDefault("ledger.sign_timeout", device.DefaultSignTimeout)
	v.SetDefault("ledger.exchange_timeout", device.DefaultExchangeTimeout)
	v.SetDefault("ledger.emulator_mnemonic", "")
	v.SetDefault("ledger.emulator_keystore", "")
	v.SetDefault("ledger.emulator_password", "")
	v.SetDefault("ledger.emulator_app", "Ethereum")

	v.SetDefault("evm.rpc_urls", "")
	v.SetDefault("evm.max_fee_per_gas_gwei", "500")
	v.SetDefault("evm.gas_margin_percent", evm.DefaultGasMarginPercent)

	v.SetDefault("bitcoin.esplora_url", "")
	v.SetDefault("bitcoin.network", "mainnet")
	v.SetDefault("bitcoin.min_confirmations", 1)
	v.SetDefault("bitcoin.dust_limit", int64(bitcoin.DefaultDustLimit))
	v.SetDefault("bitcoin.max_fee_ratio", bitcoin.DefaultMaxFeeRatio)
	v.SetDefault("bitcoin.strategy", "bnb")
	v.SetDefault("bitcoin.timeout", 30*time.Second)

	v.SetDefault("solana.rpc_url", "")
	v.SetDefault("solana.commitment", string(rpc.CommitmentConfirmed))
	v.SetDefault("solana.max_priority_fee", sol.DefaultMaxPriorityFee)
	v.SetDefault("solana.confirm_timeout", sol.DefaultConfirmTimeout)

	v.SetDefault("retry.max_attempts", chain.DefaultMaxAttempts)
	v.SetDefault("retry.initial_interval", chain.DefaultInitialInterval)
	v.SetDefault("retry.max_interval", chain.DefaultMaxInterval)

	v.SetDefault("metrics.addr", "")
}

// Load reads the configuration from the environment. Existing variables win
// over the given .env files; missing files are skipped.
func Load(envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := gotenv.Load(file); err != nil {
			return Config{}, errors.Wrapf(err, "failed to load env file %s", file)
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultServiceConfigFromEnv loads the configuration and panics if it is
// invalid.
func DefaultServiceConfigFromEnv() Config {
	cfg, err := Load(".env.local")
	if err != nil {
		panic(err)
	}
	return cfg
}

func oneOf(value string, allowed []string, name string) vala.Checker {
	return func() (bool, string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return true, ""
			}
		}
		return false, name + " must be one of " + strings.Join(allowed, ", ") + ", got " + value
	}
}

func positiveDuration(d time.Duration, name string) vala.Checker {
	return func() (bool, string) {
		return d > 0, name + " must be positive"
	}
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	err := vala.BeginValidation().Validate(
		oneOf(c.Logger.Level, []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}, "LOG_LEVEL"),
		oneOf(c.Ledger.Transport, []string{TransportHID, TransportTCP, TransportEmulator}, "LEDGER_TRANSPORT"),
		positiveDuration(c.Ledger.ConnectTimeout, "LEDGER_CONNECT_TIMEOUT"),
		positiveDuration(c.Ledger.SignTimeout, "LEDGER_SIGN_TIMEOUT"),
		positiveDuration(c.Ledger.ExchangeTimeout, "LEDGER_EXCHANGE_TIMEOUT"),
		oneOf(c.Bitcoin.Network, []string{"mainnet", "testnet", "signet", "regtest"}, "BITCOIN_NETWORK"),
		oneOf(c.Bitcoin.Strategy, []string{"bnb", "largest", "smallest"}, "BITCOIN_STRATEGY"),
		vala.Not(vala.GreaterThan(0, int(c.Bitcoin.MinConfirmations), "BITCOIN_MIN_CONFIRMATIONS")),
		vala.GreaterThan(int(c.Bitcoin.DustLimit), -1, "BITCOIN_DUST_LIMIT"),
		oneOf(c.Solana.Commitment, []string{string(rpc.CommitmentProcessed), string(rpc.CommitmentConfirmed), string(rpc.CommitmentFinalized)}, "SOLANA_COMMITMENT"),
		vala.GreaterThan(c.Retry.MaxAttempts, 0, "RETRY_MAX_ATTEMPTS"),
		positiveDuration(c.Retry.InitialInterval, "RETRY_INITIAL_INTERVAL"),
		positiveDuration(c.Retry.MaxInterval, "RETRY_MAX_INTERVAL"),
	).Check()
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if _, err := c.MaxFeePerGas(); err != nil {
		return err
	}

	return nil
}

// LoggerConfig converts the log settings for util.ConfigureLogger.
func (c Config) LoggerConfig() util.LoggerConfig {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Logger.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return util.LoggerConfig{
		Level:              level,
		PrettyPrintConsole: c.Logger.PrettyPrintConsole,
		Caller:             c.Logger.Caller,
	}
}

func (c Config) DeviceConfig() device.Config {
	return device.Config{
		ConnectTimeout:  c.Ledger.ConnectTimeout,
		SignTimeout:     c.Ledger.SignTimeout,
		ExchangeTimeout: c.Ledger.ExchangeTimeout,
	}
}

func (c Config) RetryConfig() chain.RetryConfig {
	return chain.RetryConfig{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}

// MaxFeePerGas parses EVM_MAX_FEE_PER_GAS_GWEI into wei. An empty or zero
// value disables the cap.
func (c Config) MaxFeePerGas() (*big.Int, error) {
	switch strings.TrimSpace(c.EVM.MaxFeePerGasGwei) {
	case "", "0":
		return nil, nil
	}
	wei, err := amount.ParseUnits(c.EVM.MaxFeePerGasGwei, amount.GweiDecimals)
	if err != nil {
		return nil, errors.Wrap(err, "invalid EVM_MAX_FEE_PER_GAS_GWEI")
	}
	return wei, nil
}

func (c Config) EVMRPCURLs() []string {
	return chain.ParseRPCURLs(c.EVM.RPCURLs)
}

func (c Config) EVMCrafterConfig() (evm.Config, error) {
	maxFee, err := c.MaxFeePerGas()
	if err != nil {
		return evm.Config{}, err
	}
	return evm.Config{MaxFeePerGas: maxFee, GasMarginPercent: c.EVM.GasMarginPercent}, nil
}

func (c Config) BitcoinClientConfig() bitcoin.ClientConfig {
	return bitcoin.ClientConfig{
		URL:              c.Bitcoin.EsploraURL,
		MinConfirmations: c.Bitcoin.MinConfirmations,
		Timeout:          c.Bitcoin.Timeout,
		Retry:            c.RetryConfig(),
	}
}

func (c Config) BitcoinCrafterConfig() (bitcoin.Config, error) {
	network, err := bitcoin.ParseNetwork(c.Bitcoin.Network)
	if err != nil {
		return bitcoin.Config{}, err
	}
	strategy, err := bitcoin.ParseStrategy(c.Bitcoin.Strategy)
	if err != nil {
		return bitcoin.Config{}, err
	}
	return bitcoin.Config{
		Network:     network,
		DustLimit:   btcutil.Amount(c.Bitcoin.DustLimit),
		MaxFeeRatio: c.Bitcoin.MaxFeeRatio,
		Strategy:    strategy,
	}, nil
}

func (c Config) SolanaClientConfig() sol.ClientConfig {
	return sol.ClientConfig{
		URL:            c.Solana.RPCURL,
		Commitment:     rpc.CommitmentType(strings.ToLower(c.Solana.Commitment)),
		Retry:          c.RetryConfig(),
		ConfirmTimeout: c.Solana.ConfirmTimeout,
	}
}

func (c Config) SolanaCrafterConfig() sol.Config {
	return sol.Config{MaxPriorityFee: c.Solana.MaxPriorityFee}
}
