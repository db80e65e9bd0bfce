package config

import (
	"crossbridge/types"
)

type Configuration struct {
	// Server config
	Server struct {
		Listen    string `yaml:"listen" envconfig:"LISTEN"`
		UseSSL    bool   `yaml:"ssl" envconfig:"SSL"`
		CertFile  string `yaml:"cert_file" envconfig:"CERT_FILE"`
		KeyFile   string `yaml:"key_file" envconfig:"KEY_FILE"`
		Storage   string `yaml:"storage" envconfig:"STORAGE"` // redis or memory
		RedisPort int    `yaml:"redis_port" envconfig:"REDIS_PORT"`
		RedisHost string `yaml:"redis_host" envconfig:"REDIS_HOST"`
		// important private stuff
		JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" envconfig:"LEVEL"`
		Format string `yaml:"format" envconfig:"FORMAT"`
		File   string `yaml:"file" envconfig:"FILE"`
	} `yaml:"log"`
	// operator account used to relay messages and drive HTLC legs
	Relayer struct {
		PrivateKey string `yaml:"private_key" envconfig:"PRIVATE_KEY"`
		GasLimit   uint64 `yaml:"gas_limit" envconfig:"GAS_LIMIT"`
	} `yaml:"relayer"`
	Validator struct {
		CacheTTL         int `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
		BatchConcurrency int `yaml:"batch_concurrency" envconfig:"BATCH_CONCURRENCY"`
	} `yaml:"validator"`
	Gas struct {
		PollInterval    int    `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
		HistorySize     int    `yaml:"history_size" envconfig:"HISTORY_SIZE"`
		ResultTTL       int    `yaml:"result_ttl" envconfig:"RESULT_TTL"`
		ArchiveDriver   string `yaml:"archive_driver" envconfig:"ARCHIVE_DRIVER"` // sqlite, mysql or empty
		ArchiveDSN      string `yaml:"archive_dsn" envconfig:"ARCHIVE_DSN"`
		ArchiveRetainHr int    `yaml:"archive_retain_hours" envconfig:"ARCHIVE_RETAIN_HOURS"`
	} `yaml:"gas"`
	Kafka struct {
		Brokers []string `yaml:"brokers" envconfig:"BROKERS"`
		Topic   string   `yaml:"topic" envconfig:"TOPIC"`
	} `yaml:"kafka"`
	Tracing struct {
		Endpoint    string `yaml:"endpoint" envconfig:"ENDPOINT"`
		ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	} `yaml:"tracing"`
	Sweep struct {
		Interval        int `yaml:"interval" envconfig:"INTERVAL"`
		ConfirmInterval int `yaml:"confirm_interval" envconfig:"CONFIRM_INTERVAL"`
	} `yaml:"sweep"`
	Chains []types.ChainConfig `yaml:"chains" ignored:"true"`
}

const (
	DefaultListen           = ":8080"
	DefaultStorage          = "redis"
	DefaultValidatorTTL     = 300
	DefaultBatchConcurrency = 8
	DefaultPollInterval     = 15
	DefaultHistorySize      = 100
	DefaultGasResultTTL     = 30
	DefaultArchiveRetainHr  = 7 * 24
	DefaultSweepInterval    = 30
	DefaultConfirmInterval  = 10
	DefaultRelayGasLimit    = 200000
	DefaultKafkaTopic       = "crossbridge-events"
	DefaultServiceName      = "crossbridge"
)

func (c *Configuration) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.Storage == "" {
		c.Server.Storage = DefaultStorage
	}
	if c.Server.RedisHost == "" {
		c.Server.RedisHost = "127.0.0.1"
	}
	if c.Server.RedisPort == 0 {
		c.Server.RedisPort = 6379
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Relayer.GasLimit == 0 {
		c.Relayer.GasLimit = DefaultRelayGasLimit
	}
	if c.Validator.CacheTTL == 0 {
		c.Validator.CacheTTL = DefaultValidatorTTL
	}
	if c.Validator.BatchConcurrency == 0 {
		c.Validator.BatchConcurrency = DefaultBatchConcurrency
	}
	if c.Gas.PollInterval == 0 {
		c.Gas.PollInterval = DefaultPollInterval
	}
	if c.Gas.HistorySize == 0 || c.Gas.HistorySize > DefaultHistorySize {
		c.Gas.HistorySize = DefaultHistorySize
	}
	if c.Gas.ResultTTL == 0 {
		c.Gas.ResultTTL = DefaultGasResultTTL
	}
	if c.Gas.ArchiveRetainHr == 0 {
		c.Gas.ArchiveRetainHr = DefaultArchiveRetainHr
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = DefaultSweepInterval
	}
	if c.Sweep.ConfirmInterval == 0 {
		c.Sweep.ConfirmInterval = DefaultConfirmInterval
	}
	if len(c.Chains) == 0 {
		c.Chains = DefaultChains()
	}
	for i := range c.Chains {
		c.Chains[i].ApplyDefaults()
	}
}

// DefaultChains are used when the config file does not list any chain.
func DefaultChains() []types.ChainConfig {
	return []types.ChainConfig{
		{
			ChainID:          1,
			Name:             "Ethereum",
			Kind:             types.ChainKindEVM,
			RPCURL:           "https://eth.llamarpc.com",
			RPCFallbacks:     []string{"https://eth.drpc.org"},
			NativeCurrency:   types.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
			BaseGasPrice:     1_000_000_000,
			MaxGasPrice:      500_000_000_000,
			GasMultiplier:    1.1,
			BlockTime:        12,
			MinConfirmations: 12,
			MaxProofAge:      3600,
			TimeoutPeriod:    3600,
			TrustLevel:       95,
		},
		{
			ChainID:          137,
			Name:             "Polygon",
			Kind:             types.ChainKindEVM,
			RPCURL:           "https://polygon-rpc.com",
			RPCFallbacks:     []string{"https://polygon.drpc.org"},
			NativeCurrency:   types.NativeCurrency{Name: "Polygon Ecosystem Token", Symbol: "POL", Decimals: 18},
			BaseGasPrice:     30_000_000_000,
			MaxGasPrice:      1_000_000_000_000,
			GasMultiplier:    1.2,
			GasStationURL:    "https://gasstation.polygon.technology/v2",
			BlockTime:        2,
			MinConfirmations: 128,
			MaxProofAge:      3600,
			TimeoutPeriod:    1800,
			TrustLevel:       90,
		},
		{
			ChainID:          56,
			Name:             "BNB Smart Chain",
			Kind:             types.ChainKindEVM,
			RPCURL:           "https://bsc.drpc.org",
			RPCFallbacks:     []string{"https://rpc.ankr.com/bsc"},
			NativeCurrency:   types.NativeCurrency{Name: "BNB", Symbol: "BNB", Decimals: 18},
			BaseGasPrice:     1_000_000_000,
			MaxGasPrice:      100_000_000_000,
			GasMultiplier:    1.0,
			BlockTime:        3,
			MinConfirmations: 15,
			MaxProofAge:      3600,
			TimeoutPeriod:    1800,
			TrustLevel:       85,
		},
	}
}
