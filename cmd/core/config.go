package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/pkg/logger"
	"github.com/JoeShih716/go-kipu-bank/pkg/mysql"
)

// 帳本實作
const (
	LedgerTypeMySQL = "mysql"
	LedgerTypeMutex = "mutex"
	LedgerTypeLMAX  = "lmax"
)

// 日誌實作 (只有記憶體帳本使用)
const (
	JournalNone     = "none"
	JournalWAL      = "wal"
	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

const defaultConfigPath = "config/config.yaml"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bank    BankConfig    `yaml:"bank"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Journal JournalConfig `yaml:"journal"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Log     logger.Config `yaml:"log"`
	MySQL   mysql.Config  `yaml:"mysql"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	EventBuffer int    `yaml:"event_buffer"` // 每個訂閱者的 channel 大小
	Reflection  bool   `yaml:"reflection"`
}

// BankConfig 建構參數，啟動後不可變更
type BankConfig struct {
	Administrator   string `yaml:"administrator"`
	WithdrawalLimit string `yaml:"withdrawal_limit"`
	BankCap         string `yaml:"bank_cap"`
}

type LedgerConfig struct {
	Type string `yaml:"type"` // mysql, mutex, lmax
}

type JournalConfig struct {
	Type   string `yaml:"type"` // none, wal, sqlite, postgres
	Path   string `yaml:"path"` // wal, sqlite
	DSN    string `yaml:"dsn"`  // postgres
	NoSync bool   `yaml:"no_sync"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // 空的代表不轉發
	Topic   string   `yaml:"topic"`
}

// Policy 由設定建出上限規則
func (b BankConfig) Policy() (domain.Policy, error) {
	limit, err := domain.ParseQuantity(b.WithdrawalLimit)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("withdrawal_limit: %w", err)
	}
	bankCap, err := domain.ParseQuantity(b.BankCap)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("bank_cap: %w", err)
	}
	return domain.NewPolicy(limit, bankCap)
}

// loadConfig 讀取 .env、yaml 檔，再以 LEDGER_* 環境變數覆寫
// yaml 檔不存在時只使用預設值與環境變數
func loadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"LEDGER_ADDR":             &cfg.Server.Addr,
		"LEDGER_ADMINISTRATOR":    &cfg.Bank.Administrator,
		"LEDGER_WITHDRAWAL_LIMIT": &cfg.Bank.WithdrawalLimit,
		"LEDGER_BANK_CAP":         &cfg.Bank.BankCap,
		"LEDGER_TYPE":             &cfg.Ledger.Type,
		"LEDGER_JOURNAL":          &cfg.Journal.Type,
		"LEDGER_JOURNAL_PATH":     &cfg.Journal.Path,
		"LEDGER_JOURNAL_DSN":      &cfg.Journal.DSN,
		"LEDGER_KAFKA_TOPIC":      &cfg.Kafka.Topic,
		"LEDGER_LOG_LEVEL":        &cfg.Log.Level,
		"LEDGER_MYSQL_HOST":       &cfg.MySQL.Host,
		"LEDGER_MYSQL_USER":       &cfg.MySQL.User,
		"LEDGER_MYSQL_PASSWORD":   &cfg.MySQL.Password,
		"LEDGER_MYSQL_DBNAME":     &cfg.MySQL.DBName,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("LEDGER_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	if v, ok := os.LookupEnv("LEDGER_MYSQL_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEDGER_MYSQL_PORT: %w", err)
		}
		cfg.MySQL.Port = port
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":50051"
	}
	if cfg.Server.EventBuffer == 0 {
		cfg.Server.EventBuffer = 1024
	}
	if cfg.Bank.WithdrawalLimit == "" {
		cfg.Bank.WithdrawalLimit = "5"
	}
	if cfg.Bank.BankCap == "" {
		cfg.Bank.BankCap = "100"
	}
	if cfg.Ledger.Type == "" {
		cfg.Ledger.Type = LedgerTypeMutex
	}
	if cfg.Journal.Type == "" {
		cfg.Journal.Type = JournalWAL
	}
	if cfg.Journal.Path == "" {
		switch cfg.Journal.Type {
		case JournalSQLite:
			cfg.Journal.Path = "data/journal.db"
		default:
			cfg.Journal.Path = "data/wal.log"
		}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	// 補全 MySQL 預設配置 (如果 yaml 沒寫)
	cfg.MySQL = cfg.MySQL.WithDefaults()
}

func (c Config) validate() error {
	if c.Bank.Administrator == "" {
		return fmt.Errorf("%w: bank.administrator is required", domain.ErrInvalidConfig)
	}
	switch c.Ledger.Type {
	case LedgerTypeMySQL, LedgerTypeMutex, LedgerTypeLMAX:
	default:
		return fmt.Errorf("%w: unknown ledger type %q", domain.ErrInvalidConfig, c.Ledger.Type)
	}
	switch c.Journal.Type {
	case JournalNone, JournalWAL, JournalSQLite:
	case JournalPostgres:
		if c.Journal.DSN == "" {
			return fmt.Errorf("%w: journal.dsn is required for postgres", domain.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown journal type %q", domain.ErrInvalidConfig, c.Journal.Type)
	}
	_, err := c.Bank.Policy()
	return err
}
