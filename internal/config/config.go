package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"spot-trade-worker/internal/model"
)

const (
	LedgerFile     = "file"
	LedgerPostgres = "postgres"
)

type Config struct {
	AppName      string
	Market       model.Market
	Budget       decimal.Decimal
	Phases       model.PhaseConfig
	PollInterval time.Duration
	CheckBalance bool
	// FeeRate prices commissions paid outside the traded pair.
	FeeRate decimal.Decimal

	// Binance API
	BinanceApiKey    string
	BinanceSecretKey string
	BinanceBaseURL   string
	BinanceTestnet   bool

	// Telegram
	TelegramToken  string
	TelegramChatID string

	// Ledger
	LedgerDriver string
	LedgerDir    string
	PostgresDSN  string

	// Outcome delivery to the Manager. Disabled when NatsURL is empty.
	NatsURL              string
	NatsStream           string
	OutcomeSubjectPrefix string

	PushgatewayURL string

	LogDir   string
	LogLevel string
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}
	return Parse(os.Getenv)
}

// Parse builds a Config from getenv and validates it.
func Parse(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.AppName = strings.TrimSpace(getenv("APP_NAME"))
	if cfg.AppName == "" {
		return nil, fmt.Errorf("APP_NAME is required")
	}

	base := strings.ToUpper(strings.TrimSpace(getenv("MARKET_BASE")))
	if base == "" {
		return nil, fmt.Errorf("MARKET_BASE is required")
	}
	quote := strings.ToUpper(strings.TrimSpace(getenv("MARKET_QUOTE")))
	if quote == "" {
		return nil, fmt.Errorf("MARKET_QUOTE is required")
	}
	cfg.Market = model.Market{Base: base, Quote: quote}

	cfg.Budget, err = parseDecimal(getenv("BUDGET"), "BUDGET")
	if err != nil {
		return nil, err
	}
	if !cfg.Budget.IsPositive() {
		return nil, fmt.Errorf("BUDGET must be positive, got %s", cfg.Budget)
	}

	cfg.Phases.Phase1.Wait, err = parseDuration(getenv("PHASE1_WAIT"), "PHASE1_WAIT")
	if err != nil {
		return nil, err
	}
	cfg.Phases.Phase1.ProfitPercent, err = parseDecimal(getenv("PHASE1_PROFIT_PCT"), "PHASE1_PROFIT_PCT")
	if err != nil {
		return nil, err
	}
	cfg.Phases.Phase1.LossPercent, err = parseDecimal(getenv("PHASE1_LOSS_PCT"), "PHASE1_LOSS_PCT")
	if err != nil {
		return nil, err
	}
	cfg.Phases.Phase2.Wait, err = parseDuration(getenv("PHASE2_WAIT"), "PHASE2_WAIT")
	if err != nil {
		return nil, err
	}
	cfg.Phases.Phase2.LossPercent, err = parseDecimal(getenv("PHASE2_LOSS_PCT"), "PHASE2_LOSS_PCT")
	if err != nil {
		return nil, err
	}
	if err := cfg.Phases.Validate(); err != nil {
		return nil, fmt.Errorf("invalid phase settings: %w", err)
	}

	cfg.PollInterval = time.Second
	if val := getenv("POLL_INTERVAL"); val != "" {
		cfg.PollInterval, err = parseDuration(val, "POLL_INTERVAL")
		if err != nil {
			return nil, err
		}
		if cfg.PollInterval <= 0 {
			return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
		}
	}

	cfg.CheckBalance = true
	if val := getenv("CHECK_BALANCE"); val != "" {
		cfg.CheckBalance, err = parseBool(val, "CHECK_BALANCE")
		if err != nil {
			return nil, err
		}
	}

	cfg.FeeRate = decimal.RequireFromString("0.001") // Binance spot default tier
	if val := getenv("FEE_RATE"); val != "" {
		cfg.FeeRate, err = parseDecimal(val, "FEE_RATE")
		if err != nil {
			return nil, err
		}
	}

	cfg.BinanceApiKey = getenv("BINANCE_API_KEY")
	cfg.BinanceSecretKey = getenv("BINANCE_SECRET_KEY")
	if cfg.BinanceApiKey == "" || cfg.BinanceSecretKey == "" {
		return nil, fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required")
	}
	cfg.BinanceBaseURL = getenv("BINANCE_BASE_URL")
	if val := getenv("BINANCE_TESTNET"); val != "" {
		cfg.BinanceTestnet, err = parseBool(val, "BINANCE_TESTNET")
		if err != nil {
			return nil, err
		}
	}

	cfg.TelegramToken = getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = getenv("TELEGRAM_CHAT_ID")

	cfg.LedgerDriver = withDefault(getenv("LEDGER_DRIVER"), LedgerFile)
	switch cfg.LedgerDriver {
	case LedgerFile:
		cfg.LedgerDir = withDefault(getenv("LEDGER_DIR"), "data")
	case LedgerPostgres:
		cfg.PostgresDSN = getenv("POSTGRES_DSN")
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required for LEDGER_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("invalid value for LEDGER_DRIVER: %q", cfg.LedgerDriver)
	}

	cfg.NatsURL = getenv("NATS_URL")
	cfg.NatsStream = withDefault(getenv("NATS_STREAM"), "TRADE_OUTCOMES")
	cfg.OutcomeSubjectPrefix = withDefault(getenv("OUTCOME_SUBJECT_PREFIX"), "trade.outcome")

	cfg.PushgatewayURL = getenv("PUSHGATEWAY_URL")

	cfg.LogDir = withDefault(getenv("LOG_DIR"), "logs")
	cfg.LogLevel = withDefault(getenv("LOG_LEVEL"), "info")

	return cfg, nil
}

func withDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func parseDecimal(value, name string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, fmt.Errorf("%s is required", name)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid value for %s: %w", name, err)
	}
	return d, nil
}

func parseDuration(value, name string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", name, err)
	}
	return d, nil
}

func parseBool(value, name string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %w", name, err)
	}
	return b, nil
}
