package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Backend
	BackendURL   string
	BackendWSURL string

	// Wallet
	WalletAddress       string
	PrivateKey          string
	WalletMode          string // "key" or "rpc"
	EthereumAPIEndpoint string
	ChainID             int

	// Contracts
	TapToTradeAddress   string
	OneTapProfitAddress string
	USDCAddress         string
	USDCDecimals        int

	// Session keys
	SessionDBPath          string
	SessionDurationMinutes int

	// Journal database (optional)
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string

	// Local API
	APIPort         int
	APIKey          string
	CORSAllowOrigin string

	// Notifications
	WebhookURL string
	BotName    string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Polling
	OrderPollSeconds int
	BetPollSeconds   int

	// Risk
	MaxOrdersPerBatch     int
	MaxMarginPerBatch     int64
	MinCollateralPerOrder int64
	MaxActiveOrders       int
	MaxBetAmount          int64

	// Grid
	ZeroRowSide string // "short", "long" or "reject"

	DryRun bool
}

// Load reads .env (if present), then environment variables and an optional
// configs/config.yaml through viper. Environment wins over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()
	setDefaults(v)

	backend := v.GetString("BACKEND_URL")
	if backend == "" {
		backend = v.GetString("NEXT_PUBLIC_BACKEND_URL")
	}
	backend = strings.TrimRight(backend, "/")

	cfg := &Config{
		BackendURL:   backend,
		BackendWSURL: v.GetString("BACKEND_WS_URL"),

		WalletAddress:       v.GetString("WALLET_ADDRESS"),
		PrivateKey:          v.GetString("PRIVATE_KEY"),
		WalletMode:          strings.ToLower(v.GetString("WALLET_MODE")),
		EthereumAPIEndpoint: v.GetString("ETHEREUM_API_ENDPOINT"),
		ChainID:             v.GetInt("CHAIN_ID"),

		TapToTradeAddress:   firstNonEmpty(v.GetString("TAP_TO_TRADE_ADDRESS"), v.GetString("NEXT_PUBLIC_TAP_TO_TRADE_EXECUTOR_ADDRESS")),
		OneTapProfitAddress: firstNonEmpty(v.GetString("ONE_TAP_PROFIT_ADDRESS"), v.GetString("NEXT_PUBLIC_ONE_TAP_PROFIT_ADDRESS")),
		USDCAddress:         firstNonEmpty(v.GetString("USDC_ADDRESS"), v.GetString("NEXT_PUBLIC_USDC_ADDRESS")),
		USDCDecimals:        v.GetInt("USDC_DECIMALS"),

		SessionDBPath:          v.GetString("SESSION_DB_PATH"),
		SessionDurationMinutes: v.GetInt("SESSION_DURATION_MINUTES"),

		DatabaseURL: v.GetString("DATABASE_URL"),
		DBHost:      v.GetString("DB_HOST"),
		DBPort:      v.GetInt("DB_PORT"),
		DBName:      v.GetString("DB_NAME"),
		DBUser:      v.GetString("DB_USER"),
		DBPassword:  v.GetString("DB_PASSWORD"),

		APIPort:         v.GetInt("API_PORT"),
		APIKey:          v.GetString("API_KEY"),
		CORSAllowOrigin: v.GetString("CORS_ALLOW_ORIGIN"),

		WebhookURL: v.GetString("WEBHOOK_URL"),
		BotName:    v.GetString("BOT_NAME"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
		LogFile:   v.GetString("LOG_FILE"),

		OrderPollSeconds: v.GetInt("ORDER_POLL_SECONDS"),
		BetPollSeconds:   v.GetInt("BET_POLL_SECONDS"),

		MaxOrdersPerBatch:     v.GetInt("MAX_ORDERS_PER_BATCH"),
		MaxMarginPerBatch:     v.GetInt64("MAX_MARGIN_PER_BATCH"),
		MinCollateralPerOrder: v.GetInt64("MIN_COLLATERAL_PER_ORDER"),
		MaxActiveOrders:       v.GetInt("MAX_ACTIVE_ORDERS"),
		MaxBetAmount:          v.GetInt64("MAX_BET_AMOUNT"),

		ZeroRowSide: strings.ToLower(v.GetString("ZERO_ROW_SIDE")),

		DryRun: v.GetBool("DRY_RUN"),
	}

	if cfg.BackendWSURL == "" && cfg.BackendURL != "" {
		cfg.BackendWSURL = deriveWSURL(cfg.BackendURL)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("WALLET_MODE", "key")
	v.SetDefault("CHAIN_ID", 84532)
	v.SetDefault("USDC_DECIMALS", 6)
	v.SetDefault("SESSION_DB_PATH", "data/session.db")
	v.SetDefault("SESSION_DURATION_MINUTES", 30)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "tethra_tap")
	v.SetDefault("API_PORT", 3002)
	v.SetDefault("CORS_ALLOW_ORIGIN", "*")
	v.SetDefault("BOT_NAME", "TethraTap")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("ORDER_POLL_SECONDS", 5)
	v.SetDefault("BET_POLL_SECONDS", 2)
	v.SetDefault("MAX_ORDERS_PER_BATCH", 50)
	v.SetDefault("ZERO_ROW_SIDE", "short")
}

// Validate returns non-fatal warnings and an aggregated error for anything
// that prevents the client from starting.
func (c *Config) Validate() (warnings []string, err error) {
	var errs []string

	if c.BackendURL == "" {
		errs = append(errs, "BACKEND_URL is required")
	}
	if c.WalletAddress == "" {
		errs = append(errs, "WALLET_ADDRESS is required")
	} else if !common.IsHexAddress(c.WalletAddress) {
		errs = append(errs, "WALLET_ADDRESS is not a valid address")
	}
	switch c.WalletMode {
	case "key":
		if c.PrivateKey == "" {
			errs = append(errs, "PRIVATE_KEY is required when WALLET_MODE=key")
		}
	case "rpc":
		if c.EthereumAPIEndpoint == "" {
			errs = append(errs, "ETHEREUM_API_ENDPOINT is required when WALLET_MODE=rpc")
		}
	default:
		errs = append(errs, fmt.Sprintf("WALLET_MODE %q must be key or rpc", c.WalletMode))
	}
	if c.TapToTradeAddress == "" || !common.IsHexAddress(c.TapToTradeAddress) {
		errs = append(errs, "TAP_TO_TRADE_ADDRESS is required")
	}
	switch c.ZeroRowSide {
	case "short", "long", "reject":
	default:
		errs = append(errs, fmt.Sprintf("ZERO_ROW_SIDE %q must be short, long or reject", c.ZeroRowSide))
	}
	if c.SessionDurationMinutes <= 0 {
		errs = append(errs, "SESSION_DURATION_MINUTES must be positive")
	}

	if c.EthereumAPIEndpoint == "" {
		warnings = append(warnings, "ETHEREUM_API_ENDPOINT not set - meta nonces cannot be read, submissions will fail")
	}
	if c.OneTapProfitAddress == "" {
		warnings = append(warnings, "ONE_TAP_PROFIT_ADDRESS not set - one-tap bets disabled")
	}
	if c.APIKey == "" {
		warnings = append(warnings, "API_KEY not set - local API has no authentication")
	}
	if c.journalDSN() == "" {
		warnings = append(warnings, "no journal database configured - order/bet history is not persisted")
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return warnings, nil
}

func (c *Config) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Tethra Tap Client Configuration ===")
	if c.DryRun {
		fmt.Fprintln(w, "  DRY RUN - orders are signed and sent to the in-process paper relay")
	}
	fmt.Fprintf(w, "Backend: %s\n", c.BackendURL)
	fmt.Fprintf(w, "Price WS: %s\n", c.BackendWSURL)
	fmt.Fprintf(w, "Chain ID: %d\n", c.ChainID)
	if len(c.WalletAddress) > 16 {
		fmt.Fprintf(w, "Wallet: %s...%s (%s)\n", c.WalletAddress[:10], c.WalletAddress[len(c.WalletAddress)-6:], c.WalletMode)
	}
	fmt.Fprintf(w, "TapToTrade: %s\n", truncAddr(c.TapToTradeAddress))
	fmt.Fprintf(w, "OneTapProfit: %s\n", boolLabel(c.OneTapProfitAddress != "", truncAddr(c.OneTapProfitAddress), "not set"))
	fmt.Fprintln(w, "--------------------------------------")
	fmt.Fprintf(w, "Session duration: %d min (store %s)\n", c.SessionDurationMinutes, c.SessionDBPath)
	fmt.Fprintf(w, "Polling: orders %ds, bets %ds\n", c.OrderPollSeconds, c.BetPollSeconds)
	fmt.Fprintf(w, "Zero row side: %s\n", c.ZeroRowSide)
	fmt.Fprintf(w, "Journal: %s\n", boolLabel(c.journalDSN() != "", "enabled", "disabled"))
	fmt.Fprintln(w, "======================================")
}

// DSN returns the journal connection string, or "" when no journal is configured.
func (c *Config) DSN() string {
	return c.journalDSN()
}

func (c *Config) journalDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBUser == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func deriveWSURL(backend string) string {
	u, err := url.Parse(backend)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/price"
	return u.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncAddr(addr string) string {
	if len(addr) > 10 {
		return addr[:10] + "..."
	}
	return addr
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
