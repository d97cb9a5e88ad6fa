package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/PayPipe/internal/scheduler"
	"github.com/BTreeMap/PayPipe/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultStateDir holds the SQLite databases and the lock file.
	DefaultStateDir = "/var/lib/paypipe"
	// DefaultDBFileName is the conversation state database.
	DefaultDBFileName = "paypipe.db"
	// DefaultWhatsmeowFileName is the linked-device database.
	DefaultWhatsmeowFileName = "whatsmeow.db"
)

// Transports selectable with PAYPIPE_TRANSPORT.
const (
	TransportCloud     = "cloud"
	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
)

// Config is the process configuration. Every key can come from the YAML
// config file or from the environment variable bound to it in envBindings.
type Config struct {
	StateDir    string `mapstructure:"state_dir"`
	DatabaseURL string `mapstructure:"database_url"`
	LogLevel    string `mapstructure:"log_level"`
	APIAddr     string `mapstructure:"api_addr"`
	Transport   string `mapstructure:"transport"`

	OpenAIKey         string        `mapstructure:"openai_api_key"`
	OpenAIModel       string        `mapstructure:"openai_model"`
	ClassifierTimeout time.Duration `mapstructure:"classifier_timeout"`

	FinanceBaseURL string        `mapstructure:"finance_base_url"`
	FinanceAPIKey  string        `mapstructure:"finance_api_key"`
	FinanceTimeout time.Duration `mapstructure:"finance_timeout"`

	CloudPhoneNumberID    string `mapstructure:"whatsapp_phone_number_id"`
	CloudAccessToken      string `mapstructure:"whatsapp_access_token"`
	CloudVerifyToken      string `mapstructure:"whatsapp_verify_token"`
	CloudAppSecret        string `mapstructure:"whatsapp_app_secret"`
	CloudGraphURL         string `mapstructure:"whatsapp_graph_url"`
	CloudTemplateName     string `mapstructure:"whatsapp_template_name"`
	CloudTemplateLanguage string `mapstructure:"whatsapp_template_language"`
	SendMode              string `mapstructure:"send_mode"`

	TwilioAccountSID string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string `mapstructure:"twilio_auth_token"`
	TwilioFrom       string `mapstructure:"twilio_from_number"`
	TwilioWebhookURL string `mapstructure:"twilio_webhook_url"`

	WhatsmeowDSN string `mapstructure:"whatsapp_db_dsn"`
	QROutput     string `mapstructure:"qr_output"`
	NumericCode  bool   `mapstructure:"numeric_code"`

	PurgeSchedule      string        `mapstructure:"purge_schedule"`
	DedupWindow        time.Duration `mapstructure:"dedup_window"`
	EnableTestEndpoint bool          `mapstructure:"enable_test_endpoint"`
}

// envBindings maps config keys to environment variable names.
var envBindings = map[string]string{
	"state_dir":                  "PAYPIPE_STATE_DIR",
	"database_url":               "DATABASE_URL",
	"log_level":                  "LOG_LEVEL",
	"api_addr":                   "API_ADDR",
	"transport":                  "PAYPIPE_TRANSPORT",
	"openai_api_key":             "OPENAI_API_KEY",
	"openai_model":               "OPENAI_MODEL",
	"classifier_timeout":         "CLASSIFIER_TIMEOUT",
	"finance_base_url":           "FINANCE_API_URL",
	"finance_api_key":            "FINANCE_API_KEY",
	"finance_timeout":            "FINANCE_API_TIMEOUT",
	"whatsapp_phone_number_id":   "WHATSAPP_PHONE_NUMBER_ID",
	"whatsapp_access_token":      "WHATSAPP_ACCESS_TOKEN",
	"whatsapp_verify_token":      "WHATSAPP_VERIFY_TOKEN",
	"whatsapp_app_secret":        "WHATSAPP_APP_SECRET",
	"whatsapp_graph_url":         "WHATSAPP_GRAPH_URL",
	"whatsapp_template_name":     "WHATSAPP_TEMPLATE_NAME",
	"whatsapp_template_language": "WHATSAPP_TEMPLATE_LANGUAGE",
	"send_mode":                  "SEND_MODE",
	"twilio_account_sid":         "TWILIO_ACCOUNT_SID",
	"twilio_auth_token":          "TWILIO_AUTH_TOKEN",
	"twilio_from_number":         "TWILIO_FROM_NUMBER",
	"twilio_webhook_url":         "TWILIO_WEBHOOK_URL",
	"whatsapp_db_dsn":            "WHATSAPP_DB_DSN",
	"qr_output":                  "WHATSAPP_QR_OUTPUT",
	"numeric_code":               "WHATSAPP_NUMERIC_CODE",
	"purge_schedule":             "PURGE_SCHEDULE",
	"dedup_window":               "DEDUP_WINDOW",
	"enable_test_endpoint":       "ENABLE_TEST_ENDPOINT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("log_level", "info")
	v.SetDefault("api_addr", ":8080")
	v.SetDefault("transport", TransportCloud)
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("classifier_timeout", 5*time.Second)
	v.SetDefault("finance_timeout", 15*time.Second)
	v.SetDefault("whatsapp_template_language", "en_US")
	v.SetDefault("send_mode", "text")
	v.SetDefault("purge_schedule", scheduler.DefaultPurgeSchedule)
	v.SetDefault("dedup_window", store.DefaultDedupWindow)
}

// loadDotEnv loads .env into the environment when present.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("loadDotEnv: no .env file loaded", "error", err)
	} else {
		slog.Debug("loadDotEnv: loaded .env file")
	}
}

// loadConfig reads defaults, the optional YAML file and the environment, in
// increasing precedence.
func loadConfig(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	switch cfg.Transport {
	case TransportCloud, TransportTwilio, TransportWhatsmeow:
	default:
		return Config{}, fmt.Errorf("unknown transport %q (want cloud, twilio or whatsmeow)", cfg.Transport)
	}
	cfg.applyDerivedDefaults()

	slog.Debug("loadConfig: configuration loaded",
		"state_dir", cfg.StateDir,
		"database_url_set", cfg.DatabaseURL != "",
		"transport", cfg.Transport,
		"openai_key_set", cfg.OpenAIKey != "",
		"finance_base_url", cfg.FinanceBaseURL,
		"api_addr", cfg.APIAddr)
	return cfg, nil
}

// applyDerivedDefaults places SQLite databases in the state directory when no
// DSN was given.
func (c *Config) applyDerivedDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	if c.WhatsmeowDSN == "" {
		if store.DetectDSNType(c.DatabaseURL) == store.DSNTypePostgres {
			c.WhatsmeowDSN = c.DatabaseURL
		} else {
			c.WhatsmeowDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsmeowFileName) + "?_foreign_keys=on"
		}
	}
}

// usesStateDir reports whether any database lives on local disk.
func (c *Config) usesStateDir() bool {
	return store.DetectDSNType(c.DatabaseURL) == store.DSNTypeSQLite ||
		(c.Transport == TransportWhatsmeow && store.DetectDSNType(c.WhatsmeowDSN) == store.DSNTypeSQLite)
}

// ensureStateDir creates the state directory for file-based databases.
func ensureStateDir(cfg Config) error {
	if !cfg.usesStateDir() {
		return nil
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", cfg.StateDir, err)
	}
	return nil
}

// parseLogLevel maps a level name to slog.Level, defaulting to info.
func parseLogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// initializeLogger installs the default text logger.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}
