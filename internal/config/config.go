package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"

	"ledgersheet/internal/core"
)

// Chart output modes
const (
	ChartOutputInline    = "inline"
	ChartOutputDirectory = "directory"
)

type Config struct {
	// HTTP Server
	Port string

	// Datasets
	OutputDir       string
	ExpensesDataset string
	ImportDataset   string
	ExtendedDataset string
	SchemaVersion   int

	// Charts
	ChartDataset string
	ChartOutput  string
	ChartDir     string
	ChartWidth   int
	ChartHeight  int

	// Limits
	MaxUploadBytes     int64
	RateLimitPerMinute int
	CORSAllowedOrigins string
	// TrustedProxies are CIDRs, beyond loopback and private ranges, whose
	// X-Forwarded-For is believed.
	TrustedProxies []string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	expenses := getEnv("EXPENSES_DATASET", "tabela_despesas")
	cfg := &Config{
		Port: getEnv("PORT", "5000"),

		OutputDir:       getEnv("OUTPUT_DIR", "output"),
		ExpensesDataset: expenses,
		ImportDataset:   getEnv("IMPORT_DATASET", "planilha_importada"),
		ExtendedDataset: getEnv("EXTENDED_DATASET", "planilha_atualizada"),
		SchemaVersion:   getEnvInt("SCHEMA_VERSION", core.LatestExpenseVersion),

		ChartDataset: getEnv("CHART_DATASET", expenses),
		ChartOutput:  getEnv("CHART_OUTPUT", ChartOutputInline),
		ChartDir:     getEnv("CHART_DIR", "output/graficos"),
		ChartWidth:   getEnvInt("CHART_WIDTH", 640),
		ChartHeight:  getEnvInt("CHART_HEIGHT", 480),

		MaxUploadBytes:     getEnvInt64("MAX_UPLOAD_BYTES", 10<<20),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		TrustedProxies:     getEnvList("TRUSTED_PROXIES"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledgersheet"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "dataset_changes"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Dados"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if strings.TrimSpace(c.OutputDir) == "" {
		errors = append(errors, "output directory cannot be empty")
	}
	for key, name := range map[string]string{
		"EXPENSES_DATASET": c.ExpensesDataset,
		"IMPORT_DATASET":   c.ImportDataset,
		"EXTENDED_DATASET": c.ExtendedDataset,
		"CHART_DATASET":    c.ChartDataset,
	} {
		if !validDatasetName(name) {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': use letters, digits, spaces, '_', '-' or '.'", key, name))
		}
	}
	if c.ImportDataset == c.ExpensesDataset {
		errors = append(errors, "IMPORT_DATASET must differ from EXPENSES_DATASET")
	}

	if c.SchemaVersion < 1 || c.SchemaVersion > core.LatestExpenseVersion {
		errors = append(errors, fmt.Sprintf("invalid schema version %d: must be between 1 and %d", c.SchemaVersion, core.LatestExpenseVersion))
	}

	switch c.ChartOutput {
	case ChartOutputInline:
	case ChartOutputDirectory:
		if strings.TrimSpace(c.ChartDir) == "" {
			errors = append(errors, "chart directory cannot be empty in directory mode")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid chart output '%s': must be one of [%s %s]", c.ChartOutput, ChartOutputInline, ChartOutputDirectory))
	}
	if c.ChartWidth < 100 || c.ChartWidth > 4000 || c.ChartHeight < 100 || c.ChartHeight > 4000 {
		errors = append(errors, fmt.Sprintf("invalid chart size %dx%d: each side must be between 100 and 4000", c.ChartWidth, c.ChartHeight))
	}

	if c.MaxUploadBytes < 1024 {
		errors = append(errors, fmt.Sprintf("invalid max upload size %d: must be at least 1024 bytes", c.MaxUploadBytes))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	for _, cidr := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided when a spreadsheet ID is set")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of [text json]", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// AMQPEnabled reports whether change events should be published.
func (c *Config) AMQPEnabled() bool { return c.AMQPURL != "" }

// SheetsEnabled reports whether the Google Sheets publisher is configured.
func (c *Config) SheetsEnabled() bool { return c.GoogleSpreadsheetID != "" }

func validDatasetName(name string) bool {
	if strings.TrimSpace(name) == "" || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.' || r == ' ':
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r > 127:
		default:
			return false
		}
	}
	return true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
