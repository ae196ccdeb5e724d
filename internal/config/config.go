// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the sender.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted by Validate.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderStdout = "stdout"
)

const (
	defaultSMTPPort         = 465
	defaultSMTPTimeout      = 5 * time.Second
	defaultSMTPDataTimeout  = 10 * time.Minute
	defaultBase64LineLength = 76
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	Message  MessageConfig `yaml:"message"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds the submission server address, credentials and client
// behavior.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Login              string        `yaml:"login"`
	Password           string        `yaml:"password"`
	Timeout            time.Duration `yaml:"timeout"`
	DataTimeout        time.Duration `yaml:"data_timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	CAFile             string        `yaml:"ca_file"`
	LogAndContinue     bool          `yaml:"log_and_continue"`
}

// MessageConfig describes the message the CLI sends.
type MessageConfig struct {
	To               []string `yaml:"to"`
	Subject          string   `yaml:"subject"`
	BodyFile         string   `yaml:"body_file"`
	AttachmentPath   string   `yaml:"attachment_path"`
	Base64LineLength int      `yaml:"base64_line_length"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()
	cfg.Provider = strings.ToLower(cfg.Provider)

	return cfg, nil
}

// SMTPConfigured returns true if the server and both credentials are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Login != "" && c.SMTP.Password != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the region and sender are set. Credentials
// may come from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// Validate reports every missing or out-of-range value for the selected
// provider and message.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderSMTP:
		if !c.SMTPConfigured() {
			errs = append(errs, errors.New("smtp provider requires smtp.host, smtp.login and smtp.password"))
		}
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("smtp.port %d is out of range", c.SMTP.Port))
		}
		if c.SMTP.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("smtp.timeout must be positive, got %s", c.SMTP.Timeout))
		}
		if c.SMTP.DataTimeout <= 0 {
			errs = append(errs, fmt.Errorf("smtp.data_timeout must be positive, got %s", c.SMTP.DataTimeout))
		}
	case ProviderSES:
		if !c.SESConfigured() {
			errs = append(errs, errors.New("ses provider requires ses.region and ses.sender"))
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("graph provider requires graph.tenant_id, graph.client_id, graph.client_secret and graph.sender"))
		}
	case ProviderStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	if len(c.Message.To) == 0 {
		errs = append(errs, errors.New("message.to requires at least one recipient"))
	}
	if c.Message.Base64LineLength < 0 {
		errs = append(errs, fmt.Errorf("message.base64_line_length must not be negative, got %d", c.Message.Base64LineLength))
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = ProviderSMTP
	c.SMTP.Port = defaultSMTPPort
	c.SMTP.Timeout = defaultSMTPTimeout
	c.SMTP.DataTimeout = defaultSMTPDataTimeout
	c.Message.Base64LineLength = defaultBase64LineLength
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that do not parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_LOGIN"); v != "" {
		c.SMTP.Login = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SMTP.Timeout = d
		}
	}
	if v := os.Getenv("SMTP_DATA_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SMTP.DataTimeout = d
		}
	}
	if v := os.Getenv("SMTP_INSECURE_SKIP_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SMTP.InsecureSkipVerify = b
		}
	}
	if v := os.Getenv("SMTP_CA_FILE"); v != "" {
		c.SMTP.CAFile = v
	}
	if v := os.Getenv("SMTP_LOG_AND_CONTINUE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SMTP.LogAndContinue = b
		}
	}

	if v := os.Getenv("MESSAGE_TO"); v != "" {
		c.Message.To = splitList(v)
	}
	if v := os.Getenv("MESSAGE_SUBJECT"); v != "" {
		c.Message.Subject = v
	}
	if v := os.Getenv("MESSAGE_BODY_FILE"); v != "" {
		c.Message.BodyFile = v
	}
	if v := os.Getenv("MESSAGE_ATTACHMENT_PATH"); v != "" {
		c.Message.AttachmentPath = v
	}
	if v := os.Getenv("MESSAGE_BASE64_LINE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Message.Base64LineLength = n
		}
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
