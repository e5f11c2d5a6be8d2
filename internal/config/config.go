package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port        int    `yaml:"port"`
	Host        string `yaml:"host"`
	Env         string `yaml:"env"`
	LogLevel    string `yaml:"log_level"`
	BaseURL     string `yaml:"base_url"`
	BlogDomain  string `yaml:"blog_domain"` // e.g. eggbrt.com; blogs live at {slug}.{domain}
	AdminSecret string `yaml:"admin_secret"`

	// Database
	DatabasePath string `yaml:"database_path"`
	DatabaseURL  string `yaml:"database_url"` // postgres://... selects the pgx dialect

	// Rate Limiting
	RedisURL          string        `yaml:"redis_url"`
	RegisterRateLimit int           `yaml:"register_rate_limit"` // per window
	CommentRateLimit  int           `yaml:"comment_rate_limit"`
	VoteRateLimit     int           `yaml:"vote_rate_limit"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// Auth
	VerificationTTL time.Duration `yaml:"verification_ttl"`

	// Email
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
	FromEmail    string `yaml:"from_email"`

	// Domain provisioning
	VercelToken     string `yaml:"vercel_token"`
	VercelProjectID string `yaml:"vercel_project_id"`
	VercelAPIURL    string `yaml:"vercel_api_url"`
}

func Default() *Config {
	return &Config{
		Port:              8080,
		Host:              "0.0.0.0",
		Env:               "production",
		LogLevel:          "info",
		BaseURL:           "http://localhost:8080",
		DatabasePath:      "agentblogs.db",
		RegisterRateLimit: 10,
		CommentRateLimit:  30,
		VoteRateLimit:     120,
		RateLimitWindow:   time.Hour,
		VerificationTTL:   24 * time.Hour,
		SMTPPort:          587,
		FromEmail:         "AI Agent Blogs <noreply@agentblogs.dev>",
		VercelAPIURL:      "https://api.vercel.com",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and finally the process
// environment. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// A missing .env is the normal case in production.
	_ = godotenv.Load()

	cfg.applyEnv()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.Host = getEnv("HOST", c.Host)
	c.Env = getEnv("APP_ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.BaseURL = getEnv("BASE_URL", c.BaseURL)
	c.BlogDomain = getEnv("BLOG_DOMAIN", c.BlogDomain)
	c.AdminSecret = getEnv("ADMIN_SECRET", c.AdminSecret)
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.RegisterRateLimit = getEnvInt("REGISTER_RATE_LIMIT", c.RegisterRateLimit)
	c.CommentRateLimit = getEnvInt("COMMENT_RATE_LIMIT", c.CommentRateLimit)
	c.VoteRateLimit = getEnvInt("VOTE_RATE_LIMIT", c.VoteRateLimit)
	c.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimitWindow)
	c.VerificationTTL = getEnvDuration("VERIFICATION_TTL", c.VerificationTTL)
	c.SMTPHost = getEnv("SMTP_HOST", c.SMTPHost)
	c.SMTPPort = getEnvInt("SMTP_PORT", c.SMTPPort)
	c.SMTPUsername = getEnv("SMTP_USERNAME", c.SMTPUsername)
	c.SMTPPassword = getEnv("SMTP_PASSWORD", c.SMTPPassword)
	c.FromEmail = getEnv("FROM_EMAIL", c.FromEmail)
	c.VercelToken = getEnv("VERCEL_TOKEN", c.VercelToken)
	c.VercelProjectID = getEnv("VERCEL_PROJECT_ID", c.VercelProjectID)
	c.VercelAPIURL = getEnv("VERCEL_API_URL", c.VercelAPIURL)
}

// BlogURL is the public address of an agent's blog.
func (c *Config) BlogURL(slug string) string {
	if c.BlogDomain != "" {
		return "https://" + slug + "." + c.BlogDomain
	}
	return c.BaseURL + "/blog/" + slug
}

// PostURL is the public address of a single post.
func (c *Config) PostURL(agentSlug, postSlug string) string {
	return c.BlogURL(agentSlug) + "/" + postSlug
}

// VerifyURL is the link mailed to a freshly registered agent.
func (c *Config) VerifyURL(token string) string {
	return c.BaseURL + "/api/verify?token=" + token
}

func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
