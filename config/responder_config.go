package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateRunnerID creates a unique runner ID using hostname and PID
func generateRunnerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "responder"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Generative endpoint (Gemini via OpenAI-compatible API)
	GeminiAPIKey       string
	GeminiBackupAPIKey string
	GeminiBaseURL      string
	Temperature        float64
	MaxOutputTokens    int
	LLMTimeoutSec      int
	LLMMaxRetries      int

	// OAuth - Google (Gmail)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleRefreshToken string

	// Mailbox
	ProcessedLabel  string
	ErrorLabel      string
	ReviewLabel     string
	OwnAliases      []string
	MaxEmailsPerRun int
	MaxHistory      int

	// Batch runner
	RunnerID        string
	PollInterval    time.Duration
	RunTimeBudget   time.Duration
	DryRun          bool
	OpsBearerToken  string
	SchedulerEnable bool

	// Locks
	ThreadLockTTL  time.Duration
	MemoryLockTTL  time.Duration
	LockRetrySleep time.Duration

	// Memory
	MemoryCacheTTL    time.Duration
	MaxProvidedTopics int
	MemoryRetention   time.Duration
	MaxSummaryBullets int
	MaxSummaryChars   int

	// Quota tracking
	QuotaTimezone      string
	QuotaFlushInterval time.Duration
	QuotaCacheTTL      time.Duration
	QuotaWindowCap     int

	// Validation
	ValidationEnabled  bool
	ValidationMinScore float64
	ValidationStrict   bool

	// Anti-loop
	MaxThreadLength        int
	MaxConsecutiveExternal int
	ClosureWindow          time.Duration

	// Exclusion lists
	IgnoreDomains      []string
	IgnoreKeywords     []string
	OutOfOfficePhrases []string

	// Models
	Models     map[string]ModelConfig
	Strategy   map[string][]string
	ForceModel string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "responder"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Generative endpoint
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiBackupAPIKey: getEnv("GEMINI_API_KEY_BACKUP", ""),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		Temperature:        getEnvFloat("TEMPERATURE", 0.5),
		MaxOutputTokens:    getEnvInt("MAX_OUTPUT_TOKENS", 6000),
		LLMTimeoutSec:      getEnvInt("LLM_TIMEOUT_SEC", 60),
		LLMMaxRetries:      getEnvInt("LLM_MAX_RETRIES", 3),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		GoogleRefreshToken: getEnv("GOOGLE_REFRESH_TOKEN", ""),

		// Mailbox
		ProcessedLabel:  getEnv("PROCESSED_LABEL", "IA"),
		ErrorLabel:      getEnv("ERROR_LABEL", "Errore"),
		ReviewLabel:     getEnv("REVIEW_LABEL", "Verifica"),
		OwnAliases:      getEnvSlice("OWN_ALIASES", nil),
		MaxEmailsPerRun: getEnvInt("MAX_EMAILS_PER_RUN", 5),
		MaxHistory:      getEnvInt("MAX_HISTORY_MESSAGES", 10),

		// Batch runner
		RunnerID:        getEnv("RUNNER_ID", generateRunnerID()),
		PollInterval:    getEnvDuration("POLL_INTERVAL_SEC", 300),
		RunTimeBudget:   getEnvDuration("RUN_TIME_BUDGET_SEC", 280),
		DryRun:          getEnvBool("DRY_RUN", false),
		OpsBearerToken:  getEnv("OPS_BEARER_TOKEN", ""),
		SchedulerEnable: getEnvBool("SCHEDULER_ENABLED", true),

		// Locks
		ThreadLockTTL:  getEnvDuration("THREAD_LOCK_TTL_SEC", 30),
		MemoryLockTTL:  getEnvDuration("MEMORY_LOCK_TTL_SEC", 30),
		LockRetrySleep: time.Duration(getEnvInt("LOCK_RETRY_SLEEP_MS", 50)) * time.Millisecond,

		// Memory
		MemoryCacheTTL:    getEnvDuration("MEMORY_CACHE_TTL_SEC", 300),
		MaxProvidedTopics: getEnvInt("MAX_PROVIDED_TOPICS", 50),
		MemoryRetention:   time.Duration(getEnvInt("MEMORY_RETENTION_DAYS", 30)) * 24 * time.Hour,
		MaxSummaryBullets: getEnvInt("MAX_MEMORY_SUMMARY_BULLETS", 4),
		MaxSummaryChars:   getEnvInt("MAX_MEMORY_SUMMARY_CHARS", 600),

		// Quota tracking
		QuotaTimezone:      getEnv("QUOTA_TIMEZONE", "America/Los_Angeles"),
		QuotaFlushInterval: getEnvDuration("QUOTA_FLUSH_INTERVAL_SEC", 10),
		QuotaCacheTTL:      getEnvDuration("QUOTA_CACHE_TTL_SEC", 10),
		QuotaWindowCap:     getEnvInt("QUOTA_WINDOW_CAP", 100),

		// Validation
		ValidationEnabled:  getEnvBool("VALIDATION_ENABLED", true),
		ValidationMinScore: getEnvFloat("VALIDATION_MIN_SCORE", 0.6),
		ValidationStrict:   getEnvBool("VALIDATION_STRICT_MODE", false),

		// Anti-loop
		MaxThreadLength:        getEnvInt("MAX_THREAD_LENGTH", 10),
		MaxConsecutiveExternal: getEnvInt("MAX_CONSECUTIVE_EXTERNAL", 5),
		ClosureWindow:          getEnvDuration("CLOSURE_WINDOW_SEC", 600),

		// Exclusion lists
		IgnoreDomains:      getEnvSlice("IGNORE_DOMAINS", defaultIgnoreDomains),
		IgnoreKeywords:     getEnvSlice("IGNORE_KEYWORDS", defaultIgnoreKeywords),
		OutOfOfficePhrases: getEnvSlice("OUT_OF_OFFICE_PHRASES", defaultOutOfOfficePhrases),

		Models:     DefaultModels(),
		Strategy:   DefaultStrategy(),
		ForceModel: getEnv("FORCE_MODEL", ""),
	}

	return cfg, cfg.Validate()
}

// Validate catches misconfiguration at startup instead of mid-batch.
func (c *Config) Validate() error {
	var errs []string

	if c.GeminiAPIKey == "" {
		errs = append(errs, "GEMINI_API_KEY is required")
	}
	if c.Temperature < 0.0 || c.Temperature > 1.0 {
		errs = append(errs, fmt.Sprintf("TEMPERATURE %.2f out of range [0,1]", c.Temperature))
	}
	if c.MaxEmailsPerRun < 1 || c.MaxEmailsPerRun > 50 {
		errs = append(errs, fmt.Sprintf("MAX_EMAILS_PER_RUN %d out of range [1,50]", c.MaxEmailsPerRun))
	}
	if c.ValidationMinScore < 0.0 || c.ValidationMinScore > 1.0 {
		errs = append(errs, fmt.Sprintf("VALIDATION_MIN_SCORE %.2f out of range [0,1]", c.ValidationMinScore))
	}
	for task, keys := range c.Strategy {
		for _, key := range keys {
			if _, ok := c.Models[key]; !ok {
				errs = append(errs, fmt.Sprintf("strategy %q references unknown model %q", task, key))
			}
		}
	}
	if c.ForceModel != "" {
		if _, ok := c.Models[c.ForceModel]; !ok {
			errs = append(errs, fmt.Sprintf("FORCE_MODEL references unknown model %q", c.ForceModel))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

var defaultIgnoreDomains = []string{
	"noreply", "no-reply", "newsletter", "marketing",
	"promo", "ads", "notifications",
	"amazon.com", "eventbrite.com", "paypal.com", "ebay.com",
	"subito.it", "mailchimp.com", "mailup.com", "sendinblue.com",
}

var defaultIgnoreKeywords = []string{
	"unsubscribe", "opt-out", "newsletter",
	"disiscriviti", "disiscrizione", "annulla iscrizione",
	"gestisci la tua iscrizione", "gestisci le tue preferenze",
	"aggiorna le tue preferenze", "cancella iscrizione",
	"mailing list", "inviato con mailup", "messaggio inviato con",
	"non rispondere a questo messaggio", "avviso di sicurezza",
}

// defaultOutOfOfficePhrases catch autoresponders that announce an
// absence in the message text without the standard headers.
var defaultOutOfOfficePhrases = []string{
	"out of office", "automatic reply", "auto-reply",
	"i am currently away", "i will be back",
	"risposta automatica", "fuori sede", "fuori ufficio",
	"sarò assente", "al momento non sono disponibile",
	"rientrerò il", "respuesta automática", "fuera de la oficina",
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultSec int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSec)) * time.Second
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
