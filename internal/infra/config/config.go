package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the agent runtime.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	LLM      LLMConfig      `yaml:"llm"`
	Memory   MemoryConfig   `yaml:"memory"`
	Prompts  PromptsConfig  `yaml:"prompts"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// AgentConfig holds reasoning loop settings.
type AgentConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	Profile       string        `yaml:"profile"`
	HistoryLimit  int           `yaml:"history_limit"` // messages kept in prompt, 0 = all
	Recall        RecallConfig  `yaml:"recall"`
}

// RecallConfig tunes the solution/instrument recall extension.
type RecallConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Interval         int     `yaml:"interval"`
	HistoryChars     int     `yaml:"history_chars"`
	SolutionsCount   int     `yaml:"solutions_count"`
	InstrumentsCount int     `yaml:"instruments_count"`
	Threshold        float64 `yaml:"threshold"`
}

// LLMConfig holds model provider settings.
type LLMConfig struct {
	ChatModel    string        `yaml:"chat_model"`    // name of a Models entry
	UtilityModel string        `yaml:"utility_model"` // name of a Models entry
	Models       []ModelConfig `yaml:"models"`
	// RateLimits holds caps keyed by provider ("groq") or provider/model
	// ("groq/llama3-8b"). A model's own rate_limit takes precedence.
	RateLimits     map[string]RateLimitConfig `yaml:"rate_limits,omitempty"`
	CircuitBreaker CircuitBreakerConfig       `yaml:"circuit_breaker"`
	Attribution    AttributionConfig          `yaml:"attribution"`
}

// AttributionConfig holds the headers sent to providers that credit the caller.
type AttributionConfig struct {
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`
}

// CircuitBreakerConfig holds circuit breaker settings for chat models.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// RateLimitConfig caps usage per rolling minute. Zero disables a dimension.
type RateLimitConfig struct {
	Requests int `yaml:"requests"`
	Input    int `yaml:"input"`
	Output   int `yaml:"output"`
}

// IsZero reports whether every dimension is unlimited.
func (r RateLimitConfig) IsZero() bool {
	return r.Requests == 0 && r.Input == 0 && r.Output == 0
}

// ModelConfig describes one provider+model pairing.
type ModelConfig struct {
	Name        string          `yaml:"name"`
	Provider    string          `yaml:"provider"`
	Model       string          `yaml:"model"`
	BaseURL     string          `yaml:"base_url,omitempty"`
	APIKey      string          `yaml:"api_key,omitempty"`
	Kwargs      map[string]any  `yaml:"kwargs,omitempty"`
	ConnTimeout time.Duration   `yaml:"conn_timeout"`
	RespTimeout time.Duration   `yaml:"resp_timeout"`
	Pool        PoolConfig      `yaml:"pool"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// MemoryConfig holds memory backend settings.
type MemoryConfig struct {
	Provider  string          `yaml:"provider"` // "sqlite", "chromem"
	DataDir   string          `yaml:"data_dir"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chromem   ChromemConfig   `yaml:"chromem"`
	// QueryCacheTTL caches identical searches; 0 disables the cache.
	QueryCacheTTL time.Duration `yaml:"query_cache_ttl"`
}

// ChromemConfig holds settings for the chromem-go backend.
type ChromemConfig struct {
	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty"`
}

// EmbeddingConfig holds text embedding provider settings.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	ModelsDir string `yaml:"models_dir,omitempty"` // local sentence-transformers vectors
	CacheSize int    `yaml:"cache_size"`           // 0 = disabled
}

// PromptsConfig locates prompt template overrides.
type PromptsConfig struct {
	Dir string `yaml:"dir"`
}

// SessionsConfig controls session transcripts and idle reaping.
type SessionsConfig struct {
	TranscriptDir string        `yaml:"transcript_dir"` // empty disables transcripts
	MaxIdle       time.Duration `yaml:"max_idle"`       // 0 disables reaping
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// defaultDataDir returns the persistent data directory under $HOME/.agent-zero/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".agent-zero", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Agent: AgentConfig{
			MaxIterations: 25,
			Timeout:       10 * time.Minute,
			Profile:       "default",
			Recall: RecallConfig{
				Enabled:          true,
				Interval:         3,
				HistoryChars:     10000,
				SolutionsCount:   2,
				InstrumentsCount: 2,
				Threshold:        0.6,
			},
		},
		LLM: LLMConfig{
			ChatModel:    "chat",
			UtilityModel: "utility",
			Models: []ModelConfig{
				{
					Name:        "chat",
					Provider:    "openai",
					Model:       "gpt-4o",
					ConnTimeout: 10 * time.Second,
					RespTimeout: 120 * time.Second,
				},
				{
					Name:        "utility",
					Provider:    "openai",
					Model:       "gpt-4o-mini",
					ConnTimeout: 10 * time.Second,
					RespTimeout: 60 * time.Second,
				},
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			Attribution: AttributionConfig{
				Referer: "https://agent-zero.ai/",
				Title:   "Agent Zero",
			},
		},
		Memory: MemoryConfig{
			Provider: "sqlite",
			DataDir:  dataDir,
			Embedding: EmbeddingConfig{
				Provider:  "huggingface",
				Model:     "sentence-transformers/all-MiniLM-L6-v2",
				ModelsDir: filepath.Join(dataDir, "models"),
				CacheSize: 1000,
			},
		},
		Sessions: SessionsConfig{
			TranscriptDir: filepath.Join(dataDir, "sessions"),
			MaxIdle:       24 * time.Hour,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			SampleRatio: 1,
		},
	}
}

// Load reads a YAML config file, applies env overrides and validates it.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("AGENTZERO_MASTER_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps AGENTZERO_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTZERO_CHAT_MODEL"); v != "" {
		cfg.LLM.ChatModel = v
	}
	if v := os.Getenv("AGENTZERO_UTILITY_MODEL"); v != "" {
		cfg.LLM.UtilityModel = v
	}
	if v := os.Getenv("AGENTZERO_AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("AGENTZERO_AGENT_PROFILE"); v != "" {
		cfg.Agent.Profile = v
	}
	if v := os.Getenv("AGENTZERO_RECALL_ENABLED"); v == "false" {
		cfg.Agent.Recall.Enabled = false
	}
	if v := os.Getenv("AGENTZERO_MEMORY_PROVIDER"); v != "" {
		cfg.Memory.Provider = v
	}
	if v := os.Getenv("AGENTZERO_MEMORY_DATA_DIR"); v != "" {
		cfg.Memory.DataDir = v
	}
	if v := os.Getenv("AGENTZERO_EMBEDDING_MODELS_DIR"); v != "" {
		cfg.Memory.Embedding.ModelsDir = v
	}
	if v := os.Getenv("AGENTZERO_PROMPTS_DIR"); v != "" {
		cfg.Prompts.Dir = v
	}
	if v := os.Getenv("AGENTZERO_SESSIONS_DIR"); v != "" {
		cfg.Sessions.TranscriptDir = v
	}
	if v := os.Getenv("AGENTZERO_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTZERO_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTZERO_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AGENTZERO_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// decryptSecrets finds "enc:..." values in API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Models {
		key := cfg.LLM.Models[i].APIKey
		if strings.HasPrefix(key, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("model %s api_key: %w", cfg.LLM.Models[i].Name, err)
			}
			cfg.LLM.Models[i].APIKey = decrypted
		}
	}

	if strings.HasPrefix(cfg.Memory.Embedding.APIKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Memory.Embedding.APIKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("embedding api_key: %w", err)
		}
		cfg.Memory.Embedding.APIKey = decrypted
	}

	return nil
}

// FindModel returns the model entry with the given name.
func (c *Config) FindModel(name string) (ModelConfig, bool) {
	for _, m := range c.LLM.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// newGCM derives a 32-byte Argon2id key from passphrase + salt and wraps it in AES-GCM.
func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
