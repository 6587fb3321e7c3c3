package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for Lucía
type Config struct {
	LLM          LLMConfig          `json:"llm"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	RAG          RAGConfig          `json:"rag"`
	MoE          MoEConfig          `json:"moe"`
	Session      SessionConfig      `json:"session"`
	Slots        SlotsConfig        `json:"slots"`
	Decompose    DecomposeConfig    `json:"decompose"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Tools        ToolsConfig        `json:"tools"`
	Registries   RegistriesConfig   `json:"registries"`
	Database     DatabaseConfig     `json:"database"`
	Server       ServerConfig       `json:"server"`
}

// LLMConfig holds the default LLM endpoint (OpenAI-compatible). Jurors may
// override provider/model per roster entry; this client also backs the
// single-juror fallback and the extraction/decomposition programs.
type LLMConfig struct {
	URL         string  `json:"url"`
	APIKeyEnv   string  `json:"api_key_env"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TimeoutMs   int     `json:"timeout_ms"`
	MaxRetries  int     `json:"max_retries"`
}

// EmbeddingConfig holds embedding API configuration
type EmbeddingConfig struct {
	URL        string `json:"url"`
	APIKeyEnv  string `json:"api_key_env"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	TimeoutMs  int    `json:"timeout_ms"`
}

// RAGConfig tunes the retrieval-augmented classifier
type RAGConfig struct {
	MaxExamples         int     `json:"max_examples"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	SimilarityMethod    string  `json:"similarity_method"`
	HybridVectorWeight  float64 `json:"hybrid_vector_weight"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	DiversityThreshold  float64 `json:"diversity_threshold"`
	MaxClusterSize      int     `json:"max_cluster_size"`
	KeywordBoost        float64 `json:"keyword_boost"`
	PromptStrategy      string  `json:"prompt_strategy"`
	EnableFallback      bool    `json:"enable_fallback"`
	FallbackReduction   float64 `json:"fallback_reduction"`
	TimeBudgetMs        int     `json:"time_budget_ms"`
}

// MoEConfig tunes the voting engine
type MoEConfig struct {
	Enabled              bool    `json:"enabled"`
	Parallel             bool    `json:"parallel"`
	SeedWithRAG          bool    `json:"seed_with_rag"`
	VoteTimeoutMs        int     `json:"vote_timeout_ms"`
	ConsensusThreshold   float64 `json:"consensus_threshold"`
	MinVotes             int     `json:"min_votes"`
	DebateRounds         int     `json:"debate_rounds"`
	DebateTimeoutMs      int     `json:"debate_timeout_ms"`
	ImprovementThreshold float64 `json:"improvement_threshold"`
	Algorithm            string  `json:"algorithm"`
}

// SessionConfig tunes the conversation manager
type SessionConfig struct {
	TTLSeconds           int `json:"ttl_seconds"`
	MaxTurns             int `json:"max_turns"`
	CompressionThreshold int `json:"compression_threshold"`
	CleanupIntervalSec   int `json:"cleanup_interval_seconds"`
	MaxSessions          int `json:"max_sessions"`
	SnapshotRingSize     int `json:"snapshot_ring_size"`
}

// SlotsConfig tunes slot filling
type SlotsConfig struct {
	MaxAttempts int  `json:"max_attempts"`
	UseLLM      bool `json:"use_llm"`
}

// DecomposeConfig tunes subtask decomposition
type DecomposeConfig struct {
	MaxSubtasks       int  `json:"max_subtasks"`
	DefaultMaxRetries int  `json:"default_max_retries"`
	UseLLM            bool `json:"use_llm"`
}

// OrchestratorConfig tunes plan execution
type OrchestratorConfig struct {
	ParallelTaskCap   int  `json:"parallel_task_cap"`
	RollbackOnFailure bool `json:"rollback_on_failure"`
	PlanTimeoutMs     int  `json:"plan_timeout_ms"`
}

// ToolsConfig tunes the tool router
type ToolsConfig struct {
	DefaultTimeoutMs   int      `json:"default_timeout_ms"`
	BreakerEnabled     bool     `json:"breaker_enabled"`
	BreakerMaxFailures int      `json:"breaker_max_failures"`
	BreakerCooldownMs  int      `json:"breaker_cooldown_ms"`
	AllowedHosts       []string `json:"allowed_hosts,omitempty"`
	AllowPrivateHosts  bool     `json:"allow_private_hosts"`
}

// RegistriesConfig points at the declarative registry files
type RegistriesConfig struct {
	IntentsPath string `json:"intents_path"`
	ToolsPath   string `json:"tools_path"`
	JuryPath    string `json:"jury_path"`
	Watch       bool   `json:"watch"`
}

// DatabaseConfig holds optional persistence configuration. With an empty
// PostgresURL sessions live in memory only.
type DatabaseConfig struct {
	PostgresURL string `json:"postgres_url"`
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			URL:         "http://localhost:8000/v1",
			APIKeyEnv:   "LUCIA_LLM_API_KEY",
			Model:       "Qwen/Qwen3-8B-AWQ",
			MaxTokens:   1024,
			Temperature: 0.2,
			TimeoutMs:   30000,
			MaxRetries:  3,
		},
		Embedding: EmbeddingConfig{
			URL:        "http://localhost:11434/v1",
			APIKeyEnv:  "LUCIA_EMBEDDING_API_KEY",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			TimeoutMs:  15000,
		},
		RAG: RAGConfig{
			MaxExamples:         5,
			ConfidenceThreshold: 0.7,
			SimilarityMethod:    "cosine",
			HybridVectorWeight:  0.7,
			SimilarityThreshold: 0.35,
			DiversityThreshold:  0.92,
			MaxClusterSize:      3,
			KeywordBoost:        0.05,
			PromptStrategy:      "adaptive",
			EnableFallback:      true,
			FallbackReduction:   0.3,
			TimeBudgetMs:        2000,
		},
		MoE: MoEConfig{
			Enabled:              true,
			Parallel:             true,
			SeedWithRAG:          true,
			VoteTimeoutMs:        8000,
			ConsensusThreshold:   0.6,
			MinVotes:             2,
			DebateRounds:         2,
			DebateTimeoutMs:      20000,
			ImprovementThreshold: 0.05,
			Algorithm:            "weighted-majority",
		},
		Session: SessionConfig{
			TTLSeconds:           1800,
			MaxTurns:             50,
			CompressionThreshold: 20,
			CleanupIntervalSec:   60,
			MaxSessions:          1000,
			SnapshotRingSize:     8,
		},
		Slots: SlotsConfig{
			MaxAttempts: 3,
			UseLLM:      true,
		},
		Decompose: DecomposeConfig{
			MaxSubtasks:       8,
			DefaultMaxRetries: 2,
			UseLLM:            true,
		},
		Orchestrator: OrchestratorConfig{
			ParallelTaskCap:   4,
			RollbackOnFailure: false,
			PlanTimeoutMs:     60000,
		},
		Tools: ToolsConfig{
			DefaultTimeoutMs:   10000,
			BreakerEnabled:     true,
			BreakerMaxFailures: 5,
			BreakerCooldownMs:  30000,
			AllowPrivateHosts:  true,
		},
		Registries: RegistriesConfig{
			IntentsPath: "registries/intents.yaml",
			ToolsPath:   "registries/tools.yaml",
			JuryPath:    "registries/jury.yaml",
			Watch:       true,
		},
		Database: DatabaseConfig{
			PostgresURL: "",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set and valid
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// envStringSlice loads a comma-separated environment variable into a string slice
func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	// LLM
	envString("LUCIA_LLM_URL", &cfg.LLM.URL)
	envString("LUCIA_LLM_API_KEY_ENV", &cfg.LLM.APIKeyEnv)
	envString("LUCIA_LLM_MODEL", &cfg.LLM.Model)
	envInt("LUCIA_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("LUCIA_LLM_TEMPERATURE", &cfg.LLM.Temperature)
	envInt("LUCIA_LLM_TIMEOUT_MS", &cfg.LLM.TimeoutMs)
	envInt("LUCIA_LLM_MAX_RETRIES", &cfg.LLM.MaxRetries)

	// Embedding
	envString("LUCIA_EMBEDDING_URL", &cfg.Embedding.URL)
	envString("LUCIA_EMBEDDING_API_KEY_ENV", &cfg.Embedding.APIKeyEnv)
	envString("LUCIA_EMBEDDING_MODEL", &cfg.Embedding.Model)
	envInt("LUCIA_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)
	envInt("LUCIA_EMBEDDING_TIMEOUT_MS", &cfg.Embedding.TimeoutMs)

	// RAG classifier
	envInt("LUCIA_RAG_MAX_EXAMPLES", &cfg.RAG.MaxExamples)
	envFloat("LUCIA_RAG_CONFIDENCE_THRESHOLD", &cfg.RAG.ConfidenceThreshold)
	envString("LUCIA_RAG_SIMILARITY_METHOD", &cfg.RAG.SimilarityMethod)
	envFloat("LUCIA_RAG_HYBRID_VECTOR_WEIGHT", &cfg.RAG.HybridVectorWeight)
	envFloat("LUCIA_RAG_FALLBACK_REDUCTION", &cfg.RAG.FallbackReduction)
	envFloat("LUCIA_RAG_SIMILARITY_THRESHOLD", &cfg.RAG.SimilarityThreshold)
	envFloat("LUCIA_RAG_DIVERSITY_THRESHOLD", &cfg.RAG.DiversityThreshold)
	envInt("LUCIA_RAG_MAX_CLUSTER_SIZE", &cfg.RAG.MaxClusterSize)
	envFloat("LUCIA_RAG_KEYWORD_BOOST", &cfg.RAG.KeywordBoost)
	envString("LUCIA_RAG_PROMPT_STRATEGY", &cfg.RAG.PromptStrategy)
	envBool("LUCIA_RAG_ENABLE_FALLBACK", &cfg.RAG.EnableFallback)
	envInt("LUCIA_RAG_TIME_BUDGET_MS", &cfg.RAG.TimeBudgetMs)

	// MoE voting
	envBool("LUCIA_MOE_ENABLED", &cfg.MoE.Enabled)
	envBool("LUCIA_MOE_PARALLEL", &cfg.MoE.Parallel)
	envBool("LUCIA_MOE_SEED_WITH_RAG", &cfg.MoE.SeedWithRAG)
	envInt("LUCIA_MOE_VOTE_TIMEOUT_MS", &cfg.MoE.VoteTimeoutMs)
	envFloat("LUCIA_MOE_CONSENSUS_THRESHOLD", &cfg.MoE.ConsensusThreshold)
	envInt("LUCIA_MOE_MIN_VOTES", &cfg.MoE.MinVotes)
	envInt("LUCIA_MOE_DEBATE_ROUNDS", &cfg.MoE.DebateRounds)
	envInt("LUCIA_MOE_DEBATE_TIMEOUT_MS", &cfg.MoE.DebateTimeoutMs)
	envFloat("LUCIA_MOE_IMPROVEMENT_THRESHOLD", &cfg.MoE.ImprovementThreshold)
	envString("LUCIA_MOE_ALGORITHM", &cfg.MoE.Algorithm)

	// Sessions
	envInt("LUCIA_SESSION_TTL_SECONDS", &cfg.Session.TTLSeconds)
	envInt("LUCIA_SESSION_MAX_TURNS", &cfg.Session.MaxTurns)
	envInt("LUCIA_SESSION_COMPRESSION_THRESHOLD", &cfg.Session.CompressionThreshold)
	envInt("LUCIA_SESSION_CLEANUP_INTERVAL_SECONDS", &cfg.Session.CleanupIntervalSec)
	envInt("LUCIA_SESSION_MAX_SESSIONS", &cfg.Session.MaxSessions)
	envInt("LUCIA_SESSION_SNAPSHOT_RING_SIZE", &cfg.Session.SnapshotRingSize)

	// Slots
	envInt("LUCIA_SLOTS_MAX_ATTEMPTS", &cfg.Slots.MaxAttempts)
	envBool("LUCIA_SLOTS_USE_LLM", &cfg.Slots.UseLLM)

	// Decomposition
	envInt("LUCIA_DECOMPOSE_MAX_SUBTASKS", &cfg.Decompose.MaxSubtasks)
	envInt("LUCIA_DECOMPOSE_DEFAULT_MAX_RETRIES", &cfg.Decompose.DefaultMaxRetries)
	envBool("LUCIA_DECOMPOSE_USE_LLM", &cfg.Decompose.UseLLM)

	// Orchestrator
	envInt("LUCIA_ORCHESTRATOR_PARALLEL_TASK_CAP", &cfg.Orchestrator.ParallelTaskCap)
	envBool("LUCIA_ORCHESTRATOR_ROLLBACK_ON_FAILURE", &cfg.Orchestrator.RollbackOnFailure)
	envInt("LUCIA_ORCHESTRATOR_PLAN_TIMEOUT_MS", &cfg.Orchestrator.PlanTimeoutMs)

	// Tool router
	envInt("LUCIA_TOOLS_DEFAULT_TIMEOUT_MS", &cfg.Tools.DefaultTimeoutMs)
	envBool("LUCIA_TOOLS_BREAKER_ENABLED", &cfg.Tools.BreakerEnabled)
	envInt("LUCIA_TOOLS_BREAKER_MAX_FAILURES", &cfg.Tools.BreakerMaxFailures)
	envInt("LUCIA_TOOLS_BREAKER_COOLDOWN_MS", &cfg.Tools.BreakerCooldownMs)
	envStringSlice("LUCIA_TOOLS_ALLOWED_HOSTS", &cfg.Tools.AllowedHosts)
	envBool("LUCIA_TOOLS_ALLOW_PRIVATE_HOSTS", &cfg.Tools.AllowPrivateHosts)

	// Registries
	envString("LUCIA_REGISTRY_INTENTS", &cfg.Registries.IntentsPath)
	envString("LUCIA_REGISTRY_TOOLS", &cfg.Registries.ToolsPath)
	envString("LUCIA_REGISTRY_JURY", &cfg.Registries.JuryPath)
	envBool("LUCIA_REGISTRY_WATCH", &cfg.Registries.Watch)

	// Database
	envString("LUCIA_POSTGRES_URL", &cfg.Database.PostgresURL)

	// Server
	envString("LUCIA_SERVER_HOST", &cfg.Server.Host)
	envInt("LUCIA_SERVER_PORT", &cfg.Server.Port)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SessionTTL returns the session TTL as a duration
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// CleanupInterval returns the sweeper period as a duration
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Session.CleanupIntervalSec) * time.Second
}

// VoteTimeout returns the per-juror deadline as a duration
func (c *Config) VoteTimeout() time.Duration {
	return time.Duration(c.MoE.VoteTimeoutMs) * time.Millisecond
}

// DebateTimeout returns the whole-debate deadline as a duration
func (c *Config) DebateTimeout() time.Duration {
	return time.Duration(c.MoE.DebateTimeoutMs) * time.Millisecond
}

// ToolTimeout returns the router's default per-action deadline
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tools.DefaultTimeoutMs) * time.Millisecond
}

// BreakerCooldown returns the open-state hold time
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Tools.BreakerCooldownMs) * time.Millisecond
}

// PlanTimeout returns the whole-plan execution deadline
func (c *Config) PlanTimeout() time.Duration {
	return time.Duration(c.Orchestrator.PlanTimeoutMs) * time.Millisecond
}

// IsPostgresConfigured returns true if session persistence is configured
func (c *Config) IsPostgresConfigured() bool {
	return c.Database.PostgresURL != ""
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	// LLM validation
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "LLM temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "LLM max_tokens must be positive")
	}
	if c.LLM.URL == "" {
		errs = append(errs, "LLM URL is required")
	} else if !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}

	// Embedding validation
	if c.Embedding.URL == "" {
		errs = append(errs, "embedding URL is required")
	} else if !isValidURL(c.Embedding.URL) {
		errs = append(errs, "embedding URL must be a valid URL")
	}
	if c.Embedding.Dimensions < 1 {
		errs = append(errs, "embedding dimensions must be positive")
	}

	// RAG validation
	if c.RAG.MaxExamples < 1 {
		errs = append(errs, "rag max_examples must be at least 1")
	}
	if c.RAG.ConfidenceThreshold < 0 || c.RAG.ConfidenceThreshold > 1 {
		errs = append(errs, "rag confidence_threshold must be between 0 and 1")
	}
	if c.RAG.SimilarityThreshold < 0 || c.RAG.SimilarityThreshold > 1 {
		errs = append(errs, "rag similarity_threshold must be between 0 and 1")
	}
	if c.RAG.DiversityThreshold <= 0 || c.RAG.DiversityThreshold > 1 {
		errs = append(errs, "rag diversity_threshold must be in (0, 1]")
	}
	if c.RAG.MaxClusterSize < 1 {
		errs = append(errs, "rag max_cluster_size must be at least 1")
	}
	switch c.RAG.SimilarityMethod {
	case "cosine", "euclidean", "manhattan", "hybrid":
	default:
		errs = append(errs, "rag similarity_method must be one of cosine, euclidean, manhattan, hybrid")
	}
	if c.RAG.HybridVectorWeight < 0 || c.RAG.HybridVectorWeight > 1 {
		errs = append(errs, "rag hybrid_vector_weight must be between 0 and 1")
	}
	if c.RAG.FallbackReduction < 0 || c.RAG.FallbackReduction >= 1 {
		errs = append(errs, "rag fallback_reduction must be in [0, 1)")
	}

	// MoE validation
	if c.MoE.MinVotes < 1 {
		errs = append(errs, "moe min_votes must be at least 1")
	}
	if c.MoE.ConsensusThreshold < 0 || c.MoE.ConsensusThreshold > 1 {
		errs = append(errs, "moe consensus_threshold must be between 0 and 1")
	}
	if c.MoE.DebateRounds < 0 {
		errs = append(errs, "moe debate_rounds cannot be negative")
	}
	if c.MoE.VoteTimeoutMs < 1 {
		errs = append(errs, "moe vote_timeout_ms must be positive")
	}

	// Session validation
	if c.Session.TTLSeconds < 1 {
		errs = append(errs, "session ttl_seconds must be positive")
	}
	if c.Session.MaxTurns < 1 {
		errs = append(errs, "session max_turns must be positive")
	}
	if c.Session.CompressionThreshold < 2 {
		errs = append(errs, "session compression_threshold must be at least 2")
	}
	if c.Session.MaxSessions < 1 {
		errs = append(errs, "session max_sessions must be positive")
	}

	// Slots validation
	if c.Slots.MaxAttempts < 1 {
		errs = append(errs, "slots max_attempts must be at least 1")
	}

	// Decomposition validation
	if c.Decompose.MaxSubtasks < 1 {
		errs = append(errs, "decompose max_subtasks must be at least 1")
	}
	if c.Decompose.DefaultMaxRetries < 0 {
		errs = append(errs, "decompose default_max_retries cannot be negative")
	}

	// Orchestrator validation
	if c.Orchestrator.ParallelTaskCap < 1 {
		errs = append(errs, "orchestrator parallel_task_cap must be at least 1")
	}

	// Tool router validation
	if c.Tools.DefaultTimeoutMs < 1 {
		errs = append(errs, "tools default_timeout_ms must be positive")
	}
	if c.Tools.BreakerMaxFailures < 1 {
		errs = append(errs, "tools breaker_max_failures must be at least 1")
	}

	// Registry validation
	if c.Registries.IntentsPath == "" {
		errs = append(errs, "registries intents_path is required")
	}
	if c.Registries.ToolsPath == "" {
		errs = append(errs, "registries tools_path is required")
	}
	if c.Registries.JuryPath == "" {
		errs = append(errs, "registries jury_path is required")
	}

	// Database validation
	if c.Database.PostgresURL != "" && !isValidURL(c.Database.PostgresURL) {
		errs = append(errs, "PostgreSQL URL must be a valid URL")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	if path := os.Getenv("LUCIA_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	// Check ~/.config/lucia/config.json first
	configDir := filepath.Join(homeDir, ".config", "lucia")
	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	// Check ~/.lucia/config.json
	altPath := filepath.Join(homeDir, ".lucia", "config.json")
	if _, err := os.Stat(altPath); err == nil {
		return altPath
	}

	return configPath
}
