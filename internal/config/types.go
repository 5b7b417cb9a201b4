package config

// Config is the root configuration structure for dupescan.
// Serialised to ~/.dupescan/config.json.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"    json:"database"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore" json:"vectorstore"`
	Git         GitConfig         `mapstructure:"git"         json:"git"`
	Embed       EmbedConfig       `mapstructure:"embed"       json:"embed"`
	Chat        ChatConfig        `mapstructure:"chat"        json:"chat"`
	Scan        ScanConfig        `mapstructure:"scan"        json:"scan"`
	Queue       QueueConfig       `mapstructure:"queue"       json:"queue"`
	Worker      WorkerConfig      `mapstructure:"worker"      json:"worker"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"   json:"ratelimit"`
}

// DatabaseConfig controls the persistent store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path" json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn" json:"dsn"`
}

// VectorStoreConfig controls the similarity-index backend (§2 item 2).
type VectorStoreConfig struct {
	// Driver is "qdrant" or "memory" (default; in-process, test/offline use).
	Driver           string `mapstructure:"driver"           json:"driver"`
	Endpoint         string `mapstructure:"endpoint"         json:"endpoint"`
	APIKey           string `mapstructure:"api_key"          json:"api_key"` // #nosec G101 -- config field, not a hardcoded credential
	CodeCollection   string `mapstructure:"code_collection"   json:"code_collection"`
	IntentCollection string `mapstructure:"intent_collection" json:"intent_collection"`
}

// GitConfig holds credentials for each supported source-hosting platform.
type GitConfig struct {
	GitHub []GitHubConfig `mapstructure:"github" json:"github"`
	GitLab []GitLabConfig `mapstructure:"gitlab" json:"gitlab"`
}

// GitHubConfig holds credentials for a single GitHub instance.
type GitHubConfig struct {
	Token string `mapstructure:"token" json:"token"`
	// Host allows enterprise GitHub (e.g. github.mycompany.com).
	Host string `mapstructure:"host" json:"host"`
}

// GitLabConfig holds credentials for a single GitLab instance.
type GitLabConfig struct {
	Token string `mapstructure:"token" json:"token"`
	Host  string `mapstructure:"host"  json:"host"`
}

// EmbedConfig controls the embedding provider used by the embed phase (§4.4).
type EmbedConfig struct {
	// Provider is "openai" (default) or "ollama".
	Provider string `mapstructure:"provider" json:"provider"`
	APIKey   string `mapstructure:"api_key"  json:"api_key"` // #nosec G101 -- config field, not a hardcoded credential
	Model    string `mapstructure:"model"    json:"model"`
	BaseURL  string `mapstructure:"base_url" json:"base_url"`
	// BatchSize is the number of texts embedded per provider call.
	BatchSize int `mapstructure:"batch_size" json:"batch_size"`
	// ContextWindow is the embedding model's token context window.
	ContextWindow int `mapstructure:"context_window" json:"context_window"`
	// TokenBudgetFactor truncates texts to ContextWindow*TokenBudgetFactor.
	TokenBudgetFactor float64 `mapstructure:"token_budget_factor" json:"token_budget_factor"`
	// IntentMode is "template" (deterministic) or "llm" (single chat call per PR).
	IntentMode string `mapstructure:"intent_mode" json:"intent_mode"`
}

// ChatConfig controls the chat-completion provider used by verify and rank
// (§4.6, §4.7).
type ChatConfig struct {
	// Provider is "openai" (default), "anthropic", "ollama", or "none".
	Provider  string `mapstructure:"provider"   json:"provider"`
	APIKey    string `mapstructure:"api_key"    json:"api_key"` // #nosec G101 -- config field, not a hardcoded credential
	Model     string `mapstructure:"model"      json:"model"`
	BaseURL   string `mapstructure:"base_url"   json:"base_url"`
	OllamaURL string `mapstructure:"ollama_url" json:"ollama_url"`
	// Fallback is an ordered list of providers to try if the primary fails,
	// each in the same format as Provider.
	Fallback []string `mapstructure:"fallback" json:"fallback"`
}

// ScanConfig controls per-scan clustering/verification tunables (§4.5, §4.6).
type ScanConfig struct {
	CodeSimilarityThreshold   float64 `mapstructure:"code_similarity_threshold"   json:"code_similarity_threshold"`
	IntentSimilarityThreshold float64 `mapstructure:"intent_similarity_threshold" json:"intent_similarity_threshold"`
	// Concurrency bounds pairwise verify calls within one candidate group.
	Concurrency int `mapstructure:"concurrency" json:"concurrency"`
}

// QueueConfig controls job-queue retry/backoff behaviour (§4.1).
type QueueConfig struct {
	BaseBackoffMs  int `mapstructure:"base_backoff_ms"  json:"base_backoff_ms"`
	MaxRetries     int `mapstructure:"max_retries"      json:"max_retries"`
	PollIntervalMs int `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
}

// WorkerConfig controls the worker pool (§4.1, §5).
type WorkerConfig struct {
	Count int `mapstructure:"count" json:"count"`
}

// RateLimitConfig controls the shared provider rate limiter (§4.8).
type RateLimitConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"   json:"max_concurrent"`
	MaxRetries    int `mapstructure:"max_retries"      json:"max_retries"`
	BaseBackoffMs int `mapstructure:"base_backoff_ms"  json:"base_backoff_ms"`
}
