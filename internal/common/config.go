package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	OCR      OCRConfig      `mapstructure:"ocr" yaml:"ocr"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Classify ClassifyConfig `mapstructure:"classify" yaml:"classify"`
	Extract  ExtractConfig  `mapstructure:"extract" yaml:"extract"`
	BBox     BBoxConfig     `mapstructure:"bbox" yaml:"bbox"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	GCP      GCPConfig      `mapstructure:"gcp" yaml:"gcp"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string        `mapstructure:"dsn" yaml:"dsn"`
	SQLitePath       string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	MaxConns         int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime  time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `mapstructure:"max_conn_idle_time" yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout" yaml:"statement_timeout"`
}

// ServerConfig holds daemon listener configuration
type ServerConfig struct {
	GRPCAddr    string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// OCRConfig holds text location configuration
type OCRConfig struct {
	Pdftoppm          string  `mapstructure:"pdftoppm" yaml:"pdftoppm"`
	Tesseract         string  `mapstructure:"tesseract" yaml:"tesseract"`
	TesseractLang     string  `mapstructure:"tesseract_lang" yaml:"tesseract_lang"`
	TessdataDir       string  `mapstructure:"tessdata_dir" yaml:"tessdata_dir"`
	DPI               int     `mapstructure:"dpi" yaml:"dpi"`
	MaxPages          int     `mapstructure:"max_pages" yaml:"max_pages"`
	MinTextLength     int     `mapstructure:"min_text_length" yaml:"min_text_length"`
	MinWordConfidence float64 `mapstructure:"min_word_confidence" yaml:"min_word_confidence"`
	ImageWidth        int     `mapstructure:"image_width" yaml:"image_width"`
	JPEGQuality       int     `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
}

// LLMConfig holds provider configuration
type LLMConfig struct {
	Providers         []string      `mapstructure:"providers" yaml:"providers"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`

	OpenAI    OpenAIConfig    `mapstructure:"openai" yaml:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	Gemini    GeminiConfig    `mapstructure:"gemini" yaml:"gemini"`
}

type OpenAIConfig struct {
	APIKey      string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string `mapstructure:"base_url" yaml:"base_url"`
	Model       string `mapstructure:"model" yaml:"model"`
	VisionModel string `mapstructure:"vision_model" yaml:"vision_model"`
}

type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Model   string `mapstructure:"model" yaml:"model"`
}

type GeminiConfig struct {
	Model string `mapstructure:"model" yaml:"model"`
}

// RetryConfig is the backoff policy for provider calls.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Jitter      bool          `mapstructure:"jitter" yaml:"jitter"`
}

type ClassifyConfig struct {
	MinTextLength   int         `mapstructure:"min_text_length" yaml:"min_text_length"`
	MinQuality      float64     `mapstructure:"min_quality" yaml:"min_quality"`
	HeadChars       int         `mapstructure:"head_chars" yaml:"head_chars"`
	TailChars       int         `mapstructure:"tail_chars" yaml:"tail_chars"`
	WindowThreshold int         `mapstructure:"window_threshold" yaml:"window_threshold"`
	FallbackType    string      `mapstructure:"fallback_type" yaml:"fallback_type"`
	Retry           RetryConfig `mapstructure:"retry" yaml:"retry"`
}

type ExtractConfig struct {
	SchemaDir    string      `mapstructure:"schema_dir" yaml:"schema_dir"`
	ChunkSize    int         `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int         `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	TokenBudget  int         `mapstructure:"token_budget" yaml:"token_budget"`
	Overhead     int         `mapstructure:"overhead" yaml:"overhead"`
	Parallelism  int         `mapstructure:"parallelism" yaml:"parallelism"`
	SumTolerance float64     `mapstructure:"sum_tolerance" yaml:"sum_tolerance"`
	Retry        RetryConfig `mapstructure:"retry" yaml:"retry"`
}

type BBoxConfig struct {
	LLMEnabled        bool          `mapstructure:"llm_enabled" yaml:"llm_enabled"`
	TokenBudget       int           `mapstructure:"token_budget" yaml:"token_budget"`
	MaxPagesPerCall   int           `mapstructure:"max_pages_per_call" yaml:"max_pages_per_call"`
	PartialMatchScore float64       `mapstructure:"partial_match_score" yaml:"partial_match_score"`
	CurrencyWiden     float64       `mapstructure:"currency_widen" yaml:"currency_widen"`
	PlaceholderValues []float64     `mapstructure:"placeholder_values" yaml:"placeholder_values"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Parallelism       int           `mapstructure:"parallelism" yaml:"parallelism"`
}

type CacheConfig struct {
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Cleanup time.Duration `mapstructure:"cleanup" yaml:"cleanup"`
}

type OutputConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir"`
	XLSXPath  string `mapstructure:"xlsx_path" yaml:"xlsx_path"`
	UploadGCS bool   `mapstructure:"upload_gcs" yaml:"upload_gcs"`
}

type GCPConfig struct {
	ProjectID           string `mapstructure:"project_id" yaml:"project_id"`
	Region              string `mapstructure:"region" yaml:"region"`
	Bucket              string `mapstructure:"bucket" yaml:"bucket"`
	FirestoreCollection string `mapstructure:"firestore_collection" yaml:"firestore_collection"`
}

type PipelineConfig struct {
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	QueueSize      int           `mapstructure:"queue_size" yaml:"queue_size"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout" yaml:"process_timeout"`
	WatchDirs      []string      `mapstructure:"watch_dirs" yaml:"watch_dirs"`
	Debounce       time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			SQLitePath:       getEnv("SQLITE_PATH", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr:    getEnv("GRPC_ADDR", ":8080"),
			MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		},
		OCR: OCRConfig{
			Pdftoppm:          getEnv("PDFTOPPM", "pdftoppm"),
			Tesseract:         getEnv("TESSERACT", "tesseract"),
			TesseractLang:     getEnv("TESSERACT_LANG", "eng"),
			TessdataDir:       getEnv("TESSDATA_PREFIX", ""),
			DPI:               getEnvAsInt("OCR_DPI", 300),
			MaxPages:          getEnvAsInt("OCR_MAX_PAGES", 0),
			MinTextLength:     getEnvAsInt("OCR_MIN_TEXT_LENGTH", 100),
			MinWordConfidence: getEnvAsFloat("OCR_MIN_WORD_CONFIDENCE", 0),
			ImageWidth:        getEnvAsInt("OCR_IMAGE_WIDTH", 800),
			JPEGQuality:       getEnvAsInt("OCR_JPEG_QUALITY", 70),
		},
		LLM: LLMConfig{
			Providers:         getEnvAsList("LLM_PROVIDERS", []string{"openai", "gemini"}),
			Temperature:       float32(getEnvAsFloat("LLM_TEMPERATURE", 0.0)),
			MaxTokens:         getEnvAsInt("LLM_MAX_TOKENS", 4000),
			Timeout:           getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			RequestsPerSecond: getEnvAsFloat("LLM_RPS", 2),
			Burst:             getEnvAsInt("LLM_BURST", 4),
			OpenAI: OpenAIConfig{
				APIKey:      getEnv("OPENAI_API_KEY", ""),
				BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
				VisionModel: getEnv("OPENAI_VISION_MODEL", "gpt-4o"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Model:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
			},
			Gemini: GeminiConfig{
				Model: getEnv("GEMINI_MODEL", "gemini-1.5-pro"),
			},
		},
		Classify: ClassifyConfig{
			MinTextLength:   getEnvAsInt("CLASSIFY_MIN_TEXT_LENGTH", 100),
			MinQuality:      getEnvAsFloat("CLASSIFY_MIN_QUALITY", 0.5),
			HeadChars:       getEnvAsInt("CLASSIFY_HEAD_CHARS", 2000),
			TailChars:       getEnvAsInt("CLASSIFY_TAIL_CHARS", 1000),
			WindowThreshold: getEnvAsInt("CLASSIFY_WINDOW_THRESHOLD", 3000),
			FallbackType:    getEnv("CLASSIFY_FALLBACK_TYPE", "Unknown"),
			Retry: RetryConfig{
				MaxAttempts: getEnvAsInt("CLASSIFY_MAX_ATTEMPTS", 3),
				BaseDelay:   getEnvAsDuration("CLASSIFY_BASE_DELAY", time.Second),
				MaxDelay:    getEnvAsDuration("CLASSIFY_MAX_DELAY", 60*time.Second),
				Jitter:      getEnvAsBool("CLASSIFY_JITTER", true),
			},
		},
		Extract: ExtractConfig{
			SchemaDir:    getEnv("SCHEMA_DIR", ""),
			ChunkSize:    getEnvAsInt("EXTRACT_CHUNK_SIZE", 50000),
			ChunkOverlap: getEnvAsInt("EXTRACT_CHUNK_OVERLAP", 2000),
			TokenBudget:  getEnvAsInt("EXTRACT_TOKEN_BUDGET", 100000),
			Overhead:     getEnvAsInt("EXTRACT_OVERHEAD_TOKENS", 1000),
			Parallelism:  getEnvAsInt("EXTRACT_PARALLELISM", 1),
			SumTolerance: getEnvAsFloat("EXTRACT_SUM_TOLERANCE", 0.01),
			Retry: RetryConfig{
				MaxAttempts: getEnvAsInt("EXTRACT_MAX_ATTEMPTS", 3),
				BaseDelay:   getEnvAsDuration("EXTRACT_BASE_DELAY", 2*time.Second),
				MaxDelay:    getEnvAsDuration("EXTRACT_MAX_DELAY", 120*time.Second),
				Jitter:      getEnvAsBool("EXTRACT_JITTER", true),
			},
		},
		BBox: BBoxConfig{
			LLMEnabled:        getEnvAsBool("BBOX_LLM_ENABLED", true),
			TokenBudget:       getEnvAsInt("BBOX_TOKEN_BUDGET", 100000),
			MaxPagesPerCall:   getEnvAsInt("BBOX_MAX_PAGES_PER_CALL", 5),
			PartialMatchScore: getEnvAsFloat("BBOX_PARTIAL_MATCH_SCORE", 0.5),
			CurrencyWiden:     getEnvAsFloat("BBOX_CURRENCY_WIDEN", 0.02),
			PlaceholderValues: getEnvAsFloatList("BBOX_PLACEHOLDER_VALUES", []float64{0.1, 0.2, 0.3, 0.4, 0.5}),
			MaxTokens:         getEnvAsInt("BBOX_MAX_TOKENS", 4000),
			Timeout:           getEnvAsDuration("BBOX_TIMEOUT", 120*time.Second),
			Parallelism:       getEnvAsInt("BBOX_PARALLELISM", 1),
		},
		Cache: CacheConfig{
			TTL:     getEnvAsDuration("CACHE_TTL", time.Hour),
			Cleanup: getEnvAsDuration("CACHE_CLEANUP", 10*time.Minute),
		},
		Output: OutputConfig{
			Dir:       getEnv("OUTPUT_DIR", "./out"),
			XLSXPath:  getEnv("OUTPUT_XLSX", ""),
			UploadGCS: getEnvAsBool("OUTPUT_UPLOAD_GCS", false),
		},
		GCP: GCPConfig{
			ProjectID:           getEnv("GOOGLE_CLOUD_PROJECT", ""),
			Region:              getEnv("GOOGLE_CLOUD_REGION", "us-central1"),
			Bucket:              getEnv("GCS_BUCKET", ""),
			FirestoreCollection: getEnv("FIRESTORE_COLLECTION", ""),
		},
		Pipeline: PipelineConfig{
			Workers:        getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:      getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
			ProcessTimeout: getEnvAsDuration("PIPELINE_PROCESS_TIMEOUT", 15*time.Minute),
			WatchDirs:      getEnvAsList("WATCH_DIRS", nil),
			Debounce:       getEnvAsDuration("WATCH_DEBOUNCE", 2*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsFloatList(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []float64
	for _, p := range strings.Split(value, ",") {
		if f, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if len(c.LLM.Providers) == 0 {
		return NewAppError("CONFIG_ERROR", "at least one llm provider is required", ErrConfig)
	}
	for _, p := range c.LLM.Providers {
		switch p {
		case "openai":
			if c.LLM.OpenAI.APIKey == "" {
				return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required for provider openai", ErrConfig)
			}
		case "anthropic":
			if c.LLM.Anthropic.APIKey == "" {
				return NewAppError("CONFIG_ERROR", "ANTHROPIC_API_KEY is required for provider anthropic", ErrConfig)
			}
		case "gemini":
			if c.GCP.ProjectID == "" {
				return NewAppError("CONFIG_ERROR", "GOOGLE_CLOUD_PROJECT is required for provider gemini", ErrConfig)
			}
		default:
			return NewAppError("CONFIG_ERROR", "unknown llm provider "+p, ErrConfig)
		}
	}
	if c.Extract.ChunkOverlap >= c.Extract.ChunkSize {
		return NewAppError("CONFIG_ERROR", "extract.chunk_overlap must be smaller than extract.chunk_size", ErrConfig)
	}
	if c.Pipeline.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "pipeline.workers must be positive", ErrConfig)
	}
	return nil
}
