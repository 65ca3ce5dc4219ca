// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// ArtifactTTL bounds how long an orphaned artifact survives. 0 keeps artifacts forever.
	ArtifactTTL time.Duration `yaml:"artifact_ttl"`
	// RequestTTL is how long a request id -> job id mapping is remembered.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

type StageConfig struct {
	Workers           int           `yaml:"workers"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	MaxAttempts       int           `yaml:"max_attempts"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

type PipelineConfig struct {
	Orchestrate StageConfig `yaml:"orchestrate"`
	Fetch       StageConfig `yaml:"fetch"`
	Script      StageConfig `yaml:"script"`
	Synthesize  StageConfig `yaml:"synthesize"`
	Publish     StageConfig `yaml:"publish"`

	PollWait     time.Duration `yaml:"poll_wait"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// Stage returns the settings of a stage by name.
func (p *PipelineConfig) Stage(name string) StageConfig {
	switch name {
	case "orchestrate":
		return p.Orchestrate
	case "fetch":
		return p.Fetch
	case "script":
		return p.Script
	case "synthesize":
		return p.Synthesize
	case "publish":
		return p.Publish
	}
	return StageConfig{}
}

type SearchConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

type FetchConfig struct {
	MaxArticles   int           `yaml:"max_articles"`
	MaxBills      int           `yaml:"max_bills"`
	NewsWindow    time.Duration `yaml:"news_window"`
	BillWindow    time.Duration `yaml:"bill_window"`
	WeeklyWindows int           `yaml:"weekly_windows"` // weekly briefs widen both windows by this factor
}

type HostConfig struct {
	Name    string `yaml:"name"`
	Persona string `yaml:"persona"`
	Voice   string `yaml:"voice"`
}

type AIConfig struct {
	Provider        string `yaml:"provider"` // gemini | openai
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	DefaultModel    string `yaml:"default_model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent AI calls
}

type ScriptConfig struct {
	HostA                 HostConfig `yaml:"host_a"`
	HostB                 HostConfig `yaml:"host_b"`
	TargetLines           int        `yaml:"target_lines"`
	MinLines              int        `yaml:"min_lines"`
	MaxLines              int        `yaml:"max_lines"`
	MaxPromptTokens       int        `yaml:"max_prompt_tokens"`
	TokenizerModel        string     `yaml:"tokenizer_model"`
	MaxValidationAttempts int        `yaml:"max_validation_attempts"`
}

type TTSConfig struct {
	Provider         string        `yaml:"provider"` // gemini | elevenlabs
	Model            string        `yaml:"model"`
	ElevenLabsKey    string        `yaml:"elevenlabs_key"`
	ElevenLabsURL    string        `yaml:"elevenlabs_url"`
	Timeout          time.Duration `yaml:"timeout"`
	ConcurrentLimit  int           `yaml:"concurrent_limit"`
	WordsPerMinute   int           `yaml:"words_per_minute"` // used when duration cannot be read from the audio
	GeminiSampleRate int           `yaml:"gemini_sample_rate"`
}

type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	Region        string `yaml:"region"`
	PublicBaseURL string `yaml:"public_base_url"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type SchedulerConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Jitter        time.Duration `yaml:"jitter"`
	DedupeWindow  time.Duration `yaml:"dedupe_window"`
	WeeklyDay     string        `yaml:"weekly_day"` // e.g. "sunday"
	PageSize      int           `yaml:"page_size"`
	RunOnStartup  bool          `yaml:"run_on_startup"`
	TickTimeout   time.Duration `yaml:"tick_timeout"`
	DisableWeekly bool          `yaml:"disable_weekly"`
}

type AdminConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type InlineConfig struct {
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Search    SearchConfig    `yaml:"search"`
	Fetch     FetchConfig     `yaml:"fetch"`
	AI        AIConfig        `yaml:"ai"`
	Script    ScriptConfig    `yaml:"script"`
	TTS       TTSConfig       `yaml:"tts"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Inline    InlineConfig    `yaml:"inline"`

	Runtime RuntimeConfig `yaml:"-"`
}

// envOverrides lists the secrets that may come from the environment
// (BRIEF_DATABASE_URL, BRIEF_GEMINI_API_KEY, ...).
type envOverrides struct {
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	RedisURL         string `envconfig:"REDIS_URL"`
	RedisPassword    string `envconfig:"REDIS_PASSWORD"`
	NewsAPIKey       string `envconfig:"NEWS_API_KEY"`
	OpenAIKey        string `envconfig:"OPENAI_API_KEY"`
	GeminiKey        string `envconfig:"GEMINI_API_KEY"`
	ElevenLabsKey    string `envconfig:"ELEVENLABS_API_KEY"`
	StorageAccessKey string `envconfig:"STORAGE_ACCESS_KEY"`
	StorageSecretKey string `envconfig:"STORAGE_SECRET_KEY"`
	AdminJWTSecret   string `envconfig:"ADMIN_JWT_SECRET"`
}

const EnvPrefix = "BRIEF"

// LoadConfig reads the YAML file at path, applies environment overrides and defaults.
// A missing file is not an error when every required value comes from the environment.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only configuration
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// Validate checks the combinations ApplyDefaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	sc := c.Script
	if sc.MaxLines < 2 {
		errs = append(errs, fmt.Errorf("script.max_lines must be at least 2, got %d", sc.MaxLines))
	}
	if sc.MaxLines < sc.MinLines {
		errs = append(errs, fmt.Errorf("script.max_lines (%d) is below script.min_lines (%d)", sc.MaxLines, sc.MinLines))
	}
	if sc.TargetLines < sc.MinLines || sc.TargetLines > sc.MaxLines {
		errs = append(errs, fmt.Errorf("script.target_lines (%d) is outside [%d, %d]", sc.TargetLines, sc.MinLines, sc.MaxLines))
	}
	if ceiling := c.Pipeline.Script.MaxAttempts; sc.MaxValidationAttempts >= ceiling {
		errs = append(errs, fmt.Errorf("script.max_validation_attempts (%d) must be below pipeline.script.max_attempts (%d)", sc.MaxValidationAttempts, ceiling))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Database.URL, env.DatabaseURL)
	set(&cfg.Redis.URL, env.RedisURL)
	set(&cfg.Redis.Password, env.RedisPassword)
	set(&cfg.Search.APIKey, env.NewsAPIKey)
	set(&cfg.AI.OpenAIKey, env.OpenAIKey)
	set(&cfg.AI.GeminiKey, env.GeminiKey)
	set(&cfg.TTS.ElevenLabsKey, env.ElevenLabsKey)
	set(&cfg.Storage.AccessKey, env.StorageAccessKey)
	set(&cfg.Storage.SecretKey, env.StorageSecretKey)
	set(&cfg.Admin.JWTSecret, env.AdminJWTSecret)
	return nil
}

// ApplyDefaults fills every zero value with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8080
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.RequestTTL <= 0 {
		cfg.Redis.RequestTTL = 72 * time.Hour
	}

	stageDefaults(&cfg.Pipeline.Orchestrate, 4, time.Minute, time.Minute)
	stageDefaults(&cfg.Pipeline.Fetch, 4, time.Minute, 2*time.Minute)
	stageDefaults(&cfg.Pipeline.Script, 2, time.Minute, 5*time.Minute)
	stageDefaults(&cfg.Pipeline.Synthesize, 2, 5*time.Minute, 15*time.Minute)
	stageDefaults(&cfg.Pipeline.Publish, 2, 5*time.Minute, 5*time.Minute)
	if cfg.Pipeline.PollWait <= 0 {
		cfg.Pipeline.PollWait = 2 * time.Second
	}
	if cfg.Pipeline.ReapInterval <= 0 {
		cfg.Pipeline.ReapInterval = 15 * time.Second
	}

	if cfg.Search.BaseURL == "" {
		cfg.Search.BaseURL = "https://newsapi.org"
	}
	if cfg.Search.Language == "" {
		cfg.Search.Language = "en"
	}
	if cfg.Search.Timeout <= 0 {
		cfg.Search.Timeout = 20 * time.Second
	}
	if cfg.Fetch.MaxArticles <= 0 {
		cfg.Fetch.MaxArticles = 8
	}
	if cfg.Fetch.MaxBills <= 0 {
		cfg.Fetch.MaxBills = 5
	}
	if cfg.Fetch.NewsWindow <= 0 {
		cfg.Fetch.NewsWindow = 48 * time.Hour
	}
	if cfg.Fetch.BillWindow <= 0 {
		cfg.Fetch.BillWindow = 30 * 24 * time.Hour
	}
	if cfg.Fetch.WeeklyWindows <= 0 {
		cfg.Fetch.WeeklyWindows = 4
	}

	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "gemini"
	}
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.AI.DefaultModel == "" {
		if cfg.AI.Provider == "openai" {
			cfg.AI.DefaultModel = "gpt-4o-mini"
		} else {
			cfg.AI.DefaultModel = "gemini-2.5-flash"
		}
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 4096
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 8
	}

	hostDefaults(&cfg.Script.HostA, "Alex", "a curious policy reporter who asks sharp questions", "Kore")
	hostDefaults(&cfg.Script.HostB, "Jordan", "a calm legislative analyst who explains the details", "Puck")
	if cfg.Script.TargetLines <= 0 {
		cfg.Script.TargetLines = 16
	}
	if cfg.Script.MinLines <= 0 {
		cfg.Script.MinLines = 4
	}
	if cfg.Script.MaxLines <= 0 {
		cfg.Script.MaxLines = 40
	}
	if cfg.Script.MaxPromptTokens <= 0 {
		cfg.Script.MaxPromptTokens = 6000
	}
	if cfg.Script.TokenizerModel == "" {
		cfg.Script.TokenizerModel = "gpt-4o"
	}
	if cfg.Script.MaxValidationAttempts <= 0 {
		cfg.Script.MaxValidationAttempts = 3
	}

	if cfg.TTS.Provider == "" {
		cfg.TTS.Provider = "gemini"
	}
	cfg.TTS.Provider = strings.ToLower(cfg.TTS.Provider)
	if cfg.TTS.Model == "" {
		if cfg.TTS.Provider == "elevenlabs" {
			cfg.TTS.Model = "eleven_v3"
		} else {
			cfg.TTS.Model = "gemini-2.5-flash-preview-tts"
		}
	}
	if cfg.TTS.ElevenLabsURL == "" {
		cfg.TTS.ElevenLabsURL = "https://api.elevenlabs.io"
	}
	if cfg.TTS.Timeout <= 0 {
		cfg.TTS.Timeout = 10 * time.Minute
	}
	if cfg.TTS.ConcurrentLimit <= 0 {
		cfg.TTS.ConcurrentLimit = 2
	}
	if cfg.TTS.WordsPerMinute <= 0 {
		cfg.TTS.WordsPerMinute = 150
	}
	if cfg.TTS.GeminiSampleRate <= 0 {
		cfg.TTS.GeminiSampleRate = 24000
	}

	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "briefs"
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "briefs"
	}

	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = time.Hour
	}
	if cfg.Scheduler.Jitter <= 0 {
		cfg.Scheduler.Jitter = 30 * time.Second
	}
	if cfg.Scheduler.DedupeWindow <= 0 {
		cfg.Scheduler.DedupeWindow = 20 * time.Hour
	}
	if cfg.Scheduler.WeeklyDay == "" {
		cfg.Scheduler.WeeklyDay = "sunday"
	}
	if cfg.Scheduler.PageSize <= 0 {
		cfg.Scheduler.PageSize = 200
	}
	if cfg.Scheduler.TickTimeout <= 0 {
		cfg.Scheduler.TickTimeout = 2 * time.Minute
	}

	if cfg.Inline.RetryDelay <= 0 {
		cfg.Inline.RetryDelay = 5 * time.Second
	}
}

func stageDefaults(s *StageConfig, workers int, delay, visibility time.Duration) {
	if s.Workers <= 0 {
		s.Workers = workers
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = delay
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 8
	}
	if s.VisibilityTimeout <= 0 {
		s.VisibilityTimeout = visibility
	}
}

func hostDefaults(h *HostConfig, name, persona, voice string) {
	if h.Name == "" {
		h.Name = name
	}
	if h.Persona == "" {
		h.Persona = persona
	}
	if h.Voice == "" {
		h.Voice = voice
	}
}

// RequireDatabase and friends validate the keys a given command needs.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	return nil
}

func (c *Config) RequireRedis() error {
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	return nil
}

func (c *Config) RequireStorage() error {
	if c.Storage.Endpoint == "" {
		return errors.New("storage.endpoint is required")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return errors.New("storage credentials are required")
	}
	return nil
}
