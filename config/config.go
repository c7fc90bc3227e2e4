package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dyike/cortexflow/consts"
)

type Config struct {
	ProjectDir   string `json:"project_dir"`
	ResultsDir   string `json:"results_dir"`
	DataDir      string `json:"data_dir"`
	DataCacheDir string `json:"data_cache_dir"`

	LLMProvider    string `json:"llm_provider"`
	DeepThinkLLM   string `json:"deep_think_llm"`
	QuickThinkLLM  string `json:"quick_think_llm"`
	BackendURL     string `json:"backend_url"`
	DeepSeekAPIKey string `json:"deepseek_api_key"`
	OpenAIAPIKey   string `json:"openai_api_key"`
	MaxTokens      int    `json:"max_tokens"`

	// Debate
	MaxDebateRounds      int     `json:"max_debate_rounds"`
	MaxRiskDiscussRounds int     `json:"max_risk_rounds"`
	ConvergenceEnabled   bool    `json:"convergence_enabled"`
	SemanticThreshold    float64 `json:"semantic_threshold"`
	InfoGainThreshold    float64 `json:"info_gain_threshold"`
	SimilarityMeasure    string  `json:"similarity_measure"`

	// Checkpointing
	CheckpointBackend string `json:"checkpoint_backend"`
	CheckpointPath    string `json:"checkpoint_path"`
	CheckpointDSN     string `json:"checkpoint_dsn"`

	// Risk
	MaxPositionFraction      float64  `json:"max_position_fraction"`
	MaxPortfolioFraction     float64  `json:"max_portfolio_fraction"`
	MarginRequirement        float64  `json:"margin_requirement"`
	MaxSensitivityFraction   float64  `json:"max_sensitivity_fraction"`
	EnabledInstrumentClasses []string `json:"enabled_instrument_classes"`
	PositionSizeFraction     float64  `json:"position_size_fraction"`

	// Stage calls
	StageTimeout Duration    `json:"stage_timeout"`
	RetryPolicy  RetryPolicy `json:"retry_policy"`

	// Market data
	PriceSource         string `json:"price_source"`
	FinnhubAPIKey       string `json:"finnhub_api_key"`
	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`

	// Broker
	Broker           string  `json:"broker"`
	BrokerURL        string  `json:"broker_url"`
	BrokerAPIKey     string  `json:"broker_api_key"`
	BrokerAPISecret  string  `json:"broker_api_secret"`
	PaperCash        float64 `json:"paper_cash"`
	ExecutionEnabled bool    `json:"execution_enabled"`

	// Audit
	AuditBackend string `json:"audit_backend"`
	AuditPath    string `json:"audit_path"`
	S3Endpoint   string `json:"s3_endpoint"`
	S3Bucket     string `json:"s3_bucket"`
	S3AccessKey  string `json:"s3_access_key"`
	S3SecretKey  string `json:"s3_secret_key"`
	S3Region     string `json:"s3_region"`
	S3UseSSL     bool   `json:"s3_use_ssl"`
	WriteReports bool   `json:"write_reports"`

	LogLevel    string `json:"log_level"`
	Debug       bool   `json:"debug"`
	MetricsAddr string `json:"metrics_addr"`

	// Eino Debug configuration
	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxAttempts int      `json:"max_attempts"`
	Backoff     Duration `json:"backoff"`
	MaxBackoff  Duration `json:"max_backoff"`
	Multiplier  float64  `json:"multiplier"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     Duration(time.Second),
		MaxBackoff:  Duration(60 * time.Second),
		Multiplier:  2.0,
	}
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	// Override with environment variables if they exist
	cfg.loadFromEnv()

	return cfg
}

// DefaultConfigWithRoot returns defaults with every directory placed under root.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir:   root,
		ResultsDir:   filepath.Join(root, "results"),
		DataDir:      filepath.Join(root, "data"),
		DataCacheDir: filepath.Join(root, "data", "cache"),

		LLMProvider:   "deepseek",
		DeepThinkLLM:  "deepseek-chat",
		QuickThinkLLM: "deepseek-chat",
		MaxTokens:     2000,

		MaxDebateRounds:      1,
		MaxRiskDiscussRounds: 1,
		ConvergenceEnabled:   true,
		SemanticThreshold:    0.85,
		InfoGainThreshold:    0.1,
		SimilarityMeasure:    "lexical",

		CheckpointBackend: consts.BackendFile,
		CheckpointPath:    filepath.Join(root, "data", "checkpoints.db"),

		MaxPositionFraction:      0.20,
		MaxPortfolioFraction:     1.0,
		MarginRequirement:        0.5,
		MaxSensitivityFraction:   0.5,
		EnabledInstrumentClasses: []string{consts.ClassEquity},
		PositionSizeFraction:     0.10,

		StageTimeout: Duration(2 * time.Minute),
		RetryPolicy:  DefaultRetryPolicy(),

		PriceSource: "yahoo",
		Broker:      "paper",
		PaperCash:   100000,

		AuditBackend: "sqlite",
		AuditPath:    filepath.Join(root, "data", "audit.db"),
		WriteReports: true,

		LogLevel: "info",

		EinoDebugEnabled: false,
		EinoDebugPort:    52538,
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.MaxDebateRounds < 1 {
		return fmt.Errorf("max_debate_rounds must be >= 1, got %d", c.MaxDebateRounds)
	}
	if c.MaxRiskDiscussRounds < 1 {
		return fmt.Errorf("max_risk_rounds must be >= 1, got %d", c.MaxRiskDiscussRounds)
	}
	if err := checkUnit("semantic_threshold", c.SemanticThreshold); err != nil {
		return err
	}
	if err := checkUnit("info_gain_threshold", c.InfoGainThreshold); err != nil {
		return err
	}
	switch c.SimilarityMeasure {
	case "", "lexical", "embedding":
	default:
		return fmt.Errorf("unknown similarity_measure %q", c.SimilarityMeasure)
	}

	switch c.CheckpointBackend {
	case consts.BackendMemory:
	case consts.BackendFile:
		if strings.TrimSpace(c.CheckpointPath) == "" {
			return fmt.Errorf("checkpoint_path is required for the file backend")
		}
	case consts.BackendNetworked:
		if strings.TrimSpace(c.CheckpointDSN) == "" {
			return fmt.Errorf("checkpoint_dsn is required for the networked backend")
		}
	default:
		return fmt.Errorf("unknown checkpoint_backend %q", c.CheckpointBackend)
	}

	for name, v := range map[string]float64{
		"max_position_fraction":    c.MaxPositionFraction,
		"max_portfolio_fraction":   c.MaxPortfolioFraction,
		"margin_requirement":       c.MarginRequirement,
		"max_sensitivity_fraction": c.MaxSensitivityFraction,
		"position_size_fraction":   c.PositionSizeFraction,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", name, v)
		}
	}
	for _, class := range c.EnabledInstrumentClasses {
		switch class {
		case consts.ClassEquity, consts.ClassShort, consts.ClassOption:
		default:
			return fmt.Errorf("unknown instrument class %q", class)
		}
	}

	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage_timeout must be positive")
	}
	if c.RetryPolicy.MaxAttempts < 1 {
		return fmt.Errorf("retry_policy.max_attempts must be >= 1, got %d", c.RetryPolicy.MaxAttempts)
	}
	if c.RetryPolicy.Backoff < 0 || c.RetryPolicy.MaxBackoff < 0 {
		return fmt.Errorf("retry_policy backoff must not be negative")
	}

	switch c.PriceSource {
	case "yahoo", "longport", "static":
	default:
		return fmt.Errorf("unknown price_source %q", c.PriceSource)
	}
	switch c.Broker {
	case "paper":
	case "rest":
		if strings.TrimSpace(c.BrokerURL) == "" {
			return fmt.Errorf("broker_url is required for the rest broker")
		}
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	switch c.AuditBackend {
	case "", "none", "sqlite":
	case "s3":
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			return fmt.Errorf("s3_endpoint and s3_bucket are required for the s3 audit backend")
		}
	default:
		return fmt.Errorf("unknown audit_backend %q", c.AuditBackend)
	}
	return nil
}

// ClassEnabled reports whether RiskGate applies the rules of an instrument class.
func (c *Config) ClassEnabled(class string) bool {
	for _, enabled := range c.EnabledInstrumentClasses {
		if enabled == class {
			return true
		}
	}
	return false
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("PROJECT_DIR"); val != "" {
		c.ProjectDir = val
	}
	if val := os.Getenv("RESULTS_DIR"); val != "" {
		c.ResultsDir = val
	}
	if val := os.Getenv("DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("DATA_CACHE_DIR"); val != "" {
		c.DataCacheDir = val
	}

	if val := os.Getenv("LLM_PROVIDER"); val != "" {
		c.LLMProvider = val
	}
	if val := os.Getenv("DEEP_THINK_LLM"); val != "" {
		c.DeepThinkLLM = val
	}
	if val := os.Getenv("QUICK_THINK_LLM"); val != "" {
		c.QuickThinkLLM = val
	}
	if val := os.Getenv("BACKEND_URL"); val != "" {
		c.BackendURL = val
	}
	if val := os.Getenv("DEEPSEEK_API_KEY"); val != "" {
		c.DeepSeekAPIKey = val
	}
	if val := os.Getenv("FINNHUB_API_KEY"); val != "" {
		c.FinnhubAPIKey = val
	}
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		c.OpenAIAPIKey = val
	}

	if val := os.Getenv("MAX_DEBATE_ROUNDS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MaxDebateRounds = v
		}
	}
	if val := os.Getenv("MAX_RISK_ROUNDS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MaxRiskDiscussRounds = v
		}
	}
	if val := os.Getenv("CONVERGENCE_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.ConvergenceEnabled = enabled
		}
	}
	if val := os.Getenv("SEMANTIC_THRESHOLD"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.SemanticThreshold = v
		}
	}
	if val := os.Getenv("INFO_GAIN_THRESHOLD"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.InfoGainThreshold = v
		}
	}

	if val := os.Getenv("CHECKPOINT_BACKEND"); val != "" {
		c.CheckpointBackend = val
	}
	if val := os.Getenv("CHECKPOINT_PATH"); val != "" {
		c.CheckpointPath = val
	}
	if val := os.Getenv("CHECKPOINT_DSN"); val != "" {
		c.CheckpointDSN = val
	}

	if val := os.Getenv("MAX_POSITION_FRACTION"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.MaxPositionFraction = v
		}
	}
	if val := os.Getenv("MAX_PORTFOLIO_FRACTION"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.MaxPortfolioFraction = v
		}
	}
	if val := os.Getenv("ENABLED_INSTRUMENT_CLASSES"); val != "" {
		c.EnabledInstrumentClasses = splitList(val)
	}
	if val := os.Getenv("STAGE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.StageTimeout = Duration(d)
		}
	}
	if val := os.Getenv("RETRY_MAX_ATTEMPTS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.RetryPolicy.MaxAttempts = v
		}
	}

	if val := os.Getenv("PRICE_SOURCE"); val != "" {
		c.PriceSource = val
	}
	if val := os.Getenv("LONGPORT_APP_KEY"); val != "" {
		c.LongportAppKey = val
	}
	if val := os.Getenv("LONGPORT_APP_SECRET"); val != "" {
		c.LongportAppSecret = val
	}
	if val := os.Getenv("LONGPORT_ACCESS_TOKEN"); val != "" {
		c.LongportAccessToken = val
	}

	if val := os.Getenv("BROKER"); val != "" {
		c.Broker = val
	}
	if val := os.Getenv("BROKER_URL"); val != "" {
		c.BrokerURL = val
	}
	if val := os.Getenv("BROKER_API_KEY"); val != "" {
		c.BrokerAPIKey = val
	}
	if val := os.Getenv("BROKER_API_SECRET"); val != "" {
		c.BrokerAPISecret = val
	}
	if val := os.Getenv("EXECUTION_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.ExecutionEnabled = enabled
		}
	}

	if val := os.Getenv("AUDIT_BACKEND"); val != "" {
		c.AuditBackend = val
	}
	if val := os.Getenv("S3_ENDPOINT"); val != "" {
		c.S3Endpoint = val
	}
	if val := os.Getenv("S3_BUCKET"); val != "" {
		c.S3Bucket = val
	}
	if val := os.Getenv("S3_ACCESS_KEY"); val != "" {
		c.S3AccessKey = val
	}
	if val := os.Getenv("S3_SECRET_KEY"); val != "" {
		c.S3SecretKey = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("CORTEXFLOW_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}
	if val := os.Getenv("METRICS_ADDR"); val != "" {
		c.MetricsAddr = val
	}
	if val := os.Getenv("EINO_DEBUG_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.EinoDebugEnabled = enabled
		}
	}
	if val := os.Getenv("EINO_DEBUG_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.EinoDebugPort = port
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir, c.DataCacheDir}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
