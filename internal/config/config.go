package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds worker configuration loaded from YAML property sources and env.
type Config struct {
	ServerPort      string
	ShutdownTimeout time.Duration

	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	ExternalClient ExternalClientConfig
	Zeebe          ZeebeConfig
}

// ExternalClientConfig is the camunda.external-client section.
type ExternalClientConfig struct {
	BaseURL                    string
	WorkerID                   string
	MaxTasks                   int
	UsePriority                bool
	DefaultSerializationFormat string
	DateFormat                 string
	AsyncResponseTimeout       time.Duration
	LockDuration               time.Duration
	DisableAutoFetching        bool
	DisableBackoffStrategy     bool
	Username                   string
	Password                   string

	// Subscriptions holds per-topic overrides. Nil fields are not configured.
	Subscriptions map[string]SubscriptionConfig
}

// SubscriptionConfig is camunda.external-client.subscriptions.<topic>.
type SubscriptionConfig struct {
	LockDuration                *time.Duration
	Variables                   []string
	LocalVariables              *bool
	BusinessKey                 *string
	ProcessDefinitionID         *string
	ProcessDefinitionIDIn       []string
	ProcessDefinitionKey        *string
	ProcessDefinitionKeyIn      []string
	ProcessDefinitionVersionTag *string
	WithoutTenantID             *bool
	TenantIDIn                  []string
	IncludeExtensionProperties  *bool
}

// ZeebeConfig is the zeebe.client section.
type ZeebeConfig struct {
	Enabled                      bool
	GatewayAddress               string
	UsePlainText                 bool
	ClusterID                    string
	ClientID                     string
	ClientSecret                 string
	Region                       string
	CACertificatePath            string
	KeepAlive                    time.Duration
	DefaultRequestTimeout        time.Duration
	DefaultJobPollInterval       time.Duration
	DefaultJobTimeout            time.Duration
	DefaultJobWorkerName         string
	NumJobWorkerExecutionThreads int
}

// Cloud reports whether the Camunda SaaS credentials are complete.
func (z ZeebeConfig) Cloud() bool {
	return z.ClusterID != "" && z.ClientID != "" && z.ClientSecret != ""
}

// Options controls where Load looks for property sources.
type Options struct {
	// Dir contains the config/ directory. Defaults to the working directory.
	Dir string
	// Env selects config/{Env}.yaml. Defaults to ENV_NAME, then "dev".
	Env string
	// PropertySources are applied in order on top of the env file. Relative
	// paths resolve against Dir.
	PropertySources []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Reliability struct {
		RequestTimeout   string `yaml:"request_timeout"`
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Camunda struct {
		ExternalClient externalClientFile `yaml:"external-client"`
	} `yaml:"camunda"`

	Zeebe struct {
		Client zeebeClientFile `yaml:"client"`
	} `yaml:"zeebe"`
}

// Engine-facing durations are integer milliseconds, as in the engine's own configuration.
type externalClientFile struct {
	BaseURL                    string `yaml:"base-url"`
	WorkerID                   string `yaml:"worker-id"`
	MaxTasks                   *int   `yaml:"max-tasks"`
	UsePriority                *bool  `yaml:"use-priority"`
	DefaultSerializationFormat string `yaml:"default-serialization-format"`
	DateFormat                 string `yaml:"date-format"`
	AsyncResponseTimeout       *int64 `yaml:"async-response-timeout"`
	LockDuration               *int64 `yaml:"lock-duration"`
	DisableAutoFetching        bool   `yaml:"disable-auto-fetching"`
	DisableBackoffStrategy     bool   `yaml:"disable-backoff-strategy"`
	BasicAuth                  struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"basic-auth"`
	Subscriptions map[string]subscriptionFile `yaml:"subscriptions"`
}

type subscriptionFile struct {
	LockDuration                *int64   `yaml:"lock-duration"`
	Variables                   []string `yaml:"variables"`
	LocalVariables              *bool    `yaml:"local-variables"`
	BusinessKey                 *string  `yaml:"business-key"`
	ProcessDefinitionID         *string  `yaml:"process-definition-id"`
	ProcessDefinitionIDIn       []string `yaml:"process-definition-id-in"`
	ProcessDefinitionKey        *string  `yaml:"process-definition-key"`
	ProcessDefinitionKeyIn      []string `yaml:"process-definition-key-in"`
	ProcessDefinitionVersionTag *string  `yaml:"process-definition-version-tag"`
	WithoutTenantID             *bool    `yaml:"without-tenant-id"`
	TenantIDIn                  []string `yaml:"tenant-id-in"`
	IncludeExtensionProperties  *bool    `yaml:"include-extension-properties"`
}

type zeebeClientFile struct {
	Enabled                      bool   `yaml:"enabled"`
	GatewayAddress               string `yaml:"gateway-address"`
	UsePlainText                 *bool  `yaml:"use-plain-text"`
	ClusterID                    string `yaml:"cluster-id"`
	ClientID                     string `yaml:"client-id"`
	ClientSecret                 string `yaml:"client-secret"`
	Region                       string `yaml:"region"`
	CACertificatePath            string `yaml:"ca-certificate-path"`
	KeepAlive                    string `yaml:"keep-alive"`
	DefaultRequestTimeout        string `yaml:"default-request-timeout"`
	DefaultJobPollInterval       string `yaml:"default-job-poll-interval"`
	DefaultJobTimeout            string `yaml:"default-job-timeout"`
	DefaultJobWorkerName         string `yaml:"default-job-worker-name"`
	NumJobWorkerExecutionThreads int    `yaml:"num-job-worker-execution-threads"`
}

// Load reads config/{ENV_NAME}.yaml (default dev) from the working directory.
func Load() (*Config, error) {
	return LoadWithOptions(Options{})
}

// LoadWithOptions reads the env file, layers the property sources on top of it
// key by key, applies environment overrides and validates the result.
func LoadWithOptions(opts Options) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: get working directory: %w", err)
		}
		dir = cwd
	}
	env := opts.Env
	if env == "" {
		env = os.Getenv("ENV_NAME")
	}
	if env == "" {
		env = "dev"
	}

	var fc fileConfig
	if err := decodeFile(filepath.Join(dir, "config", env+".yaml"), &fc); err != nil {
		return nil, err
	}
	for _, src := range opts.PropertySources {
		if !filepath.IsAbs(src) {
			src = filepath.Join(dir, src)
		}
		if err := decodeFile(src, &fc); err != nil {
			return nil, err
		}
	}

	cfg, err := resolve(&fc)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile decodes path on top of fc. Keys absent from the file keep their
// current values; subscription entries merge per topic and per field.
func decodeFile(path string, fc *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("read config file: %w", err)
	}

	previous := fc.Camunda.ExternalClient.Subscriptions
	fc.Camunda.ExternalClient.Subscriptions = nil
	if err := yaml.Unmarshal(data, fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	fc.Camunda.ExternalClient.Subscriptions = mergeSubscriptions(previous, fc.Camunda.ExternalClient.Subscriptions)
	return nil
}

func mergeSubscriptions(base, overlay map[string]subscriptionFile) map[string]subscriptionFile {
	if base == nil && overlay == nil {
		return nil
	}
	out := make(map[string]subscriptionFile, len(base)+len(overlay))
	for topic, s := range base {
		out[topic] = s
	}
	for topic, o := range overlay {
		s := out[topic]
		if o.LockDuration != nil {
			s.LockDuration = o.LockDuration
		}
		if o.Variables != nil {
			s.Variables = o.Variables
		}
		if o.LocalVariables != nil {
			s.LocalVariables = o.LocalVariables
		}
		if o.BusinessKey != nil {
			s.BusinessKey = o.BusinessKey
		}
		if o.ProcessDefinitionID != nil {
			s.ProcessDefinitionID = o.ProcessDefinitionID
		}
		if o.ProcessDefinitionIDIn != nil {
			s.ProcessDefinitionIDIn = o.ProcessDefinitionIDIn
		}
		if o.ProcessDefinitionKey != nil {
			s.ProcessDefinitionKey = o.ProcessDefinitionKey
		}
		if o.ProcessDefinitionKeyIn != nil {
			s.ProcessDefinitionKeyIn = o.ProcessDefinitionKeyIn
		}
		if o.ProcessDefinitionVersionTag != nil {
			s.ProcessDefinitionVersionTag = o.ProcessDefinitionVersionTag
		}
		if o.WithoutTenantID != nil {
			s.WithoutTenantID = o.WithoutTenantID
		}
		if o.TenantIDIn != nil {
			s.TenantIDIn = o.TenantIDIn
		}
		if o.IncludeExtensionProperties != nil {
			s.IncludeExtensionProperties = o.IncludeExtensionProperties
		}
		out[topic] = s
	}
	return out
}

func resolve(fc *fileConfig) (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Reliability.RequestTimeout, 10*time.Second)
	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = true
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	ec, err := resolveExternalClient(&fc.Camunda.ExternalClient)
	if err != nil {
		return nil, err
	}
	cfg.ExternalClient = ec

	cfg.Zeebe = resolveZeebe(&fc.Zeebe.Client)
	return cfg, nil
}

func resolveExternalClient(f *externalClientFile) (ExternalClientConfig, error) {
	ec := ExternalClientConfig{
		BaseURL:                    strings.TrimSpace(f.BaseURL),
		WorkerID:                   strings.TrimSpace(f.WorkerID),
		MaxTasks:                   10,
		UsePriority:                true,
		DefaultSerializationFormat: f.DefaultSerializationFormat,
		DateFormat:                 f.DateFormat,
		LockDuration:               20 * time.Second,
		DisableAutoFetching:        f.DisableAutoFetching,
		DisableBackoffStrategy:     f.DisableBackoffStrategy,
		Username:                   f.BasicAuth.Username,
		Password:                   f.BasicAuth.Password,
	}
	if f.MaxTasks != nil {
		ec.MaxTasks = *f.MaxTasks
	}
	if f.UsePriority != nil {
		ec.UsePriority = *f.UsePriority
	}
	if ec.DefaultSerializationFormat == "" {
		ec.DefaultSerializationFormat = "application/json"
	}
	if ec.DateFormat == "" {
		ec.DateFormat = "2006-01-02T15:04:05.000-0700"
	}
	if f.AsyncResponseTimeout != nil {
		ec.AsyncResponseTimeout = millis(*f.AsyncResponseTimeout)
	}
	if f.LockDuration != nil {
		ec.LockDuration = millis(*f.LockDuration)
	}

	if len(f.Subscriptions) > 0 {
		ec.Subscriptions = make(map[string]SubscriptionConfig, len(f.Subscriptions))
	}
	for topic, s := range f.Subscriptions {
		sc := SubscriptionConfig{
			Variables:                   s.Variables,
			LocalVariables:              s.LocalVariables,
			BusinessKey:                 s.BusinessKey,
			ProcessDefinitionID:         s.ProcessDefinitionID,
			ProcessDefinitionIDIn:       s.ProcessDefinitionIDIn,
			ProcessDefinitionKey:        s.ProcessDefinitionKey,
			ProcessDefinitionKeyIn:      s.ProcessDefinitionKeyIn,
			ProcessDefinitionVersionTag: s.ProcessDefinitionVersionTag,
			WithoutTenantID:             s.WithoutTenantID,
			TenantIDIn:                  s.TenantIDIn,
			IncludeExtensionProperties:  s.IncludeExtensionProperties,
		}
		if s.LockDuration != nil {
			if *s.LockDuration <= 0 {
				return ec, fmt.Errorf("camunda.external-client.subscriptions.%s.lock-duration must be positive, got %d", topic, *s.LockDuration)
			}
			d := millis(*s.LockDuration)
			sc.LockDuration = &d
		}
		ec.Subscriptions[topic] = sc
	}
	return ec, nil
}

func resolveZeebe(f *zeebeClientFile) ZeebeConfig {
	zc := ZeebeConfig{
		Enabled:                      f.Enabled,
		GatewayAddress:               strings.TrimSpace(f.GatewayAddress),
		UsePlainText:                 true,
		ClusterID:                    f.ClusterID,
		ClientID:                     f.ClientID,
		ClientSecret:                 f.ClientSecret,
		Region:                       f.Region,
		CACertificatePath:            f.CACertificatePath,
		KeepAlive:                    parseDuration(f.KeepAlive, 45*time.Second),
		DefaultRequestTimeout:        parseDuration(f.DefaultRequestTimeout, 20*time.Second),
		DefaultJobPollInterval:       parseDuration(f.DefaultJobPollInterval, 100*time.Millisecond),
		DefaultJobTimeout:            parseDuration(f.DefaultJobTimeout, 5*time.Minute),
		DefaultJobWorkerName:         f.DefaultJobWorkerName,
		NumJobWorkerExecutionThreads: f.NumJobWorkerExecutionThreads,
	}
	if f.UsePlainText != nil {
		zc.UsePlainText = *f.UsePlainText
	}
	if zc.GatewayAddress == "" {
		zc.GatewayAddress = "0.0.0.0:26500"
	}
	if zc.Region == "" {
		zc.Region = "bru-2"
	}
	if zc.DefaultJobWorkerName == "" {
		zc.DefaultJobWorkerName = "default"
	}
	if zc.NumJobWorkerExecutionThreads <= 0 {
		zc.NumJobWorkerExecutionThreads = 1
	}
	return zc
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("EXTERNAL_CLIENT_BASE_URL")); v != "" {
		cfg.ExternalClient.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("EXTERNAL_CLIENT_WORKER_ID")); v != "" {
		cfg.ExternalClient.WorkerID = v
	}
	if v := os.Getenv("EXTERNAL_CLIENT_USERNAME"); v != "" {
		cfg.ExternalClient.Username = v
	}
	if v := os.Getenv("EXTERNAL_CLIENT_PASSWORD"); v != "" {
		cfg.ExternalClient.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("ZEEBE_GATEWAY_ADDRESS")); v != "" {
		cfg.Zeebe.GatewayAddress = v
	}
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	ec := cfg.ExternalClient
	if ec.BaseURL == "" {
		return fmt.Errorf("camunda.external-client.base-url required (set config or EXTERNAL_CLIENT_BASE_URL)")
	}
	u, err := url.Parse(ec.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("camunda.external-client.base-url must be an absolute URL, got %q", ec.BaseURL)
	}
	if ec.MaxTasks <= 0 {
		return fmt.Errorf("camunda.external-client.max-tasks must be positive, got %d", ec.MaxTasks)
	}
	if ec.LockDuration <= 0 {
		return fmt.Errorf("camunda.external-client.lock-duration must be positive, got %s", ec.LockDuration)
	}
	if ec.AsyncResponseTimeout < 0 {
		return fmt.Errorf("camunda.external-client.async-response-timeout must not be negative, got %s", ec.AsyncResponseTimeout)
	}
	if ec.DefaultSerializationFormat != "application/json" {
		return fmt.Errorf("camunda.external-client.default-serialization-format must be application/json, got %q", ec.DefaultSerializationFormat)
	}
	if (ec.Username == "") != (ec.Password == "") {
		return fmt.Errorf("camunda.external-client.basic-auth needs both username and password")
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return fmt.Errorf("reliability.retry_max_delay (%s) must not be below retry_base_delay (%s)", cfg.RetryMaxDelay, cfg.RetryBaseDelay)
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("lifecycle.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	z := cfg.Zeebe
	if z.Enabled && !z.Cloud() && (z.ClusterID != "" || z.ClientID != "" || z.ClientSecret != "") {
		return fmt.Errorf("zeebe.client cloud access needs cluster-id, client-id and client-secret")
	}
	return nil
}
