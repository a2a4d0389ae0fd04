package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/mostlygeek/genstudio/assets"
	"github.com/mostlygeek/genstudio/schema"
	"github.com/mostlygeek/genstudio/store"
	"gopkg.in/yaml.v3"
)

type ReplicateConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"baseURL"`
}

type FalConfig struct {
	Key      string `yaml:"key"`
	QueueURL string `yaml:"queueURL"`
}

type GradioConfig struct {
	Token   string `yaml:"token"`
	HostAPI string `yaml:"hostAPI"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	URL        string `yaml:"url"`
	Key        string `yaml:"key"`
	Collection string `yaml:"collection"`
}

func (s StoreConfig) Options() store.Options {
	return store.Options{
		Driver:     s.Driver,
		DSN:        s.DSN,
		Addr:       s.Addr,
		Password:   s.Password,
		DB:         s.DB,
		URL:        s.URL,
		Key:        s.Key,
		Collection: s.Collection,
	}
}

type AssetsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
	Prefix    string `yaml:"prefix"`
	PublicURL string `yaml:"publicURL"`
}

func (a AssetsConfig) Options() assets.Options {
	return assets.Options{
		Endpoint:  a.Endpoint,
		AccessKey: a.AccessKey,
		SecretKey: a.SecretKey,
		Bucket:    a.Bucket,
		Region:    a.Region,
		UseSSL:    a.UseSSL,
		Prefix:    a.Prefix,
		PublicURL: a.PublicURL,
	}
}

type TracingConfig struct {
	// Exporter is "none" or "otlphttp".
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type Config struct {
	LogLevel  string          `yaml:"logLevel"`
	APIKeys   []string        `yaml:"apiKeys"`
	Replicate ReplicateConfig `yaml:"replicate"`
	Fal       FalConfig       `yaml:"fal"`
	Gradio    GradioConfig    `yaml:"gradio"`
	Store     StoreConfig     `yaml:"store"`
	Assets    AssetsConfig    `yaml:"assets"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// Configurations is the built-in table, keyed by slug.
	Configurations map[string]schema.Configuration `yaml:"configurations"`

	// Variants derive base:variant slugs from a built-in configuration.
	Variants map[string]map[string]VariantConfig `yaml:"variants"`
}

// Slugs returns the built-in slugs in sorted order.
func (c Config) Slugs() []string {
	slugs := make([]string, 0, len(c.Configurations))
	for slug := range c.Configurations {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

var envMacroPattern = regexp.MustCompile(`\$\{env\.([A-Za-z_][A-Za-z0-9_]*)\}`)

func LoadConfig(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

func LoadConfigFromReader(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}

	data, err = substituteEnv(data)
	if err != nil {
		return Config{}, err
	}

	config := Config{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return Config{}, err
	}

	applyDefaults(&config)

	if config, err = expandVariants(config); err != nil {
		return Config{}, err
	}

	for _, slug := range config.Slugs() {
		cfg := config.Configurations[slug]
		if cfg.Name == "" {
			cfg.Name = slug
		}
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("configurations.%s: %w", slug, err)
		}
		config.Configurations[slug] = cfg
	}

	switch config.Tracing.Exporter {
	case "", "none", "otlphttp":
	default:
		return Config{}, fmt.Errorf("tracing.exporter: unknown exporter %q", config.Tracing.Exporter)
	}

	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("logLevel: unknown level %q", config.LogLevel)
	}

	return config, nil
}

func applyDefaults(config *Config) {
	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Store.Driver == "" {
		config.Store.Driver = "memory"
	}
	if config.Store.Collection == "" {
		config.Store.Collection = store.DefaultCollection
	}
	if config.Assets.Prefix == "" {
		config.Assets.Prefix = "inputs"
	}
	if config.Configurations == nil {
		config.Configurations = make(map[string]schema.Configuration)
	}
}

// substituteEnv replaces ${env.NAME} with the variable's value. Unset
// variables are an error so a missing secret is caught at load time.
func substituteEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envMacroPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envMacroPattern.FindSubmatch(match)[1])
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return []byte(value)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("environment variable not set: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
