package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/shelf-vision/internal/utils"
	"github.com/menta2k/shelf-vision/pkg/groundtruth"
	"github.com/menta2k/shelf-vision/pkg/types"
)

// DefaultModel is the hosted vision model used when none is configured
const DefaultModel = "meta-llama/llama-4-maverick-17b-128e-instruct"

// DefaultResultsFile is written into the input folder in products mode
const DefaultResultsFile = "detection_results.json"

// Config holds the application configuration
type Config struct {
	Mode        types.Mode        `json:"mode" yaml:"mode" validate:"required"`
	Backend     BackendConfig     `json:"backend" yaml:"backend"`
	Input       InputConfig       `json:"input" yaml:"input"`
	Send        SendConfig        `json:"send" yaml:"send"`
	Annotate    AnnotateConfig    `json:"annotate" yaml:"annotate"`
	Output      OutputConfig      `json:"output" yaml:"output"`
	GroundTruth GroundTruthConfig `json:"ground_truth" yaml:"ground_truth"`
	Prompts     map[string]string `json:"prompts,omitempty" yaml:"prompts,omitempty"`
	Log         LogConfig         `json:"log" yaml:"log"`
}

// BackendConfig selects and configures the remote model
type BackendConfig struct {
	Provider          string  `json:"provider" yaml:"provider" validate:"required,oneof=groq openai llamacpp ollama gemini"`
	BaseURL           string  `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model             string  `json:"model" yaml:"model" validate:"required"`
	APIKeyEnv         string  `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	TimeoutSeconds    int     `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
	RequestsPerMinute float64 `json:"requests_per_minute" yaml:"requests_per_minute" validate:"gte=0"`
}

// InputConfig describes which images are processed
type InputConfig struct {
	Dir        string   `json:"dir" yaml:"dir" validate:"required"`
	Extensions []string `json:"extensions" yaml:"extensions" validate:"min=1,dive,required"`
	// SampleSize 0 picks the mode default, a negative value processes every image.
	SampleSize int   `json:"sample_size" yaml:"sample_size"`
	Seed       int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// SendConfig controls the image payload sent to the model
type SendConfig struct {
	MaxDim  int    `json:"max_dim" yaml:"max_dim" validate:"gte=0"`
	Format  string `json:"format" yaml:"format" validate:"oneof=jpg png"`
	Quality int    `json:"quality" yaml:"quality" validate:"gte=1,lte=100"`
}

// AnnotateConfig controls the annotated copies written in boxes mode
type AnnotateConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Dir      string `json:"dir" yaml:"dir" validate:"required_if=Enabled true"`
	Prefix   string `json:"prefix" yaml:"prefix"`
	Format   string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=jpg jpeg png webp"`
	Color    string `json:"color" yaml:"color" validate:"hexcolor"`
	Stroke   int    `json:"stroke" yaml:"stroke" validate:"gte=1"`
	Quality  int    `json:"quality" yaml:"quality" validate:"gte=1,lte=100"`
	Lossless bool   `json:"lossless,omitempty" yaml:"lossless,omitempty"`
	Crops    bool   `json:"crops,omitempty" yaml:"crops,omitempty"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	// ResultsFile is resolved against the input folder unless absolute. Empty disables it.
	ResultsFile string `json:"results_file,omitempty" yaml:"results_file,omitempty"`
}

// GroundTruthConfig describes the labelled folder layout used by accuracy mode
type GroundTruthConfig struct {
	Root         string   `json:"root,omitempty" yaml:"root,omitempty"`
	Categories   []string `json:"categories" yaml:"categories"`
	UnknownLabel string   `json:"unknown_label" yaml:"unknown_label"`
}

// LogConfig holds logging options
type LogConfig struct {
	Level   string `json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	File    string `json:"file,omitempty" yaml:"file,omitempty"`
	NoColor bool   `json:"no_color,omitempty" yaml:"no_color,omitempty"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Mode: types.ModeLabel,
		Backend: BackendConfig{
			Provider:       "groq",
			Model:          DefaultModel,
			APIKeyEnv:      "GROQ_API_KEY",
			TimeoutSeconds: 300,
		},
		Input: InputConfig{
			Dir:        ".",
			Extensions: []string{"jpg", "jpeg", "png"},
		},
		Send: SendConfig{
			MaxDim:  0,
			Format:  "jpg",
			Quality: 85,
		},
		Annotate: AnnotateConfig{
			Enabled: true,
			Dir:     "annotated",
			Prefix:  "annotated_",
			Color:   "#ff0000",
			Stroke:  3,
			Quality: 95,
		},
		GroundTruth: GroundTruthConfig{
			Categories:   append([]string(nil), groundtruth.DefaultCategories...),
			UnknownLabel: groundtruth.Unknown,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ApplyModeDefaults fills the values that depend on the selected mode and provider
func (c *Config) ApplyModeDefaults() {
	if c.Input.SampleSize == 0 {
		switch c.Mode {
		case types.ModeAccuracy:
			c.Input.SampleSize = 20
		case types.ModeBoxes:
			c.Input.SampleSize = 50
		}
	}
	if c.Mode == types.ModeProducts && c.Output.ResultsFile == "" {
		c.Output.ResultsFile = DefaultResultsFile
	}
	if c.Backend.APIKeyEnv == "" {
		c.Backend.APIKeyEnv = DefaultAPIKeyEnv(c.Backend.Provider)
	}
}

// DefaultAPIKeyEnv returns the environment variable holding the provider credential
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "groq":
		return "GROQ_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// NeedsAPIKey reports whether the provider refuses anonymous requests
func (c *Config) NeedsAPIKey() bool {
	switch c.Backend.Provider {
	case "groq", "openai", "gemini":
		return true
	default:
		return false
	}
}

// APIKey reads the credential from the configured environment variable
func (c *Config) APIKey() string {
	if c.Backend.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Backend.APIKeyEnv))
}

// Timeout returns the per-request timeout, 0 when disabled
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// LoadEnv loads KEY=VALUE pairs from an env file. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed on %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if !c.Mode.Valid() {
		return fmt.Errorf("mode must be one of %v", types.Modes)
	}

	if c.Mode == types.ModeAccuracy {
		if c.GroundTruth.Root == "" {
			return fmt.Errorf("ground_truth.root is required in accuracy mode")
		}
		if len(c.GroundTruth.Categories) == 0 {
			return fmt.Errorf("ground_truth.categories cannot be empty")
		}
	}

	for key := range c.Prompts {
		if !types.Mode(key).Valid() {
			return fmt.Errorf("prompts.%s is not a known mode", key)
		}
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "shelf-vision", "config.json")
}

// ResolveConfigPath returns path when set, else GetConfigPath when that file exists,
// else an empty string meaning the defaults are used
func ResolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if def := GetConfigPath(); utils.FileExists(def) {
		return def
	}
	return ""
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}
