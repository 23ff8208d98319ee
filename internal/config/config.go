// Package config resolves the declarative run configuration.
//
// Precedence, lowest to highest: built-in defaults, configuration file
// (YAML or JSON), explicit per-run CLI overrides. Resolution happens once
// at process start; the resulting Config is treated as read-only by every
// other component for the lifetime of the run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds every recognized hyperparameter.
//
// Field names follow the reference training script's flag names so that
// configurations written for it translate one to one.
type Config struct {
	// Data layout.
	Root          string   `yaml:"root"`
	Main          string   `yaml:"main"` // training partition directory name
	Test          string   `yaml:"test"` // validation partition directory name
	NumClasses    int      `yaml:"num_classes"`
	MinImages     int      `yaml:"min_images"` // classes with fewer images are dropped
	SelectClasses []string `yaml:"select_classes"`
	TrainSize     int      `yaml:"train_size"` // per-class training subset, 0 = all

	// Model and objective.
	Model  string `yaml:"model"`
	Hidden int    `yaml:"hidden"`
	Loss   string `yaml:"loss"`

	// Optimization.
	Optimizer   string  `yaml:"opt"`
	LR          float32 `yaml:"lr"`
	Momentum    float32 `yaml:"momentum"`
	WeightDecay float32 `yaml:"weight_decay"`

	// Learning-rate schedule.
	DecayRate      float64 `yaml:"decay_rate"`
	DecayEpochs    int     `yaml:"decay_epochs"`
	DecayMaxEpochs int     `yaml:"decay_max_epochs"`
	InverseSqrtLR  bool    `yaml:"use_inverse_sqrt_lr"`

	// Loop control.
	Epochs             int   `yaml:"epochs"`
	BatchSize          int   `yaml:"batch_size"`
	EvalInterval       int   `yaml:"eval_interval"`
	CheckpointInterval int   `yaml:"checkpoint_interval"`
	Seed               int64 `yaml:"seed"`

	// Labels.
	LabelSource string  `yaml:"label_source"` // "ground-truth" or "candidate"
	InjectNoise float64 `yaml:"inject_noise"` // symmetric noise rate, training only

	// Transforms.
	ResizeSize   int  `yaml:"resize_size"`
	CropSize     int  `yaml:"crop_size"`
	NoRandomCrop bool `yaml:"norandomcrop"`
	NoRandomFlip bool `yaml:"norandomflip"`

	// Execution.
	Workers   int    `yaml:"workers"` // 0 = logical CPU count
	OutputDir string `yaml:"output_dir"`
	Resume    string `yaml:"resume"`
	Evaluate  bool   `yaml:"evaluate"`
}

// Default returns the built-in defaults, which follow the reference
// training recipe (SGD 0.1 with step decay, batch 128, 90 epochs).
func Default() Config {
	return Config{
		Main:               "train",
		Test:               "val",
		MinImages:          1,
		Model:              "linear",
		Hidden:             256,
		Loss:               "cross_entropy",
		Optimizer:          "sgd",
		LR:                 0.1,
		Momentum:           0.9,
		WeightDecay:        1e-4,
		DecayRate:          0.1,
		DecayEpochs:        30,
		DecayMaxEpochs:     70,
		Epochs:             90,
		BatchSize:          128,
		EvalInterval:       1,
		CheckpointInterval: 1,
		Seed:               1,
		LabelSource:        "ground-truth",
		ResizeSize:         256,
		CropSize:           224,
		OutputDir:          "results",
	}
}

// LoadFile merges a YAML or JSON configuration file into cfg.
//
// YAML is a superset of JSON, so one parser covers both. Unknown keys are
// warned about and ignored, never fatal; keys present in the file override
// the current values.
func LoadFile(cfg *Config, path string, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for key := range raw {
		if !knownKeys[key] {
			logger.Warn("ignoring unknown configuration key",
				zap.String("key", key),
				zap.String("file", path))
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

// knownKeys is derived from the Config struct's yaml tags.
var knownKeys = func() map[string]bool {
	keys := make(map[string]bool)
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("yaml"); tag != "" {
			keys[tag] = true
		}
	}
	return keys
}()

// Validate fails fast on anything that would make the run die mid-training.
//
// Path checks run before any training work; semantic checks (known model,
// loss, optimizer, label source names) are delegated to the packages that
// own the names at construction time.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("config: root directory is required")
	}
	if _, err := os.Stat(c.Root); err != nil {
		return fmt.Errorf("config: root directory: %w", err)
	}
	for _, partition := range []string{c.Main, c.Test} {
		if partition == "" {
			return fmt.Errorf("config: partition names must not be empty")
		}
		dir := filepath.Join(c.Root, partition)
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("config: partition directory: %w", err)
		}
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("config: epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive, got %d", c.BatchSize)
	}
	if c.EvalInterval <= 0 {
		return fmt.Errorf("config: eval_interval must be positive, got %d", c.EvalInterval)
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("config: checkpoint_interval must be positive, got %d", c.CheckpointInterval)
	}
	if c.InjectNoise < 0 || c.InjectNoise >= 1 {
		return fmt.Errorf("config: inject_noise must be in [0, 1), got %g", c.InjectNoise)
	}
	if c.CropSize <= 0 || c.ResizeSize < c.CropSize {
		return fmt.Errorf("config: need resize_size >= crop_size > 0, got resize %d crop %d",
			c.ResizeSize, c.CropSize)
	}
	if c.Resume != "" {
		if _, err := os.Stat(c.Resume); err != nil {
			return fmt.Errorf("config: resume checkpoint: %w", err)
		}
	}
	return nil
}

// MainDir returns the absolute training partition directory.
func (c *Config) MainDir() string { return filepath.Join(c.Root, c.Main) }

// TestDir returns the absolute validation partition directory.
func (c *Config) TestDir() string { return filepath.Join(c.Root, c.Test) }
