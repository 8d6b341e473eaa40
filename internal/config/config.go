package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	FormatIAM  = "iam"
	FormatFlat = "flat"
)

// Config enumerates every path and tunable the pipeline reads. Values come
// from the environment (optionally a .env file) with the defaults below.
type Config struct {
	// Dataset
	DatasetRoots  []string
	DatasetFormat string
	Extensions    []string
	BatchSize     int
	ImageWidth    int
	ImageHeight   int
	MaxTextLength int
	Seed          int64
	// TestMode validates on the hyphen-free samples only and skips training.
	TestMode      bool

	// Training
	RunName        string
	CheckpointRoot string
	EarlyStopping  int
	ModelURL       string
	InferImage     string

	// Worksheets
	CrowdRoot             string
	TemplatePath          string
	RegistrationThreshold float64
	VerifyPrintedLabels   bool
	UseCloudVision        bool

	// HTTP intake
	Addr string
}

func Load() (*Config, error) {
	home := getEnvOrDefault("HOME", ".")
	cfg := &Config{
		DatasetRoots:          getEnvAsListOrDefault("DATASET_ROOTS", []string{filepath.Join(home, "datasets", "iam_handwriting")}),
		DatasetFormat:         getEnvOrDefault("DATASET_FORMAT", FormatIAM),
		Extensions:            getEnvAsListOrDefault("DATASET_EXTENSIONS", []string{".jpg"}),
		BatchSize:             getEnvAsIntOrDefault("BATCH_SIZE", 50),
		ImageWidth:            getEnvAsIntOrDefault("IMAGE_WIDTH", 128),
		ImageHeight:           getEnvAsIntOrDefault("IMAGE_HEIGHT", 32),
		MaxTextLength:         getEnvAsIntOrDefault("MAX_TEXT_LENGTH", 32),
		Seed:                  int64(getEnvAsIntOrDefault("SEED", 0)),
		TestMode:              os.Getenv("TEST_MODE") != "",
		RunName:               getEnvOrDefault("RUN_NAME", "debug"),
		CheckpointRoot:        getEnvOrDefault("CKPT_ROOT", filepath.Join(home, "ckpt")),
		EarlyStopping:         getEnvAsIntOrDefault("EARLY_STOPPING", 10),
		ModelURL:              getEnvOrDefault("MODEL_URL", "http://localhost:8500"),
		InferImage:            getEnvOrDefault("INFER_IMAGE", filepath.Join(home, "datasets", "htr_debug", "trainbold.png")),
		CrowdRoot:             getEnvOrDefault("CROWD_ROOT", filepath.Join(home, "datasets", "htr_assets", "crowdsource")),
		TemplatePath:          getEnvOrDefault("WORKSHEET_TEMPLATE", filepath.Join("worksheets", "worksheet.png")),
		RegistrationThreshold: getEnvAsFloatOrDefault("REGISTRATION_THRESHOLD", 300),
		VerifyPrintedLabels:   os.Getenv("VERIFY_PRINTED_LABELS") != "",
		UseCloudVision:        os.Getenv("GOOGLE_CLOUD_VISION_ENABLED") != "",
		Addr:                  getEnvOrDefault("ADDR", ":8888"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.DatasetRoots) == 0 {
		return fmt.Errorf("DATASET_ROOTS is required")
	}
	if c.DatasetFormat != FormatIAM && c.DatasetFormat != FormatFlat {
		return fmt.Errorf("DATASET_FORMAT must be %q or %q, got %q", FormatIAM, FormatFlat, c.DatasetFormat)
	}
	if c.DatasetFormat == FormatIAM && len(c.DatasetRoots) > 1 {
		return fmt.Errorf("DATASET_FORMAT %q reads a single root, got %d in DATASET_ROOTS", FormatIAM, len(c.DatasetRoots))
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.ImageWidth < 1 || c.ImageHeight < 1 {
		return fmt.Errorf("IMAGE_WIDTH and IMAGE_HEIGHT must be positive, got %dx%d", c.ImageWidth, c.ImageHeight)
	}
	if c.MaxTextLength < 1 {
		return fmt.Errorf("MAX_TEXT_LENGTH must be positive, got %d", c.MaxTextLength)
	}
	if c.EarlyStopping < 1 {
		return fmt.Errorf("EARLY_STOPPING must be positive, got %d", c.EarlyStopping)
	}
	if c.RegistrationThreshold <= 0 {
		return fmt.Errorf("REGISTRATION_THRESHOLD must be positive, got %f", c.RegistrationThreshold)
	}
	return nil
}

// CheckpointDir is where charList.txt, corpus.txt and accuracy.txt live.
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.CheckpointRoot, c.RunName)
}

func (c *Config) CharListPath() string {
	return filepath.Join(c.CheckpointDir(), "charList.txt")
}

func (c *Config) CorpusPath() string {
	return filepath.Join(c.CheckpointDir(), "corpus.txt")
}

func (c *Config) AccuracyPath() string {
	return filepath.Join(c.CheckpointDir(), "accuracy.txt")
}

func (c *Config) ScribedDir() string {
	return filepath.Join(c.CrowdRoot, "scribed")
}

func (c *Config) ErrorDir() string {
	return filepath.Join(c.CrowdRoot, "errors")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a comma separated variable, dropping empty items.
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
