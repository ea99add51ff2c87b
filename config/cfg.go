package config

import (
	"bytes"
	"fmt"
	"os"

	validator "github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v3"

	"epagin/common"
)

type (
	// PageMapConfig controls the optional Adobe-style page-map.xml artefact.
	PageMapConfig struct {
		Enable  bool `yaml:"enable"`
		AdobeDE bool `yaml:"adobe_de"`
	}

	// SelectorConfig names the identify-existing mode's page-tag selector and
	// which part of the matched element carries the page number.
	SelectorConfig struct {
		PageTag      string `yaml:"page_tag,omitempty"`
		NumberAttr   string `yaml:"number_attr,omitempty"`
		FromText     bool   `yaml:"from_text"`
		FromIDSuffix bool   `yaml:"from_id_suffix"`
	}

	// PaginationConfig holds pagination settings. The CLI reads only Identify
	// from it; the other run parameters are taken from command-line flags.
	PaginationConfig struct {
		BreakMode   common.BreakSnap   `yaml:"break_mode"`
		Nonlinear   common.SpinePolicy `yaml:"nonlinear"`
		Unlisted    common.SpinePolicy `yaml:"unlisted"`
		NoNav       bool               `yaml:"no_nav"`
		NoNcx       bool               `yaml:"no_ncx"`
		Suggest     bool               `yaml:"suggest"`
		PageMap     PageMapConfig      `yaml:"page_map"`
		Identify    SelectorConfig     `yaml:"identify"`
	}

	// OutputConfig describes how the paginated copy of the input EPUB is named
	// and where it is written; mirrors derivePath (§4.C3).
	OutputConfig struct {
		Suffix  string `yaml:"suffix"`
		Name    string `yaml:"name,omitempty"`
		OutPath string `yaml:"out_path,omitempty" sanitize:"path_clean" validate:"omitempty,dirpath"`
	}

	Config struct {
		Version    int               `yaml:"version" validate:"eq=1"`
		Pagination PaginationConfig  `yaml:"pagination"`
		Output     OutputConfig      `yaml:"output"`
		Logging    LoggingConfig     `yaml:"logging"`
		Reporting  ReporterConfig    `yaml:"reporting"`
	}
)

// Default returns the configuration used when no configuration file is
// given. Command-line flags are not merged into it.
func Default() *Config {
	return &Config{
		Version: 1,
		Pagination: PaginationConfig{
			BreakMode: common.BreakSnapSplit,
			Nonlinear: common.SpinePolicyAppend,
			Unlisted:  common.SpinePolicyAppend,
		},
		Output: OutputConfig{
			Suffix: "_paginated",
		},
		Logging: LoggingConfig{
			FileLogger:    LoggerConfig{Level: "none"},
			ConsoleLogger: LoggerConfig{Level: "normal"},
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func unmarshalConfig(data []byte, cfg *Config) (*Config, error) {
	// We want to use only the fields we defined, so plain yaml.Unmarshal
	// (which silently ignores unknown keys) is not good enough here.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path
// (if any) superimposed over Default(), and validates the result.
func LoadConfiguration(path string) (*Config, error) {
	cfg := Default()

	if len(path) > 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = unmarshalConfig(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to process configuration file: %w", err)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Dump marshals the configuration back to YAML, e.g. for a debug report.
func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %w", err)
	}
	return data, nil
}
