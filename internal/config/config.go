// Package config reads the run configuration from a yaml file and the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jakopako/tagprobe/internal/browser"
	"github.com/jakopako/tagprobe/internal/classify"
	"github.com/jakopako/tagprobe/internal/feasibility"
	"github.com/jakopako/tagprobe/internal/groundtruth"
	"github.com/jakopako/tagprobe/internal/output"
	"github.com/jakopako/tagprobe/internal/pipeline"
	"github.com/jakopako/tagprobe/internal/vision"
)

// AnalysisConfig configures the pipeline.
type AnalysisConfig struct {
	TagConfig           string             `yaml:"tag_config" env:"TAG_CONFIG"`
	Units               string             `yaml:"units" env:"UNITS"`
	GroundTruth         string             `yaml:"ground_truth"` // optional counts file, the units' expected events are used otherwise
	NavigationTimeoutMS int                `yaml:"navigation_timeout_ms" env-default:"30000"`
	Parallelism         int                `yaml:"parallelism"`
	SkipVerification    bool               `yaml:"skip_verification" env:"SKIP_VERIFICATION"`
	ExcludedEvents      []string           `yaml:"excluded_events"`
	StartDate           string             `yaml:"start_date"`
	EndDate             string             `yaml:"end_date"`
	Policy              feasibility.Policy `yaml:"policy"`
}

// Config defines the overall structure of the configuration.
// Values will be taken from a config yml file or environment variables
// or both.
type Config struct {
	Browser    browser.Config      `yaml:"browser"`
	Vision     vision.Config       `yaml:"vision"`
	Analysis   AnalysisConfig      `yaml:"analysis"`
	Classifier classify.Rules      `yaml:"classifier"`
	Writer     output.WriterConfig `yaml:"writer"`
}

func NewConfig(configPath string) (*Config, error) {
	var config Config

	err := cleanenv.ReadConfig(configPath, &config)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// ResolvedPolicy returns the evaluator policy. Page type inheritance defaults to
// brand main pages inheriting from product pages unless it is set
// explicitly, even to an empty map.
func (a AnalysisConfig) ResolvedPolicy() feasibility.Policy {
	p := a.Policy
	if p.InheritedPageTypes == nil {
		p.InheritedPageTypes = feasibility.BrandMainInheritance
	}
	return p
}

// Options converts the configuration into pipeline options.
func (a AnalysisConfig) Options(now time.Time) (pipeline.Options, error) {
	dr, err := groundtruth.ParseDateRange(a.StartDate, a.EndDate, now)
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("invalid analysis date range: %w", err)
	}
	return pipeline.Options{
		NavigationTimeout: time.Duration(a.NavigationTimeoutMS) * time.Millisecond,
		SkipVerification:  a.SkipVerification,
		ExcludedEvents:    a.ExcludedEvents,
		DateRange:         dr,
		Parallelism:       a.Parallelism,
	}, nil
}
