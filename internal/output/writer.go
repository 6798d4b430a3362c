// Package output provides the interface and configuration and implementation for writers
package output

import (
	"fmt"

	"github.com/jakopako/tagprobe/internal/pipeline"
)

// Writer defines the interface for all writers that are responsible
// for writing the analysis report to a specific output.
type Writer interface {
	Write(report *pipeline.Report) error
}

// WriterConfig defines the necessary paramters to make a new writer
// which is responsible for writing the report to a specific output
// eg. stdout.
type WriterConfig struct {
	Type     WriterType `yaml:"type" env-default:"stdout"`
	Uri      string     `yaml:"uri"`
	User     string     `yaml:"user" env:"WRITER_USER"`         // we want to be able to pass credentials via env vars
	Password string     `yaml:"password" env:"WRITER_PASSWORD"` // we want to be able to pass credentials via env vars
	FileDir  string     `yaml:"filedir"`
	// Details adds the per unit event lists to the stdout table.
	Details bool `yaml:"details"`
}

// WriterType encapsulates the type of a writer
// See below constants for possible types
type WriterType string

const (
	STDOUT_WRITER_TYPE WriterType = "stdout"
	FILE_WRITER_TYPE   WriterType = "file"
	API_WRITER_TYPE    WriterType = "api"
)

// NewWriter returns a new writer depending on the writer type
func NewWriter(wc *WriterConfig) (Writer, error) {
	switch wc.Type {
	case STDOUT_WRITER_TYPE, "":
		return NewStdoutWriter(wc), nil
	case FILE_WRITER_TYPE:
		return NewFileWriter(wc)
	case API_WRITER_TYPE:
		return NewAPIWriter(wc)
	default:
		return nil, fmt.Errorf("writer of type '%s' not implemented", wc.Type)
	}
}
