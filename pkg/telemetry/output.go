package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"go.uber.org/multierr"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/simulation"
)

// Writer stores run output in a directory: the effective configuration and
// one telemetry.csv line per record. A nil Writer discards everything.
type Writer struct {
	dir           string
	telemetryFile *os.File
	headerWritten bool
}

// NewWriter creates dir and opens telemetry.csv in it.
// Returns nil if dir is empty (output disabled).
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "telemetry.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating telemetry.csv: %w", err)
	}
	return &Writer{dir: dir, telemetryFile: f}, nil
}

// WriteConfig saves the configuration of the run as YAML.
func (w *Writer) WriteConfig(cfg *simulation.Config) error {
	if w == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(w.dir, "config.yaml"))
}

// Write appends records to telemetry.csv, with a header on the first call.
func (w *Writer) Write(records ...Record) error {
	if w == nil || len(records) == 0 {
		return nil
	}

	if !w.headerWritten {
		if err := gocsv.Marshal(records, w.telemetryFile); err != nil {
			return fmt.Errorf("writing telemetry: %w", err)
		}
		w.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, w.telemetryFile); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (w *Writer) Dir() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Close syncs and closes telemetry.csv.
func (w *Writer) Close() error {
	if w == nil || w.telemetryFile == nil {
		return nil
	}
	return multierr.Append(w.telemetryFile.Sync(), w.telemetryFile.Close())
}

// ReadRecords loads a telemetry.csv written by Writer.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry: %w", err)
	}
	defer f.Close()

	var records []Record
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, fmt.Errorf("reading telemetry: %w", err)
	}
	return records, nil
}
