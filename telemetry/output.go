package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/densityfit/config"
)

// Output file names inside the output directory.
const (
	TraceFile  = "trace.csv"
	PerfFile   = "perf.csv"
	ConfigFile = "config.yaml"
	PlotFile   = "trace.png"
)

// OutputManager handles structured fit output with CSV logging.
type OutputManager struct {
	dir       string
	traceFile *os.File
	perfFile  *os.File

	// Track if headers have been written
	traceHeaderWritten bool
	perfHeaderWritten  bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled). All methods accept a nil receiver.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, TraceFile))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", TraceFile, err)
	}
	om.traceFile = f

	f, err = os.Create(filepath.Join(dir, PerfFile))
	if err != nil {
		om.traceFile.Close()
		return nil, fmt.Errorf("creating %s: %w", PerfFile, err)
	}
	om.perfFile = f

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, ConfigFile))
}

// WriteTrace appends a trace record to trace.csv.
func (om *OutputManager) WriteTrace(r TraceRecord) error {
	if om == nil {
		return nil
	}
	if err := appendCSV(om.traceFile, &om.traceHeaderWritten, []TraceRecord{r}); err != nil {
		return fmt.Errorf("writing trace: %w", err)
	}
	return nil
}

// WritePerf appends a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, iteration int) error {
	if om == nil {
		return nil
	}
	if err := appendCSV(om.perfFile, &om.perfHeaderWritten, []PerfStatsCSV{stats.ToCSV(iteration)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteParticles saves coordinates to name inside the output directory.
func (om *OutputManager) WriteParticles(name string, coords []r3.Vec) error {
	if om == nil {
		return nil
	}
	return SaveParticles(filepath.Join(om.dir, name), coords)
}

// WritePlot renders the trace to trace.png.
func (om *OutputManager) WritePlot(trace Trace) error {
	if om == nil {
		return nil
	}
	return PlotTrace(trace, filepath.Join(om.dir, PlotFile))
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, f := range []*os.File{om.traceFile, om.perfFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// appendCSV writes records, with a header row only on the first call.
func appendCSV(f *os.File, headerWritten *bool, records any) error {
	if !*headerWritten {
		if err := gocsv.Marshal(records, f); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, f)
}
