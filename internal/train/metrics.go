package train

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// MetricEntry is one evaluation record in the metric log.
//
// The field set and field order are fixed: downstream analysis tooling
// parses these records across many runs, so the schema must stay stable.
type MetricEntry struct {
	RunID       string    `json:"run_id"`
	Epoch       int       `json:"epoch"`
	Step        int64     `json:"step"`
	Loss        float64   `json:"loss"`       // mean training loss this epoch
	Acc1        float64   `json:"acc1"`       // validation top-1
	Acc5        float64   `json:"acc5"`       // validation top-5
	ValLoss     float64   `json:"val_loss"`   // validation mean loss
	TrainAcc1   float64   `json:"train_acc1"` // train-partition top-1 (no augmentation)
	TrainAcc5   float64   `json:"train_acc5"` // train-partition top-5
	LR          float32   `json:"lr"`
	LabelSource string    `json:"label_source"`
	Timestamp   time.Time `json:"timestamp"`
}

// MetricLog appends evaluation records to a JSON-lines file.
//
// The log is append-only and entries must be strictly increasing in
// (epoch, step); Append enforces that so a resumed run that replayed an
// epoch would be caught immediately instead of corrupting the series.
type MetricLog struct {
	file      *os.File
	lastEpoch int
	lastStep  int64
}

// OpenMetricLog opens (or creates) the log at path in append mode.
//
// An existing log primes the monotonicity guard from its last entry, so a
// run pointed at a previously used output directory cannot splice a second
// epoch series into the file; it fails on the first append instead.
func OpenMetricLog(path string) (*MetricLog, error) {
	log := &MetricLog{}
	entries, err := ReadMetricLog(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	case len(entries) > 0:
		last := entries[len(entries)-1]
		log.lastEpoch = last.Epoch
		log.lastStep = last.Step
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metric log %s: %w", path, err)
	}
	log.file = f
	return log, nil
}

// Append writes one entry as a single JSON line and flushes it.
func (l *MetricLog) Append(entry MetricEntry) error {
	if entry.Epoch <= l.lastEpoch {
		return fmt.Errorf("metric log: epoch %d not after previous %d", entry.Epoch, l.lastEpoch)
	}
	if entry.Step < l.lastStep {
		return fmt.Errorf("metric log: step %d before previous %d", entry.Step, l.lastStep)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("metric log: failed to marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("metric log: failed to append entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("metric log: failed to sync: %w", err)
	}

	l.lastEpoch = entry.Epoch
	l.lastStep = entry.Step
	return nil
}

// SeekTo raises the monotonicity guard after a resume, so continued runs
// append entries strictly after the checkpointed epoch. It never lowers the
// guard below what the log already contains: resuming from a checkpoint
// older than the log's tail must not let replayed epochs through.
func (l *MetricLog) SeekTo(epoch int, step int64) {
	if epoch > l.lastEpoch {
		l.lastEpoch = epoch
	}
	if step > l.lastStep {
		l.lastStep = step
	}
}

// Close flushes and closes the log file.
func (l *MetricLog) Close() error {
	return l.file.Close()
}

// ReadMetricLog parses every entry of a JSON-lines metric log. Used by
// tests and post-run tooling.
func ReadMetricLog(path string) ([]MetricEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metric log %s: %w", path, err)
	}

	var entries []MetricEntry
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var entry MetricEntry
				if err := json.Unmarshal(data[start:i], &entry); err != nil {
					return nil, fmt.Errorf("metric log %s: malformed entry: %w", path, err)
				}
				entries = append(entries, entry)
			}
			start = i + 1
		}
	}
	return entries, nil
}
