package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// MetricPoint is one generation's reported reward.
type MetricPoint struct {
	Generation int     `json:"generation"`
	Reward     float64 `json:"reward"`
}

// MetricLog is an append-only plain-text reward log, one line per
// generation in the form "generation, reward". Unlike the trace it is
// synced to disk on every append so a killed process loses at most the
// line being written.
type MetricLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewMetricLog opens (or creates) the metric log for the given run at
// <baseDir>/runs/<runID>/metric.log. If append is false any existing log
// is truncated.
func NewMetricLog(baseDir, runID string, append bool) (*MetricLog, error) {
	runDir := filepath.Join(baseDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := filepath.Join(runDir, "metric.log")
	flags := os.O_CREATE | os.O_WRONLY
	if append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metric log: %w", err)
	}

	return &MetricLog{file: file, path: path}, nil
}

// Append writes one generation line and syncs it to disk.
func (ml *MetricLog) Append(generation int, reward float64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	line := fmt.Sprintf("%d, %s\n", generation, strconv.FormatFloat(reward, 'g', -1, 64))
	if _, err := ml.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write metric line: %w", err)
	}
	if err := ml.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync metric log: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the metric log.
func (ml *MetricLog) Path() string {
	return ml.path
}

// Close closes the metric log.
func (ml *MetricLog) Close() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if err := ml.file.Close(); err != nil {
		return fmt.Errorf("failed to close metric log: %w", err)
	}
	return nil
}

// ReadMetricLog reads all well-formed lines from a run's metric log.
// A malformed trailing line (a partial write from a crashed run) is
// silently dropped; a malformed line elsewhere is an error.
func ReadMetricLog(baseDir, runID string) ([]MetricPoint, error) {
	path := filepath.Join(baseDir, "runs", runID, "metric.log")

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to open metric log: %w", err)
	}
	defer file.Close()

	var points []MetricPoint
	pendingErr := error(nil)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pendingErr != nil {
			return nil, pendingErr
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		point, err := parseMetricLine(line)
		if err != nil {
			// Only fatal if more lines follow.
			pendingErr = err
			continue
		}
		points = append(points, point)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan metric log: %w", err)
	}
	return points, nil
}

func parseMetricLine(line string) (MetricPoint, error) {
	genStr, rewardStr, ok := strings.Cut(line, ",")
	if !ok {
		return MetricPoint{}, fmt.Errorf("malformed metric line %q", line)
	}
	generation, err := strconv.Atoi(strings.TrimSpace(genStr))
	if err != nil {
		return MetricPoint{}, fmt.Errorf("malformed generation in line %q: %w", line, err)
	}
	reward, err := strconv.ParseFloat(strings.TrimSpace(rewardStr), 64)
	if err != nil {
		return MetricPoint{}, fmt.Errorf("malformed reward in line %q: %w", line, err)
	}
	return MetricPoint{Generation: generation, Reward: reward}, nil
}
