// Package storage keeps the evidence a run leaves behind.
//
// Layout under the evidence directory:
//
//	<dir>/<session>/<timestamp>_<label>.html   page dumps
//	<dir>/<session>/<timestamp>_<label>.png    screenshots
//	<dir>/incidents.csv                        append-only incident ledger
//	<dir>/stats_<timestamp>.json               final counters of a run
//
// Thread-safety:
//   - All writes are protected by one mutex
//   - Safe for concurrent use by every session runner
package storage

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// incidentFile is the CSV ledger inside the evidence directory
	incidentFile = "incidents.csv"

	// bufferSize for buffered I/O (64KB)
	bufferSize = 64 * 1024

	stampLayout = "20060102T150405.000"
)

var incidentHeader = []string{"time", "session", "kind", "detail"}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Incident is one row of the ledger.
type Incident struct {
	Time    time.Time
	Session string
	Kind    string
	Detail  string
}

// Store writes evidence files below one directory.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// New creates the evidence directory and reports how many incidents
// earlier runs recorded.
//
// Returns:
//   - *Store: ready-to-use store
//   - error: the directory could not be created
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	s := &Store{dir: dir, logger: logger, now: time.Now}

	incidents, err := s.Incidents()
	switch {
	case err != nil:
		logger.Warn("⚠️  Failed to read incident ledger", zap.Error(err))
	case len(incidents) > 0:
		logger.Info("📚 Loaded incident ledger", zap.Int("previous_incidents", len(incidents)))
	}
	return s, nil
}

// Dir is the evidence root.
func (s *Store) Dir() string {
	return s.dir
}

// SaveHTML stores a page dump for a session.
func (s *Store) SaveHTML(sessionID, label, html string) error {
	_, err := s.writeSessionFile(sessionID, label, ".html", []byte(html))
	return err
}

// SaveScreenshot stores a PNG for a session.
func (s *Store) SaveScreenshot(sessionID, label string, png []byte) error {
	_, err := s.writeSessionFile(sessionID, label, ".png", png)
	return err
}

func (s *Store) writeSessionFile(sessionID, label, ext string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, safeName(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, s.now().Format(stampLayout)+"_"+safeName(label)+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	s.logger.Debug("  💾 Evidence saved", zap.String("path", path))
	return path, nil
}

// RecordIncident appends one row to the ledger. The header is written
// when the file is created.
//
// Flow:
//  1. Acquire lock
//  2. Open the CSV in append mode
//  3. Write header if the file is new, then the row
//  4. Flush CSV and buffered writers
func (s *Store) RecordIncident(sessionID, kind, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, incidentFile)
	info, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	bufferedWriter := bufio.NewWriterSize(file, bufferSize)
	writer := csv.NewWriter(bufferedWriter)
	if isNew {
		if err := writer.Write(incidentHeader); err != nil {
			return err
		}
	}
	if err := writer.Write([]string{s.now().Format(time.RFC3339), sessionID, kind, detail}); err != nil {
		return err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return bufferedWriter.Flush()
}

// Incidents reads the ledger back. A missing file yields no incidents.
//
// Malformed rows are skipped.
func (s *Store) Incidents() ([]Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(filepath.Join(s.dir, incidentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	var out []Incident
	for i, record := range records {
		if i == 0 && len(record) > 0 && record[0] == incidentHeader[0] {
			continue
		}
		if len(record) < 4 {
			continue
		}
		at, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			continue
		}
		out = append(out, Incident{Time: at, Session: record[1], Kind: record[2], Detail: record[3]})
	}
	return out, nil
}

// SaveStats dumps v as indented JSON to stats_<timestamp>.json.
func (s *Store) SaveStats(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, "stats_"+s.now().Format(stampLayout)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	s.logger.Info("💾 Stats saved", zap.String("path", path))
	return nil
}

func safeName(s string) string {
	s = unsafeName.ReplaceAllString(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}
