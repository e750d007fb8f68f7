// Package storage archives results to rotating JSONL files.
package storage

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"omnic/internal/extract"
)

const (
	// Rotation triggers
	DefaultMaxResultsPerFile = 500
	DefaultMaxFileAge        = 24 * time.Hour
)

// Config holds configuration for the archive
type Config struct {
	// Dir holds the hot, warm and cold subdirectories
	Dir string
	// MaxResultsPerFile rotates the hot file once reached (default: 500)
	MaxResultsPerFile int
	// MaxFileAge rotates the hot file once it is this old (default: 24 hours)
	MaxFileAge time.Duration
	// Compress gzips rotated files into cold storage
	Compress bool
}

// Archive writes results to rotating JSONL files. Closed files are moved to
// warm storage, and optionally compressed into cold storage.
type Archive struct {
	mu sync.Mutex

	cfg Config
	now func() time.Time

	hotDir  string // Active writes
	warmDir string // Closed files
	coldDir string // Compressed archives

	currentFile   *os.File
	currentWriter *bufio.Writer
	currentPath   string
	resultCount   int
	fileOpenedAt  time.Time
	filesOpened   int
}

// Open creates the archive directories and the first hot file
func Open(cfg Config) (*Archive, error) {
	return open(cfg, time.Now)
}

func open(cfg Config, now func() time.Time) (*Archive, error) {
	if cfg.MaxResultsPerFile <= 0 {
		cfg.MaxResultsPerFile = DefaultMaxResultsPerFile
	}
	if cfg.MaxFileAge <= 0 {
		cfg.MaxFileAge = DefaultMaxFileAge
	}

	a := &Archive{
		cfg:     cfg,
		now:     now,
		hotDir:  filepath.Join(cfg.Dir, "hot"),
		warmDir: filepath.Join(cfg.Dir, "warm"),
		coldDir: filepath.Join(cfg.Dir, "cold"),
	}

	for _, dir := range []string{a.hotDir, a.warmDir, a.coldDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := a.rotate(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Archive) Name() string {
	return "archive"
}

// Write appends one result line and flushes it
func (a *Archive) Write(_ context.Context, result extract.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.currentFile == nil {
		return os.ErrClosed
	}

	if a.shouldRotate() {
		if err := a.rotate(); err != nil {
			return err
		}
	}

	if _, err := a.currentWriter.Write(data); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := a.currentWriter.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := a.currentWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	a.resultCount++

	return nil
}

// shouldRotate checks if the current file is full or too old
func (a *Archive) shouldRotate() bool {
	if a.resultCount >= a.cfg.MaxResultsPerFile {
		return true
	}
	return a.resultCount > 0 && a.now().Sub(a.fileOpenedAt) >= a.cfg.MaxFileAge
}

// rotate retires the current file and opens a new one
func (a *Archive) rotate() error {
	if a.currentFile != nil {
		if err := a.retire(); err != nil {
			return err
		}
	}

	a.filesOpened++
	filename := fmt.Sprintf("results_%s_%03d.jsonl", a.now().UTC().Format("2006-01-02_15-04-05"), a.filesOpened)
	a.currentPath = filepath.Join(a.hotDir, filename)

	file, err := os.Create(a.currentPath)
	if err != nil {
		return fmt.Errorf("failed to create new file: %w", err)
	}

	a.currentFile = file
	a.currentWriter = bufio.NewWriterSize(file, 64*1024)
	a.resultCount = 0
	a.fileOpenedAt = a.now()

	slog.Debug("Opened archive file", slog.String("file", filename))

	return nil
}

// retire closes the current file and moves it to warm storage, or removes it
// when empty
func (a *Archive) retire() error {
	if err := a.currentWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush before rotation: %w", err)
	}
	if err := a.currentFile.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	a.currentFile = nil

	if a.resultCount == 0 {
		return os.Remove(a.currentPath)
	}

	warmPath := filepath.Join(a.warmDir, filepath.Base(a.currentPath))
	if err := os.Rename(a.currentPath, warmPath); err != nil {
		return fmt.Errorf("failed to move to warm storage: %w", err)
	}

	slog.Info("Moved archive file to warm storage",
		slog.String("file", filepath.Base(warmPath)), slog.Int("results", a.resultCount))

	if a.cfg.Compress {
		if err := CompressToCold(warmPath, a.coldDir); err != nil {
			return fmt.Errorf("failed to compress %s: %w", filepath.Base(warmPath), err)
		}
	}

	return nil
}

// Close flushes and retires the current file
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.currentFile == nil {
		return nil
	}

	return a.retire()
}

// Stats returns the result count and name of the current hot file
func (a *Archive) Stats() (resultsInCurrentFile int, currentFileName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resultCount, filepath.Base(a.currentPath)
}

// CompressToCold compresses a warm file and moves it to cold storage
func CompressToCold(warmPath, coldDir string) error {
	src, err := os.Open(warmPath)
	if err != nil {
		return err
	}
	defer src.Close()

	coldPath := filepath.Join(coldDir, filepath.Base(warmPath)+".gz")
	dst, err := os.Create(coldPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gzWriter := gzip.NewWriter(dst)
	if _, err := io.Copy(gzWriter, src); err != nil {
		return err
	}
	if err := gzWriter.Close(); err != nil {
		return err
	}

	if err := os.Remove(warmPath); err != nil {
		return err
	}

	slog.Info("Compressed archive file to cold storage", slog.String("file", filepath.Base(coldPath)))
	return nil
}

// ReadFile decodes every result in a JSONL archive file, gzipped or not
func ReadFile(path string) ([]extract.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var results []extract.Result
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var result extract.Result
		if err := json.Unmarshal(line, &result); err != nil {
			return nil, fmt.Errorf("failed to decode line %d: %w", len(results)+1, err)
		}
		results = append(results, result)
	}

	return results, scanner.Err()
}
