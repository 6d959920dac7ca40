package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-garage/engine/ingest"
	"github.com/WessleyAI/wessley-garage/pkg/metrics"
	"github.com/WessleyAI/wessley-garage/pkg/vehiclenlp"
)

// headerBytes is how much of a manual is searched for its make and year
// when the file name names neither.
const headerBytes = 2000

type indexer interface {
	Ingest(ctx context.Context, up ingest.Upload) (ingest.Result, error)
}

// scanner indexes new or changed manuals in dir. A file is remembered by
// name, size and modification time once it has been indexed.
type scanner struct {
	dir       string
	stateFile string
	idx       indexer
	processed map[string]bool
	logger    *slog.Logger

	indexed *metrics.Counter
	failed  *metrics.Counter
	lastRun *metrics.Gauge
}

func newScanner(dir, stateFile string, idx indexer, reg *metrics.Registry, logger *slog.Logger) *scanner {
	return &scanner{
		dir:       dir,
		stateFile: stateFile,
		idx:       idx,
		processed: loadState(stateFile, logger),
		logger:    logger,
		indexed:   reg.Counter("garage_ingest_files_indexed_total", "Manuals indexed from the watch directory."),
		failed:    reg.Counter("garage_ingest_files_failed_total", "Manuals that failed to index; retried on the next scan."),
		lastRun:   reg.Gauge("garage_ingest_last_scan_timestamp", "Unix time of the last directory scan."),
	}
}

// scan indexes every unprocessed manual and reports how many were indexed
// and how many failed.
func (s *scanner) scan(ctx context.Context) (indexed, failed int) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("ingest: read dir", "err", err, "dir", s.dir)
		return 0, 0
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !isManual(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		key := fmt.Sprintf("%s:%d:%d", name, info.Size(), info.ModTime().Unix())
		if s.processed[key] {
			continue
		}

		content, err := os.ReadFile(filepath.Join(s.dir, name))
		if err == nil {
			var res ingest.Result
			res, err = s.idx.Ingest(ctx, uploadFromFile(name, string(content)))
			if err == nil {
				s.logger.Info("ingest: manual indexed", "file", name, "doc_id", res.DocID, "chunks", res.Chunks)
			}
		}
		if err != nil {
			s.logger.Warn("ingest: manual failed, will retry", "file", name, "err", err)
			s.failed.Inc()
			failed++
			continue
		}
		s.indexed.Inc()
		indexed++
		s.processed[key] = true
		s.saveState()
	}
	s.lastRun.Set(time.Now().Unix())
	return indexed, failed
}

func isManual(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return true
	}
	return false
}

// uploadFromFile builds a shared upload from a manual. The title comes from
// the file name; make and year come from the title, or failing that from
// the start of the text.
func uploadFromFile(name, content string) ingest.Upload {
	title := strings.TrimSuffix(name, filepath.Ext(name))
	title = strings.Join(strings.FieldsFunc(title, func(r rune) bool { return r == '_' || r == '-' || r == ' ' }), " ")

	up := ingest.Upload{Title: title, Content: content, System: true}
	header := content
	if len(header) > headerBytes {
		header = header[:headerBytes]
	}
	for _, text := range []string{title, header} {
		if up.Make == "" {
			if makes := vehiclenlp.Makes(text); len(makes) > 0 {
				up.Make = makes[0]
			}
		}
		if up.Year == 0 {
			up.Year = vehiclenlp.ModelYear(text)
		}
	}
	return up
}

func loadState(path string, logger *slog.Logger) map[string]bool {
	m := make(map[string]bool)
	if path == "" {
		return m
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("ingest: read state", "err", err)
		}
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Warn("ingest: corrupt state, rescanning", "err", err)
		return make(map[string]bool)
	}
	return m
}

func (s *scanner) saveState() {
	if s.stateFile == "" {
		return
	}
	data, _ := json.Marshal(s.processed)
	if err := os.WriteFile(s.stateFile, data, 0o644); err != nil {
		s.logger.Warn("ingest: write state", "err", err)
	}
}
