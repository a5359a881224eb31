package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	errs "steamscraper/pkg/errors"
	"steamscraper/pkg/logger"
	"steamscraper/pkg/models"
)

const (
	datasetFile   = "data.jsonl"
	completedFile = "completed.txt"
	errorLogFile  = "errors.log"
	metadataFile  = "metadata.json"
)

// FileStore is the single writer for all durable state under one
// location directory: the JSONL dataset, the completed-identifier log,
// the operator error log and the run metadata record.
//
// Append ordering is the load-bearing invariant: AppendItem must be
// called (and must return) before MarkCompleted for the same
// identifier, so a crash can lose an unmarked item but never mark an
// item whose record is gone.
type FileStore struct {
	dir    string
	logger logger.Logger

	mu        sync.Mutex
	dataset   *os.File
	completed *os.File
	errlog    *os.File
}

// DailyLocation returns the conventional location directory for a
// source: <base>/<YYYY-MM-DD>/<source>.
func DailyLocation(base, source string) string {
	return filepath.Join(base, time.Now().Format("2006-01-02"), source)
}

// NewFileStore creates a store for the given location directory. The
// directory is not touched until EnsureLocation is called.
func NewFileStore(dir string, log logger.Logger) *FileStore {
	if log == nil {
		log = logger.GetLogger()
	}
	return &FileStore{dir: dir, logger: log}
}

// Location returns the location directory.
func (s *FileStore) Location() string {
	return s.dir
}

// EnsureLocation idempotently creates the location directory.
func (s *FileStore) EnsureLocation() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errs.Persistence("mkdir", s.dir, err)
	}
	return nil
}

// LoadCompletedSet reconstructs the set of already fetched identifiers
// from the completed log. A missing file means no prior progress.
func (s *FileStore) LoadCompletedSet() (map[string]struct{}, error) {
	path := filepath.Join(s.dir, completedFile)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]struct{}), nil
		}
		return nil, errs.Persistence("open", path, err)
	}
	defer f.Close()

	set := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			set[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Persistence("read", path, err)
	}

	s.logger.InfoWithFields("completed set loaded", map[string]interface{}{
		"location": s.dir,
		"count":    len(set),
	})
	return set, nil
}

// AppendItem durably appends one item record to the dataset. The record
// is written as a single compacted JSON line in one write call and
// synced before returning, so a crash never leaves a partial record
// visible to the next load.
func (s *FileStore) AppendItem(item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.appendHandle(&s.dataset, datasetFile)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, item.Payload); err != nil {
		return errs.Persistence("encode", f.Name(), err)
	}
	buf.WriteByte('\n')

	if _, err := f.Write(buf.Bytes()); err != nil {
		return errs.Persistence("append", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return errs.Persistence("sync", f.Name(), err)
	}
	return nil
}

// MarkCompleted durably appends one identifier to the completed log.
// Callers append the item first; see the type comment.
func (s *FileStore) MarkCompleted(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.appendHandle(&s.completed, completedFile)
	if err != nil {
		return err
	}

	if _, err := f.WriteString(id + "\n"); err != nil {
		return errs.Persistence("append", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return errs.Persistence("sync", f.Name(), err)
	}
	return nil
}

// AppendError records a failed fetch in the operator error log.
func (s *FileStore) AppendError(ref string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.appendHandle(&s.errlog, errorLogFile)
	if err != nil {
		return err
	}

	line := fmt.Sprintf("[%s] %s: %v\n", time.Now().Format("2006-01-02 15:04:05"), ref, cause)
	if _, err := f.WriteString(line); err != nil {
		return errs.Persistence("append", f.Name(), err)
	}
	return nil
}

// WriteRunMetadata writes the run metadata record, replacing any
// previous one atomically via a temp file rename.
func (s *FileStore) WriteRunMetadata(meta *models.RunMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, metadataFile)
	tempPath := path + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return errs.Persistence("create", tempPath, err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		f.Close()
		os.Remove(tempPath)
		return errs.Persistence("encode", tempPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return errs.Persistence("sync", tempPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return errs.Persistence("close", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errs.Persistence("rename", path, err)
	}
	return nil
}

// ReadRunMetadata loads the run metadata record if one exists.
func (s *FileStore) ReadRunMetadata() (*models.RunMetadata, error) {
	path := filepath.Join(s.dir, metadataFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Persistence("read", path, err)
	}

	var meta models.RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errs.Persistence("decode", path, err)
	}
	return &meta, nil
}

// Close releases the append handles. Safe to call more than once.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, f := range []**os.File{&s.dataset, &s.completed, &s.errlog} {
		if *f != nil {
			if err := (*f).Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			*f = nil
		}
	}
	return firstErr
}

// appendHandle lazily opens a file for appending. Caller holds s.mu.
func (s *FileStore) appendHandle(slot **os.File, name string) (*os.File, error) {
	if *slot != nil {
		return *slot, nil
	}
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Persistence("open", path, err)
	}
	*slot = f
	return f, nil
}
