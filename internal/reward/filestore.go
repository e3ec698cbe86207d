package reward

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// FileStore keeps the pool as a newline-delimited text file and the usage
// records as a JSON array. Both files are replaced through a temp file and a
// rename, and the usage file is always written first. Every operation reads
// the files afresh while holding an advisory lock on a sidecar lock file, so
// processes sharing the files never overwrite each other's changes.
type FileStore struct {
	poolPath  string
	usagePath string
	lockPath  string
	logger    *zap.Logger

	mu sync.Mutex
}

// NewFileStore returns a store over the two files. Missing files are treated
// as empty.
func NewFileStore(poolPath, usagePath string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		poolPath:  poolPath,
		usagePath: usagePath,
		lockPath:  usagePath + ".lock",
		logger:    logger,
	}
}

func (s *FileStore) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.lockPath)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Load reads both files. Codes that appear in the usage file are dropped from
// the pool; that only happens after a crash between the usage and the pool
// write, and the repaired pool is written back.
func (s *FileStore) Load(_ context.Context) (State, error) {
	var st State
	err := s.locked(func() error {
		var err error
		st, err = s.load()
		return err
	})
	return st, err
}

func (s *FileStore) load() (State, error) {
	pool, err := ReadPoolFile(s.poolPath)
	if err != nil {
		return State{}, err
	}
	usage, err := readUsage(s.usagePath)
	if err != nil {
		return State{}, err
	}

	issued := make(map[string]struct{}, len(usage))
	for _, rec := range usage {
		issued[rec.Code] = struct{}{}
	}
	repaired := pool[:0:0]
	for _, code := range pool {
		if _, ok := issued[code]; ok {
			continue
		}
		repaired = append(repaired, code)
	}
	if len(repaired) != len(pool) {
		s.logger.Warn("issued codes found in pool file, removing",
			zap.String("path", s.poolPath),
			zap.Int("removed", len(pool)-len(repaired)))
		if err := s.writePool(repaired); err != nil {
			return State{}, err
		}
	}

	return State{Pool: repaired, Usage: usage}, nil
}

func (s *FileStore) Claim(_ context.Context, userID string, day Day, now time.Time) (Claim, error) {
	var c Claim
	err := s.locked(func() error {
		st, err := s.load()
		if err != nil {
			return err
		}
		prevUsage := st.Usage

		var issued bool
		c, issued = claimFrom(&st, userID, day, now)
		if !issued {
			return nil
		}
		if err := s.writeUsage(st.Usage); err != nil {
			return err
		}
		if err := s.writePool(st.Pool); err != nil {
			// Undo the usage write so the files stay consistent.
			if uerr := s.writeUsage(prevUsage); uerr != nil {
				s.logger.Error("usage file left ahead of pool file",
					zap.String("code", c.Code), zap.Error(uerr))
			}
			return err
		}
		return nil
	})
	if err != nil {
		return Claim{}, err
	}
	return c, nil
}

func (s *FileStore) Restock(_ context.Context, code string, day Day) error {
	return s.locked(func() error {
		st, err := s.load()
		if err != nil {
			return err
		}
		if slices.Contains(st.Pool, code) {
			return fmt.Errorf("%w: %s is already pooled", ErrDuplicateCode, code)
		}
		for _, rec := range st.Usage {
			if rec.Code == code && day.Contains(rec.IssuedAt) {
				return fmt.Errorf("%w: %s was issued today", ErrDuplicateCode, code)
			}
		}
		return s.writePool(append(st.Pool, code))
	})
}

func (s *FileStore) Purge(_ context.Context, cutoff time.Time) error {
	return s.locked(func() error {
		usage, err := readUsage(s.usagePath)
		if err != nil {
			return err
		}
		kept := make([]UsageRecord, 0, len(usage))
		for _, rec := range usage {
			if rec.IssuedAt >= cutoff.UnixMilli() {
				kept = append(kept, rec)
			}
		}
		if len(kept) == len(usage) {
			return nil
		}
		return s.writeUsage(kept)
	})
}

func (s *FileStore) writePool(pool []string) error {
	var buf bytes.Buffer
	for i, code := range pool {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(code)
	}
	if err := writeFileAtomic(s.poolPath, buf.Bytes()); err != nil {
		return fmt.Errorf("write pool: %w", err)
	}
	return nil
}

func (s *FileStore) writeUsage(usage []UsageRecord) error {
	if usage == nil {
		usage = []UsageRecord{}
	}
	data, err := json.MarshalIndent(usage, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	if err := writeFileAtomic(s.usagePath, data); err != nil {
		return fmt.Errorf("write usage: %w", err)
	}
	return nil
}

// ReadPoolFile reads a newline-delimited pool file, skipping blank lines and
// repeated codes. A missing file is an empty pool.
func ReadPoolFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	defer f.Close()

	var pool []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		code := strings.TrimSpace(sc.Text())
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		pool = append(pool, code)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read pool: %w", err)
	}
	return pool, nil
}

func readUsage(path string) ([]UsageRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var usage []UsageRecord
	if err := json.Unmarshal(data, &usage); err != nil {
		return nil, fmt.Errorf("decode usage %s: %w", path, err)
	}
	return usage, nil
}

// writeFileAtomic replaces path with data via a synced temp file in the same
// directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
