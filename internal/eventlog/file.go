package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileName = "events.log"

// FileLog is an append-only JSON-lines file. Every append is fsynced before
// it becomes visible to readers; the full log is indexed in memory on open.
type FileLog struct {
	mu      sync.RWMutex
	file    *os.File
	records []Record
	now     func() time.Time
}

// OpenFileLog opens or creates the log under dirPath and replays it
func OpenFileLog(dirPath string) (*FileLog, error) {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	path := filepath.Join(dirPath, fileName)
	records, err := Replay(path)
	if err != nil {
		return nil, fmt.Errorf("failed to replay event log: %w", err)
	}

	if err := truncateTornTail(path); err != nil {
		return nil, fmt.Errorf("failed to repair event log tail: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	return &FileLog{
		file:    file,
		records: records,
		now:     time.Now,
	}, nil
}

func (f *FileLog) Append(ctx context.Context, storeID, eventType string, payload any) (Record, error) {
	rec, err := newRecord(storeID, eventType, payload, f.now())
	if err != nil {
		return Record{}, err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.file.Write(line); err != nil {
		return Record{}, fmt.Errorf("failed to write event log entry: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return Record{}, fmt.Errorf("failed to sync event log: %w", err)
	}

	f.records = append(f.records, rec)
	return rec, nil
}

func (f *FileLog) Recent(ctx context.Context, storeID string, types []string, limit int) ([]Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return recentFrom(f.records, storeID, types, limit), nil
}

func (f *FileLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.file.Sync(); err != nil {
		return err
	}
	return f.file.Close()
}

// truncateTornTail cuts the file back to the end of its last complete line.
// A crash mid-write leaves a partial line without '\n'; appending after it
// would glue the next record onto that line and make it unreadable.
func truncateTornTail(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := file.ReadAt(buf[:end-start], start)
		if err != nil && err != io.EOF {
			return err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep := start + int64(i) + 1
			if keep == size {
				return nil
			}
			return truncate(file, keep)
		}
		end = start
	}

	return truncate(file, 0)
}

func truncate(file *os.File, size int64) error {
	if err := file.Truncate(size); err != nil {
		return err
	}
	return file.Sync()
}

// Replay reads every record from a log file in append order.
// A missing file is an empty log; malformed lines (e.g. a torn final write)
// are skipped.
func Replay(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.ID == "" || rec.Type == "" {
			continue
		}
		records = append(records, rec)
	}

	return records, scanner.Err()
}
