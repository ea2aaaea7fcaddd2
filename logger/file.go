package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// FileConfig configures the file logger.
type FileConfig struct {
	Dir        string
	Prefix     string // file name prefix, default "ci-medic"
	Level      Level
	MaxSizeMB  int // 0 = unlimited
	MaxAgeDays int // 0 = keep forever
}

// fileSink is shared by every FileLogger derived through WithFields.
type fileSink struct {
	mu         sync.Mutex
	dir        string
	prefix     string
	maxBytes   int64
	maxAgeDays int
	file       *os.File
	day        string
	written    int64
}

// FileLogger writes log lines to files rotated per day and by size.
type FileLogger struct {
	level      Level
	baseFields []Field
	sink       *fileSink
}

// NewFile creates the log directory and opens today's file.
func NewFile(cfg FileConfig) (*FileLogger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ci-medic"
	}

	s := &fileSink{
		dir:        cfg.Dir,
		prefix:     prefix,
		maxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxAgeDays: cfg.MaxAgeDays,
	}
	if err := s.open(time.Now()); err != nil {
		return nil, err
	}
	return &FileLogger{level: cfg.Level, sink: s}, nil
}

func (l *FileLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *FileLogger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *FileLogger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *FileLogger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *FileLogger) WithFields(fields ...Field) Logger {
	return &FileLogger{level: l.level, baseFields: mergeFields(l.baseFields, fields), sink: l.sink}
}

func (l *FileLogger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}

// Files lists the log files currently on disk, sorted by name.
func (l *FileLogger) Files() []string {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.list()
}

func (l *FileLogger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}

	now := time.Now()
	line := fmt.Sprintf("%s [%-5s] %s%s\n",
		now.Format("2006-01-02 15:04:05"), level.String(), msg,
		FormatFields(mergeFields(l.baseFields, fields)))

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case now.Format(dayLayout) != s.day:
		s.rotateDay(now)
	case s.maxBytes > 0 && s.written >= s.maxBytes:
		s.rotateSize(now)
	}
	if s.file != nil {
		n, _ := s.file.WriteString(line)
		s.written += int64(n)
	}
}

func (s *fileSink) path(day string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.log", s.prefix, day))
}

func (s *fileSink) open(t time.Time) error {
	day := t.Format(dayLayout)
	f, err := os.OpenFile(s.path(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	s.file = f
	s.day = day
	s.written = info.Size()
	return nil
}

// Callers of the rotate helpers hold s.mu.
func (s *fileSink) rotateDay(t time.Time) {
	if s.file != nil {
		s.file.Close()
	}
	if err := s.open(t); err != nil {
		fmt.Fprintf(os.Stderr, "file logger rotate failed: %v\n", err)
	}
	s.pruneOld()
}

func (s *fileSink) rotateSize(t time.Time) {
	day := t.Format(dayLayout)
	if s.file != nil {
		s.file.Close()
	}
	for i := 1; ; i++ {
		dest := filepath.Join(s.dir, fmt.Sprintf("%s-%s.%d.log", s.prefix, day, i))
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			os.Rename(s.path(day), dest)
			break
		}
	}
	if err := s.open(t); err != nil {
		fmt.Fprintf(os.Stderr, "file logger rotate failed: %v\n", err)
	}
}

func (s *fileSink) pruneOld() {
	if s.maxAgeDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.maxAgeDays)
	for _, path := range s.list() {
		stamp := strings.TrimPrefix(filepath.Base(path), s.prefix+"-")
		if idx := strings.Index(stamp, "."); idx >= 0 {
			stamp = stamp[:idx]
		}
		day, err := time.Parse(dayLayout, stamp)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			os.Remove(path)
		}
	}
}

func (s *fileSink) list() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), s.prefix+"-") && strings.HasSuffix(e.Name(), ".log") {
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files
}
