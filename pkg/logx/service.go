package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ---- Config ----

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Routines ChannelConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChannelConfig controls per-routine log files.
//
// Each routine channel writes JSON lines to <Dir>/<name>.log. The file is
// rotated at local midnight to <name>.log.YYYY-MM-DD and at most Keep rotated
// files are retained (0 keeps everything).
type ChannelConfig struct {
	Enabled bool
	Dir     string
	Keep    int
}

type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Sender delivers a formatted log record to an operator chat.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

// ---- Service (dynamic config + sinks) ----

type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // stores zerolog.Logger

	file *os.File

	// guarded by mu
	writers  []io.Writer
	level    zerolog.Level
	channels map[string]*channel

	// telegram logging
	sender   Sender
	tgQueue  chan string
	tgOnce   sync.Once
	tgCancel context.CancelFunc
	tgWG     sync.WaitGroup
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

type channel struct {
	name string
	file *DailyFile
	zl   atomic.Value // stores zerolog.Logger
}

// New creates the logging service, applies the initial config immediately,
// and returns both the Service and a root Logger.
// sender may be nil; the Telegram sink is then a no-op.
func New(cfg Config, sender Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{
		cfg:      cfg,
		sender:   sender,
		tgQueue:  make(chan string, 256),
		channels: map[string]*channel{},
	}

	// Safe bootstrap root.
	boot := zerolog.New(newConsoleWriter(stdout)).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(boot)

	s.Apply(cfg)

	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	v := s.root.Load()
	if v == nil {
		return zerolog.Nop()
	}
	zl, ok := v.(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Channel returns the named log channel for a routine. Records go to the
// shared sinks and, when routine files are enabled, to the routine's own file.
func (s *Service) Channel(name string) Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return Logger{svc: s}
	}
	s.mu.Lock()
	if _, ok := s.channels[name]; !ok {
		ch := &channel{name: name}
		s.channels[name] = ch
		s.rebuildChannelLocked(ch)
	}
	s.mu.Unlock()
	return Logger{svc: s, channel: name}
}

func (s *Service) channelLogger(name string) zerolog.Logger {
	s.mu.Lock()
	ch := s.channels[name]
	s.mu.Unlock()
	if ch == nil {
		return s.current()
	}
	zl, ok := ch.zl.Load().(zerolog.Logger)
	if !ok {
		return s.current()
	}
	return zl
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	cancel := s.tgCancel
	s.tgCancel = nil
	var files []*DailyFile
	for _, ch := range s.channels {
		if ch.file != nil {
			files = append(files, ch.file)
			ch.file = nil
		}
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.tgWG.Wait()
	}
	if f != nil {
		_ = f.Close()
	}
	for _, df := range files {
		_ = df.Close()
	}
	return nil
}

// Apply swaps logger outputs/levels at runtime.
// It is safe to call concurrently.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg

	s.minLevel = parseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.Telegram.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	lvl := parseLevel(cfg.Level, zerolog.InfoLevel)

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./routined.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	if cfg.Telegram.Enabled && s.sender != nil {
		s.tgOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			s.tgCancel = cancel
			s.tgWG.Add(1)
			go func() {
				defer s.tgWG.Done()
				s.telegramWorker(ctx)
			}()
		})
		writers = append(writers, &telegramWriter{svc: s})
	}

	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(stdout))
	}

	s.writers = writers
	s.level = lvl
	s.root.Store(zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger())

	for _, ch := range s.channels {
		s.rebuildChannelLocked(ch)
	}
}

// rebuildChannelLocked (re)opens the channel file if needed and swaps the
// channel's zerolog logger. Call with s.mu held.
func (s *Service) rebuildChannelLocked(ch *channel) {
	rc := s.cfg.Routines
	if !rc.Enabled {
		if ch.file != nil {
			_ = ch.file.Close()
			ch.file = nil
		}
		ch.zl.Store(zerolog.New(zerolog.MultiLevelWriter(s.writers...)).Level(s.level).With().Timestamp().Logger())
		return
	}

	dir := strings.TrimSpace(rc.Dir)
	if dir == "" {
		dir = "./logs"
	}
	path := filepath.Join(dir, ch.name+".log")
	if ch.file == nil || ch.file.Path() != path {
		if ch.file != nil {
			_ = ch.file.Close()
		}
		ch.file = NewDailyFile(path, rc.Keep)
	} else {
		ch.file.SetKeep(rc.Keep)
	}

	ws := make([]io.Writer, 0, len(s.writers)+1)
	ws = append(ws, s.writers...)
	ws = append(ws, ch.file)
	ch.zl.Store(zerolog.New(zerolog.MultiLevelWriter(ws...)).Level(s.level).With().Timestamp().Logger())
}

func (s *Service) telegramWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.tgQueue:
			if s.sender == nil {
				continue
			}
			_ = s.sender.SendText(ctx, msg)
		}
	}
}

func (s *Service) enqueueTelegramLog(msg string) {
	// Never block core logging.
	select {
	case s.tgQueue <- msg:
	default:
	}
}
