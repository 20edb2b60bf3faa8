package build

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// LogConfig controls where the daemon logs go and how verbose they are.
type LogConfig struct {
	// Level is either a single level applied to every subsystem, or a
	// comma separated list of SUBSYS=level pairs with an optional bare
	// level used as the default, e.g. "info,WORK=debug".
	Level string

	// Rotator configures the on disk log file. A nil value disables file
	// logging.
	Rotator *LogRotatorConfig
}

// LogManager owns the console and file handlers and hands out one logger
// per subsystem.
type LogManager struct {
	handler *HandlerSet
	rotator *RotatingLogWriter

	mu      sync.Mutex
	loggers map[string]btclogv2.Logger
}

// NewLogManager builds the handler set writing to console and, when
// configured, to a rotating log file.
func NewLogManager(cfg LogConfig, console io.Writer) (*LogManager, error) {
	handlers := []btclogv2.Handler{btclogv2.NewDefaultHandler(console)}

	var rotator *RotatingLogWriter
	if cfg.Rotator != nil {
		var err error
		rotator, err = NewRotatingLogWriter(cfg.Rotator)
		if err != nil {
			return nil, err
		}

		handlers = append(
			handlers, btclogv2.NewDefaultHandler(rotator),
		)
	}

	return &LogManager{
		handler: NewHandlerSet(handlers...),
		rotator: rotator,
		loggers: make(map[string]btclogv2.Logger),
	}, nil
}

// Logger returns the logger of a subsystem, creating it on first use.
func (m *LogManager) Logger(subsystem string) btclogv2.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.loggers[subsystem]; ok {
		return l
	}

	l := btclogv2.NewSLogger(m.handler.SubSystem(subsystem))
	l.SetLevel(m.handler.Level())
	m.loggers[subsystem] = l

	return l
}

// SlogLogger returns a standard library logger sharing the same handlers,
// for libraries that only speak slog.
func (m *LogManager) SlogLogger(subsystem string) *slog.Logger {
	return slog.New(m.handler.SubSystem(subsystem))
}

// Subsystems returns the tags of every logger handed out so far.
func (m *LogManager) Subsystems() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	tags := make([]string, 0, len(m.loggers))
	for tag := range m.loggers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	return tags
}

// SetLevels applies a level spec in the LogConfig.Level format to the
// loggers created so far. An empty spec leaves levels untouched.
func (m *LogManager) SetLevels(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		subsystem, levelStr, scoped := strings.Cut(part, "=")
		if !scoped {
			levelStr = subsystem
		}

		level, ok := btclog.LevelFromString(levelStr)
		if !ok {
			return fmt.Errorf("invalid log level %q", levelStr)
		}

		if !scoped {
			m.handler.SetLevel(level)
			for _, l := range m.loggers {
				l.SetLevel(level)
			}

			continue
		}

		l, ok := m.loggers[subsystem]
		if !ok {
			return fmt.Errorf("unknown log subsystem %q", subsystem)
		}
		l.SetLevel(level)
	}

	return nil
}

// Close flushes and closes the log file, if any.
func (m *LogManager) Close() error {
	if m.rotator == nil {
		return nil
	}

	return m.rotator.Close()
}
