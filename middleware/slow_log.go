package middleware

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shrek82/dbo/core"
	"github.com/shrek82/dbo/logger"
)

// SlowLogMiddleware logs Select calls that take longer than Threshold.
type SlowLogMiddleware struct {
	Threshold time.Duration
	LogPath   string
	logger    logger.Logger
	file      *os.File
}

// NewSlowLog creates a new SlowLogMiddleware.
// threshold: queries taking longer than this will be logged.
// logPath: path to the log file. If empty, logs to standard output.
func NewSlowLog(threshold time.Duration, logPath string) *SlowLogMiddleware {
	return &SlowLogMiddleware{
		Threshold: threshold,
		LogPath:   logPath,
	}
}

// SetOutput sends the slow log to w instead of LogPath.
func (m *SlowLogMiddleware) SetOutput(w io.Writer) {
	m.logger = logger.SetLevelOutput(logger.New(), logger.LevelWarn, w)
}

func (m *SlowLogMiddleware) Name() string {
	return "SlowLog"
}

func (m *SlowLogMiddleware) Init(db *core.DB) error {
	if m.logger != nil {
		return nil
	}

	var w io.Writer = os.Stdout
	if m.LogPath != "" {
		f, err := os.OpenFile(m.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open slow log file: %w", err)
		}
		m.file = f
		w = f
	}
	m.logger = logger.SetLevelOutput(logger.New(), logger.LevelWarn, w).
		WithFields(map[string]any{"conn_id": db.ID()})
	return nil
}

func (m *SlowLogMiddleware) Shutdown() error {
	if m.file != nil {
		err := m.file.Close()
		m.file = nil
		return err
	}
	return nil
}

func (m *SlowLogMiddleware) Process(ctx context.Context, req *core.Request, next core.SelectFunc) (core.Result, error) {
	start := time.Now()
	res, err := next(ctx, req)
	duration := time.Since(start)

	if duration >= m.Threshold {
		log := m.logger
		if len(req.Fields) > 0 {
			log = log.WithFields(req.Fields)
		}
		log.Warn("[SLOW SQL] duration=%v | sql=%s | args=%v | rows=%d | err=%v", duration, req.Query, req.Args, len(res), err)
	}
	return res, err
}
