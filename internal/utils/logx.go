package utils

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"formgate/internal/dataType"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogxManager writes verification activity to per-level files under the
// configured base path: info.log, error.log, debug.log, and a dedicated
// lockout.log stream so lockout events can be tailed on their own. Debug
// lines are dropped entirely unless debug logging is enabled.
type LogxManager struct {
	basePath     string
	debugEnabled bool
	logger       *zap.Logger
	lockout      *zap.Logger
}

func NewManager(base string, debugEnabled bool) *LogxManager {
	m := &LogxManager{basePath: base, debugEnabled: debugEnabled}

	if err := os.MkdirAll(m.basePath, 0744); err != nil {
		log.Printf("failed to create base log dir %s: %v", m.basePath, err)
	}

	encCfg := zapcore.EncoderConfig{MessageKey: "msg", LineEnding: zapcore.DefaultLineEnding}
	encoder := zapcore.NewConsoleEncoder(encCfg)

	infoOut := zapcore.AddSync(m.openLogFile(filepath.Join(m.basePath, "info.log")))
	errorOut := zapcore.AddSync(m.openLogFile(filepath.Join(m.basePath, "error.log")))
	dbgOut := zapcore.AddSync(m.openLogFile(filepath.Join(m.basePath, "debug.log")))
	lockoutOut := zapcore.AddSync(m.openLogFile(filepath.Join(m.basePath, "lockout.log")))

	infoLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l == zapcore.InfoLevel })
	errLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })
	dbgLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l == zapcore.DebugLevel })

	tee := zapcore.NewTee(
		zapcore.NewCore(encoder, infoOut, infoLv),
		zapcore.NewCore(encoder, errorOut, errLv),
		zapcore.NewCore(encoder, dbgOut, dbgLv),
	)
	m.logger = zap.New(tee)
	m.lockout = zap.New(zapcore.NewCore(encoder, lockoutOut, zapcore.InfoLevel))
	return m
}

func (m *LogxManager) openLogFile(path string) *os.File {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file %s: %v", path, err)
		return os.Stdout
	}
	return f
}

func (m *LogxManager) line(req *dataType.FormRequest, msg, msg2 string) string {
	return fmt.Sprintf("%s - - [%s] %s %s %s %s %s",
		req.RemoteIP,
		time.Now().Format("02/Jan/2006:15:04:05 -0700"),
		req.FormID,
		msg,
		req.Host,
		NormalizeUserAgent(req.UserAgent),
		msg2,
	)
}

// LogVerify records the outcome of one verify call.
func (m *LogxManager) LogVerify(req *dataType.FormRequest, res *dataType.VerifyResult) {
	if m == nil {
		return
	}
	if res.OK {
		m.logger.Info(m.line(req, "verify_ok", res.Details))
		return
	}
	m.logger.Info(m.line(req, "verify_reject code="+string(res.Code), res.Details))
}

// LogLockout records a lockout creation on the dedicated stream.
func (m *LogxManager) LogLockout(req *dataType.FormRequest, remaining time.Duration) {
	if m == nil {
		return
	}
	m.lockout.Info(m.line(req, fmt.Sprintf("lockout remaining=%s", remaining), ""))
}

func (m *LogxManager) LogInfo(req *dataType.FormRequest, msg, msg2 string) {
	if m == nil {
		return
	}
	m.logger.Info(m.line(req, msg, msg2))
}

func (m *LogxManager) LogError(req *dataType.FormRequest, msg, msg2 string) {
	if m == nil {
		return
	}
	m.logger.Error(m.line(req, msg, msg2))
}

func (m *LogxManager) LogDebug(req *dataType.FormRequest, msg, msg2 string) {
	if m == nil || !m.debugEnabled {
		return
	}
	m.logger.Debug(m.line(req, msg, msg2))
}
