package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogInfo 日志实例
type LogInfo struct {
	log   *zap.Logger
	debug *zap.AtomicLevel
}

var (
	// Log 日志实例, no-op until Initialize
	Log = newNop()
)

func newNop() *LogInfo {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	return &LogInfo{log: zap.NewNop(), debug: &level}
}

// Initialize JSON to stdout and a daily file for info..error, console for warn and debug
func Initialize(serviceName, logDir string) *LogInfo {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		panic(fmt.Sprintf("Failed to create log directory: %v", err))
	}
	level := zap.NewAtomicLevelAt(zap.InfoLevel)

	infoErrorCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.NewMultiWriteSyncer(
			zapcore.AddSync(os.Stdout),
			&dailyFile{dir: logDir},
		),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zap.InfoLevel && l <= zap.ErrorLevel
		}),
	)

	// DEBUG 仅控制台，由 SetDebugMode 開關
	debugCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(os.Stdout),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l == zapcore.DebugLevel && level.Enabled(zapcore.DebugLevel)
		}),
	)

	// WARN 仅控制台
	warnCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(os.Stdout),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l == zapcore.WarnLevel
		}),
	)

	core := zapcore.NewTee(infoErrorCore, debugCore, warnCore)
	return &LogInfo{
		log:   zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(zap.String("service", serviceName)),
		debug: &level,
	}
}

// SetNewNop replace Log with a no-op logger, used by tests
func SetNewNop() {
	Log = newNop()
}

// dailyFile appends to <dir>/log_<date>.log and switches file when the date changes
type dailyFile struct {
	dir string

	mu   sync.Mutex
	date string
	file *os.File
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	date := time.Now().Format("2006-01-02")
	if d.file == nil || date != d.date {
		file, err := os.OpenFile(filepath.Join(d.dir, fmt.Sprintf("log_%s.log", date)), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return 0, err
		}
		if d.file != nil {
			_ = d.file.Close()
		}
		d.file, d.date = file, date
	}
	return d.file.Write(p)
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	return d.file.Sync()
}

// SetDebugMode set the log debug mode, shared by every child logger
func (l *LogInfo) SetDebugMode(status bool) {
	if status {
		l.debug.SetLevel(zap.DebugLevel)
		return
	}
	l.debug.SetLevel(zap.InfoLevel)
}

// With child logger carrying fields on every entry
func (l *LogInfo) With(fields ...zap.Field) *LogInfo {
	return &LogInfo{log: l.log.With(fields...), debug: l.debug}
}

// Info 输出 INFO 级别日志
func (l *LogInfo) Info(msg string, fields ...zap.Field) {
	l.log.Info(msg, fields...)
}

// Error 输出 ERROR 级别日志
func (l *LogInfo) Error(msg string, fields ...zap.Field) {
	l.log.Error(msg, fields...)
}

// Debug 输出 DEBUG 级别日志
func (l *LogInfo) Debug(msg string, fields ...zap.Field) {
	l.log.Debug(msg, fields...)
}

// Warn 输出 WARN 级别日志
func (l *LogInfo) Warn(msg string, fields ...zap.Field) {
	l.log.Warn(msg, fields...)
}

// Sync 刷新日志缓冲区
func (l *LogInfo) Sync() {
	if err := l.log.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", err)
	}
}

// Fatal 输出错误日志并退出程序
func (l *LogInfo) Fatal(msg string, fields ...zap.Field) {
	l.log.Error(msg, fields...)
	l.Sync()
	os.Exit(1)
}
