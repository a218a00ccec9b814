package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
)

// CustomFormatter 自定义日志格式化器
type CustomFormatter struct {
	TimestampFormat string
}

// Format 实现 logrus.Formatter 接口
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("15:04:05 MST 2006/01/02")

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	caller := getCaller()

	logMsg := fmt.Sprintf("[%s] [%s] (%s) %s\n", timestamp, level, caller, entry.Message)
	return []byte(logMsg), nil
}

// getCaller 获取调用者的文件与行号
func getCaller() string {
	for skip := 6; skip < 12; skip++ {
		_, file, line, ok := runtime.Caller(skip)
		if !ok {
			break
		}
		if strings.Contains(file, "logrus") || strings.Contains(file, "logger/logger.go") {
			continue
		}
		return fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return "unknown"
}

func init() {
	Logger = logrus.New()
	Logger.SetOutput(os.Stderr)
	Logger.SetFormatter(&CustomFormatter{})
	Logger.SetLevel(logrus.InfoLevel)
}

// SetLevel 设置日志级别
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		Logger.SetLevel(logrus.DebugLevel)
	case "info":
		Logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		Logger.SetLevel(logrus.WarnLevel)
	case "error":
		Logger.SetLevel(logrus.ErrorLevel)
	}
}

// Debugf 调试日志
func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

// Infof 信息日志
func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

// Warnf 警告日志
func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

// Errorf 错误日志
func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}
