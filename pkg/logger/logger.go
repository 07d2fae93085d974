// Package logger 初始化进程级日志：控制台 + 可选的轮转文件。
//
// 各模块通过 logrus.WithField("module", ...) 取子 logger，
// 这里统一配置全局 logrus 的级别、格式和输出。
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level      string // debug / info / warn / error
	OutputFile string // 为空则只输出到控制台
	MaxSize    int    // 单文件上限（MB）
	MaxBackups int    // 保留的旧文件数
	MaxAge     int    // 旧文件保留天数
	Compress   bool   // 压缩旧文件
}

// Init 配置全局 logrus。重复调用以最后一次为准。
func Init(config Config) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	writers := []io.Writer{os.Stdout}
	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}

	logrus.SetOutput(io.MultiWriter(writers...))
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
		ForceColors:     true,
	})
	return nil
}
