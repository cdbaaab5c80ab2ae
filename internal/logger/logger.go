package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelOff полностью отключает логи клиента (например, для машинного вывода CLI).
const LevelOff = "off"

// Config содержит настройки логгера клиента.
type Config struct {
	Level      string         // Уровень логирования (debug, info, warn, error, off)
	Encoding   string         // Формат вывода (console или json)
	OutputPath string         // Путь к файлу лога (если пусто, используется stderr)
	Fields     map[string]any // Поля, добавляемые к каждой записи (например, scope)
}

// New создает zap.Logger клиента на основе конфигурации.
func New(cfg Config) (*zap.Logger, error) {
	// Устанавливаем уровень логирования
	logLevel := strings.ToLower(strings.TrimSpace(cfg.Level))
	if logLevel == LevelOff {
		return zap.NewNop(), nil
	}
	if logLevel == "" {
		logLevel = "info" // Уровень по умолчанию
	}
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		// Логгер еще не создан, поэтому пишем в stderr напрямую
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using 'info'. Error: %v\n", cfg.Level, err)
		level.SetLevel(zap.InfoLevel)
	}

	// Кодировщик: для терминала цветные уровни, для json - INFO, WARN
	encoding := strings.ToLower(cfg.Encoding)
	if encoding != "console" && encoding != "json" {
		encoding = "console" // Клиент по умолчанию пишет для человека
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if encoding == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderCfg.EncodeName = zapcore.FullNameEncoder
	}

	// stdout занят выводом команд, логи уходят в stderr
	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stderr"
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       false,
		DisableCaller:     true, // Имя компонента (Named) информативнее файла и строки
		DisableStacktrace: true,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{outputPath},
		ErrorOutputPaths:  []string{"stderr"}, // Ошибки самого логгера
		InitialFields:     cfg.Fields,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	// Дочерние логгеры получают имена вида storyteller.GenerationController
	return logger.Named("storyteller"), nil
}
