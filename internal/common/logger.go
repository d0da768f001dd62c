package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const defaultTimeFormat = "15:04:05"

// InitLogger builds the arbor logger from the logging section. Components
// receive it through their constructors; there is no global instance.
func InitLogger(config *Config) arbor.ILogger {
	timeFormat := config.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}

	logger := arbor.NewLogger()

	if config.Logging.FileOutput {
		fileConfig, err := fileWriterConfig(timeFormat)
		if err != nil {
			fmt.Printf("Warning: file logging disabled: %v\n", err)
		} else {
			logger = logger.WithFileWriter(fileConfig)
		}
	}

	logger = logger.WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       timeFormat,
		TextOutput:       true,
		DisableTimestamp: false,
	})

	return logger.WithLevelFromString(config.Logging.Level)
}

// fileWriterConfig places logs/mnemo.log beside the executable, rotating at
// 100 MB with three backups.
func fileWriterConfig(timeFormat string) (models.WriterConfiguration, error) {
	execPath, err := os.Executable()
	if err != nil {
		return models.WriterConfiguration{}, fmt.Errorf("resolve executable path: %w", err)
	}

	logsDir := filepath.Join(filepath.Dir(execPath), "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return models.WriterConfiguration{}, fmt.Errorf("create logs directory: %w", err)
	}

	return models.WriterConfiguration{
		Type:             models.LogWriterTypeFile,
		FileName:         filepath.Join(logsDir, "mnemo.log"),
		TimeFormat:       timeFormat,
		MaxSize:          100 * 1024 * 1024, // 100 MB
		MaxBackups:       3,
		TextOutput:       true,
		DisableTimestamp: false,
	}, nil
}
