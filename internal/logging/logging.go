package logging

import (
	"io"
	"log"
	"os"

	"github.com/xelth-com/pcsyncgo/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the standard logger at stderr and, when a log file is configured,
// a size-rotated file as well. The returned closer flushes the file.
func Setup(cfg config.LogConfig) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	log.Printf("📝 Logging to %s (max %d MB, %d backups)", cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
	return rotator
}
