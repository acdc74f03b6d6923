package database

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/xelth-com/pcsyncgo/internal/config"
)

const embeddedPassword = "postgres"

// startEmbedded launches the bundled PostgreSQL and returns cfg pointed at it
func startEmbedded(cfg config.DatabaseConfig) (*embeddedpostgres.EmbeddedPostgres, config.DatabaseConfig, error) {
	e := cfg.Embedded
	log.Printf("📦 Mode: [Embedded PostgreSQL] - data in %s, port %d", e.DataPath, e.Port)

	if err := clearStalePID(e.DataPath); err != nil {
		return nil, cfg, err
	}
	if portInUse(e.Port) {
		return nil, cfg, fmt.Errorf("embedded postgres port %d is already in use", e.Port)
	}

	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		DataPath(e.DataPath).
		Port(uint32(e.Port)).
		Database(cfg.Database).
		Username(cfg.Username).
		Password(embeddedPassword))
	if err := pg.Start(); err != nil {
		return nil, cfg, fmt.Errorf("failed to start embedded database: %w", err)
	}

	cfg.Port = strconv.Itoa(e.Port)
	cfg.Password = embeddedPassword
	log.Printf("✅ Embedded PostgreSQL process started on port %d", e.Port)
	return pg, cfg, nil
}

// clearStalePID removes the postmaster.pid left by a crashed run.
// A pid file whose process is still alive is an error: another instance owns the data dir.
func clearStalePID(dataPath string) error {
	pidFile := filepath.Join(dataPath, "postmaster.pid")
	data, err := os.ReadFile(pidFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", pidFile, err)
	}

	first, _, _ := strings.Cut(string(data), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err == nil && processAlive(pid) {
		return fmt.Errorf("embedded postgres is still running as pid %d (data dir %s)", pid, dataPath)
	}

	log.Printf("🧹 Cleaning up stale %s", pidFile)
	if err := os.Remove(pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", pidFile, err)
	}
	return nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func portInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
