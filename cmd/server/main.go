package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"fieldpulse/internal/config"
	"fieldpulse/internal/handlers"
	httpapi "fieldpulse/internal/http"
	"fieldpulse/internal/logging"
	"fieldpulse/internal/models"
	"fieldpulse/internal/presence"
	"fieldpulse/internal/queue"
	"fieldpulse/internal/repos"
	"fieldpulse/internal/services"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	db, err := sql.Open("sqlite", cfg.DatabaseURL)
	if err != nil {
		logger.Errorf("open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	// sqlite is single-writer; one connection also keeps in-memory DSNs
	// coherent.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db, cfg.MigrationsDir); err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}

	repo := repos.NewAttendanceRepo(db)
	guard := presence.NewGuard(presence.GuardConfig{
		AccuracyLimitMeters: cfg.AccuracyLimitMeters,
		BufferMeters:        cfg.LockoutBufferMeters,
		Checks:              cfg.LockoutChecks,
	})
	q := queue.New(cfg.QueueCapacity, logger, nil)
	svc := services.NewAttendanceService(repo, q, guard, logger, services.Options{
		StaleAfter:          cfg.StaleAfter(),
		AccuracyLimitMeters: cfg.AccuracyLimitMeters,
		DayLocation:         cfg.DayLocation(),
	})

	// Handlers are bound before the worker starts; the queue handle is
	// passed explicitly, no process-global bootstrap flag.
	svc.RegisterSideEffects(q, &services.LogNotifier{Log: logger.Component("notify")})
	queueCtx, queueCancel := context.WithCancel(context.Background())
	q.Start(queueCtx)

	if cfg.Seed {
		if err := seed(repo); err != nil {
			logger.Warnf("seed: %v", err)
		}
	}

	h := handlers.NewAttendanceHandler(svc)
	router := httpapi.NewRouter(cfg, logger, h)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Infof("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	// Stop the consumer, then drain what is left so accepted pulses keep
	// their audit entries.
	queueCancel()
	q.Flush(ctx)
}

func runMigrations(db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, f := range files {
		path := filepath.Join(dir, f)
		if err := applySQLFile(db, path); err != nil {
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
	}
	return nil
}

func applySQLFile(db *sql.DB, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
	var sb strings.Builder
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_, err = db.Exec(sb.String())
	return err
}

func seed(repo *repos.AttendanceRepo) error {
	ctx := context.Background()
	if _, err := repo.GetZone(ctx, "zone-demo"); err == nil {
		return nil
	} else if !errors.Is(err, repos.ErrNotFound) {
		return err
	}
	if err := repo.CreateZone(ctx, &models.Zone{
		ID: "zone-demo", Name: "Demo Shop", CenterLat: 52.52, CenterLng: 13.405, RadiusMeters: 150,
	}); err != nil {
		return err
	}
	zoneID := "zone-demo"
	return repo.CreateWorker(ctx, &models.Worker{
		ID: "worker-demo", Name: "Demo Worker", ZoneID: &zoneID,
	})
}
