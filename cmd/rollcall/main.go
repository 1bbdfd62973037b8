package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/camera"
	"rollcall/internal/config"
	"rollcall/internal/database"
	"rollcall/internal/detection"
	"rollcall/internal/logger"
	"rollcall/internal/notify"
	"rollcall/internal/report"
	"rollcall/internal/services"
	tgcommands "rollcall/internal/telegram"
	"rollcall/internal/ws"
)

// shutdownTimeout bounds how long running sessions get to finalise on exit
const shutdownTimeout = 2 * time.Minute

func main() {
	var (
		configF = flag.String("config", "", "Path to the configuration file (default: rollcall.yaml in . or /etc/rollcall)")
		hostF   = flag.String("host", "", "Listen host (overrides server.host)")
		portF   = flag.Int("port", 0, "Listen port (overrides server.port)")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rollcall: %v\n", err)
		os.Exit(1)
	}
	if *hostF != "" {
		cfg.Server.Host = *hostF
	}
	if *portF != 0 {
		cfg.Server.Port = *portF
	}
	cfg.Server.Debug = cfg.Server.Debug || *dbgF

	log := logger.Setup(cfg.Server)
	if err := run(cfg, log); err != nil {
		log.Error("rollcall exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	if n, err := db.MarkInterrupted(ctx); err != nil {
		log.Warn("failed to close interrupted sessions", "error", err)
	} else if n > 0 {
		log.Info("closed sessions interrupted by a previous shutdown", "count", n)
	}

	workspace := camera.NewWorkspace(cfg.Attendance.WorkDir)
	capturer := camera.NewFFmpegCapturer(camera.Config{
		FFmpegPath: cfg.Capture.FFmpegPath,
		RTSPPort:   cfg.Capture.RTSPPort,
		StreamPath: cfg.Capture.StreamPath,
		Transport:  cfg.Capture.Transport,
		Timeout:    cfg.Capture.Timeout,
	}, workspace, log)

	recognizer, err := detection.New(detection.Config{
		Backend:             cfg.Recognition.Backend,
		Endpoint:            cfg.Recognition.Endpoint,
		Command:             cfg.Recognition.Command,
		Timeout:             cfg.Recognition.Timeout,
		SimilarityThreshold: cfg.Recognition.SimilarityThreshold,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create recognizer: %w", err)
	}
	defer recognizer.Close()

	workbooks := report.NewWorkbookStore(cfg.Attendance.WorkDir, time.Local, log)

	checks := map[string]services.HealthChecker{
		"database":    services.HealthCheckFunc(db.Ping),
		"recognition": recognizer,
	}

	var telegram *notify.TelegramSender
	router := &notify.Router{}
	if cfg.Delivery.SMTP.Enabled() {
		router.Email = notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.Delivery.SMTP.Host,
			Port:     cfg.Delivery.SMTP.Port,
			Username: cfg.Delivery.SMTP.Username,
			Password: cfg.Delivery.SMTP.Password,
			From:     cfg.Delivery.SMTP.From,
			SSL:      cfg.Delivery.SMTP.SSL,
		}, log)
	}
	if cfg.Delivery.Telegram.Enabled() {
		telegram = notify.NewTelegramSender(notify.TelegramConfig{
			BotToken: cfg.Delivery.Telegram.BotToken,
			APIBase:  cfg.Delivery.Telegram.APIBase,
		}, log)
		router.Telegram = telegram
		checks["telegram"] = telegram
	}
	if router.Email == nil && router.Telegram == nil {
		log.Warn("no delivery channel configured, rosters will not be sent")
	}

	hub := ws.NewAttendanceHub(log)
	bus := attendance.NewEventBus()
	defer bus.Close()
	unsubscribe := bus.Subscribe(hub)
	defer unsubscribe()

	registry := attendance.NewRegistry(attendance.Dependencies{
		Enrollment: db,
		Halls:      db,
		Capturer:   capturer,
		Recognizer: recognizer,
		Store:      workbooks,
		Deliverer:  router,
		Cleaner:    workspace,
		Recorder:   db,
		Bus:        bus,
	}, attendance.RegistryConfig{
		CycleInterval:          cfg.Attendance.CycleInterval,
		RecognitionConcurrency: cfg.Attendance.RecognitionConcurrency,
		DefaultRecipient:       cfg.Delivery.DefaultRecipient,
	}, log)

	// Initialize the services.
	var (
		healthSvc     = services.NewHealthService(checks, log)
		attendanceSvc = services.NewAttendanceService(registry, db, log)
		directorySvc  = services.NewDirectoryService(db, log)
	)

	handler, mounts := newHTTPHandler(
		services.NewHealthEndpoints(healthSvc),
		services.NewAttendanceEndpoints(attendanceSvc),
		services.NewDirectoryEndpoints(directorySvc),
		ws.NewHandler(hub),
		log, cfg.Server.Debug)

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error, 2)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	if telegram != nil && len(cfg.Delivery.Telegram.ControlChats) > 0 {
		commands := tgcommands.NewCommandHandler(telegram, attendanceSvc, cfg.Delivery.Telegram.ControlChats, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := commands.StartPolling(ctx); err != nil {
				log.Error("telegram command polling failed", "error", err)
			}
		}()
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	handleHTTPServer(ctx, addr, handler, mounts, &wg, errc, log)

	log.Info("exiting", "reason", (<-errc).Error())

	// Stop accepting new sessions and let running ones deliver their rosters
	// before the hub and server go away.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := registry.Close(closeCtx); err != nil {
		log.Error("attendance sessions did not finish in time", "error", err)
	}

	cancel()
	wg.Wait()
	log.Info("exited")
	return nil
}
