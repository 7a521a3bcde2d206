package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/gg-hub/internal/chatview"
	"github.com/you/gg-hub/internal/config"
	"github.com/you/gg-hub/internal/core"
	httpadmin "github.com/you/gg-hub/internal/http"
	"github.com/you/gg-hub/internal/httpapi"
	"github.com/you/gg-hub/internal/insight"
	"github.com/you/gg-hub/internal/playback"
	"github.com/you/gg-hub/internal/session"
	"github.com/you/gg-hub/internal/store"
	"github.com/you/gg-hub/internal/version"
	"github.com/you/gg-hub/internal/widget"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("gghub: .env load: %v", err)
	}

	var (
		versionFlag     bool
		dbPath          string
		playbackURL     string
		streamID        string
		httpAddr        string
		adminAddr       string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpGzip        bool
		demoChat        bool
		aiKeyFile       string
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&dbPath, "sqlite", "", "Path to SQLite database file")
	flag.StringVar(&playbackURL, "playback-url", "", "HLS playback URL to probe for liveness")
	flag.StringVar(&streamID, "stream-id", "", "Stream identifier messages are stored under")
	flag.StringVar(&httpAddr, "http-addr", ":8780", "HTTP API address")
	flag.StringVar(&adminAddr, "admin-addr", "", "Admin endpoint address (empty registers admin routes on the API listener)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpGzip, "http-gzip", true, "Compress HTTP responses")
	flag.BoolVar(&demoChat, "demo-chat", true, "Generate simulated viewer traffic while live")
	flag.StringVar(&aiKeyFile, "ai-key-file", "", "Path to file containing the analytics API key")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"gghub version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["sqlite"] {
		cfg.Store.SQLitePath = strings.TrimSpace(dbPath)
	}
	if overrides["playback-url"] {
		cfg.Stream.PlaybackURL = strings.TrimSpace(playbackURL)
	}
	if overrides["stream-id"] {
		if trimmed := strings.TrimSpace(streamID); trimmed != "" {
			cfg.Stream.StreamID = trimmed
		}
	}
	if overrides["demo-chat"] {
		cfg.Chat.DemoEnabled = demoChat
	}
	if overrides["ai-key-file"] {
		cfg.AI.KeyFile = strings.TrimSpace(aiKeyFile)
	}

	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("gghub: received %s, shutting down", sig)
		cancel()
	}()

	db, err := store.Open(cfg.Store.SQLitePath, cfg.MessageTTL())
	if err != nil {
		log.Fatalf("gghub: open sqlite: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("gghub: closing store: %v", err)
		}
	}()
	if err := db.Ping(); err != nil {
		log.Fatalf("gghub: ping sqlite: %v", err)
	}
	go db.RunJanitor(ctx, cfg.PurgeInterval())

	var corsOrigins []string
	if strings.TrimSpace(httpCorsOrigins) != "" {
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				corsOrigins = append(corsOrigins, origin)
			}
		}
	}

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	watcher := playback.NewWatcher(playback.Config{
		PlaybackURL:   cfg.Stream.PlaybackURL,
		ProbeInterval: cfg.ProbeInterval(),
		RetryDelay:    cfg.RetryDelay(),
		Timeout:       cfg.ProbeTimeout(),
	}, nil)
	controls := playback.NewControls(watcher)

	view := chatview.New(chatview.Config{
		StreamID:      cfg.Stream.StreamID,
		MaxMessageLen: cfg.Chat.MaxMessageLen,
		Window:        cfg.Chat.Window,
		HistoryLimit:  cfg.Chat.HistoryLimit,
		NoticeClear:   cfg.NoticeClear(),
		Demo: chatview.DemoConfig{
			Enabled:   cfg.Chat.DemoEnabled,
			Interval:  cfg.DemoInterval(),
			Chance:    cfg.Chat.DemoChance,
			SubChance: cfg.Chat.DemoSubChance,
		},
	}, db, slog.Default())

	analyzer := insight.New(ctx, cfg.AI, cfg.Analytics.PromptMsgCap)
	if err := analyzer.WatchKeyFile(ctx); err != nil {
		log.Printf("gghub: ai key file watch: %v", err)
	}

	metricsWidget := widget.New(widget.Config{
		StreamID:      cfg.Stream.StreamID,
		StreamContext: cfg.Analytics.StreamContext,
		Refresh:       cfg.AnalyticsRefresh(),
		FetchLimit:    cfg.Analytics.FetchLimit,
	}, db, analyzer)

	api := httpapi.New(httpapi.Deps{
		Store:     db,
		View:      view,
		Status:    watcher,
		Player:    controls,
		Analytics: metricsWidget,
	}, httpapi.Options{
		Addr:           httpAddr,
		StreamID:       cfg.Stream.StreamID,
		Build:          build,
		CORSOrigins:    corsOrigins,
		RateLimitRPS:   httpRateRPS,
		RateLimitBurst: httpRateBurst,
		EnableGzip:     httpGzip,
		ConfigJSON:     cfg.RedactedJSON(),
	})

	watcher.SetMetrics(api.ServerMetrics())
	view.SetWriteErrorReporter(api)
	metricsWidget.SetMetrics(api.ServerMetrics())

	// Chat and analytics follow the session lifecycle, which in turn
	// follows the reconciled playback status.
	manager := session.NewManager()
	manager.OnStarted(func(ev session.StartedEvent) {
		api.ServerMetrics().IncSessionsStarted()
		view.HandleSessionStarted(ev)
		metricsWidget.HandleSessionStarted(ev)
	})
	manager.OnEnded(func(ev session.EndedEvent) {
		view.HandleSessionEnded(ev)
		metricsWidget.HandleSessionEnded(ev)
	})

	// Persisted messages fan out to connected SSE/WS clients.
	broadcastStore := store.WithAPI(db, api)
	view.SetStore(broadcastStore)

	watcher.SetHandler(func(st core.StreamStatus) {
		controls.HandleStatus(st)
		manager.Observe(st)
	})

	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Printf("gghub: playback watcher exited: %v", err)
		}
	}()

	admin := httpadmin.New(analyzer, db)
	if strings.TrimSpace(adminAddr) == "" {
		admin.Register(api.Mux())
	} else {
		adminMux := http.NewServeMux()
		admin.Register(adminMux)
		adminSrv := &http.Server{Addr: adminAddr, Handler: adminMux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("gghub: admin listener: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
			_ = adminSrv.Shutdown(shutdownCtx)
			cancelShutdown()
		}()
	}

	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("gghub: http api: %v", err)
		}
	}()
	log.Printf("gghub: serving stream %s on %s", cfg.Stream.StreamID, httpAddr)

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("gghub: http api shutdown: %v", err)
	}
	cancelShutdown()

	// allow session and analytics goroutines to finish cleanly
	time.Sleep(100 * time.Millisecond)
	log.Printf("gghub: shutdown complete")
}
