package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/kana-services/configs"
	handlers "github.com/avvvet/kana-services/internal/arenasvc/handlers"
	"github.com/avvvet/kana-services/internal/kana"
)

const SERVICE_NAME = "arena"

func init() {
	config.Logging(SERVICE_NAME + "_service")
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	configPath := flag.String("config", os.Getenv("ARENA_CONFIG"), "optional YAML/JSON settings file")
	flag.Parse()

	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	config.CreateUniqueInstance(SERVICE_NAME)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	k, err := kana.Init(initCtx, settings, reg)
	cancelInit()
	if err != nil {
		log.Fatalf("Failed to initialise %s service: %v", SERVICE_NAME, err)
	}
	defer k.Dispose()

	// Setup router
	r := chi.NewRouter()
	c := config.CORS(settings.Service.AllowedOrigins)

	// Middleware; the request timeout is applied per route group so match
	// sessions are not cut off
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(settings.Service.RateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(handlers.Deps{
		Flows:           k.Orchestrator,
		Tournaments:     k.Tournaments,
		Wallet:          k.Ledger,
		Quiz:            k.Questions,
		Library:         k.Library,
		Health:          k.Monitor,
		Metrics:         k.Metrics,
		Events:          k.Events,
		Grading:         k.Grading,
		QuestionSeconds: settings.Match.QuestionSeconds,
		FlowTimeout:     settings.Service.FlowTimeout,
		Instance:        config.GetInstanceId(),
		Port:            settings.Service.Port,
	})
	h.InitAuth(settings.Service.JWTSecret)
	h.SetRoutes(r)

	// WriteTimeout stays unset: websocket writes manage their own deadlines
	server := &http.Server{
		Addr:              ":" + settings.Service.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
