package main

import (
	"flag"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/botondbotos/ngbs-prometheus-adapter/collector"
	"github.com/botondbotos/ngbs-prometheus-adapter/config"
	"github.com/botondbotos/ngbs-prometheus-adapter/ngbs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/exporter-toolkit/web"
)

var (
	webConfig     = flag.String("web.config-file", "", "Path to web configuration file.")
	configFile    = flag.String("config.file", "config.yml", "Path to configuration file.")
	pprofEnabled  = flag.Bool("pprof.enabled", false, "Enable pprof handler at /debug/pprof")
	listenAddress = flag.String(
		"web.listen-address",
		":9611",
		"Address to listen on for web interface and telemetry.",
	)
	sc = &config.SafeConfig{
		Config: &config.Config{},
	}
)

func reloadHandler(sc *config.SafeConfig, configFile string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			slog.Info("Triggered configuration reload from /-/reload HTTP endpoint")
			if err := sc.ReloadConfig(configFile); err != nil {
				slog.Error("failed to reload config file", slog.Any("error", err))
				http.Error(w, "failed to reload config file", http.StatusInternalServerError)
				return
			}
			slog.Info("config file reloaded", slog.String("operation", "sc.ReloadConfig"))

			w.WriteHeader(http.StatusOK)
			if _, err := io.WriteString(w, "Configuration reloaded successfully!"); err != nil {
				slog.Warn("failed to send configuration reload status message")
			}
		} else {
			http.Error(w, "Only PUT and POST methods are allowed", http.StatusBadRequest)
		}
	}
}

// scrapeStatus maps a scrape failure onto the HTTP status returned to the scraper.
func scrapeStatus(err error) int {
	switch collector.ScrapeResult(err) {
	case collector.ResultSuccess:
		return http.StatusOK
	case collector.ResultTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// ngbsHandler serves the metrics document of one NGBS account.
// Clients (like Prometheus) MAY provide an 'account' param naming an
// account of the config file; the default account is used otherwise.
func ngbsHandler(logger *slog.Logger, sc *config.SafeConfig, exporter *collector.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountName := r.URL.Query().Get("account")
		if accountName == "" {
			accountName = config.DefaultAccount
		}
		logger := logger.With(slog.String("account", accountName))

		account, err := sc.AccountForName(r.URL.Query().Get("account"))
		if err != nil {
			logger.Error("error getting credentials", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		client, err := ngbs.NewClient(sc.PortalConfig(), *account, logger)
		if err != nil {
			logger.Error("error creating portal client", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		text, err := exporter.Scrape(r.Context(), accountName, client, sc.ExporterConfig())
		if err != nil {
			http.Error(w, err.Error(), scrapeStatus(err))
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(w, text+"\n"); err != nil {
			logger.Warn("failed to write metrics document", slog.Any("error", err))
		}
	}
}

// Parse the log level from input
func parseLogLevel(level string) slog.Level {
	ret := slog.LevelInfo
	switch level {
	case "debug":
		ret = slog.LevelDebug
	case "info":
		ret = slog.LevelInfo
	case "warn":
		ret = slog.LevelWarn
	case "error":
		ret = slog.LevelError
	default:
		slog.Warn("Invalid loglevel provided. Fallback to default", slog.String("loglevel", level))
	}

	return ret
}

func newMux(logger *slog.Logger, sc *config.SafeConfig, exporter *collector.Exporter, configFile string, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	// Metrics document of an NGBS account.
	mux.Handle("/ngbs", ngbsHandler(logger, sc, exporter))
	// HTTP endpoint for triggering configuration reload
	mux.Handle("/-/reload", reloadHandler(sc, configFile))
	// Adapter's own metrics.
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// nolint
		w.Write([]byte(`<html>
            <head>
            <title>NGBS Prometheus Adapter</title>
            </head>
            <body>
            <h1>NGBS Prometheus Adapter</h1>
            <form action="/ngbs">
            <label>Account:</label> <input type="text" name="account" placeholder="account (optional)" value=""><br>
            <input type="submit" value="Submit">
            </form>
            <p><a href="/metrics">Local metrics</a></p>
            </body>
            </html>`))
	})
	return mux
}

func main() {
	slog.Info("Starting ngbs-prometheus-adapter")
	flag.Parse()

	// load config first time
	if err := sc.ReloadConfig(*configFile); err != nil {
		slog.Error("Error parsing config file", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup final logger from config
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(sc.AppLogLevel()),
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)

	slog.Info("Config successfully parsed", slog.String("loglevel", opts.Level.Level().String()))

	// reload config in background on SIGHUP
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := sc.ReloadConfig(*configFile); err != nil {
				slog.Error("failed to reload config file", slog.Any("error", err))
				continue
			}
			slog.Info("config file reload", slog.String("operation", "sc.ReloadConfig"))
		}
	}()

	exporter := collector.NewExporter(logger)
	prometheus.MustRegister(exporter)

	mux := newMux(logger, sc, exporter, *configFile, prometheus.DefaultGatherer)

	if *pprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		slog.Info("pprof endpoints enabled", slog.Any("endpoint", "/debug/pprof/"))
	}

	exporterToolkitConf := web.FlagConfig{
		WebListenAddresses: &([]string{*listenAddress}),
		WebConfigFile:      webConfig,
	}
	slog.Info("Adapter started", slog.String("listenAddress", *listenAddress))
	srv := &http.Server{
		Handler: mux,
	}
	if err := web.ListenAndServe(srv, &exporterToolkitConf, logger); err != nil {
		log.Fatal(err)
	}
}
