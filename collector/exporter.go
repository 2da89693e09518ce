package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/botondbotos/ngbs-prometheus-adapter/config"
	"github.com/botondbotos/ngbs-prometheus-adapter/ngbs"
	"github.com/google/uuid"
	"github.com/itchyny/gojq"
	"github.com/prometheus/client_golang/prometheus"
)

// Metric name parts.
const (
	namespace = "ngbs"
	exporter  = "exporter"
)

// Scrape results, used as the "result" label of the scrapes counter.
const (
	ResultSuccess    = "success"
	ResultAuthError  = "auth_error"
	ResultFetchError = "fetch_error"
	ResultMalformed  = "malformed"
	ResultTimeout    = "timeout"
)

var scrapeResults = []string{ResultSuccess, ResultAuthError, ResultFetchError, ResultMalformed, ResultTimeout}

// DeviceFetcher returns the raw device documents of one account.
// *ngbs.Client implements it.
type DeviceFetcher interface {
	FetchAllDevices(ctx context.Context) ([]json.RawMessage, error)
}

// Exporter turns portal scrapes into metrics documents and keeps the
// adapter's own health metrics per account. It implements prometheus.Collector.
type Exporter struct {
	logger         *slog.Logger
	up             *prometheus.GaugeVec
	scrapeDuration *prometheus.GaugeVec
	devices        *prometheus.GaugeVec
	scrapes        *prometheus.CounterVec
}

// NewExporter returns an *Exporter.
func NewExporter(logger *slog.Logger) *Exporter {
	e := &Exporter{
		logger: logger,
		up: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "up",
				Help:      "Whether the last scrape of the NGBS portal succeeded.",
			},
			[]string{"account"},
		),
		scrapeDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: exporter,
				Name:      "scrape_duration_seconds",
				Help:      "Duration of the last scrape of the NGBS portal.",
			},
			[]string{"account"},
		),
		devices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: exporter,
				Name:      "devices",
				Help:      "Number of devices rendered by the last successful scrape.",
			},
			[]string{"account"},
		),
		scrapes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: exporter,
				Name:      "scrapes_total",
				Help:      "Scrapes of the NGBS portal by result.",
			},
			[]string{"account", "result"},
		),
	}
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	e.up.Describe(ch)
	e.scrapeDuration.Describe(ch)
	e.devices.Describe(ch)
	e.scrapes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.up.Collect(ch)
	e.scrapeDuration.Collect(ch)
	e.devices.Collect(ch)
	e.scrapes.Collect(ch)
}

// ScrapeResult classifies a Scrape error into one of the Result* values.
func ScrapeResult(err error) string {
	var malformed *MalformedRecordError
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return ResultTimeout
	case errors.Is(err, ngbs.ErrAuth):
		return ResultAuthError
	case errors.As(err, &malformed):
		return ResultMalformed
	default:
		return ResultFetchError
	}
}

// Scrape fetches every device of account through fetcher and renders the
// metrics document. Either the whole document is returned or an error.
func (e *Exporter) Scrape(ctx context.Context, account string, fetcher DeviceFetcher, cfg config.ExporterConfig) (string, error) {
	scrapeTime := time.Now()
	logger := e.logger.With(slog.String("scrape_id", uuid.NewString()), slog.String("account", account))

	text, count, err := e.scrape(ctx, logger, fetcher, cfg)

	result := ScrapeResult(err)
	for _, r := range scrapeResults {
		e.scrapes.WithLabelValues(account, r)
	}
	e.scrapes.WithLabelValues(account, result).Inc()
	e.scrapeDuration.WithLabelValues(account).Set(time.Since(scrapeTime).Seconds())
	if err != nil {
		e.up.WithLabelValues(account).Set(0)
		logger.Error("scrape failed", slog.String("result", result), slog.Any("error", err))
		return "", err
	}
	e.up.WithLabelValues(account).Set(1)
	e.devices.WithLabelValues(account).Set(float64(count))
	logger.Info("scrape completed", slog.Int("devices", count), slog.Duration("duration", time.Since(scrapeTime)))
	return text, nil
}

func (e *Exporter) scrape(ctx context.Context, logger *slog.Logger, fetcher DeviceFetcher, cfg config.ExporterConfig) (string, int, error) {
	query, err := gojq.Parse(cfg.DeviceQuery)
	if err != nil {
		return "", 0, fmt.Errorf("jq parse error in device query: %w", err)
	}
	if cfg.ScrapeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ScrapeTimeout)
		defer cancel()
	}

	logger.Debug("scrape started")
	docs, err := fetcher.FetchAllDevices(ctx)
	if err != nil {
		return "", 0, err
	}
	devices, err := DecodeDevices(ctx, query, docs)
	if err != nil {
		return "", 0, err
	}
	return Render(devices, RenderOptions{RawLabelValues: cfg.RawLabelValues}), len(devices), nil
}
