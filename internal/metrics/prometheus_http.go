package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler serves reg for scraping. A collector that fails is logged and
// skipped so the rest of the registry is still exposed. Scrapes of reg are
// themselves counted in reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog:          scrapeLog{},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
		Registry:          reg,
	})
	return promhttp.InstrumentMetricHandler(reg, h)
}

type scrapeLog struct{}

func (scrapeLog) Println(v ...any) {
	slog.Warn("Metrics scrape error", "detail", fmt.Sprint(v...))
}
