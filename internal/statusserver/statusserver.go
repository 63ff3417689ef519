// Package statusserver exposes a tiny read-only gin HTTP server over the
// runtime's circuit-breaker state and prometheus registry, adapted from the
// teacher's own preference for gin as its API layer (SynapseStrike/api).
// It never mutates runtime state; it only reads the collaborators handed to
// it at construction time.
package statusserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradecore/internal/breaker"
)

// Summary is the last-cycle outcome the runtime reports in; empty fields
// mean no cycle has run yet.
type Summary struct {
	LastCycleAt     string `json:"last_cycle_at,omitempty"`
	LastCycleResult string `json:"last_cycle_result,omitempty"`
	MarketOpen      bool   `json:"market_open"`
}

// Reporter is satisfied by the runtime; statusserver only ever reads it.
type Reporter interface {
	LastCycleSummary() Summary
}

func New(cb *breaker.Breaker, registry *prometheus.Registry, rep Reporter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		body := gin.H{
			"breaker_tripped":            cb.IsTripped(),
			"breaker_consecutive_failures": cb.Count(),
		}
		if rep != nil {
			summary := rep.LastCycleSummary()
			body["last_cycle_at"] = summary.LastCycleAt
			body["last_cycle_result"] = summary.LastCycleResult
			body["market_open"] = summary.MarketOpen
		}
		c.JSON(http.StatusOK, body)
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}
