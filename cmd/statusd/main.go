// Command statusd is a standalone dashboard over a tradecore state
// directory: open positions and today's realized PnL. It never opens a
// broker connection and never changes a position. Opening the stores
// creates their tables when they are missing, and the limits tracker
// upserts the current trading day's row the first time /pnl is served
// for that day.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradecore/internal/clock"
	"tradecore/internal/limits"
	"tradecore/internal/posstore"
)

func main() {
	stateDir := flag.String("state-dir", "data/state", "tradecore state directory to read")
	addr := flag.String("addr", ":8090", "address to listen on")
	flag.Parse()

	posStore, err := posstore.Open(*stateDir + "/positions.db")
	if err != nil {
		fmt.Fprintf(os.Stderr, "statusd: open position store: %v\n", err)
		os.Exit(1)
	}
	limitsT, err := limits.Open(*stateDir+"/limits.db", decimal.Zero)
	if err != nil {
		fmt.Fprintf(os.Stderr, "statusd: open limits tracker: %v\n", err)
		os.Exit(1)
	}

	r := newRouter(posStore, limitsT)

	fmt.Printf("statusd listening on %s, reading %s\n", *addr, *stateDir)
	if err := r.Run(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "statusd: server stopped: %v\n", err)
		os.Exit(1)
	}
}

// newRouter wires the read-only dashboard routes against the given state
// collaborators, kept separate from main so tests can exercise it directly.
func newRouter(posStore *posstore.Store, limitsT *limits.Tracker) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/positions", func(c *gin.Context) {
		positions, err := posStore.All()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, 0, len(positions))
		for _, p := range positions {
			out = append(out, gin.H{
				"symbol": p.Symbol, "quantity": p.Quantity.String(),
				"entry_price": p.EntryPrice.String(), "strategy": p.Strategy,
			})
		}
		c.JSON(http.StatusOK, gin.H{"positions": out})
	})

	r.GET("/pnl", func(c *gin.Context) {
		realized, err := limitsT.RealizedPnL(clock.RealClock{}.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"realized_pnl_today": realized.String()})
	})

	return r
}
