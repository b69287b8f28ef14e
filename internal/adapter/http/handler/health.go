package handler

import (
	"net/http"
	"sync"
	"time"

	"rfid-wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
)

type dependencyHealth struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck pings every backing store in parallel. Any failure turns the
// whole report "degraded" with 503 so load balancers stop routing payments.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		report := make(map[string]dependencyHealth, len(checkers))

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, checker := range checkers {
			wg.Add(1)
			go func(hc ports.HealthChecker) {
				defer wg.Done()
				start := time.Now()
				err := hc.Ping(ctx)

				dep := dependencyHealth{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
				if err != nil {
					dep.Status = "unhealthy"
					dep.Error = err.Error()
				}
				mu.Lock()
				report[hc.Name()] = dep
				mu.Unlock()
			}(checker)
		}
		wg.Wait()

		overall, code := "healthy", http.StatusOK
		for _, dep := range report {
			if dep.Status != "healthy" {
				overall, code = "degraded", http.StatusServiceUnavailable
				break
			}
		}
		c.JSON(code, gin.H{"status": overall, "dependencies": report})
	}
}
