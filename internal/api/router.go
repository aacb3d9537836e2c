package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/0gfoundation/gasless-voucher/internal/metrics"
)

type RouterOptions struct {
	// Guard protects /issue, /prolong and /revoke; nil leaves them open.
	Guard Guard
	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string
}

// NewRouter builds the complete HTTP handler: voucher routes, /healthz,
// /metrics and CORS.
func NewRouter(h *Handler, opts RouterOptions, log *zap.Logger) http.Handler {
	metrics.MustRegister()

	r := gin.New()
	r.Use(gin.Recovery(), AccessLog(log))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Register(r, opts.Guard)

	return cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type", RequestIDHeader,
			"X-Wallet-Address", "X-Signed-Message", "X-Wallet-Signature",
		},
		ExposedHeaders: []string{RequestIDHeader},
	}).Handler(r)
}
