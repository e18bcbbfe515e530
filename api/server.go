package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/moneyscripter/copytrade/channels"
	"github.com/moneyscripter/copytrade/ratelimit"
)

const subscriberKey = "subscriberID"

type Options struct {
	Addr     string
	BasePath string
	// Webhook receives Telegram updates at POST /webhook when set.
	Webhook http.Handler
}

func NewServer(opts Options, svc *Service, limiter ratelimit.Limiter, log *zap.Logger) (*gin.Engine, *http.Server) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log), cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodDelete, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	base := "/" + strings.Trim(opts.BasePath, "/")
	if base == "/" {
		base = ""
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Trade Copier Bot API is running",
			"leaders": channels.AvailableChannels,
			"endpoints": gin.H{
				"signals":      base + "/signals?subscriberId=YOUR_ID",
				"subscription": base + "/subscription?subscriberId=YOUR_ID",
				"risk":         base + "/risk?subscriberId=YOUR_ID",
				"webhook":      "/webhook",
			},
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Webhook != nil {
		r.POST("/webhook", gin.WrapH(opts.Webhook))
	}

	h := &handlers{svc: svc, log: log}
	g := r.Group(base)
	g.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "API endpoint working"})
	})
	gated := g.Group("", requireSubscriber(), rateLimit(limiter, log))
	gated.GET("/signals", h.listSignals)
	gated.DELETE("/signals/:id", h.deleteSignal)
	gated.GET("/risk", h.risk)
	gated.GET("/subscription", h.subscription)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not found",
			"path":    c.Request.URL.Path,
			"message": "The requested endpoint does not exist",
		})
	})

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return r, srv
}

// requireSubscriber reads subscriberId, or the older userId, from the query.
func requireSubscriber() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("subscriberId")
		if id == "" {
			id = c.Query("userId")
		}
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "subscriberId required"})
			return
		}
		c.Set(subscriberKey, id)
		c.Next()
	}
}

func rateLimit(limiter ratelimit.Limiter, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetString(subscriberKey)
		ok, err := limiter.Allow(c.Request.Context(), id)
		if err != nil {
			log.Error("Rate limiter failed", zap.String("subscriber_id", id), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "Rate limit exceeded. Try again later."})
			return
		}
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
