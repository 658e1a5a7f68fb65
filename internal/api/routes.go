package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tonscope/lambo-indexer/internal/backfill"
	"github.com/tonscope/lambo-indexer/internal/config"
	"github.com/tonscope/lambo-indexer/internal/leaderboard"
	"github.com/tonscope/lambo-indexer/pkg/models"
)

// Store is the persistence surface the HTTP handlers need.
type Store interface {
	GetActivePools(ctx context.Context) ([]models.Pool, error)
	GetPoolByAddress(ctx context.Context, address string) (*models.Pool, error)
	SaveStreamCandidate(ctx context.Context, poolID int64, txHash string, lt uint64, timestamp int64) (bool, error)

	EnsureUser(ctx context.Context, telegramID int64, username string) (int64, error)
	GetUserWallet(ctx context.Context, userID int64) (*models.Wallet, error)
	LinkWallet(ctx context.Context, userID int64, address, label string) (*models.Wallet, error)
	DisconnectWallet(ctx context.Context, userID int64) (string, error)
	GetRankings(ctx context.Context, limit int) ([]models.Wallet, error)
}

// Index is the ordered leaderboard the read endpoints serve from.
type Index interface {
	RangeDesc(ctx context.Context, offset, count int64) ([]leaderboard.Entry, error)
	RankDesc(ctx context.Context, address string) (int64, bool, error)
	Card(ctx context.Context) (int64, error)
	Remove(ctx context.Context, address string) error
}

// Backfiller is the admin surface of the history crawler.
type Backfiller interface {
	Run(ctx context.Context, pools []models.Pool)
	GetProgress() backfill.Progress
}

type APIHandler struct {
	store      Store
	index      Index
	wsHub      *Hub
	backfiller Backfiller
	cfg        config.Config
}

func SetupRouter(store Store, index Index, wsHub *Hub, backfiller Backfiller, cfg config.Config) *gin.Engine {
	r := gin.Default()

	// Tag every request with an id for log correlation. Inbound ids from
	// trusted proxies are kept.
	r.Use(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	})

	// Enable CORS — configurable via ALLOWED_ORIGINS
	// Production: ALLOWED_ORIGINS=https://lambo.example,https://www.lambo.example
	// Development: leave empty for *
	allowedOrigins := cfg.AllowedOrigins
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{store: store, index: index, wsHub: wsHub, backfiller: backfiller, cfg: cfg}
	limiter := NewRateLimiter(120, 30)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)
		api.GET("/rankings", handler.handleRankings)

		api.POST("/auth/telegram", handler.handleTelegramAuth)
		api.POST("/webhooks/tonapi", handler.handleTonAPIWebhook)

		// Admin surface for the history crawler
		api.POST("/admin/backfill", handler.handleStartBackfill)
		api.GET("/admin/backfill/progress", handler.handleBackfillProgress)

		authed := api.Group("")
		authed.Use(AuthMiddleware(cfg.JWTSecret))
		{
			authed.GET("/leaderboard", handler.handleLeaderboard)
			authed.GET("/portfolio", handler.handlePortfolio)
			authed.POST("/wallet/verify", handler.handleVerifyWallet)
			authed.POST("/wallet/disconnect", handler.handleDisconnectWallet)
		}
	}

	return r
}

// handleHealth returns service status for discovery and container probes.
func (h *APIHandler) handleHealth(c *gin.Context) {
	indexed := int64(-1)
	if card, err := h.index.Card(c.Request.Context()); err == nil {
		indexed = card
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "operational",
		"service":        "lambo-indexer",
		"trackedPool":    h.cfg.PoolAddress,
		"indexedWallets": indexed,
	})
}

// handleStartBackfill launches the history crawl for every active pool.
// POST /api/v1/admin/backfill
func (h *APIHandler) handleStartBackfill(c *gin.Context) {
	pools, err := h.store.GetActivePools(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list pools", "details": err.Error()})
		return
	}
	if len(pools) == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "No active pools to backfill"})
		return
	}

	// Detached from the request: the crawl outlives this call.
	go h.backfiller.Run(context.Background(), pools)

	c.JSON(http.StatusOK, gin.H{
		"status": "backfill_started",
		"pools":  len(pools),
	})
}

// handleBackfillProgress returns the crawler's counters.
func (h *APIHandler) handleBackfillProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.backfiller.GetProgress())
}
