package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tonscope/lambo-indexer/internal/db"
	"github.com/tonscope/lambo-indexer/internal/tonaddr"
)

// POST /api/v1/auth/telegram
// Exchanges a Telegram identity for a session token. Signature verification
// of the Telegram payload happens at the bot frontend; this service trusts
// the forwarded identity.
func (h *APIHandler) handleTelegramAuth(c *gin.Context) {
	var req struct {
		TelegramID int64  `json:"telegramId" binding:"required"`
		Username   string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	userID, err := h.store.EnsureUser(c.Request.Context(), req.TelegramID, req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user", "details": err.Error()})
		return
	}

	token, err := IssueToken(h.cfg.JWTSecret, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "userId": userID})
}

// GET /api/v1/leaderboard?limit=50&offset=0
// Returns a ranked page from the ordered index plus the caller's own
// position when they have a linked wallet.
func (h *APIHandler) handleLeaderboard(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	entries, err := h.index.RangeDesc(ctx, offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read leaderboard", "details": err.Error()})
		return
	}
	total, err := h.index.Card(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read leaderboard", "details": err.Error()})
		return
	}

	resp := gin.H{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	}

	if userID, ok := currentUserID(c); ok {
		if wallet, err := h.store.GetUserWallet(ctx, userID); err == nil {
			me := gin.H{
				"address":     wallet.Address,
				"totalVolume": wallet.TotalVolumeUSD,
				"syncStatus":  wallet.SyncStatus,
			}
			if rank, found, err := h.index.RankDesc(ctx, wallet.Address); err == nil && found {
				me["rank"] = rank
			}
			resp["me"] = me
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/portfolio
// Returns the caller's wallet totals, rank and top percentage.
func (h *APIHandler) handlePortfolio(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	ctx := c.Request.Context()
	wallet, err := h.store.GetUserWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNoWallet) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No wallet linked"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet", "details": err.Error()})
		return
	}

	resp := gin.H{
		"address":              wallet.Address,
		"label":                wallet.Label,
		"countBuys":            wallet.CountBuys,
		"countSells":           wallet.CountSells,
		"buyVolumeTon":         wallet.BuyVolumeTon,
		"sellVolumeTon":        wallet.SellVolumeTon,
		"totalVolumeTon":       wallet.TotalVolumeTon,
		"buyVolumeLambo":       wallet.BuyVolumeLambo,
		"sellVolumeLambo":      wallet.SellVolumeLambo,
		"totalVolumeLambo":     wallet.TotalVolumeLambo,
		"buyVolumeUsd":         wallet.BuyVolumeUSD,
		"sellVolumeUsd":        wallet.SellVolumeUSD,
		"totalVolumeUsd":       wallet.TotalVolumeUSD,
		"syncStatus":           wallet.SyncStatus,
		"initialSyncCompleted": wallet.InitialSyncCompleted,
	}

	if rank, found, err := h.index.RankDesc(ctx, wallet.Address); err == nil && found {
		resp["rank"] = rank
		if total, err := h.index.Card(ctx); err == nil && total > 0 {
			resp["topPercent"] = float64(rank) / float64(total) * 100.0
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/rankings?limit=50
// Database-truth ranking by fiat volume, bypassing the ordered index.
func (h *APIHandler) handleRankings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	wallets, err := h.store.GetRankings(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rankings", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rankings": wallets,
		"limit":    limit,
	})
}

// POST /api/v1/wallet/verify
// Links a wallet address to the authenticated user. The address may arrive
// in raw or friendly form; it is stored normalized.
func (h *APIHandler) handleVerifyWallet(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req struct {
		Address string `json:"address" binding:"required"`
		Label   string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	address := tonaddr.Normalize(req.Address)
	if !tonaddr.IsValidRaw(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid TON address format"})
		return
	}

	wallet, err := h.store.LinkWallet(c.Request.Context(), userID, address, req.Label)
	if err != nil {
		if errors.Is(err, db.ErrWalletTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "Wallet already linked to another user"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to link wallet", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "linked",
		"address":    wallet.Address,
		"syncStatus": wallet.SyncStatus,
	})
}

// POST /api/v1/wallet/disconnect
// Unlinks the caller's wallet and removes it from the ordered index.
func (h *APIHandler) handleDisconnectWallet(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	ctx := c.Request.Context()
	address, err := h.store.DisconnectWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNoWallet) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No wallet linked"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to disconnect wallet", "details": err.Error()})
		return
	}

	if err := h.index.Remove(ctx, address); err != nil {
		// Index truth catches up on the next rebuild.
		c.JSON(http.StatusOK, gin.H{"status": "disconnected", "address": address, "indexLag": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "disconnected", "address": address})
}

// POST /api/v1/webhooks/tonapi
// Push intake for account events: an account_tx for a tracked pool becomes a
// candidate immediately instead of waiting for the next stream line. Handled
// shapes always reply ok so the upstream does not retry forever.
func (h *APIHandler) handleTonAPIWebhook(c *gin.Context) {
	var req struct {
		EventType string `json:"event_type"`
		AccountID string `json:"account_id"`
		LT        uint64 `json:"lt"`
		TxHash    string `json:"tx_hash"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook body"})
		return
	}

	if req.EventType != "account_tx" || req.TxHash == "" || req.LT == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx := c.Request.Context()
	pool, err := h.store.GetPoolByAddress(ctx, tonaddr.Normalize(req.AccountID))
	if err != nil || pool == nil || !pool.IsActive {
		// Not a tracked pool: acknowledged and dropped.
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	if _, err := h.store.SaveStreamCandidate(ctx, pool.ID, req.TxHash, req.LT, ts); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist candidate"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
