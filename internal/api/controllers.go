package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradepilot/internal/credentials"
	"tradepilot/internal/signal"
	"tradepilot/internal/trade"
	"tradepilot/pkg/exchanges/common"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// signalRequest mirrors the upstream feed payload. Indicator fields are
// pointers so that absent values stay nil instead of collapsing to zero.
type signalRequest struct {
	Symbol     string  `json:"symbol"`
	ObservedAt string  `json:"observed_at"`
	ClosePrice float64 `json:"close_price"`

	EMAGap     *float64 `json:"ema_gap"`
	RSI4h      *float64 `json:"rsi_4h"`
	RSI15m     *float64 `json:"rsi_15m"`
	Momentum15 *float64 `json:"momentum_15"`
	ATR30      *float64 `json:"atr_30"`
	ATRPercent *float64 `json:"atr_percent"`
	Volume30   *float64 `json:"volume_30"`
	VolumeMA   *float64 `json:"volume_ma"`

	CrossAboveEMA9 *bool `json:"cross_above_ema9"`
	CrossBelowEMA9 *bool `json:"cross_below_ema9"`

	Leverage int `json:"leverage"`
}

// ingestSignal accepts one signal observation from the upstream feed.
func (s *Server) ingestSignal(c *gin.Context) {
	var req signalRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_SYMBOL",
			"error": "symbol is required",
		})
		return
	}
	if req.ClosePrice <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PRICE",
			"error": "close_price must be positive",
		})
		return
	}

	// A missing or malformed timestamp falls back to receipt time rather
	// than rejecting the whole observation.
	observedAt := time.Now()
	if req.ObservedAt != "" {
		if ts, err := time.Parse(time.RFC3339, req.ObservedAt); err == nil {
			observedAt = ts
		}
	}

	leverage := req.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	sig := signal.Signal{
		ID:             uuid.NewString(),
		Symbol:         req.Symbol,
		ObservedAt:     observedAt,
		ClosePrice:     req.ClosePrice,
		EMAGap:         req.EMAGap,
		RSI4h:          req.RSI4h,
		RSI15m:         req.RSI15m,
		Momentum15:     req.Momentum15,
		ATR30:          req.ATR30,
		ATRPercent:     req.ATRPercent,
		Volume30:       req.Volume30,
		VolumeMA:       req.VolumeMA,
		CrossAboveEMA9: req.CrossAboveEMA9,
		CrossBelowEMA9: req.CrossBelowEMA9,
		Leverage:       leverage,
	}
	if err := s.Signals.Insert(c.Request.Context(), sig); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"signal_id": sig.ID})
}

// getLatestSignal returns the newest observation for a symbol.
func (s *Server) getLatestSignal(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	sig, err := s.Signals.LatestBySymbol(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, signal.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "SIGNAL_NOT_FOUND",
				"error": "no signal for symbol",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, sig)
}

// listTrades returns the caller's trade history, newest first.
func (s *Server) listTrades(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	trades, err := s.Trades.ListByUser(c.Request.Context(), CurrentUserID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// listOpenTrades returns the caller's currently open positions.
func (s *Server) listOpenTrades(c *gin.Context) {
	trades, err := s.Trades.OpenByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// tradeReport summarizes the caller's closed trades: realized PnL and the
// split between take-profit and stop-loss exits.
func (s *Server) tradeReport(c *gin.Context) {
	trades, err := s.Trades.ListByUser(c.Request.Context(), CurrentUserID(c), 1000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	var (
		closed      int
		takeProfits int
		stopLosses  int
		realizedPnL float64
	)
	for _, t := range trades {
		if t.Status != trade.StatusClosed || t.ExitPrice == nil {
			continue
		}
		closed++
		pnl := (*t.ExitPrice - t.EntryPrice) * t.Qty
		if t.Side == common.SideSell {
			pnl = -pnl
		}
		realizedPnL += pnl
		if t.ExitReason != nil {
			switch *t.ExitReason {
			case trade.ExitTakeProfit:
				takeProfits++
			case trade.ExitStopLoss:
				stopLosses++
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"closed_trades": closed,
		"take_profits":  takeProfits,
		"stop_losses":   stopLosses,
		"realized_pnl":  realizedPnL,
	})
}

type credentialRequest struct {
	Exchange  string `json:"exchange"`
	Testnet   bool   `json:"testnet"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// listCredentials returns the caller's stored key metadata. Secrets never
// leave the server.
func (s *Server) listCredentials(c *gin.Context) {
	creds, err := s.Resolver.ListByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	out := make([]gin.H, 0, len(creds))
	for _, cr := range creds {
		out = append(out, gin.H{
			"id":          cr.ID,
			"exchange":    cr.Exchange,
			"testnet":     cr.Testnet,
			"key_version": cr.KeyVersion,
			"created_at":  cr.CreatedAt,
			"updated_at":  cr.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

// saveCredential stores or replaces the caller's key pair for one venue.
func (s *Server) saveCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	exchange := common.Exchange(strings.ToLower(strings.TrimSpace(req.Exchange)))
	if !exchange.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "UNSUPPORTED_EXCHANGE",
			"error": "unsupported exchange",
		})
		return
	}
	if req.APIKey == "" || req.APISecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_KEYS",
			"error": "api_key and api_secret are required",
		})
		return
	}

	id := uuid.NewString()
	if err := s.Resolver.Save(c.Request.Context(), id, CurrentUserID(c), exchange, req.Testnet, req.APIKey, req.APISecret); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"exchange": exchange,
		"testnet":  req.Testnet,
	})
}

// deleteCredential deactivates the caller's key pair for one venue.
func (s *Server) deleteCredential(c *gin.Context) {
	exchange := common.Exchange(strings.ToLower(c.Query("exchange")))
	if !exchange.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "UNSUPPORTED_EXCHANGE",
			"error": "unsupported exchange",
		})
		return
	}
	testnet := c.Query("testnet") == "true"

	if err := s.Resolver.Delete(c.Request.Context(), CurrentUserID(c), exchange, testnet); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "CREDENTIAL_NOT_FOUND",
				"error": "no credential for venue",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
