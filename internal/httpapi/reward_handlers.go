package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const countryHeader = "CF-IPCountry"

type initUserRequest struct {
	CountryCode string `json:"country_code"`
}

type adCompleteRequest struct {
	AdID string `json:"ad_id"`
}

type rewardClaimRequest struct {
	PartnerID string `json:"partner_id"`
}

type watchPayload struct {
	ID          string      `json:"id"`
	AdID        string      `json:"ad_id"`
	Reward      json.Number `json:"reward"`
	BaseReward  json.Number `json:"base_reward"`
	Multiplier  json.Number `json:"multiplier"`
	CountryCode string      `json:"country_code"`
	CreatedAt   time.Time   `json:"created_at"`
}

type sessionPayload struct {
	ID             string    `json:"id"`
	CountryCode    string    `json:"country_code"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Type           string          `json:"type"`
	Amount         json.Number     `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (handler *httpHandler) handleUserInit(ctx *gin.Context) {
	var request initUserRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		invalidPayload(ctx, "expected JSON body")
		return
	}
	countryCode := request.CountryCode
	if strings.TrimSpace(countryCode) == "" {
		countryCode = ctx.GetHeader(countryHeader)
	}
	claims := getClaims(ctx)
	user, err := handler.services.Rewards.InitUser(ctx.Request.Context(), claims.UserID, claims.Wallet, countryCode)
	if err != nil {
		handler.respondError(ctx, "init_user", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":               user.ID,
			"wallet":           user.Wallet,
			"energy":           number(user.Energy),
			"boost_level":      user.BoostLevel,
			"boost_expires_at": user.BoostExpiresAt,
			"session_count":    user.SessionCount,
		},
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	balance, err := handler.services.Rewards.Balance(ctx.Request.Context(), getClaims(ctx).UserID)
	if err != nil {
		handler.respondError(ctx, "balance", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"energy":                  number(balance.Energy),
		"boost_level":             balance.BoostLevel,
		"multiplier":              number(balance.Multiplier),
		"boost_expires_at":        balance.BoostExpiresAt,
		"total_earned":            number(balance.TotalEarned),
		"total_watches":           balance.TotalWatches,
		"daily_watches":           balance.DailyWatchCount,
		"daily_watches_remaining": balance.DailyRemaining,
	})
}

func (handler *httpHandler) handleAdComplete(ctx *gin.Context) {
	var request adCompleteRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.AdID) == "" {
		invalidPayload(ctx, "ad_id is required")
		return
	}
	result, err := handler.services.Rewards.CompleteAdWatch(ctx.Request.Context(), getClaims(ctx).UserID, request.AdID)
	if err != nil {
		handler.respondError(ctx, "ad_watch", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":                 true,
		"watch_id":                result.WatchLogID,
		"reward":                  number(result.Reward),
		"new_balance":             number(result.Energy),
		"multiplier":              number(result.Multiplier),
		"daily_watches_remaining": result.DailyRemaining,
	})
}

func (handler *httpHandler) handleStats(ctx *gin.Context) {
	stats, err := handler.services.Rewards.Stats(ctx.Request.Context(), getClaims(ctx).UserID)
	if err != nil {
		handler.respondError(ctx, "stats", err)
		return
	}
	watches := make([]watchPayload, 0, len(stats.WatchHistory))
	for _, watch := range stats.WatchHistory {
		watches = append(watches, watchPayload{
			ID:          watch.ID,
			AdID:        watch.AdID,
			Reward:      number(watch.Reward),
			BaseReward:  number(watch.BaseReward),
			Multiplier:  number(watch.Multiplier),
			CountryCode: watch.CountryCode,
			CreatedAt:   watch.CreatedAt,
		})
	}
	sessions := make([]sessionPayload, 0, len(stats.SessionHistory))
	for _, session := range stats.SessionHistory {
		sessions = append(sessions, sessionPayload{
			ID:             session.ID,
			CountryCode:    session.CountryCode,
			CreatedAt:      session.CreatedAt,
			LastActivityAt: session.LastActivityAt,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"totals": gin.H{
			"energy":        number(stats.Energy),
			"watches":       stats.TotalWatches,
			"earned":        number(stats.TotalEarned),
			"sessions":      stats.SessionCount,
			"today_watches": stats.TodayWatches,
			"daily_limit":   stats.DailyLimit,
		},
		"boost": gin.H{
			"level":      stats.BoostLevel,
			"multiplier": number(stats.Multiplier),
			"expires_at": stats.BoostExpiresAt,
		},
		"country_code":    stats.CountryCode,
		"watch_history":   watches,
		"session_history": sessions,
	})
}

func (handler *httpHandler) handleRewardStatus(ctx *gin.Context) {
	status, err := handler.services.Rewards.RewardStatus(ctx.Request.Context(), getClaims(ctx).UserID)
	if err != nil {
		handler.respondError(ctx, "reward_status", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"claimed_partners":  status.ClaimedPartners,
		"available_rewards": status.Available,
	})
}

func (handler *httpHandler) handleRewardClaim(ctx *gin.Context) {
	var request rewardClaimRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PartnerID) == "" {
		invalidPayload(ctx, "partner_id is required")
		return
	}
	result, err := handler.services.Rewards.ClaimReward(ctx.Request.Context(), getClaims(ctx).UserID, request.PartnerID)
	if err != nil {
		handler.respondError(ctx, "reward_claim", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":      true,
		"claim_id":     result.ClaimID,
		"reward":       number(result.Reward),
		"new_balance":  number(result.Energy),
		"partner_name": result.PartnerName,
	})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	page, pageErr := optionalInt(ctx.Query("page"))
	limit, limitErr := optionalInt(ctx.Query("limit"))
	if pageErr != nil || limitErr != nil {
		invalidPayload(ctx, "page and limit must be integers")
		return
	}
	history, err := handler.services.Rewards.History(ctx.Request.Context(), getClaims(ctx).UserID, page, limit)
	if err != nil {
		handler.respondError(ctx, "history", err)
		return
	}
	entries := make([]entryPayload, 0, len(history.Entries))
	for _, entry := range history.Entries {
		entries = append(entries, entryPayload{
			EntryID:        entry.EntryID,
			Type:           entry.Type.String(),
			Amount:         number(entry.Amount),
			Currency:       entry.Currency,
			IdempotencyKey: entry.IdempotencyKey.String(),
			Metadata:       json.RawMessage(entry.Metadata.String()),
			CreatedAt:      entry.CreatedAt,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"entries":  entries,
		"page":     history.Page,
		"limit":    history.Limit,
		"total":    history.Total,
		"has_next": history.HasNext,
	})
}

func optionalInt(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

func number(value decimal.Decimal) json.Number {
	return json.Number(value.String())
}
