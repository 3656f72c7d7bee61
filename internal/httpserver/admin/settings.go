package admin

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
)

type settingsResponse struct {
	Version    uint64            `json:"version"`
	RateLimits rateLimitSettings `json:"rate_limits"`
	Budgets    budgetSettings    `json:"budgets"`
	Files      filesSettingsBody `json:"files"`
	Batches    batchSettingsBody `json:"batches"`
	Audio      audioSettingsBody `json:"audio"`
}

type rateLimitSettings struct {
	DefaultTokensPerMinute        int64 `json:"default_tokens_per_minute"`
	DefaultRequestsPerMinute      int64 `json:"default_requests_per_minute"`
	DefaultParallelRequestsKey    int64 `json:"default_parallel_requests_key"`
	DefaultParallelRequestsTenant int64 `json:"default_parallel_requests_tenant"`
}

type budgetSettings struct {
	DefaultUSD           float64  `json:"default_usd"`
	WarningThresholdPerc float64  `json:"warning_threshold_perc"`
	RefreshSchedule      string   `json:"refresh_schedule"`
	AlertsEnabled        bool     `json:"alerts_enabled"`
	AlertEmails          []string `json:"alert_emails"`
	AlertWebhooks        []string `json:"alert_webhooks"`
	AlertCooldownSeconds int64    `json:"alert_cooldown_seconds"`
}

type filesSettingsBody struct {
	MaxSizeMB         int   `json:"max_size_mb"`
	DefaultTTLSeconds int64 `json:"default_ttl_seconds"`
	MaxTTLSeconds     int64 `json:"max_ttl_seconds"`
}

type batchSettingsBody struct {
	MaxRequests       int      `json:"max_requests"`
	MaxConcurrency    int      `json:"max_concurrency"`
	DefaultTTLSeconds int64    `json:"default_ttl_seconds"`
	MaxTTLSeconds     int64    `json:"max_ttl_seconds"`
	AllowedEndpoints  []string `json:"allowed_endpoints"`
}

type audioSettingsBody struct {
	MaxUploadMB int `json:"max_upload_mb"`
}

func snapshotToResponse(snap *config.Snapshot) settingsResponse {
	return settingsResponse{
		Version: snap.Version,
		RateLimits: rateLimitSettings{
			DefaultTokensPerMinute:        snap.RateLimits.DefaultTokensPerMinute,
			DefaultRequestsPerMinute:      snap.RateLimits.DefaultRequestsPerMinute,
			DefaultParallelRequestsKey:    snap.RateLimits.DefaultParallelRequestsKey,
			DefaultParallelRequestsTenant: snap.RateLimits.DefaultParallelRequestsTenant,
		},
		Budgets: budgetSettings{
			DefaultUSD:           snap.Budgets.DefaultUSD,
			WarningThresholdPerc: snap.Budgets.WarningThresholdPerc,
			RefreshSchedule:      snap.Budgets.RefreshSchedule,
			AlertsEnabled:        snap.Budgets.Alert.Enabled,
			AlertEmails:          snap.Budgets.Alert.Emails,
			AlertWebhooks:        snap.Budgets.Alert.Webhooks,
			AlertCooldownSeconds: int64(snap.Budgets.Alert.Cooldown / time.Second),
		},
		Files: filesSettingsBody{
			MaxSizeMB:         snap.Files.MaxSizeMB,
			DefaultTTLSeconds: int64(snap.Files.DefaultTTL / time.Second),
			MaxTTLSeconds:     int64(snap.Files.MaxTTL / time.Second),
		},
		Batches: batchSettingsBody{
			MaxRequests:       snap.Batches.MaxRequests,
			MaxConcurrency:    snap.Batches.MaxConcurrency,
			DefaultTTLSeconds: int64(snap.Batches.DefaultTTL / time.Second),
			MaxTTLSeconds:     int64(snap.Batches.MaxTTL / time.Second),
			AllowedEndpoints:  snap.Batches.AllowedEndpoints,
		},
		Audio: audioSettingsBody{MaxUploadMB: snap.Audio.MaxUploadMB},
	}
}

func (h *adminHandler) getSettings(c *fiber.Ctx) error {
	if _, err := h.superAdmin(c); err != nil {
		return err
	}
	return c.JSON(snapshotToResponse(h.container.Settings.Current()))
}

// updateSettings applies a partial update to the runtime snapshot. Omitted
// sections keep their current values. The budget engine and alert dispatcher
// pick up the new budget defaults immediately.
func (h *adminHandler) updateSettings(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}

	var req struct {
		RateLimits *rateLimitSettings `json:"rate_limits"`
		Budgets    *budgetSettings    `json:"budgets"`
		Files      *filesSettingsBody `json:"files"`
		Batches    *batchSettingsBody `json:"batches"`
		Audio      *audioSettingsBody `json:"audio"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Budgets != nil {
		if req.Budgets.DefaultUSD < 0 || req.Budgets.WarningThresholdPerc < 0 || req.Budgets.WarningThresholdPerc > 1 {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid budget settings")
		}
	}

	next := h.container.Settings.Replace(func(snap *config.Snapshot) {
		if req.RateLimits != nil {
			snap.RateLimits.DefaultTokensPerMinute = req.RateLimits.DefaultTokensPerMinute
			snap.RateLimits.DefaultRequestsPerMinute = req.RateLimits.DefaultRequestsPerMinute
			snap.RateLimits.DefaultParallelRequestsKey = req.RateLimits.DefaultParallelRequestsKey
			snap.RateLimits.DefaultParallelRequestsTenant = req.RateLimits.DefaultParallelRequestsTenant
		}
		if req.Budgets != nil {
			snap.Budgets.DefaultUSD = req.Budgets.DefaultUSD
			snap.Budgets.WarningThresholdPerc = req.Budgets.WarningThresholdPerc
			snap.Budgets.RefreshSchedule = config.NormalizeBudgetRefreshSchedule(req.Budgets.RefreshSchedule)
			snap.Budgets.Alert.Enabled = req.Budgets.AlertsEnabled
			snap.Budgets.Alert.Emails = req.Budgets.AlertEmails
			snap.Budgets.Alert.Webhooks = req.Budgets.AlertWebhooks
			snap.Budgets.Alert.Cooldown = time.Duration(req.Budgets.AlertCooldownSeconds) * time.Second
		}
		if req.Files != nil {
			snap.Files.MaxSizeMB = req.Files.MaxSizeMB
			snap.Files.DefaultTTL = time.Duration(req.Files.DefaultTTLSeconds) * time.Second
			snap.Files.MaxTTL = time.Duration(req.Files.MaxTTLSeconds) * time.Second
		}
		if req.Batches != nil {
			snap.Batches.MaxRequests = req.Batches.MaxRequests
			snap.Batches.MaxConcurrency = req.Batches.MaxConcurrency
			snap.Batches.DefaultTTL = time.Duration(req.Batches.DefaultTTLSeconds) * time.Second
			snap.Batches.MaxTTL = time.Duration(req.Batches.MaxTTLSeconds) * time.Second
			if req.Batches.AllowedEndpoints != nil {
				snap.Batches.AllowedEndpoints = req.Batches.AllowedEndpoints
			}
		}
		if req.Audio != nil {
			snap.Audio.MaxUploadMB = req.Audio.MaxUploadMB
		}
	})

	if req.Budgets != nil {
		h.container.Budget.SetConfig(next.Budgets)
		h.container.Alerts.SetConfig(next.Budgets.Alert)
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "settings.update", "settings", "", req)
	return c.JSON(snapshotToResponse(next))
}
