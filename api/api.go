/*
Copyright 2024 Shelfwise Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shelfwise/shelfwise"
	"github.com/shelfwise/shelfwise/api/middleware"
	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/internal/apierror"
	"github.com/shelfwise/shelfwise/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	shelfwise *shelfwise.Shelfwise
	conf      *config.Configuration
	router    *gin.Engine
}

// Router registers every route. Webhook, OAuth and health routes are public; the rest
// sit behind the secret key (when Server.Secure) and the per-caller API limit.
//
// gin allows one wildcard name per path position, so the second segment under
// /integrations is always :platform even on routes where it carries an integration id.
func (a Api) Router() *gin.Engine {
	router := a.router
	policies := a.shelfwise.Policies()
	limiter := a.shelfwise.Limiter()

	router.POST("/integrations/:platform/:integrationId", a.ReceiveWebhook)
	oauthLimit := middleware.SlidingWindow(limiter, policies.OAuth, middleware.ByClientIP("oauth"))
	router.GET("/integrations/:platform/auth", oauthLimit, a.BeginOAuth)
	router.GET("/integrations/:platform/callback", oauthLimit, a.OAuthCallback)

	internal := router.Group("/")
	if a.conf.Server.Secure {
		internal.Use(middleware.SecretKeyAuthMiddleware())
	}
	internal.Use(middleware.SlidingWindow(limiter, policies.API, middleware.ByCaller("api")))

	syncLimit := middleware.SlidingWindow(limiter, policies.Sync, middleware.ByParamAndCaller("sync", "platform"))
	internal.POST("/integrations/:platform/sync-orders", syncLimit, a.SyncOrders)
	internal.POST("/integrations/:platform/sync-inventory", syncLimit, a.SyncInventory)
	internal.GET("/integrations/:platform/sync-logs", a.GetSyncLogs)

	internal.GET("/webhook-events", a.GetWebhookEvents)
	internal.POST("/webhook-events/:id/replay", a.ReplayWebhookEvent)

	internal.POST("/transfers", a.CreateTransfer)
	internal.GET("/transfers/:id", a.GetTransfer)
	internal.POST("/transfers/:id/complete", a.CompleteTransfer)
	internal.POST("/transfers/:id/cancel", a.CancelTransfer)

	internal.GET("/inventory/:productId/:locationId", a.GetInventoryRecord)
	internal.GET("/inventory/:productId/:locationId/ledger", a.GetLedgerEntries)
	internal.POST("/inventory/receive", a.Receive)
	internal.POST("/inventory/adjust", a.Adjust)
	internal.POST("/inventory/cycle-count", a.CycleCount)
	internal.POST("/inventory/write-off", a.WriteOffDamage)
	internal.POST("/inventory/reserve", a.Reserve)
	internal.POST("/inventory/release", a.Release)

	internal.GET("/locations/:id/pending-transfers", a.GetPendingTransfers)
	return a.router
}

func NewAPI(s *shelfwise.Shelfwise) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	if conf.EnableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return &Api{shelfwise: s, conf: conf, router: r}
}

// respondError maps service errors to a status and a message. Internal errors are
// logged and reported without detail.
func respondError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	if !errors.As(err, &apiErr) {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if apiErr.Code == apierror.ErrInternalServer {
		c.JSON(http.StatusInternalServerError, gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}

	body := gin.H{"error": apiErr.Message, "code": apiErr.Code}
	var invErr *model.InvariantError
	if errors.As(err, &invErr) {
		body["details"] = invErr
	}
	c.JSON(apierror.MapErrorToHTTPStatus(err), body)
}

func validationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
}

// pagination reads limit and offset, defaulting to 50 and 0.
func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
