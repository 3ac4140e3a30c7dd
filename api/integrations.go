package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shelfwise/shelfwise"
	"github.com/shelfwise/shelfwise/api/middleware"
	apimodel "github.com/shelfwise/shelfwise/api/model"
	"github.com/shelfwise/shelfwise/model"
)

const (
	oauthNonceCookie = "shelfwise_oauth_nonce"
	oauthNonceMaxAge = 600

	maxWebhookBody = 1 << 20
)

// firstHeader returns the first non empty header of the given names.
func firstHeader(c *gin.Context, names ...string) string {
	for _, name := range names {
		if v := c.GetHeader(name); v != "" {
			return v
		}
	}
	return ""
}

// ReceiveWebhook accepts a platform delivery. The sender only ever learns a coarse
// status; processing failures are kept on the recorded event.
func (a Api) ReceiveWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	res := a.shelfwise.Ingest(c.Request.Context(), shelfwise.IngestRequest{
		Platform:      c.Param("platform"),
		IntegrationID: c.Param("integrationId"),
		RawBody:       body,
		Signature:     firstHeader(c, "X-Signature", "X-Shopify-Hmac-Sha256"),
		Topic:         firstHeader(c, "X-Topic", "X-Shopify-Topic"),
		ShopDomain:    firstHeader(c, "X-Shop-Domain", "X-Shopify-Shop-Domain"),
		ClientIP:      c.ClientIP(),
	})

	switch res.Status {
	case http.StatusOK:
		c.JSON(http.StatusOK, res)
	case http.StatusTooManyRequests:
		c.Header("Retry-After", strconv.Itoa(res.RetryAfter))
		c.JSON(res.Status, gin.H{"error": "Too many requests", "retry_after": res.RetryAfter})
	default:
		c.JSON(res.Status, gin.H{"error": http.StatusText(res.Status)})
	}
}

func (a Api) BeginOAuth(c *gin.Context) {
	start, err := a.shelfwise.BeginOAuth(c.Param("platform"), c.Query("shop"), c.Query("state"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthNonceCookie, start.Nonce, oauthNonceMaxAge, "/integrations", "", a.conf.Server.SSL, true)
	c.Redirect(http.StatusFound, start.RedirectURL)
}

func (a Api) OAuthCallback(c *gin.Context) {
	nonce, _ := c.Cookie(oauthNonceCookie)
	integration, err := a.shelfwise.CompleteOAuth(c.Request.Context(), c.Param("platform"), c.Request.URL.Query(), nonce, middleware.Caller(c))
	c.SetCookie(oauthNonceCookie, "", -1, "/integrations", "", a.conf.Server.SSL, true)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, integration)
}

// integrationID reads the integration id from the shared :platform segment.
func integrationID(c *gin.Context) string {
	return c.Param("platform")
}

func (a Api) SyncOrders(c *gin.Context) {
	var trigger apimodel.SyncTrigger
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&trigger); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := trigger.ValidateSyncTrigger(); err != nil {
		validationError(c, err)
		return
	}

	log, err := a.shelfwise.SyncOrders(c.Request.Context(), integrationID(c), middleware.Caller(c), trigger.SinceTime(), "manual")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, log)
}

func (a Api) SyncInventory(c *gin.Context) {
	log, err := a.shelfwise.SyncInventory(c.Request.Context(), integrationID(c), middleware.Caller(c), "manual")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, log)
}

func (a Api) GetSyncLogs(c *gin.Context) {
	limit, offset := pagination(c)
	logs, err := a.shelfwise.ListSyncLogs(c.Request.Context(), integrationID(c), middleware.Caller(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (a Api) GetWebhookEvents(c *gin.Context) {
	limit, offset := pagination(c)
	events, err := a.shelfwise.ListWebhookEvents(c.Request.Context(), model.WebhookStatus(c.Query("status")), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (a Api) ReplayWebhookEvent(c *gin.Context) {
	event, err := a.shelfwise.ReplayWebhookEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}
