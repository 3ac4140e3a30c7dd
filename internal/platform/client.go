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

// Package platform talks to commerce platform admin APIs: OAuth code exchange, order
// listing and inventory level pushes. Every call waits on a shared token bucket so a
// single process never exceeds the platform's request allowance.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/internal/request"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

const (
	defaultPerSecond = 35
	pageLimit        = 250
	maxPages         = 40
)

var (
	ErrInvalidShopDomain = errors.New("invalid shop domain")
	// ErrUnauthorized means the platform rejected the access token; the app was most
	// likely uninstalled.
	ErrUnauthorized = errors.New("platform rejected access token")

	shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*(\.[a-z0-9][a-z0-9-]*)+$`)
	nextLinkPattern   = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)
)

// API is what the service layer needs from a platform.
type API interface {
	AuthorizeURL(shop, nonce string) string
	ExchangeCode(ctx context.Context, shop, code string) (*AccessToken, error)
	FetchOrders(ctx context.Context, shop, token string, since time.Time) ([]Order, error)
	PushInventory(ctx context.Context, shop, token string, levels []InventoryLevel) (int, error)
}

type Client struct {
	name       string
	conf       config.IntegrationConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

// NewClient builds a client for one platform. perSecond <= 0 uses 35 requests/s.
func NewClient(name string, conf config.IntegrationConfig, perSecond float64) *Client {
	if perSecond <= 0 {
		perSecond = defaultPerSecond
	}
	return &Client{
		name:       strings.ToLower(name),
		conf:       conf,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:     logrus.WithFields(logrus.Fields{"component": "platform", "platform": strings.ToLower(name)}),
	}
}

// HTTPClient exposes the underlying client so tests can intercept it.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// NormalizeShopDomain lowercases and validates a bare shop host name. Schemes, paths
// and ports are rejected so the value is safe to interpolate into API URLs.
func NormalizeShopDomain(shop string) (string, error) {
	shop = strings.ToLower(strings.TrimSpace(shop))
	if len(shop) > 255 || !shopDomainPattern.MatchString(shop) {
		return "", ErrInvalidShopDomain
	}
	return shop, nil
}

func (c *Client) base(shop string) string {
	return strings.TrimRight(strings.ReplaceAll(c.conf.APIBaseURL, "{shop}", shop), "/")
}

func (c *Client) apiURL(shop, path string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.base(shop), c.conf.APIVersion, path)
}

func (c *Client) AuthorizeURL(shop, nonce string) string {
	q := url.Values{}
	q.Set("client_id", c.conf.ClientID)
	q.Set("scope", c.conf.Scopes)
	q.Set("redirect_uri", c.conf.RedirectURL)
	q.Set("state", nonce)
	return strings.ReplaceAll(c.conf.AuthorizeURL, "{shop}", shop) + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, req *http.Request, out interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := request.Call(c.httpClient, req, out)
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
		return resp, ErrUnauthorized
	}
	return resp, err
}

func (c *Client) ExchangeCode(ctx context.Context, shop, code string) (*AccessToken, error) {
	ctx, span := otel.Tracer("platform").Start(ctx, "ExchangeCode")
	defer span.End()

	body, err := request.ToJsonReq(map[string]string{
		"client_id":     c.conf.ClientID,
		"client_secret": c.conf.ClientSecret,
		"code":          code,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base(shop)+"/admin/oauth/access_token", body)
	if err != nil {
		return nil, err
	}

	var token AccessToken
	if _, err := c.do(ctx, req, &token); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s: exchange code: %w", c.name, err)
	}
	if token.Token == "" {
		return nil, fmt.Errorf("%s: exchange code: empty access token", c.name)
	}
	return &token, nil
}

// FetchOrders lists orders updated at or after since, following Link pagination.
func (c *Client) FetchOrders(ctx context.Context, shop, token string, since time.Time) ([]Order, error) {
	ctx, span := otel.Tracer("platform").Start(ctx, "FetchOrders")
	defer span.End()

	q := url.Values{}
	q.Set("status", "any")
	q.Set("limit", strconv.Itoa(pageLimit))
	if !since.IsZero() {
		q.Set("updated_at_min", since.UTC().Format(time.RFC3339))
	}
	next := c.apiURL(shop, "orders.json") + "?" + q.Encode()

	var orders []Order
	for page := 0; next != "" && page < maxPages; page++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Shopify-Access-Token", token)

		var body ordersPage
		resp, err := c.do(ctx, req, &body)
		if err != nil {
			span.RecordError(err)
			return orders, fmt.Errorf("%s: fetch orders: %w", c.name, err)
		}
		orders = append(orders, body.Orders...)
		next = nextPage(resp.Header.Get("Link"))
	}
	c.logger.WithFields(logrus.Fields{"shop": shop, "count": len(orders)}).Debug("fetched orders")
	return orders, nil
}

func nextPage(link string) string {
	m := nextLinkPattern.FindStringSubmatch(link)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// PushInventory sets the available level for each SKU and returns how many were
// accepted. It stops at the first failure.
func (c *Client) PushInventory(ctx context.Context, shop, token string, levels []InventoryLevel) (int, error) {
	ctx, span := otel.Tracer("platform").Start(ctx, "PushInventory")
	defer span.End()

	pushed := 0
	for _, level := range levels {
		body, err := request.ToJsonReq(level)
		if err != nil {
			return pushed, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(shop, "inventory_levels/set.json"), body)
		if err != nil {
			return pushed, err
		}
		req.Header.Set("X-Shopify-Access-Token", token)

		if _, err := c.do(ctx, req, nil); err != nil {
			span.RecordError(err)
			return pushed, fmt.Errorf("%s: push inventory %s: %w", c.name, level.SKU, err)
		}
		pushed++
	}
	return pushed, nil
}
