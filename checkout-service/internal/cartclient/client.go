package cartclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	d "github.com/courtside/storefront/checkout-service/domain"
	"github.com/courtside/storefront/pkg/auth"
	"github.com/courtside/storefront/pkg/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrUnavailable = errors.New("cart service unavailable")
	ErrRejected    = errors.New("cart service rejected the request")
)

type cartLineDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Variant   struct {
		Size  string `json:"size"`
		Color string `json:"color"`
	} `json:"variant"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}

type cartResponseDTO struct {
	OwnerID  string        `json:"owner_id"`
	Items    []cartLineDTO `json:"items"`
	Degraded bool          `json:"degraded"`
}

// Client reads the caller's cart from cart-service, forwarding the caller's
// credentials so the cart is resolved exactly as the storefront sees it.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *circuitbreaker.Breaker[[]d.CartLine]
	log     *slog.Logger
}

func New(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cb: circuitbreaker.New[[]d.CartLine](circuitbreaker.DefaultConfig("cart-service"), log, func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		}),
		log: log,
	}
}

func (c *Client) GetCart(ctx context.Context, authorization, sessionID string) ([]d.CartLine, error) {
	lines, err := c.cb.Execute(func() ([]d.CartLine, error) {
		return c.getCart(ctx, authorization, sessionID)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return lines, err
}

func (c *Client) getCart(ctx context.Context, authorization, sessionID string) ([]d.CartLine, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/cart", nil)
	if err != nil {
		return nil, fmt.Errorf("build cart request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if sessionID != "" {
		req.Header.Set(auth.SessionHeader, sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var body cartResponseDTO
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode cart response: %w", err)
	}
	if body.Degraded {
		c.log.WarnContext(ctx, "checking out a degraded cart", "user_id", body.OwnerID)
	}

	lines := make([]d.CartLine, 0, len(body.Items))
	for _, item := range body.Items {
		lines = append(lines, d.CartLine{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			Size:           item.Variant.Size,
			Color:          item.Variant.Color,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return lines, nil
}
