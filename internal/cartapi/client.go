package cartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/types"
)

const (
	cartPath        = "/cart"
	maxErrorBodyLen = 64 << 10
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the cart mirror endpoints.
type Client struct {
	baseURL string
	http    Doer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default transport.
func WithHTTPClient(doer Doer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// New returns a client rooted at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("cart api base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid cart api base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchCart returns the authenticated user's server cart.
func (c *Client) FetchCart(ctx context.Context, token string) (cart.Snapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, token, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch server cart")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp, "fetch server cart")
	}

	var envelope struct {
		Data []types.CartLine `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode server cart")
	}
	return fromWire(envelope.Data), nil
}

// PushCart overwrites the server cart with lines. Lines with a non-positive
// quantity are local-only and are not sent.
func (c *Client) PushCart(ctx context.Context, token string, lines cart.Snapshot, seq int64) error {
	body, err := json.Marshal(types.PutCartRequest{Cart: toWire(lines), Seq: seq})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart push")
	}
	req, err := c.newRequest(ctx, http.MethodPut, token, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "push cart")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp, "push cart")
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, token string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+cartPath, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cart request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(types.RequestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func decodeError(resp *http.Response, action string) error {
	var envelope types.ErrorEnvelope
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	// Seqs are nanosecond values that float64 would round.
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	_ = decoder.Decode(&envelope)

	code := pkgerrors.CodeDependency
	switch pkgerrors.Code(envelope.Error.Code) {
	case pkgerrors.CodeStaleWrite:
		code = pkgerrors.CodeStaleWrite
	case pkgerrors.CodeUnauthorized:
		code = pkgerrors.CodeUnauthorized
	}

	msg := envelope.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	requestID := envelope.Error.RequestID
	if requestID == "" {
		requestID = resp.Header.Get(types.RequestIDHeader)
	}
	details := map[string]any{
		"status":      resp.StatusCode,
		"remote_code": envelope.Error.Code,
		"request_id":  requestID,
	}
	if remote, ok := envelope.Error.Details.(map[string]any); ok {
		if n, ok := remote["stored_seq"].(json.Number); ok {
			if stored, err := n.Int64(); err == nil {
				details["stored_seq"] = stored
			}
		}
	}
	return pkgerrors.New(code, fmt.Sprintf("%s: %s", action, msg)).WithDetails(details)
}

func toWire(lines cart.Snapshot) []types.CartLine {
	out := make([]types.CartLine, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		price := line.UnitPrice
		out = append(out, types.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Name:      line.Name,
			Price:     &price,
		})
	}
	return out
}

func fromWire(lines []types.CartLine) cart.Snapshot {
	out := make(cart.Snapshot, 0, len(lines))
	for _, line := range lines {
		price := decimal.Zero
		if line.Price != nil {
			price = *line.Price
		}
		out = append(out, cart.Line{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: price,
			Quantity:  line.Quantity,
		})
	}
	return out
}
