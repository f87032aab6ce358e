package orchestrator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

const maxResponseSize = 8 << 20

type httpResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type httpInvoker struct {
	endpoint *url.URL
	client   *http.Client
	tokens   *TokenIssuer
	logger   outbound.Logger
}

// NewHTTPClient talks to the engine with POST <endpoint>/<op>. With h2c the
// requests use cleartext HTTP/2 over a single multiplexed connection.
func NewHTTPClient(endpoint string, tokens *TokenIssuer, h2c bool, logger outbound.Logger) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid orchestrator endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid orchestrator endpoint scheme: %s", u.Scheme)
	}

	client := &http.Client{}
	if h2c {
		if u.Scheme != "http" {
			return nil, fmt.Errorf("h2c requires an http endpoint")
		}
		client.Transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		}
	}

	return newClient(&httpInvoker{
		endpoint: u,
		client:   client,
		tokens:   tokens,
		logger:   logger,
	}, logger), nil
}

func (h *httpInvoker) invoke(ctx context.Context, op, method string, args map[string]any) (any, error) {
	id := uuid.NewString()
	body, err := json.Marshal(envelope(id, method, args))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	target := h.endpoint.JoinPath(strings.ToLower(op))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", id)
	if h.tokens != nil {
		token, err := h.tokens.Issue()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v", model.ErrRemoteUnreachable, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: reading response: %v", model.ErrRemoteUnreachable, op, err)
	}

	var decoded httpResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("%s: invalid response: %w", op, err)
		}
	}

	if err := statusError(op, resp.StatusCode, decoded.Error); err != nil {
		h.logger.Debug("Orchestrator request failed", "op", op, "id", id, "status", resp.StatusCode)
		return nil, err
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("%s: %s", op, decoded.Error)
	}

	if len(decoded.Result) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(decoded.Result, &result); err != nil {
		return nil, fmt.Errorf("%s: invalid result: %w", op, err)
	}
	return result, nil
}

func statusError(op string, code int, message string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	if message == "" {
		message = http.StatusText(code)
	}
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", model.ErrUnknownService, op, message)
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s: %s", model.ErrRemoteUnreachable, op, message)
	default:
		return fmt.Errorf("%s: status %d: %s", op, code, message)
	}
}

func (h *httpInvoker) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
