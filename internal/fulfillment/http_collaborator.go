package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/pkg/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// HTTPCollaborator posts settled events as JSON to a webhook endpoint.
type HTTPCollaborator struct {
	name     domain.Collaborator
	endpoint string
	client   *http.Client
	breaker  *circuitbreaker.Breaker[struct{}]
}

func NewHTTPCollaborator(name domain.Collaborator, endpoint string, timeout time.Duration, log *zap.Logger) *HTTPCollaborator {
	return &HTTPCollaborator{
		name:     name,
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[struct{}](circuitbreaker.Settings{Name: "collaborator-" + string(name)}, log),
	}
}

func (c *HTTPCollaborator) Send(ctx context.Context, event domain.SettledEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal event: %w", err))
	}

	_, err = c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.post(ctx, event.OrderID, body)
	})
	if circuitbreaker.IsOpen(err) {
		return fmt.Errorf("%s unavailable: %w", c.name, err)
	}
	return err
}

func (c *HTTPCollaborator) post(ctx context.Context, orderID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	// collaborators dedupe on this key
	req.Header.Set("Idempotency-Key", orderID+":"+string(c.name))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// already handled on their side
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%s responded %d", c.name, resp.StatusCode)
	default:
		return Permanent(fmt.Errorf("%s rejected event with %d", c.name, resp.StatusCode))
	}
}
