package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// HTTPTransport posts notification payloads to a delivery gateway, which
// handles the actual email/push send. At most one attempt per payload.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *HTTPTransport) Deliver(ctx context.Context, address string, payload *Payload) error {
	body, err := json.Marshal(struct {
		To      string   `json:"to"`
		Subject string   `json:"subject"`
		Payload *Payload `json:"payload"`
	}{
		To:      address,
		Subject: fmt.Sprintf("New %s request on %s", payload.Method, endpointLabel(payload)),
		Payload: payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("delivery gateway returned %s", resp.Status)
	}
	return nil
}

func endpointLabel(p *Payload) string {
	if p.EndpointName != "" {
		return p.EndpointName
	}
	return p.EndpointID
}

// LogTransport records notifications on the process log instead of
// delivering them. Used when no delivery gateway is configured.
type LogTransport struct {
	Logger *log.Logger
}

func (t *LogTransport) Deliver(_ context.Context, address string, payload *Payload) error {
	t.Logger.Printf("notify: would deliver %s request on %s to %s", payload.Method, endpointLabel(payload), address)
	return nil
}
