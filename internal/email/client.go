// Package email is the client for the outbound email gateway. Emails are
// posted as JSON to {base}/email with a bearer token; any non-2xx answer is
// reported as an error so callers can retry.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

const defaultTimeout = 10 * time.Second

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("email gateway returned %d: %s", e.StatusCode, e.Body)
}

// Client sends emails through the gateway.
type Client struct {
	baseURL   string
	sender    string
	authToken string
	http      *http.Client
}

// NewClient builds a Client. A non-positive timeout falls back to 10s.
func NewClient(baseURL, sender, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sender:    sender,
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

type address struct {
	Email string `json:"email"`
}

type sendRequest struct {
	From    address   `json:"from"`
	To      []address `json:"to"`
	Subject string    `json:"subject"`
	Text    string    `json:"text"`
	HTML    string    `json:"html"`
}

// SendEmail delivers one email to recipient.
func (c *Client) SendEmail(ctx context.Context, recipient, subject, htmlContent, textContent string) error {
	ctx, span := otel.Tracer("email/Client").Start(ctx, "SendEmail")
	defer span.End()
	span.SetAttributes(attribute.String("email.subject", subject))

	payload, err := json.Marshal(sendRequest{
		From:    address{Email: c.sender},
		To:      []address{{Email: recipient}},
		Subject: subject,
		Text:    textContent,
		HTML:    htmlContent,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
