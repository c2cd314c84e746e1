package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
)

const (
	defaultSendTimeout   = 10 * time.Second
	responseSnapshotSize = 1024
	userAgent            = "merchcoin-webhooks/1"
)

// SendRequest is one signed POST to a webhook endpoint.
type SendRequest struct {
	URL        string
	Secret     string
	Event      enums.EventType
	DeliveryID uuid.UUID
	Body       []byte
	Timestamp  time.Time
}

// SendResult captures the receiver's answer. Err is set for transport
// failures and timeouts.
type SendResult struct {
	StatusCode int
	Body       string
	Err        error
}

// OK reports whether the receiver acknowledged with a 2xx.
func (r SendResult) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Failure describes a non-2xx or transport failure for storage.
func (r SendResult) Failure() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.OK() {
		return ""
	}
	return fmt.Sprintf("unexpected status %d", r.StatusCode)
}

// Sender delivers signed webhook requests.
type Sender interface {
	Send(ctx context.Context, req SendRequest) SendResult
}

// HTTPSender posts webhooks with a fixed per-request timeout.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender builds a sender whose requests are bounded by timeout.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSender) Send(ctx context.Context, req SendRequest) SendResult {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return SendResult{Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(HeaderSignature, SignatureHeader(req.Secret, req.Timestamp, req.Body))
	httpReq.Header.Set(HeaderEvent, string(req.Event))
	httpReq.Header.Set(HeaderTimestamp, strconv.FormatInt(req.Timestamp.Unix(), 10))
	httpReq.Header.Set(HeaderDeliveryID, req.DeliveryID.String())

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return SendResult{Err: err}
	}
	defer resp.Body.Close()

	// read past the limit so a character straddling it is dropped whole
	snapshot, _ := io.ReadAll(io.LimitReader(resp.Body, responseSnapshotSize+utf8.UTFMax))
	_, _ = io.Copy(io.Discard, resp.Body)
	return SendResult{StatusCode: resp.StatusCode, Body: db.StorableText(string(snapshot), responseSnapshotSize)}
}
