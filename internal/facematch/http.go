package facematch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/metrics"
)

// HTTPClient talks to the remote comparator over JSON. Each Compare call
// carries one idempotency token across all of its retries, so a retried
// request cannot be double-counted upstream.
type HTTPClient struct {
	baseURL        string
	httpc          *http.Client
	timeout        time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *zap.Logger
	sink           metrics.Sink
}

type compareRequest struct {
	ImageA    string  `json:"image_a"`
	ImageB    string  `json:"image_b"`
	Threshold float64 `json:"threshold"`
}

type compareResponse struct {
	Score float64 `json:"score"`
}

// NewHTTPClient builds a comparator client with a hard per-call budget.
func NewHTTPClient(baseURL string, timeout time.Duration, sink metrics.Sink, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpc:          &http.Client{},
		timeout:        timeout,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		logger:         logger.Named("facematch"),
		sink:           sink,
	}
}

// Compare submits two images and returns the threshold decision. The timeout
// bounds the whole call including retries; on expiry the error kind is
// KindTimeout rather than a hang.
func (c *HTTPClient) Compare(ctx context.Context, imageA, imageB []byte, threshold float64) (*MatchResult, error) {
	token := uuid.NewString()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(compareRequest{
		ImageA:    base64.StdEncoding.EncodeToString(imageA),
		ImageB:    base64.StdEncoding.EncodeToString(imageB),
		Threshold: threshold,
	})
	if err != nil {
		return nil, &MatchError{Kind: KindInvalidInput, Err: err}
	}

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			c.sink.Inc("facematch.retry")
			select {
			case <-ctx.Done():
				return nil, c.classifyContext(ctx, lastErr)
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= c.maxBackoff {
				backoff = next
			}
		}

		score, err := c.doCompare(ctx, token, body)
		if err == nil {
			clamped, pass := Decide(score, threshold)
			if clamped != score {
				c.logger.Warn("comparator returned out-of-range score",
					zap.Float64("score", score), zap.String("idempotency_token", token))
			}
			return &MatchResult{
				Score:     clamped,
				Threshold: threshold,
				Pass:      pass,
				Latency:   time.Since(start),
			}, nil
		}

		var matchErr *MatchError
		if errors.As(err, &matchErr) && matchErr.Kind == KindInvalidInput {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, c.classifyContext(ctx, err)
		}

		lastErr = err
		c.logger.Warn("transient comparator failure",
			zap.Error(err), zap.Int("attempt", attempt+1), zap.String("idempotency_token", token))
	}

	return nil, &MatchError{Kind: KindServiceUnavailable, Err: lastErr}
}

func (c *HTTPClient) doCompare(ctx context.Context, token string, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/compare", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return 0, &MatchError{Kind: KindInvalidInput, Err: fmt.Errorf("comparator rejected request: status %d", resp.StatusCode)}
	default:
		return 0, fmt.Errorf("comparator returned status %d", resp.StatusCode)
	}

	var decoded compareResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("decoding comparator response: %w", err)
	}
	return decoded.Score, nil
}

func (c *HTTPClient) classifyContext(ctx context.Context, lastErr error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &MatchError{Kind: KindTimeout, Err: ctx.Err()}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return &MatchError{Kind: KindServiceUnavailable, Err: lastErr}
}
