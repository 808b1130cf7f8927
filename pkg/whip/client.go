// Package whip implements the HTTP signaling half of the WHIP publisher:
// POSTing an SDP offer to the endpoint URL, reading back the Location of
// the created resource and its SDP answer, and DELETEing that resource
// to tear the session down. The request/response/retry shape follows the
// teacher's pkg/cloudflare/client.go; golang.org/x/time/rate paces
// retries instead of the teacher's raw exponential-backoff loop.
package whip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ethanmoon/whip-publish/pkg/sdpneg"
	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

const sdpContentType = "application/sdp"

// Client POSTs offers to one WHIP endpoint and DELETEs the resulting
// resource.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
	bearer     string

	maxRetries int
	limiter    *rate.Limiter
}

// NewClient builds a Client. bearer, if non-empty, is sent as
// "Authorization: Bearer <bearer>" on every request.
func NewClient(logger zerolog.Logger, bearer string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
		bearer:     bearer,
		maxRetries: 3,
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

// PublishResult is what a successful offer POST yields: the resource URL
// the endpoint created (used for the teardown DELETE) and its SDP
// answer.
type PublishResult struct {
	Location string
	Answer   sdpneg.AnswerInfo
	RawSDP   string
}

// Publish POSTs offerSDP to endpoint and returns the parsed answer. A
// transient failure (connection reset, 5xx) is retried, paced by
// c.limiter, for at most c.maxRetries attempts in total; a 4xx is not
// retried.
func (c *Client) Publish(ctx context.Context, endpoint string, offerSDP string) (*PublishResult, error) {
	const op = "whip.Publish"

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, whiprtc.New(whiprtc.KindTimeout, op, err)
			}
		}

		result, retryable, err := c.publishOnce(ctx, endpoint, offerSDP)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("whip publish attempt failed, retrying")
	}

	return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("exhausted %d attempts: %w", c.maxRetries, lastErr))
}

func (c *Client) publishOnce(ctx context.Context, endpoint string, offerSDP string) (*PublishResult, bool, error) {
	const op = "whip.publishOnce"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return nil, false, whiprtc.New(whiprtc.KindInvalidArgument, op, err)
	}
	req.Header.Set("Content-Type", sdpContentType)
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, whiprtc.New(whiprtc.KindIO, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, sdpneg.MaxAnswerSize))
	if err != nil {
		return nil, true, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("read answer: %w", err))
	}

	if resp.StatusCode != http.StatusCreated {
		retryable := resp.StatusCode >= 500
		return nil, retryable, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("publish failed: %s (status %d)", body, resp.StatusCode))
	}

	var resolved string
	if location := resp.Header.Get("Location"); location != "" {
		resolved, err = resolveLocation(endpoint, location)
		if err != nil {
			return nil, false, whiprtc.New(whiprtc.KindInvalidData, op, err)
		}
	}

	answer, err := sdpneg.ParseAnswer(string(body))
	if err != nil {
		return nil, false, err
	}

	return &PublishResult{Location: resolved, Answer: answer, RawSDP: string(body)}, false, nil
}

// Delete tears down the WHIP resource Publish created.
func (c *Client) Delete(ctx context.Context, location string) error {
	const op = "whip.Delete"

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, location, nil)
	if err != nil {
		return whiprtc.New(whiprtc.KindInvalidArgument, op, err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return whiprtc.New(whiprtc.KindIO, op, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("teardown failed: status %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
}

func resolveLocation(endpoint, location string) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse Location header: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
