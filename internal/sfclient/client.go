// Package sfclient is the REST Client (C2) and typed Remote API facade (C3).
// The low-level client owns retry, backoff, pagination and the composite
// batch envelope; the facade in api.go gives each remote object one method
// per operation, per §4.2/§4.3.
//
// Grounded on the teacher's internal/mcpserver/client/httpclient.go (per-
// status-code retry dispatch, correlation-id injection, Retry-After parsing)
// and internal/mcpserver/client/entity_client.go (thin typed facade over the
// low-level client), generalized from the polling HTTP backend to the
// remote's REST API per original_source/src-tauri/src/salesforce/client.rs.
package sfclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/goldpos/syncd/internal/sfauth"
)

const (
	defaultAPIVersion  = "v59.0"
	defaultMaxRetries  = 3
	defaultRetryDelay  = time.Second
	defaultTimeout     = 30 * time.Second
	defaultRetryAfter  = 5 * time.Second
	compositeChunkSize = 25
)

// TokenSource is the subset of sfauth.Manager the REST client depends on.
type TokenSource interface {
	GetToken(ctx context.Context) (sfauth.Token, error)
	RefreshToken(ctx context.Context) (sfauth.Token, error)
}

// Client is the low-level REST client described in §4.2: every verb,
// retry, and rate-limit behavior funnels through request.
type Client struct {
	tokens     TokenSource
	http       *http.Client
	apiVersion string
	maxRetries int
	retryDelay time.Duration
}

// New constructs a Client with the defaults from §4.2's table (max_retries
// 3, retry_delay 1s, 30s request timeout).
func New(tokens TokenSource) *Client {
	return &Client{
		tokens:     tokens,
		http:       &http.Client{Timeout: defaultTimeout},
		apiVersion: defaultAPIVersion,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// linearBackOff implements backoff.BackOff with the fixed linear policy
// from §4.2 (retry_delay * (attempt+1)), rather than the library's default
// exponential curve — the remote API's own retry guidance is linear.
type linearBackOff struct {
	retryDelay time.Duration
	attempt    int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.retryDelay * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// buildURL joins an instance URL with an API path, accepting both bare
// object paths ("sobjects/Product__c") and fully-qualified next-records
// URLs stripped of their "/services/data/{version}/" prefix by the caller.
func (c *Client) buildURL(instanceURL, endpoint string) string {
	return fmt.Sprintf("%s/services/data/%s/%s", instanceURL, c.apiVersion, endpoint)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts the integer-seconds form Salesforce sends; an
// unparsable or absent header falls back to the 5s default from §4.2.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

// request implements the full retry/backoff/rate-limit state machine from
// §4.2: 429 honors Retry-After, 401 forces one token refresh and retry,
// 5xx and transport errors back off linearly, 204/empty bodies decode to
// "null", and non-401 4xx responses return a RemoteValidationError without
// consuming a retry.
func (c *Client) request(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	correlationID := uuid.New().String()
	logger := log.With().
		Str("method", method).
		Str("endpoint", endpoint).
		Str("correlationId", correlationID).
		Logger()

	lb := &linearBackOff{retryDelay: c.retryDelay}
	var refreshedOnce bool
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		tok, err := c.tokens.GetToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtain access token: %w", err)
		}

		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.buildURL(tok.InstanceURL, endpoint), reqBody)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("salesforce request failed: %w", err)
			if attempt >= c.maxRetries {
				return nil, lastErr
			}
			logger.Warn().Err(err).Int("attempt", attempt).Msg("transport error, retrying")
			if sleepErr := sleepCtx(ctx, lb.NextBackOff()); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			if attempt >= c.maxRetries {
				return nil, ErrRateLimited{RetryAfterSeconds: int(retryAfter / time.Second)}
			}
			logger.Warn().Dur("retryAfter", retryAfter).Int("attempt", attempt).Msg("rate limited")
			if sleepErr := sleepCtx(ctx, retryAfter); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			if refreshedOnce {
				return nil, ErrSessionExpired{}
			}
			if attempt >= c.maxRetries {
				return nil, ErrSessionExpired{}
			}
			logger.Warn().Int("attempt", attempt).Msg("401 unauthorized, forcing token refresh")
			if _, err := c.tokens.RefreshToken(ctx); err != nil {
				return nil, fmt.Errorf("refresh token after 401: %w", err)
			}
			refreshedOnce = true
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
			return json.RawMessage("null"), nil
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return json.RawMessage(respBody), nil
		}

		if resp.StatusCode >= 500 {
			lastErr = ServerError{StatusCode: resp.StatusCode, Body: string(respBody)}
			if attempt >= c.maxRetries {
				return nil, lastErr
			}
			logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("server error, retrying")
			if sleepErr := sleepCtx(ctx, lb.NextBackOff()); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		// Non-401 4xx: structured, non-retriable validation failure.
		var remoteErrs []RemoteError
		if err := json.Unmarshal(respBody, &remoteErrs); err != nil {
			return nil, SchemaMismatchError{Body: string(respBody), Err: err}
		}
		return nil, RemoteValidationError{StatusCode: resp.StatusCode, Errors: remoteErrs}
	}

	return nil, lastErr
}

func (c *Client) get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, endpoint, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.request(ctx, http.MethodPost, endpoint, body)
}

func (c *Client) patch(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.request(ctx, http.MethodPatch, endpoint, body)
}

func (c *Client) delete(ctx context.Context, endpoint string) error {
	_, err := c.request(ctx, http.MethodDelete, endpoint, nil)
	return err
}

// queryResult mirrors the SOQL query envelope's pagination fields.
type queryResult struct {
	TotalSize int             `json:"totalSize"`
	Done      bool            `json:"done"`
	NextURL   string          `json:"nextRecordsUrl,omitempty"`
	Records   json.RawMessage `json:"records"`
}

// queryAll runs soql and follows nextRecordsUrl until done, concatenating
// every page's records into a single JSON array, per §4.2's QueryAll.
func (c *Client) queryAll(ctx context.Context, soql string) ([]json.RawMessage, error) {
	endpoint := "query?q=" + url.QueryEscape(soql)

	var all []json.RawMessage
	for {
		raw, err := c.get(ctx, endpoint)
		if err != nil {
			return nil, err
		}

		var page queryResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, SchemaMismatchError{Body: string(raw), Err: err}
		}

		var records []json.RawMessage
		if err := json.Unmarshal(page.Records, &records); err != nil {
			return nil, SchemaMismatchError{Body: string(page.Records), Err: err}
		}
		all = append(all, records...)

		if page.Done || page.NextURL == "" {
			return all, nil
		}
		// next_records_url is fully-qualified from the API root; strip the
		// "/services/data/{version}/" prefix so buildURL can re-join it.
		endpoint = stripAPIPrefix(page.NextURL, c.apiVersion)
	}
}

func stripAPIPrefix(nextURL, apiVersion string) string {
	prefix := "/services/data/" + apiVersion + "/"
	if idx := strings.Index(nextURL, prefix); idx >= 0 {
		return nextURL[idx+len(prefix):]
	}
	return nextURL
}

// createResult mirrors the remote's create/upsert response envelope.
type createResult struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Created bool     `json:"created,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// createRecord inserts a new sobject and returns its assigned remote id.
func (c *Client) createRecord(ctx context.Context, sobject string, fields any) (string, error) {
	raw, err := c.post(ctx, "sobjects/"+sobject, fields)
	if err != nil {
		return "", err
	}
	var res createResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", SchemaMismatchError{Body: string(raw), Err: err}
	}
	return res.ID, nil
}

// upsertRecord upserts by an external id field, per §4.2's Upsert — the
// PATCH verb against the sobjects/{type}/{externalIdField}/{value} endpoint
// either matches an existing record or inserts a new one.
func (c *Client) upsertRecord(ctx context.Context, sobject, externalIDField, externalIDValue string, fields any) (string, error) {
	endpoint := fmt.Sprintf("sobjects/%s/%s/%s", sobject, externalIDField, url.PathEscape(externalIDValue))
	raw, err := c.patch(ctx, endpoint, fields)
	if err != nil {
		return "", err
	}
	// A 204 (matched, updated) carries no body; the caller already has the
	// external id value and doesn't need a fresh remote id in that case.
	if string(raw) == "null" {
		return "", nil
	}
	var res createResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", SchemaMismatchError{Body: string(raw), Err: err}
	}
	return res.ID, nil
}

// deleteRecord issues the DELETE verb against a single sobject by remote id.
// The sync core's coordinators never call this directly for business
// records (§4.6's delete handling only logs), but it is kept for
// completeness of the facade and for administrative use.
func (c *Client) deleteRecord(ctx context.Context, sobject, remoteID string) error {
	return c.delete(ctx, fmt.Sprintf("sobjects/%s/%s", sobject, url.PathEscape(remoteID)))
}

// compositeSubrequest is one entry of a composite request's
// compositeRequest array.
type compositeSubrequest struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	ReferenceID string `json:"referenceId"`
	Body        any    `json:"body,omitempty"`
}

type compositeBody struct {
	AllOrNone        bool                  `json:"allOrNone"`
	CompositeRequest []compositeSubrequest `json:"compositeRequest"`
}

// CompositeSubresponse is one entry of a composite response, independently
// successful or failed per §4.2's BatchUpsert semantics.
type CompositeSubresponse struct {
	Body           json.RawMessage `json:"body"`
	HTTPStatusCode int             `json:"httpStatusCode"`
	ReferenceID    string          `json:"referenceId"`
}

func (r CompositeSubresponse) ok() bool {
	return r.HTTPStatusCode >= 200 && r.HTTPStatusCode < 300
}

type compositeResponseEnvelope struct {
	CompositeResponse []CompositeSubresponse `json:"compositeResponse"`
}

// composite submits up to compositeChunkSize subrequests in a single call
// to the remote's composite endpoint, with allOrNone false so one
// subrequest's failure never rolls back the others.
func (c *Client) composite(ctx context.Context, subrequests []compositeSubrequest) ([]CompositeSubresponse, error) {
	raw, err := c.post(ctx, "composite", compositeBody{AllOrNone: false, CompositeRequest: subrequests})
	if err != nil {
		return nil, err
	}
	var env compositeResponseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, SchemaMismatchError{Body: string(raw), Err: err}
	}
	return env.CompositeResponse, nil
}

// BatchUpsertItem is one record submitted to BatchUpsert. RefID is the
// record's external id value: it forms the subrequest's upsert URL and is
// also sent as its referenceId, so results are correlated back by it.
type BatchUpsertItem struct {
	RefID  string
	Fields any
}

// BatchResult correlates one BatchUpsertItem's outcome.
type BatchResult struct {
	RefID string
	OK    bool
	Body  json.RawMessage
}

// batchUpsert chunks items into groups of compositeChunkSize and submits
// each group as a composite upsert against sobject/externalIDField, per
// §4.2's BatchUpsert.
func (c *Client) batchUpsert(ctx context.Context, sobject, externalIDField string, items []BatchUpsertItem) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(items))

	for start := 0; start < len(items); start += compositeChunkSize {
		end := min(start+compositeChunkSize, len(items))
		chunk := items[start:end]

		subs := make([]compositeSubrequest, len(chunk))
		for i, item := range chunk {
			subs[i] = compositeSubrequest{
				Method:      http.MethodPatch,
				URL:         fmt.Sprintf("/services/data/%s/sobjects/%s/%s/%s", c.apiVersion, sobject, externalIDField, url.PathEscape(item.RefID)),
				ReferenceID: item.RefID,
				Body:        item.Fields,
			}
		}

		subresponses, err := c.composite(ctx, subs)
		if err != nil {
			return results, err
		}

		byRef := make(map[string]CompositeSubresponse, len(subresponses))
		for _, sr := range subresponses {
			byRef[sr.ReferenceID] = sr
		}
		for _, item := range chunk {
			sr, found := byRef[item.RefID]
			results = append(results, BatchResult{RefID: item.RefID, OK: found && sr.ok(), Body: sr.Body})
		}
	}

	return results, nil
}
