package adsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// JobError is a failed upstream sync call. Error returns Message alone so it
// can be stored as the audit row's error text unchanged.
type JobError struct {
	Platform   string
	StatusCode int
	Message    string
}

func (e *JobError) Error() string {
	return e.Message
}

type ClientOptions struct {
	// BaseURL is the functions host, e.g. https://project.supabase.co.
	BaseURL    string
	ServiceKey string
	HTTPClient *http.Client
	UserAgent  string
}

// Client calls the platform sync functions. Each call is single-shot; the
// next scheduled run is the retry.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	userAgent  string
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		serviceKey: strings.TrimSpace(opts.ServiceKey),
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
	}
}

// Job returns the sync job served at <base>/functions/v1/<function>. Label
// names the platform in fallback error messages.
func (c *Client) Job(platform, function, label string) *HTTPJob {
	return &HTTPJob{client: c, platform: platform, function: function, label: label}
}

// DefaultJobs returns the Meta and Google jobs in result order.
func (c *Client) DefaultJobs() []Job {
	return []Job{
		c.Job("meta", "sync-meta-ads", "Meta"),
		c.Job("google", "sync-google-ads", "Google"),
	}
}

type HTTPJob struct {
	client   *Client
	platform string
	function string
	label    string
}

func (j *HTTPJob) Platform() string {
	return j.platform
}

func (j *HTTPJob) Run(ctx context.Context) (JobResult, error) {
	c := j.client
	if c == nil || c.baseURL == "" {
		return JobResult{}, fmt.Errorf("%s sync: base url is required", j.platform)
	}
	if c.serviceKey == "" {
		return JobResult{}, fmt.Errorf("%s sync: service key is required", j.platform)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/v1/"+j.function, bytes.NewReader([]byte("{}")))
	if err != nil {
		return JobResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JobResult{}, err
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return JobResult{}, readErr
	}

	var parsed map[string]any
	decoder := json.NewDecoder(bytes.NewReader(respBody))
	decoder.UseNumber()
	parseErr := decoder.Decode(&parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := fmt.Sprintf("%s sync failed with %d", j.label, resp.StatusCode)
		if parseErr == nil {
			if upstream, ok := parsed["error"].(string); ok && strings.TrimSpace(upstream) != "" {
				message = upstream
			}
		}
		return JobResult{}, &JobError{Platform: j.platform, StatusCode: resp.StatusCode, Message: message}
	}
	if parseErr != nil {
		return JobResult{}, fmt.Errorf("%s sync returned invalid JSON: %w", j.label, parseErr)
	}
	return resultFromBody(j.platform, parsed), nil
}

// resultFromBody lifts the audit fields out of a job's response and keeps
// everything else under Details.
func resultFromBody(platform string, body map[string]any) JobResult {
	result := JobResult{Platform: platform, Status: StatusSucceeded}
	details := map[string]any{}
	for key, value := range body {
		switch key {
		case "platform", "status":
		case "rows_synced":
			rows := toInt(value)
			result.RowsSynced = &rows
		case "date_range_start":
			result.DateRangeStart = toString(value)
		case "date_range_end":
			result.DateRangeEnd = toString(value)
		default:
			details[key] = value
		}
	}
	if len(details) > 0 {
		result.Details = details
	}
	return result
}

func toInt(value any) int {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(v)
	}
	return 0
}

func toString(value any) *string {
	s, ok := value.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}
