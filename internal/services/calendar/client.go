// Package calendar talks to the external scheduling service. Commands are
// issued as GET requests with query parameters; schedule snapshots come back
// as JSON.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shiftwatch/internal/logging"
	"shiftwatch/internal/services"
)

// ActionKind identifies one of the supported schedule mutations.
type ActionKind string

const (
	ActionNoCrew          ActionKind = "noCrew"
	ActionAddShift        ActionKind = "addShift"
	ActionObliterateShift ActionKind = "obliterateShift"
)

var validActions = map[ActionKind]struct{}{
	ActionNoCrew:          {},
	ActionAddShift:        {},
	ActionObliterateShift: {},
}

// ValidAction reports whether kind is one of the supported mutations.
func ValidAction(kind ActionKind) bool {
	_, ok := validActions[kind]
	return ok
}

// Command describes a single schedule mutation to submit.
type Command struct {
	Action     ActionKind
	Date       string // YYYYMMDD
	ShiftStart string // HHMM
	ShiftEnd   string // HHMM
	Squad      int
	Preview    bool
}

func (c Command) queryParams() url.Values {
	params := url.Values{}
	params.Set("action", string(c.Action))
	params.Set("date", c.Date)
	params.Set("shift_start", c.ShiftStart)
	params.Set("shift_end", c.ShiftEnd)
	params.Set("squad", strconv.Itoa(c.Squad))
	params.Set("preview", strconv.FormatBool(c.Preview))
	return params
}

// Result is the service's answer to a submitted command.
type Result struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config carries the calendar service settings.
type Config struct {
	BaseURL        string
	TimeoutSeconds int
	RetryAttempts  int
}

// Client issues schedule reads and mutations against the service endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	sleeper    func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a calendar client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.WithComponent(logger, "calendar"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Submit sends one schedule mutation. Transient failures are retried up to
// the configured attempt count before the last error is returned.
func (c *Client) Submit(ctx context.Context, cmd Command) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		result, err := c.sendOnce(ctx, cmd.queryParams(), "submit")
		if err == nil {
			c.logger.Info("schedule command applied",
				logging.String("action", string(cmd.Action)),
				logging.Int("squad", cmd.Squad),
				logging.String("date", cmd.Date))
			return result, nil
		}
		lastErr = err
		if !services.Retryable(err) || ctx.Err() != nil {
			return Result{}, err
		}
		if attempt < c.cfg.RetryAttempts {
			c.logger.Warn("schedule command failed, retrying",
				logging.Int("attempt", attempt),
				logging.Error(err))
			c.sleep(ctx, time.Duration(attempt)*time.Second)
		}
	}
	return Result{}, services.Wrap(services.ErrTransient, "calendar", "submit",
		fmt.Sprintf("action %s squad %d", cmd.Action, cmd.Squad), lastErr)
}

// Schedule fetches the schedule snapshot for a single day. Squad 0 means no
// squad filter.
func (c *Client) Schedule(ctx context.Context, date string, squad int) (json.RawMessage, error) {
	if !validDate(date) {
		return nil, services.Wrap(services.ErrValidation, "calendar", "schedule",
			fmt.Sprintf("invalid date %q", date), nil)
	}
	params := url.Values{}
	params.Set("action", "get_schedule_day")
	params.Set("date", date)
	if squad > 0 {
		params.Set("squad", strconv.Itoa(squad))
	}
	result, err := c.sendOnce(ctx, params, "schedule")
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "calendar", "schedule",
			fmt.Sprintf("date %s", date), err)
	}
	if len(result.Data) > 0 {
		return result.Data, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("calendar schedule: encode snapshot: %w", err)
	}
	return encoded, nil
}

func (c *Client) sendOnce(ctx context.Context, params url.Values, op string) (Result, error) {
	endpoint := c.cfg.BaseURL
	if strings.TrimSpace(endpoint) == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "calendar", op, "base URL not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("calendar %s: new request: %w", op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("calendar %s: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("calendar %s: read body: %w", op, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		marker := services.ErrTransient
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			marker = services.ErrValidation
		}
		return Result{}, services.Wrap(marker, "calendar", op,
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		// The service sometimes answers with plain text on success.
		return Result{Status: "success", Message: strings.TrimSpace(string(body))}, nil
	}
	return result, nil
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) {
	if c.sleeper != nil {
		c.sleeper(delay)
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func validateCommand(cmd Command) error {
	if !ValidAction(cmd.Action) {
		return services.Wrap(services.ErrValidation, "calendar", "submit",
			fmt.Sprintf("unknown action %q", cmd.Action), nil)
	}
	if !validDate(cmd.Date) {
		return services.Wrap(services.ErrValidation, "calendar", "submit",
			fmt.Sprintf("invalid date %q", cmd.Date), nil)
	}
	if !validTime(cmd.ShiftStart) || !validTime(cmd.ShiftEnd) {
		return services.Wrap(services.ErrValidation, "calendar", "submit",
			fmt.Sprintf("invalid shift times %q-%q", cmd.ShiftStart, cmd.ShiftEnd), nil)
	}
	return nil
}

func validDate(value string) bool {
	if len(value) != 8 {
		return false
	}
	return allDigits(value)
}

func validTime(value string) bool {
	if len(value) != 4 {
		return false
	}
	return allDigits(value)
}

func allDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
