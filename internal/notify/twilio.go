package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTwilioBaseURL = "https://api.twilio.com"
	twilioMaxAttempts    = 3
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
}

// TwilioNotifier posts SMS messages to Twilio's REST API.
type TwilioNotifier struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
	logger     *zap.Logger
}

// NewTwilioNotifier returns nil when credentials are missing.
func NewTwilioNotifier(cfg TwilioConfig, logger *zap.Logger) *TwilioNotifier {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	return &TwilioNotifier{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff:    250 * time.Millisecond,
		logger:     logger,
	}
}

// Send dispatches a single SMS, retrying transport errors, 429 and 5xx at
// most three times in total. Other 4xx responses fail immediately.
func (t *TwilioNotifier) Send(ctx context.Context, msg Message) error {
	if t == nil {
		return failed("sms", errors.New("twilio not configured"))
	}
	if msg.To == "" {
		return failed("sms", errors.New("recipient required"))
	}
	if t.from == "" {
		return failed("sms", errors.New("sender number required"))
	}
	if strings.TrimSpace(msg.Body) == "" {
		return failed("sms", errors.New("body required"))
	}

	payload := url.Values{}
	payload.Set("To", msg.To)
	payload.Set("From", t.from)
	payload.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.accountSID)

	var lastErr error
	for attempt := 1; attempt <= twilioMaxAttempts; attempt++ {
		retry, err := t.post(ctx, endpoint, payload)
		if err == nil {
			t.logger.Info("twilio sms sent", zap.String("to", msg.To), zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		if !retry || attempt == twilioMaxAttempts {
			break
		}

		timer := time.NewTimer(time.Duration(attempt) * t.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return failed("sms", ctx.Err())
		case <-timer.C:
		}
	}

	t.logger.Warn("twilio sms failed", zap.String("to", msg.To), zap.Error(lastErr))
	return failed("sms", lastErr)
}

func (t *TwilioNotifier) post(ctx context.Context, endpoint string, payload url.Values) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	err = fmt.Errorf("twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, err
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func formatTwilioError(status int, body []byte) string {
	var apiErr twilioAPIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Sprintf("status %d code %d: %s", status, apiErr.Code, apiErr.Message)
	}
	return fmt.Sprintf("status %d", status)
}
