// Package manseryuk calls the external birth-chart calculation service.
package manseryuk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// ErrNotConfigured is returned when no service URL is set.
var ErrNotConfigured = errors.New("manseryuk API URL not configured")

// BirthInfo is the calculation input.
type BirthInfo struct {
	Name        string `json:"name"`
	BirthYear   int    `json:"birth_year"`
	BirthMonth  int    `json:"birth_month"`
	BirthDay    int    `json:"birth_day"`
	BirthHour   *int   `json:"birth_hour,omitempty"`
	BirthMinute *int   `json:"birth_minute,omitempty"`
	Gender      string `json:"gender"`
	IsLunar     bool   `json:"is_lunar"`
	MBTI        string `json:"mbti,omitempty"`
	BirthPlace  string `json:"birth_place,omitempty"`
}

// Calculator is what the free-saju flow needs from the service.
type Calculator interface {
	Calculate(ctx context.Context, info BirthInfo) (json.RawMessage, error)
}

type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &Client{http: c}
}

// Calculate posts info to /calculate and returns the saju document.
func (c *Client) Calculate(ctx context.Context, info BirthInfo) (json.RawMessage, error) {
	if c.http.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(info).
		Post("/calculate")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to manseryuk server: %w", err)
	}
	body := resp.Body()
	if resp.IsError() {
		return nil, fmt.Errorf("manseryuk server error: status %d: %s", resp.StatusCode(), preview(body))
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, fmt.Errorf("manseryuk server returned non-object JSON: %s", preview(body))
	}
	return json.RawMessage(body), nil
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
