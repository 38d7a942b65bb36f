package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cheonkimoon/internal/freesaju"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// Client talks to a running gateway.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	return &Client{http: resty.New().SetBaseURL(strings.TrimRight(baseURL, "/"))}
}

func apiError(resp *resty.Response) error {
	if msg := gjson.GetBytes(resp.Body(), "error").String(); msg != "" {
		return fmt.Errorf("%d: %s", resp.StatusCode(), msg)
	}
	return fmt.Errorf("%d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
}

func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return json.RawMessage(resp.Body()), nil
}

// Stream posts body to /<variant>-stream and calls onToken for each token.
// onPart, when set, receives the bubbles of each completed part.
func (c *Client) Stream(ctx context.Context, variant string, body map[string]any, onToken func(string), onPart func([]string)) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetBody(body).
		Post("/" + variant + "-stream")
	if err != nil {
		return err
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() != 200 {
		data, _ := io.ReadAll(raw)
		if msg := gjson.GetBytes(data, "error").String(); msg != "" {
			return fmt.Errorf("%d: %s", resp.StatusCode(), msg)
		}
		return fmt.Errorf("%d: %s", resp.StatusCode(), strings.TrimSpace(string(data)))
	}
	return readEvents(raw, onToken, onPart)
}

// readEvents consumes an SSE body until the done or error event.
func readEvents(r io.Reader, onToken func(string), onPart func([]string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
			continue
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		case !strings.HasPrefix(line, "data:"):
			continue
		}

		data := gjson.Parse(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		if msg := data.Get("error"); msg.Exists() || event == "error" {
			return errors.New(msg.String())
		}
		if data.Get("done").Bool() {
			return nil
		}
		if tok := data.Get("token"); tok.Exists() && onToken != nil {
			onToken(tok.String())
		}
		if part := data.Get("part"); part.IsArray() && onPart != nil {
			var bubbles []string
			for _, b := range part.Array() {
				bubbles = append(bubbles, b.String())
			}
			onPart(bubbles)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func (c *Client) CreateFreeSaju(ctx context.Context, req freesaju.CreateRequest) (*freesaju.CreateResult, error) {
	var out freesaju.CreateResult
	resp, err := c.http.R().SetContext(ctx).SetBody(req).SetResult(&out).Post("/api/v1/free-saju/create")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

func (c *Client) FreeSaju(ctx context.Context, id uint64) (*freesaju.View, error) {
	var out freesaju.View
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/free-saju/" + strconv.FormatUint(id, 10))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// ErrStillProcessing is returned when polling gives up.
var ErrStillProcessing = errors.New("calculation still processing")

// PollFreeSaju polls until the record leaves processing or maxPolls is hit.
func (c *Client) PollFreeSaju(ctx context.Context, id uint64, maxPolls int, interval time.Duration, onPoll func(n int, v *freesaju.View)) (*freesaju.View, error) {
	for n := 1; n <= maxPolls; n++ {
		view, err := c.FreeSaju(ctx, id)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(n, view)
		}
		if view.Status != "processing" {
			return view, nil
		}
		if n == maxPolls {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, ErrStillProcessing
}
