// Package client implements the outbound EP API client (C3): sendText,
// uploadMedia, sendMedia, downloadMedia, plus passive-reply-URL sends,
// grounded on the teacher's platform/wecom/client.go and generalized with
// an egress proxy, a per-account rate limiter, and errcode-aware error
// handling the teacher's Send only partially did (status-code only).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to the EP outbound HTTP API for one account.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string

	transportMu sync.Mutex
	transports  map[string]*http.Transport // proxyURL -> transport, cached
}

// Option customizes a Client.
type Option func(*Client)

// WithRateLimit bounds outbound calls per second with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithBaseURL overrides the default EP API host, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// New builds a Client with a 15s default timeout.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		baseURL:    "https://qyapi.weixin.qq.com",
		transports: make(map[string]*http.Transport),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// transportFor returns a cached *http.Transport routed through proxyURL
// (empty string means the default transport, no proxy).
func (c *Client) transportFor(proxyURL string) (*http.Transport, error) {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()

	if t, ok := c.transports[proxyURL]; ok {
		return t, nil
	}
	t := &http.Transport{}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("client: parse proxy url: %w", err)
		}
		t.Proxy = http.ProxyURL(parsed)
	}
	c.transports[proxyURL] = t
	return t, nil
}

// apiError is EP's common {errcode,errmsg} JSON envelope.
type apiError struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("client: ep api error errcode=%d errmsg=%s", e.ErrCode, e.ErrMsg)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// fetch issues one JSON POST against path?access_token=token and unmarshals
// the body into out, returning apiError when errcode != 0.
func (c *Client) fetch(ctx context.Context, proxyURL, path, token string, payload interface{}, out interface{}) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("client: marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s%s?access_token=%s", c.baseURL, path, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("client: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	transport, err := c.transportFor(proxyURL)
	if err != nil {
		return err
	}
	httpClient := &http.Client{Timeout: c.httpClient.Timeout, Transport: transport}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: ep api http status=%d body=%s", resp.StatusCode, respBody)
	}

	var probe apiError
	if err := json.Unmarshal(respBody, &probe); err == nil && probe.ErrCode != 0 {
		return probe
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// SendText sends a plain text message via the Application channel's
// message/send API.
func (c *Client) SendText(ctx context.Context, proxyURL, token, toUser, agentID, content string) error {
	payload := map[string]interface{}{
		"touser":  toUser,
		"msgtype": "text",
		"agentid": agentID,
		"text":    map[string]string{"content": content},
	}
	return c.fetch(ctx, proxyURL, "/cgi-bin/message/send", token, payload, nil)
}

// SendMedia sends a previously uploaded media id as an image/voice/file/video message.
func (c *Client) SendMedia(ctx context.Context, proxyURL, token, toUser, agentID, msgType, mediaID string) error {
	payload := map[string]interface{}{
		"touser":  toUser,
		"msgtype": msgType,
		"agentid": agentID,
		msgType:   map[string]string{"media_id": mediaID},
	}
	return c.fetch(ctx, proxyURL, "/cgi-bin/message/send", token, payload, nil)
}

type uploadMediaResponse struct {
	apiError
	Type    string `json:"type"`
	MediaID string `json:"media_id"`
}

// UploadMedia uploads fileBytes as mediaType ("image"|"voice"|"video"|"file")
// using a hand-built multipart body (EP's upload API does not accept the
// stdlib multipart writer's default field ordering for some legacy clients,
// so the teacher's style of manual construction is kept).
func (c *Client) UploadMedia(ctx context.Context, proxyURL, token, mediaType, filename string, fileBytes []byte) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	boundary := "----EPGatewayBoundary7d1f9c"
	contentType := contentTypeForExt(filename)

	var buf bytes.Buffer
	buf.WriteString("--" + boundary + "\r\n")
	buf.WriteString(fmt.Sprintf("Content-Disposition: form-data; name=\"media\"; filename=%q; filelength=%d\r\n", filename, len(fileBytes)))
	buf.WriteString("Content-Type: " + contentType + "\r\n\r\n")
	buf.Write(fileBytes)
	buf.WriteString("\r\n--" + boundary + "--\r\n")

	endpoint := fmt.Sprintf("%s/cgi-bin/media/upload?access_token=%s&type=%s", c.baseURL, url.QueryEscape(token), mediaType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("client: new request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

	transport, err := c.transportFor(proxyURL)
	if err != nil {
		return "", err
	}
	httpClient := &http.Client{Timeout: c.httpClient.Timeout, Transport: transport}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("client: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}

	var parsed uploadMediaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("client: decode upload response: %w", err)
	}
	if parsed.ErrCode != 0 {
		return "", parsed.apiError
	}
	return parsed.MediaID, nil
}

// DownloadMedia fetches a media id's bytes, capped at maxBytes. If the
// response is a JSON errcode body instead of binary media (EP signals
// failures this way on the same endpoint), the error is surfaced.
func (c *Client) DownloadMedia(ctx context.Context, proxyURL, token, mediaID string, maxBytes int64) ([]byte, string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, "", err
	}
	endpoint := fmt.Sprintf("%s/cgi-bin/media/get?access_token=%s&media_id=%s", c.baseURL, url.QueryEscape(token), url.QueryEscape(mediaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}

	transport, err := c.transportFor(proxyURL)
	if err != nil {
		return nil, "", err
	}
	httpClient := &http.Client{Timeout: c.httpClient.Timeout, Transport: transport}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if len(contentType) >= 16 && contentType[:16] == "application/json" {
		var probe apiError
		if err := json.Unmarshal(data, &probe); err == nil && probe.ErrCode != 0 {
			return nil, "", probe
		}
	}

	filename := parseDisposition(resp.Header.Get("Content-Disposition"))
	return data, filename, nil
}

func parseDisposition(header string) string {
	_, params, err := parseContentDisposition(header)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename*"]; ok {
		return decodeRFC5987(fn)
	}
	return params["filename"]
}

// SendViaResponseURL posts msg to a Bot-channel response_url, valid for one
// call within the hour of issuance.
func (c *Client) SendViaResponseURL(ctx context.Context, responseURL string, msg interface{}) error {
	if responseURL == "" {
		return fmt.Errorf("client: response_url is empty")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("client: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: do request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: response_url send failed status=%d body=%s", resp.StatusCode, respBody)
	}
	return nil
}

// MarkdownMessage is the Bot/Application passive-reply markdown shape.
type MarkdownMessage struct {
	MsgType  string          `json:"msgtype"`
	Markdown MarkdownPayload `json:"markdown"`
}

// MarkdownPayload is the body of a MarkdownMessage.
type MarkdownPayload struct {
	Content string `json:"content"`
}

// SendMarkdown sends a Markdown reply through a response_url.
func (c *Client) SendMarkdown(ctx context.Context, responseURL, content string) error {
	return c.SendViaResponseURL(ctx, responseURL, MarkdownMessage{
		MsgType:  "markdown",
		Markdown: MarkdownPayload{Content: content},
	})
}

// TemplateCardMessage is the Bot/Application passive-reply template-card
// shape, grounded on the teacher's platform/wecom.Client.SendTemplateCard.
type TemplateCardMessage struct {
	MsgType      string      `json:"msgtype"`
	TemplateCard interface{} `json:"template_card"`
}

// SendTemplateCard sends an interactive template card through a response_url.
func (c *Client) SendTemplateCard(ctx context.Context, responseURL string, card interface{}) error {
	return c.SendViaResponseURL(ctx, responseURL, TemplateCardMessage{
		MsgType:      "template_card",
		TemplateCard: card,
	})
}
