package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/edge-vision/camctl/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxResponseSize bounds how much of a console response body is read.
const maxResponseSize = 32 << 20

// ErrResponseTooLarge is returned when a response body exceeds the read limit.
var ErrResponseTooLarge = errors.New("console response too large")

// DefaultScope is the OAuth2 scope requested when none is configured.
const DefaultScope = "system"

// Config holds the console endpoint and client credentials.
type Config struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// HTTPClient, when set, carries both token and API requests.
	HTTPClient *http.Client
}

// APIError is a non-2xx console response.
type APIError struct {
	Status  int    `json:"-"`
	Result  string `json:"result"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("console: status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("console: status %d: %s", e.Status, e.Message)
}

// Client talks to the console REST API with client-credential bearer tokens.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	maxBody int64
}

var _ API = (*Client)(nil)

// NewClient creates a console client. ctx scopes token refreshes and should
// outlive the client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("console endpoint is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid console endpoint")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	slog.Info("console_client_init", "endpoint", base.String(), "client_id", cfg.ClientID)

	return &Client{
		baseURL: base,
		http:    cc.Client(ctx),
		maxBody: maxResponseSize,
	}, nil
}

// FindDevices lists devices, optionally filtered by connection state and name.
func (c *Client) FindDevices(ctx context.Context, state ConnectionState, nameFilter string) ([]Device, error) {
	q := url.Values{}
	if state != ConnectionAny {
		q.Set("connectionState", string(state))
	}
	if nameFilter != "" {
		q.Set("device_name", nameFilter)
	}

	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, q, nil, &out, "devices"); err != nil {
		return nil, errors.Wrap(err, "failed to list devices")
	}
	return out.Devices, nil
}

// GetCommandParameters lists every command parameter file registered in the console.
func (c *Client) GetCommandParameters(ctx context.Context) ([]CommandParameterSet, error) {
	var out struct {
		ParameterList []CommandParameterSet `json:"parameter_list"`
	}
	if err := c.do(ctx, http.MethodGet, nil, nil, &out, "command_parameter_files"); err != nil {
		return nil, errors.Wrap(err, "failed to get command parameters")
	}
	return out.ParameterList, nil
}

// SetLogConfig toggles application logging and, when level or destination is
// given, also updates the log destination. Either call failing fails the whole.
func (c *Client) SetLogConfig(ctx context.Context, deviceID string, cfg LogConfig) (*Ack, error) {
	var ack Ack
	body := map[string]any{"enable": cfg.Enabled}
	if err := c.do(ctx, http.MethodPut, nil, body, &ack, "devices", deviceID, "configuration", "applog"); err != nil {
		return nil, errors.Wrap(err, "failed to set applog")
	}

	if cfg.Level == "" && cfg.Destination == "" {
		return &ack, nil
	}

	dest := map[string]any{"SensorRegister": cfg.SensorRegister}
	if cfg.Level != "" {
		dest["level"] = cfg.Level
	}
	if cfg.Destination != "" {
		dest["destination"] = cfg.Destination
	}
	var destAck Ack
	if err := c.do(ctx, http.MethodPut, nil, dest, &destAck, "devices", deviceID, "configuration", "logdestination"); err != nil {
		return nil, errors.Wrap(err, "failed to set log destination")
	}
	return &destAck, nil
}

// StartInference starts uploading inference results from the device.
func (c *Client) StartInference(ctx context.Context, deviceID string) (*StartResult, error) {
	var out StartResult
	if err := c.do(ctx, http.MethodPost, nil, nil, &out, "devices", deviceID, "inferenceresults", "collectstart"); err != nil {
		return nil, errors.Wrap(err, "failed to start inference")
	}
	return &out, nil
}

// GetInferenceResults fetches the most recent count inference results.
func (c *Client) GetInferenceResults(ctx context.Context, deviceID string, count int, raw bool) (ResultEnvelope, error) {
	q := url.Values{}
	q.Set("NumberOfInferenceresults", strconv.Itoa(count))
	if raw {
		q.Set("raw", "1")
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, q, nil, &out, "devices", deviceID, "inferenceresults"); err != nil {
		return nil, errors.Wrap(err, "failed to get inference results")
	}
	return out, nil
}

// GetLogs fetches the topN most recent application logs, whichever run produced them.
func (c *Client) GetLogs(ctx context.Context, deviceID string, topN int) (LogBatch, error) {
	q := url.Values{}
	q.Set("top", strconv.Itoa(topN))
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, q, nil, &out, "devices", deviceID, "applogs"); err != nil {
		return nil, errors.Wrap(err, "failed to get logs")
	}
	return out, nil
}

// StopInference stops uploading inference results from the device.
func (c *Client) StopInference(ctx context.Context, deviceID string) (*Ack, error) {
	var ack Ack
	if err := c.do(ctx, http.MethodPost, nil, nil, &ack, "devices", deviceID, "inferenceresults", "collectstop"); err != nil {
		return nil, errors.Wrap(err, "failed to stop inference")
	}
	return &ack, nil
}

func (c *Client) do(ctx context.Context, method string, query url.Values, body, out any, path ...string) error {
	u := c.baseURL.JoinPath(path...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("console_request", "method", method, "path", u.Path)

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("console_request_failed", "method", method, "path", u.Path, "error", err)
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if int64(len(data)) > c.maxBody {
		slog.Error("console_response_too_large", "method", method, "path", u.Path, "limit_bytes", c.maxBody)
		return fmt.Errorf("%w: %s %s exceeds %d bytes", ErrResponseTooLarge, method, u.Path, c.maxBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		slog.Error("console_request_rejected", "method", method, "path", u.Path, "status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}

	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
