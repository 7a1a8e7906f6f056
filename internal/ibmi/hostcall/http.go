package hostcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/metrics"
)

// HTTPConfig holds configuration for the program call gateway client.
type HTTPConfig struct {
	// URL is the base URL of the gateway.
	URL string

	// Token is an optional bearer token.
	Token string

	// Timeout bounds a single call.
	Timeout time.Duration
}

// HTTPCaller implements Caller against a program call gateway that runs next
// to the host and exposes program calls as JSON over HTTP.
type HTTPCaller struct {
	config HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPCaller creates a new gateway client.
func NewHTTPCaller(cfg HTTPConfig, logger *slog.Logger) *HTTPCaller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPCaller{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("component", "hostcall"),
	}
}

// Call issues the program call through the gateway.
func (c *HTTPCaller) Call(ctx context.Context, call ProgramCall) ([][]byte, error) {
	program := call.Library + "/" + call.Program
	start := time.Now()

	outputs, err := c.call(ctx, call)

	metrics.HostCallDuration.WithLabelValues(program).Observe(time.Since(start).Seconds())
	status := "ok"
	if id, ok := MessageID(err); ok {
		status = id
	} else if err != nil {
		status = "error"
	}
	metrics.HostCallsTotal.WithLabelValues(program, status).Inc()

	return outputs, err
}

func (c *HTTPCaller) call(ctx context.Context, call ProgramCall) ([][]byte, error) {
	body := callRequest{
		Library:   call.Library,
		Program:   call.Program,
		Procedure: call.Procedure,
	}
	for _, p := range call.Params {
		body.Parameters = append(body.Parameters, callParameter{
			Name:         p.Name,
			Input:        p.Input,
			OutputLength: p.OutputLength,
		})
	}

	resp, err := c.doRequest(ctx, http.MethodPost, strings.TrimRight(c.config.URL, "/")+"/v1/call", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, call, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(call, resp)
	}

	var result callResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %w", ErrTransport, call, err)
	}

	if result.MessageID != "" {
		c.logger.Debug("host returned a diagnostic message",
			"program", call.String(),
			"message_id", result.MessageID,
		)
		return nil, &HostError{
			Program:   call.String(),
			MessageID: result.MessageID,
			Text:      result.MessageText,
		}
	}

	if len(result.Outputs) != len(call.Params) {
		return nil, fmt.Errorf("%w: %s: got %d buffers for %d parameters",
			ErrOutputMismatch, call, len(result.Outputs), len(call.Params))
	}

	return result.Outputs, nil
}

// doRequest performs an HTTP request to the gateway.
func (c *HTTPCaller) doRequest(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	return c.client.Do(req)
}

// parseError parses a non-success response from the gateway.
func (c *HTTPCaller) parseError(call ProgramCall, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: gateway status %d", ErrTransport, call, resp.StatusCode)
	}
	return fmt.Errorf("%w: %s: gateway status %d: %s", ErrTransport, call, resp.StatusCode, strings.TrimSpace(string(body)))
}

// Gateway request/response types. Byte slices travel as base64.

type callRequest struct {
	Library    string          `json:"library"`
	Program    string          `json:"program"`
	Procedure  string          `json:"procedure,omitempty"`
	Parameters []callParameter `json:"parameters"`
}

type callParameter struct {
	Name         string `json:"name"`
	Input        []byte `json:"input,omitempty"`
	OutputLength int    `json:"output_length,omitempty"`
}

type callResponse struct {
	Outputs     [][]byte `json:"outputs"`
	MessageID   string   `json:"message_id,omitempty"`
	MessageText string   `json:"message_text,omitempty"`
}
