package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// RPC paths served by the BasicR3 LAN API.
const (
	PathInfo   = "/zeroconf/info"
	PathSwitch = "/zeroconf/switch"
)

const (
	// DefaultRequestTimeout bounds one round trip when no timeout is configured.
	DefaultRequestTimeout = 10 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 64 << 10
)

// Client issues RPCs to one device.
//
// Implementations must be safe for concurrent use: the poll loop and
// HandleSet call into the same Client independently.
type Client interface {
	// Info fetches the full state. Returns the snapshot and response seq.
	Info(ctx context.Context, deviceID string) (State, int64, error)

	// Switch sets the relay. Returns the response seq.
	Switch(ctx context.Context, deviceID string, power OnOff) (int64, error)
}

// HTTPClient talks to the device's LAN API over plain HTTP.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the device at host:port.
//
// Parameters:
//   - host: IP address or hostname
//   - port: TCP port of the LAN API
//   - timeout: per-request timeout (0 selects DefaultRequestTimeout)
func NewHTTPClient(host string, port int, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPClient{
		baseURL:    "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Info implements Client.
func (c *HTTPClient) Info(ctx context.Context, deviceID string) (State, int64, error) {
	env, err := c.call(ctx, PathInfo, Request[Empty]{DeviceID: deviceID})
	if err != nil {
		return State{}, 0, err
	}
	if isAbsent(env.Data) {
		return State{}, env.Seq, fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}

	var state State
	if err := json.Unmarshal(env.Data, &state); err != nil {
		return State{}, env.Seq, fmt.Errorf("%w: data: %w", ErrMalformedResponse, err)
	}
	if err := state.validate(); err != nil {
		return State{}, env.Seq, err
	}
	return state, env.Seq, nil
}

// Switch implements Client.
func (c *HTTPClient) Switch(ctx context.Context, deviceID string, power OnOff) (int64, error) {
	if !power.Valid() {
		return 0, fmt.Errorf("device: invalid power value %q", power)
	}
	env, err := c.call(ctx, PathSwitch, Request[SwitchData]{
		DeviceID: deviceID,
		Data:     SwitchData{Power: power},
	})
	if err != nil {
		return 0, err
	}
	return env.Seq, nil
}

// call POSTs body as JSON to path and decodes the shared envelope.
func (c *HTTPClient) call(ctx context.Context, path string, body any) (envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return envelope{}, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %s: %w", ErrTransport, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return envelope{}, fmt.Errorf("%w: reading %s response: %w", ErrTransport, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return envelope{}, fmt.Errorf("%w: %s: status %d", ErrTransport, path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, path, err)
	}
	if !env.Error.OK() {
		return env, fmt.Errorf("%w: %s: code %s (seq %d)", ErrDeviceReported, path, env.Error, env.Seq)
	}
	return env, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
