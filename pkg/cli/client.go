package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/draiv/vehicle-gateway/pkg/apierr"
)

// MaxResponseLength caps gateway responses read into memory.
const MaxResponseLength = 1 << 20

// Client talks to a running gateway over HTTP.
type Client struct {
	baseURL  string
	username string
	password string
	owner    string
	client   http.Client
}

func NewClient(baseURL, username, password, owner string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		owner:    owner,
	}
}

type responseEnvelope struct {
	Success           bool            `json:"success"`
	Data              json.RawMessage `json:"data"`
	ErrorCode         string          `json:"errorCode"`
	ErrorMessage      string          `json:"errorMessage"`
	RetryAfterSeconds int             `json:"retryAfterSeconds"`
}

// Read fetches a read-only action for the vehicle.
func (c *Client) Read(ctx context.Context, vin, action string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/api/1/vehicles/%s/%s", c.baseURL, vin, action)
	return c.do(ctx, http.MethodGet, url, nil)
}

// Command sends a vehicle command. pin and challenge may be empty for
// non-privileged commands.
func (c *Client) Command(ctx context.Context, vin, action, pin, challenge string, params map[string]interface{}) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/api/1/vehicles/%s/command/%s", c.baseURL, vin, action)
	body, err := json.Marshal(map[string]interface{}{
		"pin":       pin,
		"challenge": challenge,
		"params":    params,
	})
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, url, body)
}

// Logout destroys the owner's gateway session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/1/logout", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	request.SetBasicAuth(c.username, c.password)
	if c.owner != "" {
		request.Header.Set("X-Owner-ID", c.owner)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, MaxResponseLength))
	if err != nil {
		return nil, err
	}
	var env responseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("gateway returned HTTP %d with unparseable body", response.StatusCode)
	}
	if !env.Success {
		return nil, &apierr.Error{
			Code:       apierr.Code(env.ErrorCode),
			Message:    env.ErrorMessage,
			RetryAfter: time.Duration(env.RetryAfterSeconds) * time.Second,
		}
	}
	return env.Data, nil
}
