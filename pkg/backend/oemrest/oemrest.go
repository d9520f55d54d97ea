// Package oemrest implements backend.Client against the OEM cloud's REST surface.
package oemrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/draiv/vehicle-gateway/internal/log"
	"github.com/draiv/vehicle-gateway/pkg/backend"
)

// MaxResponseLength bounds response bodies read from the OEM cloud.
const MaxResponseLength = 1 << 20

// Client talks to the OEM cloud over HTTPS. Requests are tagged with the deployment
// fingerprint as both User-Agent and x-user-agent; the OEM tracks quota by the
// latter.
type Client struct {
	BaseURL string
	client  http.Client
}

// New creates a Client for the given base URL, e.g. "https://api.oem.example".
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

// readOperations use GET; everything else POSTs a JSON body.
var readOperations = map[backend.Operation]bool{
	backend.OpStatus:       true,
	backend.OpLocation:     true,
	backend.OpFuelLevel:    true,
	backend.OpChargeState:  true,
	backend.OpMileage:      true,
	backend.OpCapabilities: true,
}

type apiEnvelope struct {
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error"`
}

func (c *Client) Execute(ctx context.Context, call backend.Call) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/api/v1/vehicles/%s/%s", c.BaseURL, call.ResourceID, call.Operation)

	var request *http.Request
	var err error
	if readOperations[call.Operation] {
		request, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	} else {
		var body []byte
		body, err = json.Marshal(call.Params)
		if err != nil {
			return nil, err
		}
		request, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	}
	if err != nil {
		return nil, &backend.Error{Kind: backend.KindTransient, Message: "building request", Cause: err}
	}
	c.setHeaders(request, call.Fingerprint)
	request.Header.Set("Authorization", "Bearer "+call.Session)

	log.Debug("Sending %s to %s", call.Operation, url)
	body, err := c.do(request)
	if err != nil {
		return nil, err
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &backend.Error{Kind: backend.KindUnknown, Message: "unable to parse server response", Cause: err}
	}
	return envelope.Response, nil
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

func (c *Client) Authenticate(ctx context.Context, req backend.AuthRequest) (backend.Token, error) {
	body, err := json.Marshal(map[string]string{
		"username": req.Username,
		"password": req.Password,
	})
	if err != nil {
		return backend.Token{}, err
	}

	url := c.BaseURL + "/api/v1/auth/token"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backend.Token{}, &backend.Error{Kind: backend.KindTransient, Message: "building request", Cause: err}
	}
	c.setHeaders(request, req.Fingerprint)

	log.Debug("Authenticating owner %s", req.Owner)
	rspBody, err := c.do(request)
	if err != nil {
		return backend.Token{}, err
	}

	var rsp authResponse
	if err := json.Unmarshal(rspBody, &rsp); err != nil {
		return backend.Token{}, &backend.Error{Kind: backend.KindUnknown, Message: "unable to parse auth response", Cause: err}
	}
	if rsp.AccessToken == "" {
		return backend.Token{}, backend.NewError(backend.KindAuthentication, "server returned no access token")
	}
	token := backend.Token{Value: rsp.AccessToken}
	if rsp.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(rsp.ExpiresIn) * time.Second)
	}
	return token, nil
}

func (c *Client) setHeaders(request *http.Request, fingerprint string) {
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "*/*")
	request.Header.Set("User-Agent", fingerprint)
	request.Header.Set("x-user-agent", fingerprint)
}

func (c *Client) do(request *http.Request) ([]byte, error) {
	result, err := c.client.Do(request)
	if err != nil {
		return nil, &backend.Error{Kind: backend.KindTransient, Message: "request failed", Cause: err}
	}
	defer result.Body.Close()

	reader := io.LimitedReader{R: result.Body, N: MaxResponseLength + 1}
	body, err := io.ReadAll(&reader)
	if err != nil {
		return nil, &backend.Error{Kind: backend.KindTransient, Message: "reading response", Cause: err}
	}
	if len(body) == MaxResponseLength+1 {
		return nil, backend.NewError(backend.KindUnknown, "response exceeds maximum length")
	}

	log.Debug("Server returned %d: %s", result.StatusCode, http.StatusText(result.StatusCode))
	if result.StatusCode == http.StatusOK {
		return body, nil
	}
	return nil, statusError(result, body)
}

// statusError maps a non-200 response to a typed backend error. Quota conditions are
// recognized both by status code and by message pattern: some OEM endpoints report
// quota exhaustion as 403 with an explanatory body.
func statusError(result *http.Response, body []byte) *backend.Error {
	message := errorMessage(body)
	if message == "" {
		message = http.StatusText(result.StatusCode)
	}

	switch result.StatusCode {
	case http.StatusTooManyRequests:
		berr := backend.QuotaError(message)
		if berr.RetryAfter == 0 {
			if secs, err := strconv.Atoi(result.Header.Get("Retry-After")); err == nil && secs > 0 {
				berr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return berr
	case http.StatusUnauthorized, http.StatusForbidden:
		if backend.IsQuotaMessage(message) {
			return backend.QuotaError(message)
		}
		return backend.NewError(backend.KindAuthentication, message)
	case http.StatusNotFound:
		return backend.NewError(backend.KindNotFound, message)
	case http.StatusRequestTimeout, http.StatusServiceUnavailable,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return backend.NewError(backend.KindTransient, message)
	default:
		if result.StatusCode >= 500 {
			return backend.NewError(backend.KindTransient, message)
		}
		return backend.NewError(backend.KindUnknown, message)
	}
}

func errorMessage(body []byte) string {
	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return string(body)
}
