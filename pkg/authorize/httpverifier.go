package authorize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPVerifier checks secrets against an external verification endpoint (S-PIN
// service, hCaptcha proxy). The endpoint receives a JSON document and answers
// {"valid": true|false}; any non-200 status is an error, never a rejection, so a
// broken verifier cannot silently wave commands through.
type HTTPVerifier struct {
	url    string
	client http.Client
}

const verifierTimeout = 5 * time.Second

// NewHTTPPINVerifier verifies S-PINs against url.
func NewHTTPPINVerifier(url string) *HTTPVerifier {
	return newHTTPVerifier(url)
}

// NewHTTPChallengeVerifier verifies challenge tokens against url.
func NewHTTPChallengeVerifier(url string) *HTTPVerifier {
	return newHTTPVerifier(url)
}

func newHTTPVerifier(url string) *HTTPVerifier {
	return &HTTPVerifier{url: url, client: http.Client{Timeout: verifierTimeout}}
}

func (v *HTTPVerifier) VerifyPIN(ctx context.Context, ownerID, pin string) (bool, error) {
	return v.verify(ctx, map[string]string{"ownerId": ownerID, "pin": pin})
}

func (v *HTTPVerifier) VerifyChallenge(ctx context.Context, ownerID, token string) (bool, error) {
	return v.verify(ctx, map[string]string{"ownerId": ownerID, "token": token})
}

func (v *HTTPVerifier) verify(ctx context.Context, payload map[string]string) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := v.client.Do(request)
	if err != nil {
		return false, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verification service returned HTTP %d", response.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(response.Body, 4096))
	if err != nil {
		return false, err
	}
	var result struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, fmt.Errorf("unparseable verification response: %w", err)
	}
	return result.Valid, nil
}
