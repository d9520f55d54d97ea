package oemrest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/draiv/vehicle-gateway/pkg/backend"
)

const (
	testBaseURL = "https://api.oem.example"
	testVIN     = "WVWZZZ1KZAW000001"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := New(testBaseURL)
	httpmock.ActivateNonDefault(&c.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestExecuteReadUsesGet(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v1/vehicles/"+testVIN+"/status",
		func(req *http.Request) (*http.Response, error) {
			if ua := req.Header.Get("x-user-agent"); ua != "draiv-gw/abc123" {
				t.Errorf("x-user-agent = %q", ua)
			}
			if auth := req.Header.Get("Authorization"); auth != "Bearer token-1" {
				t.Errorf("Authorization = %q", auth)
			}
			return httpmock.NewStringResponse(200, `{"response": {"locked": true}}`), nil
		})

	payload, err := c.Execute(context.Background(), backend.Call{
		Fingerprint: "draiv-gw/abc123",
		Session:     "token-1",
		Operation:   backend.OpStatus,
		ResourceID:  testVIN,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %s", err)
	}
	if string(payload) != `{"locked": true}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestExecuteCommandUsesPost(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/v1/vehicles/"+testVIN+"/lock",
		httpmock.NewStringResponder(200, `{"response": {"result": true}}`))

	_, err := c.Execute(context.Background(), backend.Call{
		Operation:  backend.OpLock,
		ResourceID: testVIN,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %s", err)
	}
}

func TestExecuteQuotaStatus(t *testing.T) {
	c := newTestClient(t)
	rsp := httpmock.NewStringResponder(429, `{"response": null, "error": "Out of call volume quota"}`)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v1/vehicles/"+testVIN+"/status",
		rsp.HeaderSet(http.Header{"Retry-After": []string{"120"}}))

	_, err := c.Execute(context.Background(), backend.Call{
		Operation:  backend.OpStatus,
		ResourceID: testVIN,
	})
	if backend.KindOf(err) != backend.KindQuota {
		t.Fatalf("kind = %s, want quota", backend.KindOf(err))
	}
	if hint := backend.RetryAfterHint(err); hint != 2*time.Minute {
		t.Errorf("retryAfter = %s, want 2m0s", hint)
	}
}

func TestExecuteQuotaDisguisedAsForbidden(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/v1/vehicles/"+testVIN+"/lock",
		httpmock.NewStringResponder(403, `{"response": null, "error": "Out of call volume quota. Quota will be replenished in 00:05:00"}`))

	_, err := c.Execute(context.Background(), backend.Call{
		Operation:  backend.OpLock,
		ResourceID: testVIN,
	})
	if backend.KindOf(err) != backend.KindQuota {
		t.Fatalf("kind = %s, want quota", backend.KindOf(err))
	}
	if hint := backend.RetryAfterHint(err); hint != 5*time.Minute {
		t.Errorf("retryAfter = %s, want 5m0s", hint)
	}
}

func TestExecuteErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   backend.Kind
	}{
		{401, backend.KindAuthentication},
		{404, backend.KindNotFound},
		{503, backend.KindTransient},
		{500, backend.KindTransient},
		{418, backend.KindUnknown},
	}
	for _, tc := range cases {
		c := newTestClient(t)
		httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v1/vehicles/"+testVIN+"/status",
			httpmock.NewStringResponder(tc.status, `{"response": null, "error": "nope"}`))
		_, err := c.Execute(context.Background(), backend.Call{
			Operation:  backend.OpStatus,
			ResourceID: testVIN,
		})
		if backend.KindOf(err) != tc.want {
			t.Errorf("status %d: kind = %s, want %s", tc.status, backend.KindOf(err), tc.want)
		}
		httpmock.DeactivateAndReset()
	}
}

func TestAuthenticate(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/v1/auth/token",
		httpmock.NewStringResponder(200, `{"access_token": "tok", "expires_in": 3600}`))

	token, err := c.Authenticate(context.Background(), backend.AuthRequest{
		Owner:    "owner-1",
		Username: "user@example.com",
		Password: "hunter2",
	})
	if err != nil {
		t.Fatalf("Authenticate returned error: %s", err)
	}
	if token.Value != "tok" {
		t.Errorf("token = %q", token.Value)
	}
	if token.ExpiresAt.Before(time.Now().Add(59 * time.Minute)) {
		t.Errorf("expiry not derived from expires_in: %s", token.ExpiresAt)
	}
}

func TestAuthenticateRejected(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/v1/auth/token",
		httpmock.NewStringResponder(401, `{"response": null, "error": "Invalid credentials provided"}`))

	_, err := c.Authenticate(context.Background(), backend.AuthRequest{Owner: "owner-1"})
	if backend.KindOf(err) != backend.KindAuthentication {
		t.Fatalf("kind = %s, want authentication", backend.KindOf(err))
	}
}
