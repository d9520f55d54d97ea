package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/draiv/vehicle-gateway/internal/metrics"
	"github.com/draiv/vehicle-gateway/internal/server"
	"github.com/draiv/vehicle-gateway/mocks"
	"github.com/draiv/vehicle-gateway/pkg/authorize"
	"github.com/draiv/vehicle-gateway/pkg/backend"
	"github.com/draiv/vehicle-gateway/pkg/fingerprint"
	"github.com/draiv/vehicle-gateway/pkg/gateway"
)

const (
	vin     = "WBA7E2C51JG741337"
	pin     = "1234"
	apiUser = "owner@example.com"
	apiPass = "hunter2"
)

type responseEnvelope struct {
	Success           bool            `json:"success"`
	Data              json.RawMessage `json:"data"`
	ErrorCode         string          `json:"errorCode"`
	ErrorMessage      string          `json:"errorMessage"`
	RetryAfterSeconds int             `json:"retryAfterSeconds"`
}

var _ = Describe("Server", func() {
	var (
		ctrl    *gomock.Controller
		client  *mocks.BackendClient
		handler http.Handler
	)

	sendRequest := func(method, path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.SetBasicAuth(apiUser, apiPass)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	decode := func(rr *httptest.ResponseRecorder) responseEnvelope {
		var env responseEnvelope
		Expect(json.Unmarshal(rr.Body.Bytes(), &env)).To(Succeed())
		return env
	}

	expectAuth := func() {
		client.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(backend.Token{
			Value:     "token-1",
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil).AnyTimes()
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		client = mocks.NewBackendClient(ctrl)
		rotator := fingerprint.New(nil, func() fingerprint.Fingerprint {
			return fingerprint.Fingerprint{Value: "draiv-gw/test"}
		})
		pins := authorize.PINVerifierFunc(func(_ context.Context, _, candidate string) (bool, error) {
			return candidate == pin, nil
		})
		config := gateway.DefaultConfig()
		config.Retry.Attempts = 0
		g := gateway.New(client, rotator, pins, nil, config)

		m := metrics.New()
		g.SetMetrics(m)
		g.Breakers().Observer = m.BreakerTransition

		handler = server.New(g, m).Handler()
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	Context("vehicle reads", func() {
		It("returns the backend payload in the envelope", func() {
			expectAuth()
			client.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(json.RawMessage(`{"locked":true}`), nil)

			rr := sendRequest(http.MethodGet, "/api/1/vehicles/"+vin+"/status", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			env := decode(rr)
			Expect(env.Success).To(BeTrue())
			Expect(env.Data).To(MatchJSON(`{"locked":true}`))
		})

		It("rejects mutating actions on the read route", func() {
			rr := sendRequest(http.MethodGet, "/api/1/vehicles/"+vin+"/unlock", nil)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rr).ErrorCode).To(Equal("VALIDATION_ERROR"))
		})

		It("requires credentials", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/1/vehicles/"+vin+"/status", nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
			Expect(rr.Header().Get("WWW-Authenticate")).NotTo(BeEmpty())
		})
	})

	Context("vehicle commands", func() {
		It("dispatches a privileged command with a valid PIN", func() {
			expectAuth()
			client.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(json.RawMessage(`{"ok":true}`), nil)

			body := []byte(`{"pin":"1234"}`)
			rr := sendRequest(http.MethodPost, "/api/1/vehicles/"+vin+"/command/lock", body)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(decode(rr).Success).To(BeTrue())
		})

		It("refuses a wrong PIN without touching the backend", func() {
			expectAuth()

			body := []byte(`{"pin":"0000"}`)
			rr := sendRequest(http.MethodPost, "/api/1/vehicles/"+vin+"/command/lock", body)
			Expect(rr.Code).To(Equal(http.StatusForbidden))
			Expect(decode(rr).ErrorCode).To(Equal("INVALID_SECONDARY_SECRET"))
		})

		It("rejects an unparseable body", func() {
			rr := sendRequest(http.MethodPost, "/api/1/vehicles/"+vin+"/command/lock", []byte("{"))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects an unknown action", func() {
			rr := sendRequest(http.MethodPost, "/api/1/vehicles/"+vin+"/command/self_destruct", nil)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("backend failures", func() {
		It("maps a quota pause to 429 with a Retry-After header", func() {
			expectAuth()
			quota := &backend.Error{Kind: backend.KindQuota, Message: "out of call volume quota", RetryAfter: 2 * time.Minute}
			client.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, quota)

			rr := sendRequest(http.MethodGet, "/api/1/vehicles/"+vin+"/status", nil)
			Expect(rr.Code).To(Equal(http.StatusTooManyRequests))
			env := decode(rr)
			Expect(env.ErrorCode).To(Equal("QUOTA_PAUSED"))
			Expect(env.RetryAfterSeconds).To(Equal(120))
			Expect(rr.Header().Get("Retry-After")).To(Equal("120"))
		})

		It("maps an open circuit to 503", func() {
			expectAuth()
			flaky := backend.NewError(backend.KindTransient, "upstream 503")
			client.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, flaky).Times(5)

			for i := 0; i < 5; i++ {
				rr := sendRequest(http.MethodPost, "/api/1/vehicles/"+vin+"/command/honk_horn", nil)
				Expect(rr.Code).To(Equal(http.StatusBadGateway))
			}
			rr := sendRequest(http.MethodPost, "/api/1/vehicles/"+vin+"/command/honk_horn", nil)
			Expect(rr.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(decode(rr).ErrorCode).To(Equal("CIRCUIT_OPEN"))
		})

		It("maps rejected credentials to 401", func() {
			rejected := backend.NewError(backend.KindAuthentication, "invalid credentials")
			client.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(backend.Token{}, rejected)

			rr := sendRequest(http.MethodGet, "/api/1/vehicles/"+vin+"/status", nil)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})

		It("maps an unknown vehicle to 404", func() {
			expectAuth()
			missing := backend.NewError(backend.KindNotFound, "unknown vehicle")
			client.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, missing)

			rr := sendRequest(http.MethodGet, "/api/1/vehicles/"+vin+"/status", nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rr).ErrorCode).To(Equal("RESOURCE_NOT_FOUND"))
		})
	})

	Context("session lifecycle", func() {
		It("logout forces a fresh authentication", func() {
			client.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(backend.Token{
				Value: "token-1", ExpiresAt: time.Now().Add(time.Hour),
			}, nil).Times(2)
			client.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(json.RawMessage(`{}`), nil).Times(2)

			Expect(sendRequest(http.MethodPost, "/api/1/vehicles/"+vin+"/command/honk_horn", nil).Code).To(Equal(http.StatusOK))
			Expect(sendRequest(http.MethodPost, "/api/1/logout", nil).Code).To(Equal(http.StatusOK))
			Expect(sendRequest(http.MethodPost, "/api/1/vehicles/"+vin+"/command/honk_horn", nil).Code).To(Equal(http.StatusOK))
		})
	})

	Context("operational endpoints", func() {
		It("serves breaker state on /healthz", func() {
			expectAuth()
			client.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(json.RawMessage(`{}`), nil)
			sendRequest(http.MethodGet, "/api/1/vehicles/"+vin+"/status", nil)

			rr := sendRequest(http.MethodGet, "/healthz", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(ContainSubstring("status-read"))
			Expect(rr.Body.String()).To(ContainSubstring("CLOSED"))
		})

		It("exposes Prometheus metrics", func() {
			rr := sendRequest(http.MethodGet, "/metrics", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(ContainSubstring("go_goroutines"))
		})
	})
})
