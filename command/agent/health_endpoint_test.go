package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shoenig/test/must"
)

func TestHealthCheckRequest(t *testing.T) {
	var gotBody map[string]interface{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		must.Eq(t, "/v1/chat/completions", r.URL.Path)
		must.Eq(t, "Bearer sk-primary", r.Header.Get("Authorization"))
		must.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"choices":[{"message":{"content":"Hi"}}]}`))
	}))
	defer upstream.Close()

	_, ts := testServer(t, routingForUpstream(upstream.URL))

	res, err := http.Post(ts.URL+"/api/health_check", "application/json",
		strings.NewReader(`{"provider":"primary","model":"upstream-model"}`))
	must.NoError(t, err)
	defer res.Body.Close()
	must.Eq(t, http.StatusOK, res.StatusCode)

	var out healthCheckResponse
	must.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	must.Eq(t, "healthy", out.Status)
	must.Eq(t, "primary", out.Provider)
	must.Eq(t, "upstream-model", out.Model)
	must.GreaterEq(t, 0, out.ResponseTime)

	// the probe is minimal and cheap
	must.Eq(t, "upstream-model", gotBody["model"].(string))
	must.Eq(t, float64(5), gotBody["max_tokens"].(float64))
}

func TestHealthCheckRequest_Unhealthy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer upstream.Close()

	srv, ts := testServer(t, routingForUpstream(upstream.URL))

	res, err := http.Post(ts.URL+"/api/health_check", "application/json",
		strings.NewReader(`{"provider":"primary","model":"upstream-model"}`))
	must.NoError(t, err)
	defer res.Body.Close()
	must.Eq(t, http.StatusOK, res.StatusCode)

	var out healthCheckResponse
	must.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	must.Eq(t, "unhealthy", out.Status)
	must.StrContains(t, out.Error, "HTTP 401")

	// the probe bypasses the governor entirely
	limited, _ := srv.agent.governor.ErrorState("primary")
	must.False(t, limited)
	snap := srv.agent.governor.Snapshot(srv.agent.registry.Limits)
	must.MapNotContainsKey(t, snap.Data, "primary")
}

func TestHealthCheckRequest_Validation(t *testing.T) {
	_, ts := testServer(t, routingForUpstream("http://127.0.0.1:1"))

	cases := []struct {
		name string
		body string
		code int
	}{
		{name: "missing provider", body: `{"model":"m"}`, code: http.StatusBadRequest},
		{name: "missing model", body: `{"provider":"primary"}`, code: http.StatusBadRequest},
		{name: "unknown provider", body: `{"provider":"ghost","model":"m"}`, code: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := http.Post(ts.URL+"/api/health_check", "application/json",
				strings.NewReader(tc.body))
			must.NoError(t, err)
			res.Body.Close()
			must.Eq(t, tc.code, res.StatusCode)
		})
	}
}
