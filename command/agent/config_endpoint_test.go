package agent

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shoenig/test/must"
)

func TestConfigRequest_Get(t *testing.T) {
	_, ts := testServer(t, routingForUpstream("http://127.0.0.1:1"))

	res, err := http.Get(ts.URL + "/api/config")
	must.NoError(t, err)
	defer res.Body.Close()
	must.Eq(t, http.StatusOK, res.StatusCode)
	must.Eq(t, "application/json", res.Header.Get("Content-Type"))

	body, err := io.ReadAll(res.Body)
	must.NoError(t, err)
	must.Eq(t, `{"model-a":{"primary":{"alias":"upstream-model"}}}`, string(body))
}

func TestConfigRequest_Update(t *testing.T) {
	srv, ts := testServer(t, routingForUpstream("http://127.0.0.1:1"))

	update := `{"model-a":{"primary":{}},"model-b":{"primary":{"alias":"b-upstream","enable":false}}}`
	res, err := http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(update))
	must.NoError(t, err)
	defer res.Body.Close()
	must.Eq(t, http.StatusOK, res.StatusCode)

	var out map[string]string
	must.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	must.Eq(t, "success", out["status"])

	// the live table reflects the update
	must.Eq(t, []string{"model-a", "model-b"}, srv.agent.registry.Models())
	routes, ok := srv.agent.registry.Routes("model-b")
	must.True(t, ok)
	must.Eq(t, "b-upstream", routes.Bindings[0].Alias)
	must.False(t, routes.Bindings[0].Enabled())

	// and the change survived the round trip to disk
	cfg, err := LoadRoutingConfig(srv.agent.config.ConfigPath)
	must.NoError(t, err)
	must.Len(t, 2, cfg.Routes)
	must.Eq(t, "model-b", cfg.Routes[1].Model)

	// api_provider was left alone
	must.Eq(t, "sk-primary", cfg.Providers["primary"].APIKey)
}

func TestConfigRequest_UpdateUnknownProvider(t *testing.T) {
	srv, ts := testServer(t, routingForUpstream("http://127.0.0.1:1"))

	res, err := http.Post(ts.URL+"/api/config", "application/json",
		strings.NewReader(`{"model-a":{"nonexistent":{}}}`))
	must.NoError(t, err)
	defer res.Body.Close()
	must.Eq(t, http.StatusBadRequest, res.StatusCode)

	body, _ := io.ReadAll(res.Body)
	must.StrContains(t, string(body), "unknown provider")

	// the table was not touched
	must.Eq(t, []string{"model-a"}, srv.agent.registry.Models())
	routes, _ := srv.agent.registry.Routes("model-a")
	must.Eq(t, "primary", routes.Bindings[0].Provider)
}

func TestConfigRequest_UpdateMalformed(t *testing.T) {
	_, ts := testServer(t, routingForUpstream("http://127.0.0.1:1"))

	res, err := http.Post(ts.URL+"/api/config", "application/json",
		strings.NewReader(`["not","a","table"]`))
	must.NoError(t, err)
	res.Body.Close()
	must.Eq(t, http.StatusBadRequest, res.StatusCode)
}
