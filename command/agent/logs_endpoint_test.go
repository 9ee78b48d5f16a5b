package agent

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shoenig/test/must"
)

func TestErrorLogsRequest(t *testing.T) {
	srv, ts := testServer(t, routingForUpstream("http://127.0.0.1:1"))

	srv.agent.logBuffer.Write([]byte(
		"2026-08-24T10:00:00.000Z [INFO]  agent: context line one\n" +
			"2026-08-24T10:00:01.000Z [INFO]  agent: context line two\n" +
			"2026-08-24T10:00:02.000Z [ERROR] agent: upstream request failed: timeout\n"))

	res, err := http.Get(ts.URL + "/api/error_logs")
	must.NoError(t, err)
	defer res.Body.Close()
	must.Eq(t, http.StatusOK, res.StatusCode)

	var out map[string][]string
	must.NoError(t, json.NewDecoder(res.Body).Decode(&out))

	logs := out["error_logs"]
	must.Len(t, 1, logs)
	must.StrContains(t, logs[0], "upstream request failed")
	must.StrContains(t, logs[0], "context line one")
}

func TestErrorLogsRequest_Empty(t *testing.T) {
	_, ts := testServer(t, routingForUpstream("http://127.0.0.1:1"))

	res, err := http.Get(ts.URL + "/api/error_logs")
	must.NoError(t, err)
	defer res.Body.Close()

	var out map[string][]string
	must.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	must.NotNil(t, out["error_logs"])
	must.Len(t, 0, out["error_logs"])
}
