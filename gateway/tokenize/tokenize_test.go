package tokenize

import (
	"encoding/json"
	"testing"

	"github.com/shoenig/test/must"
)

func body(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	must.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		exp  string
	}{
		{
			name: "plain strings",
			raw:  `{"messages":[{"role":"user","content":"hello "},{"role":"assistant","content":"world"}]}`,
			exp:  "hello world",
		},
		{
			name: "multi-part content is stringified",
			raw:  `{"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`,
			exp:  `[{"text":"hi","type":"text"}]`,
		},
		{
			name: "missing messages",
			raw:  `{"model":"x"}`,
			exp:  "",
		},
		{
			name: "messages not a list",
			raw:  `{"messages":"nope"}`,
			exp:  "",
		},
		{
			name: "null and missing content skipped",
			raw:  `{"messages":[{"role":"user"},{"role":"user","content":null},{"role":"user","content":"ok"}]}`,
			exp:  "ok",
		},
		{
			name: "non-object message skipped",
			raw:  `{"messages":[42,{"role":"user","content":"kept"}]}`,
			exp:  "kept",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			must.Eq(t, tc.exp, Extract(body(t, tc.raw)))
		})
	}
}

// requireEncoding skips tests that need the BPE table when it cannot
// be loaded, e.g. in sandboxed CI without the tiktoken cache.
func requireEncoding(t *testing.T) {
	t.Helper()
	if _, err := getEncoding(); err != nil {
		t.Skipf("encoding %s unavailable: %v", encodingName, err)
	}
}

func TestEstimate_Deterministic(t *testing.T) {
	requireEncoding(t)
	b := body(t, `{"messages":[{"role":"user","content":"The quick brown fox jumps over the lazy dog"}]}`)

	first := Estimate(b)
	must.Positive(t, first)

	for i := 0; i < 3; i++ {
		must.Eq(t, first, Estimate(b))
	}
}

func TestEstimate_Empty(t *testing.T) {
	must.Eq(t, 0, Estimate(map[string]interface{}{}))
	must.Eq(t, 0, CountText(""))
}

func TestEstimate_GrowsWithContent(t *testing.T) {
	requireEncoding(t)
	short := body(t, `{"messages":[{"role":"user","content":"hi"}]}`)
	long := body(t, `{"messages":[{"role":"user","content":"hi there, this is a considerably longer message body"}]}`)

	must.Less(t, Estimate(long), Estimate(short))
}
