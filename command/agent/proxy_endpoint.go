package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/modelgate/modelgate/gateway/structs"
	"github.com/modelgate/modelgate/gateway/tokenize"
	"github.com/modelgate/modelgate/helper/uuid"
)

const (
	// doneSentinel ends a well-formed completion stream.
	doneSentinel = "data: [DONE]"

	// maxLoggedChunks bounds per-request chunk logging; streams are
	// logged in full to the interaction log regardless.
	maxLoggedChunks = 5

	// maxErrorBody bounds how much of an upstream error body is read.
	maxErrorBody = 1 << 20
)

// errorEnvelope wraps an error message in a completion-shaped body so
// downstream agent tooling never sees a bare transport failure.
func errorEnvelope(msg string) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"choices": []interface{}{
			map[string]interface{}{
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": msg,
				},
			},
		},
	})
	if err != nil {
		return []byte(`{"choices":[]}`)
	}
	return body
}

// ProxyRequest is the dispatcher for POST /v1/{path}. It estimates the
// request's token cost, selects a provider with remaining budget,
// rewrites headers and the model alias, and proxies the exchange in
// buffered or streaming mode. Failover happens only at selection time;
// once bytes flow the chosen provider is final.
func (s *HTTPServer) ProxyRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}

	uri := strings.TrimPrefix(req.URL.Path, "/v1/")
	reqID := uuid.Short()
	logger := s.logger.With("req_id", reqID, "uri", uri)

	rawBody, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
	}
	s.agent.interactions.Request(rawBody)

	var body map[string]interface{}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, CodedError(http.StatusBadRequest, fmt.Sprintf("request body is not valid JSON: %v", err))
	}

	model, _ := body["model"].(string)
	if model == "" {
		return nil, CodedError(http.StatusBadRequest, "request body must name a model")
	}
	stream, _ := body["stream"].(bool)

	tokenCount := tokenize.Estimate(body)
	logger.Info("dispatching request", "model", model, "stream", stream, "tokens", tokenCount)

	selection, err := s.agent.selector.Select(model, tokenCount)
	if err != nil {
		return nil, err
	}
	provider, ok := s.agent.registry.Provider(selection.Provider)
	if !ok {
		return nil, CodedError(http.StatusNotFound,
			fmt.Sprintf("provider %q not found in config", selection.Provider))
	}
	logger = logger.With("provider", provider.Name, "model", selection.Model)

	if selection.Alias != "" {
		body["model"] = selection.Alias
		logger.Info("model replaced by binding alias", "alias", selection.Alias)
	}
	outBody, err := json.Marshal(body)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err.Error())
	}

	headers := upstreamHeaders(req.Header, provider)
	targetURL := fmt.Sprintf("%s/%s", provider.BaseURL, uri)

	if stream {
		s.proxyStream(resp, req, provider.Name, targetURL, headers, outBody, logger)
	} else {
		s.proxyBuffered(resp, req, provider.Name, targetURL, headers, outBody, logger)
	}
	return nil, nil
}

// upstreamHeaders derives the outbound header set: everything inbound
// except the hop-specific fields, with the provider's key replacing
// the client's Authorization when one is configured.
func upstreamHeaders(in http.Header, provider *structs.Provider) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		switch http.CanonicalHeaderKey(name) {
		case "Host", "Content-Length", "Accept-Encoding":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if provider.APIKey != "" {
		out.Set("Authorization", "Bearer "+provider.APIKey)
	}
	out.Set("Content-Type", "application/json")
	return out
}

// proxyBuffered performs a full request/response exchange and relays
// the upstream body. Transport failures and upstream HTTP errors are
// wrapped in a completion-shaped envelope.
func (s *HTTPServer) proxyBuffered(resp http.ResponseWriter, req *http.Request, provider, url string, headers http.Header, body []byte, logger hclog.Logger) {
	outReq, err := http.NewRequestWithContext(req.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		logger.Error("failed to build upstream request", "error", err)
		writeJSON(resp, http.StatusInternalServerError, errorEnvelope(err.Error()))
		return
	}
	outReq.Header = headers

	res, err := s.agent.bufferedClient.Do(outReq)
	if err != nil {
		logger.Error("upstream request failed", "error", err)
		writeJSON(resp, http.StatusInternalServerError, errorEnvelope(err.Error()))
		return
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		logger.Error("failed to read upstream response", "error", err)
		writeJSON(resp, http.StatusInternalServerError, errorEnvelope(err.Error()))
		return
	}
	s.agent.interactions.Response(string(resBody))

	if res.StatusCode >= 400 {
		s.agent.governor.RecordError(provider)
		logger.Error("upstream returned error status", "status", res.StatusCode, "body", string(resBody))
		metrics.IncrCounterWithLabels([]string{"gateway", "proxy", "upstream_error"}, 1,
			[]metrics.Label{{Name: "provider", Value: provider}})
		writeJSON(resp, res.StatusCode, errorEnvelope(
			fmt.Sprintf("upstream error %d: %s", res.StatusCode, resBody)))
		return
	}

	writeJSON(resp, res.StatusCode, resBody)
}

func writeJSON(resp http.ResponseWriter, code int, body []byte) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(code)
	resp.Write(body)
}

// proxyStream relays a server-sent-event stream verbatim. Upstream
// errors discovered before the first forwarded byte mirror the
// upstream status; failures mid-stream are appended in-band as a JSON
// chunk since the status line is already gone.
func (s *HTTPServer) proxyStream(resp http.ResponseWriter, req *http.Request, provider, url string, headers http.Header, body []byte, logger hclog.Logger) {
	outReq, err := http.NewRequestWithContext(req.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		logger.Error("failed to build upstream request", "error", err)
		writeStreamError(resp, http.StatusInternalServerError, err.Error())
		return
	}
	outReq.Header = headers

	res, err := s.agent.streamClient.Do(outReq)
	if err != nil {
		logger.Error("upstream request failed", "error", err)
		writeStreamError(resp, http.StatusInternalServerError, err.Error())
		return
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		envelope := decodeErrorEnvelope(errBody)
		s.agent.governor.RecordError(provider)
		logger.Error("upstream returned error status", "status", res.StatusCode, "body", string(errBody))
		metrics.IncrCounterWithLabels([]string{"gateway", "proxy", "upstream_error"}, 1,
			[]metrics.Label{{Name: "provider", Value: provider}})
		s.agent.interactions.Response(string(errBody))

		resp.Header().Set("Content-Type", "text/event-stream")
		resp.WriteHeader(res.StatusCode)
		resp.Write(envelope)
		return
	}

	resp.Header().Set("Content-Type", "text/event-stream")
	resp.WriteHeader(http.StatusOK)
	flusher, _ := resp.(http.Flusher)

	var fullResponse strings.Builder
	var carry string
	seenDone := false
	chunkIndex := 0

	buf := make([]byte, 32*1024)
	for {
		n, readErr := res.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			fullResponse.Write(chunk)

			chunkStr := string(chunk)
			if chunkIndex < maxLoggedChunks {
				logger.Info("stream chunk", "index", chunkIndex, "chunk", strings.TrimRight(chunkStr, "\n"))
			} else if chunkIndex == maxLoggedChunks {
				logger.Info("stream chunk logging truncated")
			}
			chunkIndex++

			// the sentinel may straddle a chunk boundary
			if strings.Contains(carry+chunkStr, doneSentinel) {
				seenDone = true
			}
			if len(chunkStr) >= len(doneSentinel) {
				carry = chunkStr[len(chunkStr)-len(doneSentinel)+1:]
			} else {
				carry = (carry + chunkStr)
				if len(carry) >= len(doneSentinel) {
					carry = carry[len(carry)-len(doneSentinel)+1:]
				}
			}

			if _, writeErr := resp.Write(chunk); writeErr != nil {
				// client went away; drop the upstream read, usage
				// stays committed
				logger.Warn("client disconnected mid-stream", "error", writeErr)
				s.agent.interactions.Response(fullResponse.String())
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			logger.Error("upstream stream failed", "error", readErr)
			errChunk, _ := json.Marshal(map[string]string{"error": readErr.Error()})
			resp.Write(errChunk)
			if flusher != nil {
				flusher.Flush()
			}
			s.agent.interactions.Response(fullResponse.String())
			return
		}
	}

	s.agent.interactions.Response(fullResponse.String())
	if !seenDone {
		logger.Warn("stream ended without done sentinel", "provider", provider)
	}
}

// writeStreamError reports a failure that happened before any stream
// bytes were forwarded.
func writeStreamError(resp http.ResponseWriter, code int, msg string) {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		body = []byte(`{"error":"stream failed"}`)
	}
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.WriteHeader(code)
	resp.Write(body)
}

// decodeErrorEnvelope re-encodes an upstream error body as a JSON
// object, wrapping non-object payloads under an error key.
func decodeErrorEnvelope(body []byte) []byte {
	var asObject map[string]interface{}
	if err := json.Unmarshal(body, &asObject); err == nil {
		return body
	}
	wrapped, err := json.Marshal(map[string]string{"error": string(body)})
	if err != nil {
		return []byte(`{"error":"upstream error"}`)
	}
	return wrapped
}
