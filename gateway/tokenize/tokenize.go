// Package tokenize estimates the token cost of a chat-completion
// request body. The estimate feeds the governor's TPM and TPR
// accounting, so it must be deterministic and must never fail: any
// part of the payload that cannot be interpreted simply contributes
// nothing.
package tokenize

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the BPE table used for estimation. Counting with a
// single well-known encoding keeps budgets comparable across
// providers, even where an upstream tokenizes differently.
const encodingName = "cl100k_base"

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

func getEncoding() (*tiktoken.Tiktoken, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding(encodingName)
	})
	return encoding, encodingErr
}

// Extract concatenates the content fields of the request body's
// messages array. Non-string content (multi-part messages) is
// rendered as its JSON text. Anything malformed is skipped.
func Extract(body map[string]interface{}) string {
	rawMessages, ok := body["messages"]
	if !ok {
		return ""
	}
	messages, ok := rawMessages.([]interface{})
	if !ok {
		return ""
	}

	var sb strings.Builder
	for _, rawMsg := range messages {
		msg, ok := rawMsg.(map[string]interface{})
		if !ok {
			continue
		}
		content, ok := msg["content"]
		if !ok || content == nil {
			continue
		}
		switch c := content.(type) {
		case string:
			sb.WriteString(c)
		default:
			if encoded, err := json.Marshal(c); err == nil {
				sb.Write(encoded)
			}
		}
	}
	return sb.String()
}

// Estimate returns the cl100k_base token count of the extractable
// content of body. Returns 0 when nothing is extractable or the
// encoding cannot be loaded.
func Estimate(body map[string]interface{}) int {
	return CountText(Extract(body))
}

// CountText tokenizes raw text with the estimation encoding.
func CountText(text string) int {
	if text == "" {
		return 0
	}
	enc, err := getEncoding()
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
