package agent

import (
	"net/http"
	"time"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string        `json:"object"`
	Data   []*modelEntry `json:"data"`
}

// ModelsRequest lists the routable models in the OpenAI list shape.
// The synthetic "auto" entry comes first; the rest follow routing
// table order.
func (s *HTTPServer) ModelsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}

	created := time.Now().Unix()
	list := &modelList{
		Object: "list",
		Data: []*modelEntry{
			{ID: "auto", Object: "model", Created: created, OwnedBy: "open_ai"},
		},
	}

	for _, model := range s.agent.registry.Models() {
		ownedBy := ""
		if routes, ok := s.agent.registry.Routes(model); ok && len(routes.Bindings) > 0 {
			ownedBy = routes.Bindings[0].Provider
		}
		list.Data = append(list.Data, &modelEntry{
			ID:      model,
			Object:  "model",
			Created: created,
			OwnedBy: ownedBy,
		})
	}
	return list, nil
}
