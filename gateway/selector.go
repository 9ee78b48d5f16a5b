package gateway

import (
	"strings"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/modelgate/modelgate/gateway/structs"
)

// Selector picks an upstream provider for a request. It walks a
// model's bindings in priority order, asking the governor to admit
// each candidate, and commits the first one that fits. Failover
// happens only here; once a request is dispatched the selection is
// final.
type Selector struct {
	registry *Registry
	governor *Governor
	logger   hclog.Logger
}

func NewSelector(registry *Registry, governor *Governor, logger hclog.Logger) *Selector {
	return &Selector{
		registry: registry,
		governor: governor,
		logger:   logger.Named("selector"),
	}
}

// Select resolves model to an admitted provider. A model name starting
// with "auto" tries every configured model in routing-table order and
// returns the first admission. Returns structs.ErrUnknownModel when
// the model has no routing entry and structs.ErrNoCapacity when every
// candidate was rejected.
func (s *Selector) Select(model string, tokenCount int) (*structs.Selection, error) {
	if strings.HasPrefix(model, structs.AutoModelPrefix) {
		for _, candidate := range s.registry.Models() {
			sel, err := s.selectModel(candidate, tokenCount)
			if err == nil {
				return sel, nil
			}
		}
		metrics.IncrCounter([]string{"gateway", "selector", "no_capacity"}, 1)
		return nil, structs.ErrNoCapacity
	}
	return s.selectModel(model, tokenCount)
}

func (s *Selector) selectModel(model string, tokenCount int) (*structs.Selection, error) {
	routes, ok := s.registry.Routes(model)
	if !ok {
		return nil, structs.ErrUnknownModel
	}

	for _, binding := range routes.Bindings {
		if !binding.Enabled() {
			s.logger.Debug("binding disabled, skipping", "model", model, "provider", binding.Provider)
			continue
		}

		provider, ok := s.registry.Provider(binding.Provider)
		if !ok {
			s.logger.Warn("binding names unknown provider, skipping",
				"model", model, "provider", binding.Provider)
			continue
		}

		if limited, remaining := s.governor.ErrorState(provider.Name); limited {
			s.logger.Warn("provider is error limited, skipping",
				"provider", provider.Name, "remaining_minutes", remaining)
			continue
		}

		if ok, reason := s.governor.TryAdmit(provider.Name, provider.Limits, tokenCount); !ok {
			s.logger.Warn("provider limit reached, skipping",
				"provider", provider.Name, "reason", reason)
			continue
		}

		metrics.IncrCounterWithLabels(
			[]string{"gateway", "selector", "selected"}, 1,
			[]metrics.Label{
				{Name: "model", Value: model},
				{Name: "provider", Value: provider.Name},
			})
		return &structs.Selection{
			Model:      model,
			Provider:   provider.Name,
			Alias:      binding.Alias,
			TokenCount: tokenCount,
		}, nil
	}

	metrics.IncrCounter([]string{"gateway", "selector", "no_capacity"}, 1)
	return nil, structs.ErrNoCapacity
}
