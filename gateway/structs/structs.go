// Package structs holds the shared types of the gateway: provider
// definitions, model routing tables, usage snapshots, and the error
// values surfaced by selection.
package structs

import (
	"errors"
	"fmt"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/modelgate/modelgate/helper/pointer"
)

var (
	// ErrUnknownModel is returned when a request names a model that has
	// no routing entry. Surfaced as HTTP 404.
	ErrUnknownModel = errors.New("model not found in routing config")

	// ErrNoCapacity is returned when every candidate binding for a
	// model was rejected. Surfaced as HTTP 429.
	ErrNoCapacity = errors.New("no api available due to rate limits or all APIs are switched off")
)

// AutoModelPrefix marks a request that lets the gateway pick any model
// with remaining capacity, in routing-table order.
const AutoModelPrefix = "auto"

// Limits holds the rate-limit ceilings of a provider. A nil field
// means the provider is unlimited on that dimension.
type Limits struct {
	// RPM is the maximum number of requests per minute.
	RPM *int `yaml:"rpm,omitempty" json:"rpm,omitempty"`

	// TPM is the maximum number of tokens per minute.
	TPM *int `yaml:"tpm,omitempty" json:"tpm,omitempty"`

	// RPD is the maximum number of requests per calendar day.
	RPD *int `yaml:"rpd,omitempty" json:"rpd,omitempty"`

	// TPR is the maximum number of tokens in a single request.
	TPR *int `yaml:"tpr,omitempty" json:"tpr,omitempty"`
}

func (l *Limits) Copy() *Limits {
	if l == nil {
		return nil
	}
	return &Limits{
		RPM: pointer.Copy(l.RPM),
		TPM: pointer.Copy(l.TPM),
		RPD: pointer.Copy(l.RPD),
		TPR: pointer.Copy(l.TPR),
	}
}

func (l *Limits) Validate() error {
	if l == nil {
		return nil
	}
	var mErr multierror.Error
	check := func(name string, v *int) {
		if v != nil && *v < 0 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("%s must be non-negative, got %d", name, *v))
		}
	}
	check("rpm", l.RPM)
	check("tpm", l.TPM)
	check("rpd", l.RPD)
	check("tpr", l.TPR)
	return mErr.ErrorOrNil()
}

// Provider is a concrete upstream chat-completion endpoint.
type Provider struct {
	// Name is the opaque provider id used throughout config, logs, and
	// usage reporting.
	Name string `yaml:"-" json:"name"`

	// BaseURL is the upstream endpoint prefix, without a trailing
	// slash. Request paths are appended verbatim.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// APIKey, when set, replaces the client's Authorization header on
	// the outbound request.
	APIKey string `yaml:"api_key" json:"api_key,omitempty"`

	// Limits are the rate ceilings enforced by the governor. A nil
	// Limits admits everything.
	Limits *Limits `yaml:"limits,omitempty" json:"limits,omitempty"`
}

func (p *Provider) Copy() *Provider {
	if p == nil {
		return nil
	}
	np := *p
	np.Limits = p.Limits.Copy()
	return &np
}

func (p *Provider) Validate() error {
	var mErr multierror.Error
	if p.Name == "" {
		mErr.Errors = append(mErr.Errors, errors.New("provider name must be set"))
	}
	if p.BaseURL == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("provider %q must set base_url", p.Name))
	}
	if err := p.Limits.Validate(); err != nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("provider %q: %w", p.Name, err))
	}
	return mErr.ErrorOrNil()
}

// ModelBinding declares one (model, provider) route. Binding order
// within a ModelRoutes is the failover priority.
type ModelBinding struct {
	// Provider is the id of the upstream this binding targets.
	Provider string `yaml:"-" json:"provider"`

	// Alias, when set, replaces the model name in the outbound body.
	Alias string `yaml:"alias,omitempty" json:"alias,omitempty"`

	// Enable toggles the binding without removing it from config.
	Enable *bool `yaml:"enable,omitempty" json:"enable,omitempty"`
}

// Enabled reports whether the binding participates in selection.
// Bindings are enabled unless explicitly switched off.
func (b *ModelBinding) Enabled() bool {
	return b.Enable == nil || *b.Enable
}

func (b *ModelBinding) Copy() *ModelBinding {
	if b == nil {
		return nil
	}
	nb := *b
	nb.Enable = pointer.Copy(b.Enable)
	return &nb
}

// ModelRoutes is the ordered provider list for one logical model.
type ModelRoutes struct {
	Model    string
	Bindings []*ModelBinding
}

func (m *ModelRoutes) Copy() *ModelRoutes {
	if m == nil {
		return nil
	}
	nm := &ModelRoutes{Model: m.Model}
	for _, b := range m.Bindings {
		nm.Bindings = append(nm.Bindings, b.Copy())
	}
	return nm
}

// Selection is the outcome of a successful provider pick. The governor
// counters for Provider have already been committed when a Selection
// is returned.
type Selection struct {
	// Model is the logical model that was routed. Differs from the
	// requested model only in auto mode.
	Model string

	// Provider is the id of the admitted upstream.
	Provider string

	// Alias is the upstream model name to write into the outbound
	// body, or empty to keep the client's model.
	Alias string

	// TokenCount is the estimated token cost that was committed.
	TokenCount int
}

// UsageCounter pairs a current reading with its configured ceiling.
// Limit zero means unlimited.
type UsageCounter struct {
	Current int `json:"current"`
	Limit   int `json:"limit"`
}

// ProviderUsage is the per-provider slice of a usage snapshot.
type ProviderUsage struct {
	RPM UsageCounter `json:"rpm"`
	TPM UsageCounter `json:"tpm"`
	RPD UsageCounter `json:"rpd"`
}

// UsageSnapshot is returned by GET /api_usage.
type UsageSnapshot struct {
	Data      map[string]*ProviderUsage `json:"data"`
	Timestamp string                    `json:"timestamp"`
}
