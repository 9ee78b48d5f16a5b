package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/modelgate/modelgate/gateway/structs"
)

// RoutingConfig is the parsed routing document: the provider table and
// the ordered model bindings. Binding order in the YAML is failover
// priority, so model_config is decoded through yaml.Node rather than a
// plain map.
type RoutingConfig struct {
	Providers map[string]*structs.Provider
	Routes    []*structs.ModelRoutes
}

// LoadRoutingConfig reads and parses the routing document at path.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open routing config: %w", err)
	}
	defer f.Close()
	return ParseRoutingConfig(f)
}

// ParseRoutingConfig parses a routing document.
func ParseRoutingConfig(r io.Reader) (*RoutingConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse routing config: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("routing config is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("routing config root must be a mapping")
	}

	cfg := &RoutingConfig{Providers: map[string]*structs.Provider{}}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "api_provider":
			if err := val.Decode(&cfg.Providers); err != nil {
				return nil, fmt.Errorf("failed to parse api_provider: %w", err)
			}
		case "model_config":
			routes, err := decodeModelConfig(val)
			if err != nil {
				return nil, err
			}
			cfg.Routes = routes
		}
	}

	for name, p := range cfg.Providers {
		p.Name = name
	}
	return cfg, nil
}

// decodeModelConfig walks the model_config mapping node, keeping the
// document order of models and of each model's providers.
func decodeModelConfig(n *yaml.Node) ([]*structs.ModelRoutes, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("model_config must be a mapping")
	}

	var routes []*structs.ModelRoutes
	for i := 0; i+1 < len(n.Content); i += 2 {
		modelKey, bindingsNode := n.Content[i], n.Content[i+1]
		m := &structs.ModelRoutes{Model: modelKey.Value}

		if bindingsNode.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(bindingsNode.Content); j += 2 {
				providerKey, optsNode := bindingsNode.Content[j], bindingsNode.Content[j+1]
				binding := &structs.ModelBinding{Provider: providerKey.Value}
				if optsNode.Kind == yaml.MappingNode {
					if err := optsNode.Decode(binding); err != nil {
						return nil, fmt.Errorf("model %q provider %q: %w",
							modelKey.Value, providerKey.Value, err)
					}
					binding.Provider = providerKey.Value
				}
				m.Bindings = append(m.Bindings, binding)
			}
		} else if bindingsNode.Tag != "!!null" {
			return nil, fmt.Errorf("model %q must map providers to binding options", modelKey.Value)
		}
		routes = append(routes, m)
	}
	return routes, nil
}

// SaveModelRoutes rewrites the model_config section of the routing
// document at path, leaving api_provider and everything else in the
// file untouched. The whole document is re-rendered by the YAML
// encoder.
func SaveModelRoutes(path string, routes []*structs.ModelRoutes) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read routing config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse routing config: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("routing config root must be a mapping")
	}
	root := doc.Content[0]

	modelNode, err := encodeModelConfig(routes)
	if err != nil {
		return err
	}

	replaced := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "model_config" {
			root.Content[i+1] = modelNode
			replaced = true
			break
		}
	}
	if !replaced {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "model_config"},
			modelNode)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to render routing config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func encodeModelConfig(routes []*structs.ModelRoutes) (*yaml.Node, error) {
	modelNode := &yaml.Node{Kind: yaml.MappingNode}
	for _, m := range routes {
		bindingsNode := &yaml.Node{Kind: yaml.MappingNode}
		for _, b := range m.Bindings {
			var optsNode yaml.Node
			if err := optsNode.Encode(b); err != nil {
				return nil, fmt.Errorf("failed to encode binding %s/%s: %w", m.Model, b.Provider, err)
			}
			bindingsNode.Content = append(bindingsNode.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: b.Provider},
				&optsNode)
		}
		modelNode.Content = append(modelNode.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: m.Model},
			bindingsNode)
	}
	return modelNode, nil
}

// bindingOpts is the JSON shape of one binding in the admin config
// payload.
type bindingOpts struct {
	Enable *bool  `json:"enable,omitempty"`
	Alias  string `json:"alias,omitempty"`
}

// RoutesFromJSON parses the admin surface's model_config JSON object.
// Model and provider order in the document is preserved, which is why
// this walks tokens instead of unmarshalling into maps.
func RoutesFromJSON(data []byte) ([]*structs.ModelRoutes, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("model config must be a JSON object: %w", err)
	}

	var routes []*structs.ModelRoutes
	for dec.More() {
		modelTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		model := modelTok.(string)
		m := &structs.ModelRoutes{Model: model}

		if err := expectDelim(dec, '{'); err != nil {
			return nil, fmt.Errorf("model %q must map providers to binding options: %w", model, err)
		}
		for dec.More() {
			providerTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			provider := providerTok.(string)

			var opts *bindingOpts
			if err := dec.Decode(&opts); err != nil {
				return nil, fmt.Errorf("model %q provider %q: %w", model, provider, err)
			}
			binding := &structs.ModelBinding{Provider: provider}
			if opts != nil {
				binding.Alias = opts.Alias
				binding.Enable = opts.Enable
			}
			m.Bindings = append(m.Bindings, binding)
		}
		if _, err := dec.Token(); err != nil { // closing '}'
			return nil, err
		}
		routes = append(routes, m)
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, err
	}
	return routes, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// RoutesToJSON renders the routing table in the admin surface's JSON
// shape, preserving order.
func RoutesToJSON(routes []*structs.ModelRoutes) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range routes {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.Model)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteByte('{')
		for j, b := range m.Bindings {
			if j > 0 {
				buf.WriteByte(',')
			}
			pkey, err := json.Marshal(b.Provider)
			if err != nil {
				return nil, err
			}
			buf.Write(pkey)
			buf.WriteByte(':')
			opts, err := json.Marshal(&bindingOpts{Enable: b.Enable, Alias: b.Alias})
			if err != nil {
				return nil, err
			}
			buf.Write(opts)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
