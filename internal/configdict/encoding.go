package configdict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"
)

// MarshalJSON renders the resolved record as a JSON object in key order.
func (c *ConfigDict) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.writeJSON(&buf, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *ConfigDict) writeJSON(buf *bytes.Buffer, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrReferenceCycle, maxDepth)
	}
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')

		v, err := resolve(c.fields[k], 0)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		if child, ok := v.(*ConfigDict); ok {
			if err := child.writeJSON(buf, depth+1); err != nil {
				return fmt.Errorf("%s.%w", k, err)
			}
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return nil
}

// MarshalYAML renders the resolved record as a YAML mapping in key order.
// Tuples are emitted in flow style.
func (c *ConfigDict) MarshalYAML() (any, error) {
	return c.yamlNode(0)
}

func (c *ConfigDict) yamlNode(depth int) (*yaml.Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrReferenceCycle, maxDepth)
	}
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range c.keys {
		v, err := resolve(c.fields[k], 0)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}

		var value *yaml.Node
		if child, ok := v.(*ConfigDict); ok {
			value, err = child.yamlNode(depth + 1)
			if err != nil {
				return nil, fmt.Errorf("%s.%w", k, err)
			}
		} else {
			value = &yaml.Node{}
			if err := value.Encode(v); err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			if value.Kind == yaml.SequenceNode {
				value.Style = yaml.FlowStyle
			}
		}

		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
		node.Content = append(node.Content, key, value)
	}
	return node, nil
}

// Decode copies the resolved record into out, matching fields by their yaml
// struct tags. Keys without a matching field are ignored.
func (c *ConfigDict) Decode(out any) error {
	node, err := c.yamlNode(0)
	if err != nil {
		return err
	}
	if err := node.Decode(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// SetFromString parses raw as a YAML value and assigns it to path. Numbers
// are converted to the kind of the existing field, a bare scalar assigned to
// a tuple field becomes a one-element tuple, and a string field keeps raw
// verbatim.
func (c *ConfigDict) SetFromString(path, raw string) error {
	var parsed any
	if err := yaml.Unmarshal([]byte(raw), &parsed); err != nil {
		return fmt.Errorf("parse value for %q: %w", path, err)
	}

	if current, err := c.Get(path); err == nil {
		switch kindOf(current) {
		case kindString:
			parsed = raw
		case kindTuple:
			if _, isSeq := parsed.([]any); !isSeq && parsed != nil {
				parsed = []any{parsed}
			}
		default:
			parsed = coerceNumber(kindOf(current), parsed)
		}
	}
	return c.Set(path, parsed)
}

// ApplyOverrides assigns every leaf of a nested override tree, visiting keys
// in sorted order. A nested map aimed at an existing record is applied field
// by field, so a partial map leaves sibling fields intact.
func (c *ConfigDict) ApplyOverrides(overrides map[string]any) error {
	return c.applyOverrides("", overrides)
}

func (c *ConfigDict) applyOverrides(prefix string, overrides map[string]any) error {
	for _, k := range slices.Sorted(maps.Keys(overrides)) {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := overrides[k].(map[string]any); ok {
			if current, err := c.Get(path); err == nil && kindOf(current) == kindDict {
				if err := c.applyOverrides(path, nested); err != nil {
					return err
				}
				continue
			}
		}
		if err := c.Set(path, overrides[k]); err != nil {
			return err
		}
	}
	return nil
}
