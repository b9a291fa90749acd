package document

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"howett.net/plist"
)

// Format is a serialization format for documents.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatPlist Format = "plist"
)

// FormatForPath picks the on-disk format from the file extension.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".plist") {
		return FormatPlist
	}
	return FormatYAML
}

// Sniff detects the format of raw document bytes. JSON is handled by the
// YAML decoder.
func Sniff(data []byte) Format {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	switch {
	case bytes.HasPrefix(trimmed, []byte("bplist")),
		bytes.HasPrefix(trimmed, []byte("<?xml")),
		bytes.HasPrefix(trimmed, []byte("<!DOCTYPE plist")),
		bytes.HasPrefix(trimmed, []byte("<plist")):
		return FormatPlist
	default:
		return FormatYAML
	}
}

// Decode parses YAML, JSON, or property-list bytes into a Node.
// Empty input decodes to Null.
func Decode(data []byte) (Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Null(), nil
	}

	if Sniff(data) == FormatPlist {
		var v any
		if _, err := plist.Unmarshal(data, &v); err != nil {
			return Null(), fmt.Errorf("failed to decode property list: %w", err)
		}
		return FromInterface(v), nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Null(), fmt.Errorf("failed to decode document: %w", err)
	}
	return fromYAML(&root)
}

// Encode serializes n in the given format.
func Encode(n Node, format Format) ([]byte, error) {
	switch format {
	case FormatPlist:
		data, err := plist.MarshalIndent(plistValue(n), plist.XMLFormat, "\t")
		if err != nil {
			return nil, fmt.Errorf("failed to encode property list: %w", err)
		}
		return data, nil
	case FormatYAML, "":
		yn, err := toYAML(n)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(yn); err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported document format: %s", format)
	}
}

func fromYAML(yn *yaml.Node) (Node, error) {
	switch yn.Kind {
	case 0:
		return Null(), nil
	case yaml.DocumentNode:
		if len(yn.Content) == 0 {
			return Null(), nil
		}
		return fromYAML(yn.Content[0])
	case yaml.AliasNode:
		return fromYAML(yn.Alias)
	case yaml.SequenceNode:
		items := make([]Node, 0, len(yn.Content))
		for _, c := range yn.Content {
			item, err := fromYAML(c)
			if err != nil {
				return Null(), err
			}
			items = append(items, item)
		}
		return List(items...), nil
	case yaml.MappingNode:
		m := NewMapping()
		for i := 0; i+1 < len(yn.Content); i += 2 {
			key := yn.Content[i].Value
			val, err := fromYAML(yn.Content[i+1])
			if err != nil {
				return Null(), err
			}
			m.Set(key, val)
		}
		return m, nil
	case yaml.ScalarNode:
		if yn.Tag == "!!null" {
			return Null(), nil
		}
		var v any
		if err := yn.Decode(&v); err != nil {
			return Null(), fmt.Errorf("line %d: %w", yn.Line, err)
		}
		return Scalar(v), nil
	default:
		return Null(), fmt.Errorf("line %d: unsupported yaml node kind %d", yn.Line, yn.Kind)
	}
}

func toYAML(n Node) (*yaml.Node, error) {
	switch n.kind {
	case KindNull:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case KindScalar:
		yn := &yaml.Node{}
		if err := yn.Encode(n.scalar); err != nil {
			return nil, fmt.Errorf("failed to encode scalar: %w", err)
		}
		return yn, nil
	case KindList:
		yn := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range n.items {
			c, err := toYAML(item)
			if err != nil {
				return nil, err
			}
			yn.Content = append(yn.Content, c)
		}
		return yn, nil
	case KindMapping:
		yn := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range n.keys {
			v, err := toYAML(n.fields[k])
			if err != nil {
				return nil, err
			}
			yn.Content = append(yn.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, v)
		}
		return yn, nil
	default:
		return nil, fmt.Errorf("unsupported node kind: %s", n.kind)
	}
}

// plistValue converts n to plain values, dropping nulls which property lists
// cannot represent.
func plistValue(n Node) any {
	switch n.kind {
	case KindList:
		out := make([]any, 0, len(n.items))
		for _, item := range n.items {
			if item.IsNull() {
				continue
			}
			out = append(out, plistValue(item))
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(n.keys))
		for _, k := range n.keys {
			v := n.fields[k]
			if v.IsNull() {
				continue
			}
			out[k] = plistValue(v)
		}
		return out
	case KindScalar:
		return n.scalar
	default:
		return map[string]any{}
	}
}
