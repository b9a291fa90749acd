// Package document models the dictionary-shaped policy documents exchanged
// with the repository (manifests, catalogs) and persisted locally (status,
// known printers). A Node is a tagged union of null, scalar, list and mapping
// values; KeyPath lookups never panic and report absence explicitly.
package document

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Node.
type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindList
	KindMapping
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Node is a document value. The zero value is Null.
type Node struct {
	kind   Kind
	scalar any
	items  []Node
	keys   []string
	fields map[string]Node
}

// Null returns the null node.
func Null() Node {
	return Node{}
}

// Scalar wraps a string, bool, integer or float value.
func Scalar(v any) Node {
	if v == nil {
		return Null()
	}
	return Node{kind: KindScalar, scalar: v}
}

// List builds a list node.
func List(items ...Node) Node {
	return Node{kind: KindList, items: append([]Node(nil), items...)}
}

// StringList builds a list of string scalars.
func StringList(values ...string) Node {
	items := make([]Node, len(values))
	for i, v := range values {
		items[i] = Scalar(v)
	}
	return Node{kind: KindList, items: items}
}

// NewMapping returns an empty mapping node.
func NewMapping() Node {
	return Node{kind: KindMapping, fields: make(map[string]Node)}
}

// Kind returns the variant held by n.
func (n Node) Kind() Kind { return n.kind }

// IsNull reports whether n is null.
func (n Node) IsNull() bool { return n.kind == KindNull }

// Len returns the number of list items or mapping keys.
func (n Node) Len() int {
	switch n.kind {
	case KindList:
		return len(n.items)
	case KindMapping:
		return len(n.keys)
	default:
		return 0
	}
}

// Items returns the elements of a list node, or nil for any other kind.
func (n Node) Items() []Node {
	if n.kind != KindList {
		return nil
	}
	return n.items
}

// Keys returns the mapping keys in document order.
func (n Node) Keys() []string {
	if n.kind != KindMapping {
		return nil
	}
	return append([]string(nil), n.keys...)
}

// Get returns the value stored under key in a mapping node.
func (n Node) Get(key string) (Node, bool) {
	if n.kind != KindMapping {
		return Null(), false
	}
	v, ok := n.fields[key]
	return v, ok
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	switch n.kind {
	case KindList:
		items := make([]Node, len(n.items))
		for i, item := range n.items {
			items[i] = item.Clone()
		}
		return Node{kind: KindList, items: items}
	case KindMapping:
		m := NewMapping()
		for _, k := range n.keys {
			m.Set(k, n.fields[k].Clone())
		}
		return m
	default:
		return n
	}
}

// Set stores value under key, converting n into a mapping if needed.
// Nodes returned by Get share storage with their parent; Clone them first
// when the parent must stay untouched.
func (n *Node) Set(key string, value Node) {
	if n.kind != KindMapping {
		*n = NewMapping()
	}
	if _, exists := n.fields[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = value
}

// Delete removes key from a mapping node.
func (n *Node) Delete(key string) {
	if n.kind != KindMapping {
		return
	}
	if _, ok := n.fields[key]; !ok {
		return
	}
	delete(n.fields, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i:i], n.keys[i+1:]...)
			break
		}
	}
}

// Lookup resolves a dot-separated keypath. Any missing segment, or a segment
// applied to a non-mapping value, yields (Null, false). A null value stored at
// the final segment is also reported as not found.
func (n Node) Lookup(keypath string) (Node, bool) {
	if keypath == "" {
		return n, !n.IsNull()
	}
	cur := n
	for _, segment := range strings.Split(keypath, ".") {
		next, ok := cur.Get(segment)
		if !ok {
			return Null(), false
		}
		cur = next
	}
	if cur.IsNull() {
		return Null(), false
	}
	return cur, true
}

// String returns the scalar rendered as a string.
func (n Node) String() (string, bool) {
	if n.kind != KindScalar {
		return "", false
	}
	switch v := n.scalar.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return fmt.Sprint(v), true
	}
}

// Int returns the scalar as an integer. Integral floats and numeric strings
// are accepted.
func (n Node) Int() (int64, bool) {
	if n.kind != KindScalar {
		return 0, false
	}
	switch v := n.scalar.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Bool returns the scalar as a boolean.
func (n Node) Bool() (bool, bool) {
	if n.kind != KindScalar {
		return false, false
	}
	switch v := n.scalar.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	default:
		return false, false
	}
}

// Strings returns the string form of each scalar in a list node.
// Non-scalar elements are skipped.
func (n Node) Strings() []string {
	if n.kind != KindList {
		return nil
	}
	out := make([]string, 0, len(n.items))
	for _, item := range n.items {
		if s, ok := item.String(); ok {
			out = append(out, s)
		}
	}
	return out
}

// StringMap returns the scalar fields of a mapping node as strings.
func (n Node) StringMap() map[string]string {
	if n.kind != KindMapping {
		return nil
	}
	out := make(map[string]string, len(n.keys))
	for _, k := range n.keys {
		if s, ok := n.fields[k].String(); ok {
			out[k] = s
		}
	}
	return out
}

// Interface converts n into plain Go values (map[string]any, []any, scalars).
func (n Node) Interface() any {
	switch n.kind {
	case KindScalar:
		return n.scalar
	case KindList:
		out := make([]any, len(n.items))
		for i, item := range n.items {
			out[i] = item.Interface()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(n.keys))
		for _, k := range n.keys {
			out[k] = n.fields[k].Interface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface converts plain Go values into a Node. Map keys are sorted
// because Go maps carry no order.
func FromInterface(v any) Node {
	switch val := v.(type) {
	case nil:
		return Null()
	case Node:
		return val
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMapping()
		for _, k := range keys {
			m.Set(k, FromInterface(val[k]))
		}
		return m
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMapping()
		for _, k := range keys {
			m.Set(k, Scalar(val[k]))
		}
		return m
	case []any:
		items := make([]Node, len(val))
		for i, item := range val {
			items[i] = FromInterface(item)
		}
		return List(items...)
	case []string:
		return StringList(val...)
	default:
		return Scalar(val)
	}
}
