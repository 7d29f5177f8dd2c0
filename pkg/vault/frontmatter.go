package vault

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// splitFrontmatter separates a leading YAML header delimited by "---" lines
// from the document body. header is the verbatim header text including both
// fences and the trailing newline, or "" when the document has none. node is
// the parsed header mapping, kept so a later render can reuse untouched
// values as written.
func splitFrontmatter(s string) (header string, fm map[string]any, node *yaml.Node, body string, err error) {
	first, rest, ok := strings.Cut(s, "\n")
	if !ok || strings.TrimRight(first, "\r") != fence {
		return "", nil, nil, s, nil
	}
	offset := len(first) + 1
	for {
		line, next, more := strings.Cut(rest, "\n")
		if strings.TrimRight(line, "\r") == fence {
			end := offset + len(line)
			if more {
				end++
			}
			fm, node, err = decodeFrontmatter(s[len(first)+1 : offset])
			if err != nil {
				return "", nil, nil, "", fmt.Errorf("frontmatter: %w", err)
			}
			return s[:end], fm, node, s[end:], nil
		}
		if !more {
			// Unterminated header: treat the whole document as body.
			return "", nil, nil, s, nil
		}
		offset += len(line) + 1
		rest = next
	}
}

// decodeFrontmatter parses a YAML header into fields. Timestamps decode as
// their source text: yaml.v3 would turn "due: 2024-01-01" into a time.Time
// that neither compares nor renders as written.
func decodeFrontmatter(raw string) (map[string]any, *yaml.Node, error) {
	fm := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return fm, nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, nil, err
	}
	if len(doc.Content) == 0 {
		return fm, nil, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.ShortTag() == "!!null" {
		return fm, nil, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("header is a %s, want a mapping", root.ShortTag())
	}
	if root.HeadComment == "" {
		root.HeadComment = doc.HeadComment
	}
	if root.FootComment == "" {
		root.FootComment = doc.FootComment
	}

	type retag struct {
		node *yaml.Node
		tag  string
	}
	var retagged []retag
	var walk func(n *yaml.Node)
	walk = func(n *yaml.Node) {
		if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!timestamp" {
			retagged = append(retagged, retag{n, n.Tag})
			n.Tag = "!!str"
			return
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	walk(root)
	err := root.Decode(&fm)
	for _, r := range retagged {
		r.node.Tag = r.tag
	}
	if err != nil {
		return nil, nil, err
	}
	return fm, root, nil
}

// renderFrontmatter serializes fields as a fenced YAML header. An empty map
// renders as no header at all. When prevNode is the header fm was read from,
// keys keep their order and comments, and every value equal to its entry
// in prev is emitted exactly as it was parsed. New keys follow, sorted.
func renderFrontmatter(fm, prev map[string]any, prevNode *yaml.Node) (string, *yaml.Node, error) {
	if len(fm) == 0 {
		return "", nil, nil
	}
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	placed := map[string]bool{}
	if prevNode != nil && prevNode.Kind == yaml.MappingNode {
		root.Style = prevNode.Style
		root.HeadComment, root.FootComment = prevNode.HeadComment, prevNode.FootComment
		for i := 0; i+1 < len(prevNode.Content); i += 2 {
			key, val := prevNode.Content[i], prevNode.Content[i+1]
			cur, ok := fm[key.Value]
			if !ok || placed[key.Value] {
				continue
			}
			placed[key.Value] = true
			if old, had := prev[key.Value]; !had || !reflect.DeepEqual(old, cur) {
				nv, err := valueNode(cur)
				if err != nil {
					return "", nil, fmt.Errorf("field %s: %w", key.Value, err)
				}
				nv.LineComment = val.LineComment
				val = nv
			}
			root.Content = append(root.Content, key, val)
		}
	}
	keys := make([]string, 0, len(fm))
	for k := range fm {
		if !placed[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		nv, err := valueNode(fm[k])
		if err != nil {
			return "", nil, fmt.Errorf("field %s: %w", k, err)
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, nv)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", nil, err
	}
	if err := enc.Close(); err != nil {
		return "", nil, err
	}
	return fence + "\n" + buf.String() + fence + "\n", root, nil
}

func valueNode(v any) (*yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return &n, nil
}
