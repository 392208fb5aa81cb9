package hierarchy

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// RootName is the name given to the synthetic root of every hierarchy.
const RootName = "Document Root"

// Node is one element of the structured document tree.
type Node struct {
	Name     string  `json:"name"`
	Text     string  `json:"text"`
	Path     string  `json:"path"`
	Children []*Node `json:"children"`
}

func newNode(name, text, path string) *Node {
	return &Node{Name: name, Text: text, Path: path, Children: []*Node{}}
}

func (n *Node) appendChild(child *Node) {
	n.Children = append(n.Children, child)
}

// Decode reads a hierarchy tree from JSON.
func Decode(r io.Reader) (*Node, error) {
	var root Node
	if err := json.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("decode hierarchy: %w", err)
	}
	return &root, nil
}

// Encode writes the tree as indented JSON.
func (n *Node) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(n)
}

// Walk visits n and every descendant depth-first. Returning false from fn
// skips the children of the current node.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// FindByPrefix returns every node in the subtree whose name starts with prefix.
func (n *Node) FindByPrefix(prefix string) []*Node {
	var found []*Node
	n.Walk(func(node *Node) bool {
		if strings.HasPrefix(node.Name, prefix) {
			found = append(found, node)
		}
		return true
	})
	return found
}

// FindByPattern returns every node in the subtree whose name matches re.
func (n *Node) FindByPattern(re *regexp.Regexp) []*Node {
	var found []*Node
	n.Walk(func(node *Node) bool {
		if re.MatchString(node.Name) {
			found = append(found, node)
		}
		return true
	})
	return found
}

// OwnText returns the node's own text, trimmed.
func (n *Node) OwnText() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text)
}

// FirstText returns the first non-empty own text found depth-first.
func (n *Node) FirstText() string {
	if n == nil {
		return ""
	}
	if text := n.OwnText(); text != "" {
		return text
	}
	for _, child := range n.Children {
		if text := child.FirstText(); text != "" {
			return text
		}
	}
	return ""
}

// JoinedText concatenates the node's text with every descendant's text,
// separated by spaces, with line breaks flattened.
func (n *Node) JoinedText() string {
	if n == nil {
		return ""
	}
	text := n.Text
	for _, child := range n.Children {
		text += " " + child.JoinedText()
	}
	return strings.TrimSpace(flattenBreaks(text))
}

// AllText collects the trimmed non-empty texts of the subtree joined by spaces.
func (n *Node) AllText() string {
	var parts []string
	n.Walk(func(node *Node) bool {
		if text := strings.TrimSpace(node.Text); text != "" {
			parts = append(parts, text)
		}
		return true
	})
	return strings.Join(parts, " ")
}

// FindText returns the first node, in depth-first order, whose text contains
// needle case-insensitively.
func (n *Node) FindText(needle string) *Node {
	if n == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(n.Text), strings.ToLower(needle)) {
		return n
	}
	for _, child := range n.Children {
		if found := child.FindText(needle); found != nil {
			return found
		}
	}
	return nil
}

func flattenBreaks(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
