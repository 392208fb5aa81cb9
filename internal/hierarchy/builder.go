package hierarchy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Element is one flat text element as produced by the extraction service.
type Element struct {
	Path string
	Text string
}

// UnmarshalJSON accepts both the lower-case and the capitalised key variants.
func (e *Element) UnmarshalJSON(data []byte) error {
	var raw struct {
		Path      string `json:"path"`
		PathUpper string `json:"Path"`
		Text      string `json:"text"`
		TextUpper string `json:"Text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Path = firstNonEmpty(raw.Path, raw.PathUpper)
	e.Text = firstNonEmpty(raw.Text, raw.TextUpper)
	return nil
}

// MarshalJSON writes the service's capitalised key layout.
func (e Element) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Path string `json:"Path"`
		Text string `json:"Text,omitempty"`
	}{e.Path, e.Text})
}

// Document is the flat extraction payload.
type Document struct {
	Elements []Element `json:"elements"`
}

var (
	headerLevelRe   = regexp.MustCompile(`/H(\d+)(\[\d+\])?$`)
	complexRe       = regexp.MustCompile(`/(TR|TD|TH|LBody|LI|Lbl|Caption|Footnote|Aside)`)
	inlineRe        = regexp.MustCompile(`/(Span|Sub|StyleSpan|ExtraCharSpan)$`)
	topLevelTableRe = regexp.MustCompile(`^//Document/Table(\[\d+\])?$`)
)

const documentPath = "//Document"

// NormalizePath gives every path a single leading "//".
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	return "//" + p
}

// HeaderLevel reports the heading level of a path. Title is level 0.
func HeaderLevel(p string) (int, bool) {
	normalized := NormalizePath(p)
	if strings.HasSuffix(normalized, "/Title") {
		return 0, true
	}
	m := headerLevelRe.FindStringSubmatch(normalized)
	if m == nil {
		return 0, false
	}
	level, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return level, true
}

// IsComplex reports table and list structure paths.
func IsComplex(p string) bool {
	return complexRe.MatchString(p)
}

// IsInline reports inline spans that belong under their parent paragraph.
func IsInline(p string) bool {
	return inlineRe.MatchString(p)
}

// IsTopLevelTable reports tables placed directly under the document.
func IsTopLevelTable(p string) bool {
	return topLevelTableRe.MatchString(NormalizePath(p))
}

// ParentPath drops the last path component.
func ParentPath(p string) string {
	normalized := NormalizePath(p)
	if normalized == "" || normalized == "//" {
		return ""
	}
	parts := strings.Split(normalized[2:], "/")
	if len(parts) <= 1 {
		return ""
	}
	return "//" + strings.Join(parts[:len(parts)-1], "/")
}

type builder struct {
	root    *Node
	headers map[int]*Node
	byPath  map[string]*Node
}

func (b *builder) deepestHeader() *Node {
	maxLevel := 0
	for level := range b.headers {
		if level > maxLevel {
			maxLevel = level
		}
	}
	return b.headers[maxLevel]
}

func (b *builder) ensurePath(target string) *Node {
	normalized := NormalizePath(target)
	if normalized == documentPath || normalized == "" {
		return b.root
	}
	if node, ok := b.byPath[normalized]; ok {
		return node
	}

	var parent *Node
	parentPath := ParentPath(normalized)
	if parentPath == documentPath || parentPath == "" {
		parent = b.deepestHeader()
	} else {
		parent = b.ensurePath(parentPath)
	}

	segments := strings.Split(normalized, "/")
	node := newNode(segments[len(segments)-1], "", normalized)
	b.byPath[normalized] = node
	parent.appendChild(node)
	return node
}

// Build nests the flat element list into a tree rooted at "Document Root".
func Build(elements []Element) *Node {
	root := &Node{Name: RootName, Children: []*Node{}}
	b := &builder{
		root:    root,
		headers: map[int]*Node{0: root},
		byPath:  map[string]*Node{"": root, documentPath: root},
	}

	for _, elem := range elements {
		path := NormalizePath(elem.Path)
		name := ""
		if path != "" {
			segments := strings.Split(path, "/")
			name = segments[len(segments)-1]
		}
		if name == "Document" && path == documentPath {
			continue
		}

		node := newNode(name, elem.Text, path)
		b.byPath[path] = node

		if level, ok := HeaderLevel(path); ok {
			parentLevel := 0
			for l := range b.headers {
				if l < level && l > parentLevel {
					parentLevel = l
				}
			}
			b.headers[parentLevel].appendChild(node)
			b.headers[level] = node
			for l := range b.headers {
				if l > level {
					delete(b.headers, l)
				}
			}
			continue
		}

		switch {
		case IsTopLevelTable(path):
			b.deepestHeader().appendChild(node)
		case IsInline(path), IsComplex(path):
			b.ensurePath(ParentPath(path)).appendChild(node)
		default:
			b.deepestHeader().appendChild(node)
		}
	}

	return root
}

// LoadElements reads a flat extraction payload of the form {"elements": [...]}.
func LoadElements(r io.Reader) ([]Element, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode elements: %w", err)
	}
	return doc.Elements, nil
}

// Parse accepts either a flat extraction payload or an already structured
// tree and returns the tree.
func Parse(data []byte) (*Node, error) {
	if IsTree(data) {
		return Decode(bytes.NewReader(data))
	}
	elements, err := LoadElements(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return Build(elements), nil
}

// IsTree reports whether a JSON payload is a structured tree rather than a
// flat element list.
func IsTree(data []byte) bool {
	var probe struct {
		Name     *string           `json:"name"`
		Children []json.RawMessage `json:"children"`
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Elements == nil && (probe.Name != nil || probe.Children != nil)
}

// OutputPath derives "<base>_output<ext>" from an input path.
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_output" + ext
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
