package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// Node is one level of parsed identify output. Leaves hold normalized values:
// bool for True/False, nil for Undefined, float64 for numbers, string
// otherwise.
type Node map[string]any

type identifyLine struct {
	depth int
	key   string
	value string
}

// ParseIdentify parses the verbose tree emitted by `identify -verbose`.
// Nesting follows indentation in steps of two spaces. A line followed by a
// deeper one opens a child node even when it carries a value of its own
// ("Image: beach.jpg" heads the whole tree); keys may contain colons
// ("exif:Orientation"), so the key/value split happens at the first
// colon-space.
func ParseIdentify(out string) Node {
	var lines []identifyLine
	for _, raw := range strings.Split(out, "\n") {
		trimmed := strings.TrimLeft(raw, " ")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		depth := (len(raw) - len(trimmed)) / 2

		var key, value string
		if idx := strings.Index(trimmed, ": "); idx >= 0 {
			key = trimmed[:idx]
			value = strings.TrimSpace(trimmed[idx+2:])
		} else if strings.HasSuffix(strings.TrimSpace(trimmed), ":") {
			key = strings.TrimSuffix(strings.TrimSpace(trimmed), ":")
		} else {
			continue
		}
		lines = append(lines, identifyLine{depth: depth, key: key, value: value})
	}

	type frame struct {
		node  Node
		depth int
	}

	root := Node{}
	stack := []frame{{node: root, depth: -1}}

	for i, ln := range lines {
		for len(stack) > 1 && stack[len(stack)-1].depth >= ln.depth {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].node

		if i+1 < len(lines) && lines[i+1].depth > ln.depth {
			child := Node{}
			if ln.value != "" {
				child[""] = normalizeValue(ln.value)
			}
			parent[ln.key] = child
			stack = append(stack, frame{node: child, depth: ln.depth})
			continue
		}
		if ln.value == "" {
			parent[ln.key] = Node{}
			continue
		}
		parent[ln.key] = normalizeValue(ln.value)
		if strings.EqualFold(ln.key, "geometry") {
			expandGeometry(parent, ln.value)
		}
	}
	return root
}

// expandGeometry derives width, height and aspect leaves next to a geometry
// value, on the same subtree.
func expandGeometry(n Node, value string) {
	w, h, ok := ParseGeometry(value)
	if !ok {
		return
	}
	n["width"] = float64(w)
	n["height"] = float64(h)
	n["aspect"] = float64(w) / float64(h)
}

func normalizeValue(s string) any {
	switch s {
	case "True", "true":
		return true
	case "False", "false":
		return false
	case "Undefined", "undefined":
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Child returns the named sub-node, or nil when absent or a leaf.
func (n Node) Child(key string) Node {
	child, _ := n[key].(Node)
	return child
}

// Str returns the named leaf as a string, or "".
func (n Node) Str(key string) string {
	s, _ := n[key].(string)
	return s
}

// Num returns the named numeric leaf, or 0.
func (n Node) Num(key string) float64 {
	f, _ := n[key].(float64)
	return f
}

var geometryRe = regexp.MustCompile(`^(\d+)x(\d+)`)

// ParseGeometry extracts width and height from an identify geometry value
// such as "1920x1080+0+0".
func ParseGeometry(s string) (width, height int, ok bool) {
	m := geometryRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	width, _ = strconv.Atoi(m[1])
	height, _ = strconv.Atoi(m[2])
	if width == 0 || height == 0 {
		return 0, 0, false
	}
	return width, height, true
}
