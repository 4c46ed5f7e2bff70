package irsxml

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/grantscope/grantscope/internal/fault"
)

// node is a minimal element tree keyed by local names. The IRS revises
// its schemas several times a year; matching on local names keeps every
// minor revision readable without regenerating bindings.
type node struct {
	name     string
	text     string
	children []*node
}

func parseTree(data []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	root := &node{}
	stack := []*node{root}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fault.Wrap(fault.KindInvalidFiling, err, "malformed XML")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if s := strings.TrimSpace(string(t)); s != "" {
				stack[len(stack)-1].text += s
			}
		}
	}
	if len(root.children) == 0 {
		return nil, fault.New(fault.KindInvalidFiling, "empty document")
	}
	if len(stack) != 1 {
		return nil, fault.New(fault.KindInvalidFiling, "unbalanced document")
	}
	return root.children[0], nil
}

// first returns the first descendant matching the local-name path,
// searching each segment at any depth below the previous match.
func (n *node) first(path ...string) *node {
	cur := n
	for _, seg := range path {
		cur = cur.findDeep(seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (n *node) findDeep(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	for _, c := range n.children {
		if found := c.findDeep(name); found != nil {
			return found
		}
	}
	return nil
}

// all returns every descendant with the given local name.
func (n *node) all(name string) []*node {
	var out []*node
	var walk func(*node)
	walk = func(cur *node) {
		for _, c := range cur.children {
			if c.name == name {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// has reports whether any descendant carries the local name.
func (n *node) has(name string) bool { return n.findDeep(name) != nil }

func (n *node) str(path ...string) string {
	if f := n.first(path...); f != nil {
		return f.text
	}
	return ""
}

// strAny returns the first non-empty text among alternative spellings.
func (n *node) strAny(names ...string) string {
	for _, name := range names {
		if s := n.str(name); s != "" {
			return s
		}
	}
	return ""
}

// num parses a numeric element. Missing elements and empty text read
// as zero; malformed text reads as zero with ok=false so the caller
// can record a parse error without failing the filing.
func (n *node) num(path ...string) (float64, bool) {
	f := n.first(path...)
	if f == nil || f.text == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(f.text, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// flag reads an IRS indicator element: "X", "true" and "1" are set.
func (n *node) flag(path ...string) bool {
	f := n.first(path...)
	if f == nil {
		return false
	}
	switch strings.ToUpper(strings.TrimSpace(f.text)) {
	case "X", "TRUE", "1", "YES":
		return true
	}
	return false
}

// businessName joins the one or two name lines of a BusinessName group.
func businessName(n *node) string {
	if n == nil {
		return ""
	}
	l1 := n.strAny("BusinessNameLine1Txt", "BusinessNameLine1")
	l2 := n.strAny("BusinessNameLine2Txt", "BusinessNameLine2")
	if l2 != "" {
		return strings.TrimSpace(l1 + " " + l2)
	}
	return l1
}
