// Package report folds the chart of accounts against aggregated ledger data
// into the balance sheet and cash flow trees.
package report

import (
	"bytes"
	"encoding/json"

	"github.com/dvloznov/finance-ledger/internal/coa"
	"github.com/shopspring/decimal"
)

// JSON names of a node's total.
const (
	FieldTotalUSD = "totalUSD"
	FieldTotal    = "total"
)

// Node is a resolved chart node. Groups always carry a children array, even
// when empty; leaves never do.
type Node struct {
	Name     string
	Total    decimal.Decimal
	Group    bool
	Children []*Node

	field string
}

// MarshalJSON writes {name, <total field>[, children]} with the total as a
// bare number.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	name, err := marshal(n.Name)
	if err != nil {
		return nil, err
	}
	field := n.field
	if field == "" {
		field = FieldTotal
	}

	buf.WriteString(`{"name":`)
	buf.Write(name)
	buf.WriteString(`,"` + field + `":`)
	buf.WriteString(n.Total.String())
	if n.Group {
		children := n.Children
		if children == nil {
			children = []*Node{}
		}
		data, err := marshal(children)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"children":`)
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Find returns the first node named name, searching depth-first.
func Find(nodes []*Node, name string) *Node {
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
		if found := Find(n.Children, name); found != nil {
			return found
		}
	}
	return nil
}

// Policy parametrises Fold for one report type.
type Policy struct {
	// TotalField is the JSON name of node totals.
	TotalField string
	// Skip drops a node, and everything beneath it, before resolution.
	Skip func(n *coa.Node) bool
	// Value resolves a leaf. keep=false drops the leaf.
	Value func(leaf *coa.Node) (value decimal.Decimal, keep bool)
	// KeepGroup decides whether a resolved group is emitted.
	KeepGroup func(group *coa.Node, children []*Node) bool
}

// Fold resolves nodes under p. A group's total is the sum of its kept
// children.
func Fold(nodes []*coa.Node, p Policy) []*Node {
	out := []*Node{}
	for _, n := range nodes {
		if r := foldNode(n, p); r != nil {
			out = append(out, r)
		}
	}
	return out
}

func foldNode(n *coa.Node, p Policy) *Node {
	if p.Skip != nil && p.Skip(n) {
		return nil
	}

	if n.IsLeaf() {
		value, keep := decimal.Zero, true
		if p.Value != nil {
			value, keep = p.Value(n)
		}
		if !keep {
			return nil
		}
		return &Node{Name: n.Name, Total: value, field: p.TotalField}
	}

	children := Fold(n.Children, p)
	if p.KeepGroup != nil && !p.KeepGroup(n, children) {
		return nil
	}
	total := decimal.Zero
	for _, c := range children {
		total = total.Add(c.Total)
	}
	return &Node{Name: n.Name, Total: total, Group: true, Children: children, field: p.TotalField}
}

// marshal encodes v without HTML escaping.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
