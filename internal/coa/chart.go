// Package coa loads the chart of accounts: the declarative tree that maps
// report structure onto ledger account and category names.
package coa

import (
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
)

// Section names recognised in the chart file.
const (
	SectionBalanceSheet = "Balance Sheet Accounts"
	SectionProfitLoss   = "Profit & Loss Accounts"
)

// TransfersGroup is the group name that tags its leaves as transfers.
const TransfersGroup = "Transfers"

// Kind tags a Node as a leaf or a group.
type Kind int

const (
	Leaf Kind = iota
	Group
)

func (k Kind) String() string {
	if k == Group {
		return "group"
	}
	return "leaf"
}

// Node is one entry of the chart. A Leaf resolves to a single ledger key,
// which defaults to its name. A Group holds ordered children and never
// carries a ledger key.
type Node struct {
	Name      string
	LedgerKey string
	Kind      Kind
	Children  []*Node
}

// IsLeaf reports whether n resolves to a ledger key.
func (n *Node) IsLeaf() bool { return n.Kind == Leaf }

// LeafKeys returns the distinct ledger keys beneath n in tree order.
func (n *Node) LeafKeys() []string {
	return LeafKeys([]*Node{n})
}

// LeafKeys returns the distinct ledger keys of every leaf in nodes, in
// depth-first order.
func LeafKeys(nodes []*Node) []string {
	seen := make(map[string]struct{})
	var keys []string
	Walk(nodes, func(n *Node) {
		if !n.IsLeaf() {
			return
		}
		if _, ok := seen[n.LedgerKey]; ok {
			return
		}
		seen[n.LedgerKey] = struct{}{}
		keys = append(keys, n.LedgerKey)
	})
	return keys
}

// TransferKeys returns the set of ledger keys found beneath any group named
// Transfers, at any depth.
func TransferKeys(nodes []*Node) map[string]struct{} {
	set := make(map[string]struct{})
	Walk(nodes, func(n *Node) {
		if n.Kind != Group || n.Name != TransfersGroup {
			return
		}
		for _, key := range n.LeafKeys() {
			set[key] = struct{}{}
		}
	})
	return set
}

// Walk visits every node depth-first, parents before children.
func Walk(nodes []*Node, fn func(*Node)) {
	for _, n := range nodes {
		fn(n)
		if n.Kind == Group {
			Walk(n.Children, fn)
		}
	}
}

// Chart is a parsed chart of accounts.
type Chart struct {
	sections map[string][]*Node
	order    []string
}

// Section returns the top-level nodes of the named section. An absent
// section is reported as CONFIG_MISSING.
func (c *Chart) Section(name string) ([]*Node, error) {
	if c != nil {
		if nodes, ok := c.sections[name]; ok {
			return nodes, nil
		}
	}
	return nil, apperrors.NewConfigMissingError(fmt.Sprintf("chart of accounts has no %q section", name))
}

// HasSection reports whether the chart declares the named section.
func (c *Chart) HasSection(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.sections[name]
	return ok
}

// Sections returns section names in file order.
func (c *Chart) Sections() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.order...)
}
