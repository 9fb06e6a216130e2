/*
tree.go - Chart of accounts as a forest of parent/child nodes

PURPOSE:
  Builds an in-memory forest from a flat account list and answers the
  structural questions the rest of the ledger asks: ancestors of a leaf
  (for incremental balance rollup), descendants of a group (for group
  balances), the next free child code, and whether a reparent would
  introduce a cycle.

TOLERANCE:
  BuildTree never fails. An account whose parent cannot be resolved is
  promoted to a root and reported in Forest.Warnings. An account caught
  in a parent cycle is detached at its lowest-coded member, promoted to a
  root, and the cycle is reported by Validate. Every traversal is bounded
  by the number of nodes, so a corrupt chart can never hang a caller.

CODE GENERATION:
  Child codes extend the parent code with a numeric suffix:
    parent "12", children "121", "122"  -> next is "123"
    parent "12", no children             -> next is "121"
  Non-numeric suffixes count as zero. The candidate is only a proposal;
  Chart.AddAccount re-checks it against the store's unique constraint.

SEE ALSO:
  - chart.go:   Mutating account operations built on these queries
  - balance.go: Group rollup over Descendants
*/
package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Node is one account in the forest.
type Node struct {
	Account  Account
	Parent   *Node
	Children []*Node
}

// TreeWarning reports an account that BuildTree had to re-root.
type TreeWarning struct {
	AccountID AccountID
	ParentID  AccountID
	Reason    string
}

// Forest is the chart of accounts linked into trees.
type Forest struct {
	Roots    []*Node
	Warnings []TreeWarning

	nodes  map[AccountID]*Node
	order  []*Node
	cycles []StructuralViolation
}

// BuildTree links accounts into a forest. Children are ordered by code.
func BuildTree(accounts []Account) *Forest {
	f := &Forest{nodes: make(map[AccountID]*Node, len(accounts))}

	sorted := make([]Account, len(accounts))
	copy(sorted, accounts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	for _, a := range sorted {
		n := &Node{Account: a}
		f.nodes[a.ID] = n
		f.order = append(f.order, n)
	}

	for _, n := range f.order {
		pid := n.Account.ParentID
		if pid == "" {
			f.Roots = append(f.Roots, n)
			continue
		}
		p, ok := f.nodes[pid]
		if !ok {
			f.Roots = append(f.Roots, n)
			f.Warnings = append(f.Warnings, TreeWarning{
				AccountID: n.Account.ID,
				ParentID:  pid,
				Reason:    "parent not found",
			})
			continue
		}
		n.Parent = p
		p.Children = append(p.Children, n)
	}

	for _, n := range f.order {
		if !f.onCycle(n) {
			continue
		}
		f.cycles = append(f.cycles, StructuralViolation{
			Kind:      ViolationCycle,
			AccountID: n.Account.ID,
			Code:      n.Account.Code,
			Detail:    fmt.Sprintf("parent chain through %s returns to itself", n.Account.ParentID),
		})
		f.Warnings = append(f.Warnings, TreeWarning{
			AccountID: n.Account.ID,
			ParentID:  n.Account.ParentID,
			Reason:    "parent cycle",
		})
		f.detach(n)
		f.Roots = append(f.Roots, n)
	}

	sort.SliceStable(f.Roots, func(i, j int) bool { return f.Roots[i].Account.Code < f.Roots[j].Account.Code })
	return f
}

func (f *Forest) onCycle(n *Node) bool {
	cur := n.Parent
	for steps := 0; cur != nil && steps <= len(f.order); steps++ {
		if cur == n {
			return true
		}
		cur = cur.Parent
	}
	return false
}

func (f *Forest) detach(n *Node) {
	if n.Parent == nil {
		return
	}
	siblings := n.Parent.Children
	for i, c := range siblings {
		if c == n {
			n.Parent.Children = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	n.Parent = nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Node returns the node for id.
func (f *Forest) Node(id AccountID) (*Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

// Accounts returns every account in code order.
func (f *Forest) Accounts() []Account {
	out := make([]Account, len(f.order))
	for i, n := range f.order {
		out[i] = n.Account
	}
	return out
}

// Len returns the number of accounts in the forest.
func (f *Forest) Len() int {
	return len(f.order)
}

// Ancestors returns the chain of parents of id, nearest first.
func (f *Forest) Ancestors(id AccountID) []*Node {
	n, ok := f.nodes[id]
	if !ok {
		return nil
	}
	var out []*Node
	for cur := n.Parent; cur != nil && len(out) < len(f.order); cur = cur.Parent {
		out = append(out, cur)
	}
	return out
}

// Descendants returns every node below id, depth first.
func (f *Forest) Descendants(id AccountID) []*Node {
	n, ok := f.nodes[id]
	if !ok {
		return nil
	}
	var out []*Node
	seen := map[*Node]bool{n: true}
	stack := append([]*Node{}, n.Children...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		stack = append(stack, cur.Children...)
	}
	return out
}

// Leaves returns the postable accounts below id, or every leaf in the forest
// when id is empty.
func (f *Forest) Leaves(id AccountID) []Account {
	nodes := f.order
	if id != "" {
		nodes = f.Descendants(id)
	}
	var out []Account
	for _, n := range nodes {
		if !n.Account.IsGroup {
			out = append(out, n.Account)
		}
	}
	return out
}

// Walk visits every node depth first in code order. depth is 0 for roots.
func (f *Forest) Walk(fn func(n *Node, depth int)) {
	var visit func(n *Node, depth int)
	visit = func(n *Node, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}
	for _, r := range f.Roots {
		visit(r, 0)
	}
}

// WouldCycle reports whether making newParent the parent of id would
// create a cycle.
func (f *Forest) WouldCycle(id, newParent AccountID) bool {
	if newParent == "" {
		return false
	}
	if newParent == id {
		return true
	}
	for _, a := range f.Ancestors(newParent) {
		if a.Account.ID == id {
			return true
		}
	}
	return false
}

// NextChildCode proposes the next code for a new child of parentID.
// An empty parentID proposes the next numeric root code.
func (f *Forest) NextChildCode(parentID AccountID) (string, error) {
	var prefix string
	var siblings []*Node
	if parentID == "" {
		siblings = f.Roots
	} else {
		p, ok := f.nodes[parentID]
		if !ok {
			return "", fmt.Errorf("%w: parent %s", ErrAccountNotFound, parentID)
		}
		prefix = p.Account.Code
		siblings = p.Children
	}

	max := 0
	for _, c := range siblings {
		if !strings.HasPrefix(c.Account.Code, prefix) {
			continue
		}
		if n, err := strconv.Atoi(c.Account.Code[len(prefix):]); err == nil && n > max {
			max = n
		}
	}
	return prefix + strconv.Itoa(max+1), nil
}

// =============================================================================
// STRUCTURAL VALIDATION
// =============================================================================

// Validate reports every structural problem in the forest: parent cycles
// found while building, duplicate codes, and leaf accounts with children.
func (f *Forest) Validate() []StructuralViolation {
	out := append([]StructuralViolation{}, f.cycles...)

	byCode := make(map[string]AccountID, len(f.order))
	for _, n := range f.order {
		a := n.Account
		if first, dup := byCode[a.Code]; dup {
			out = append(out, StructuralViolation{
				Kind:      ViolationDuplicateCode,
				AccountID: a.ID,
				Code:      a.Code,
				Detail:    fmt.Sprintf("code also used by %s", first),
			})
		} else {
			byCode[a.Code] = a.ID
		}
		if !a.IsGroup && len(n.Children) > 0 {
			out = append(out, StructuralViolation{
				Kind:      ViolationLeafWithChild,
				AccountID: a.ID,
				Code:      a.Code,
				Detail:    fmt.Sprintf("leaf account has %d children", len(n.Children)),
			})
		}
	}
	return out
}
