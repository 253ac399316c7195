package dap

import (
	godap "github.com/google/go-dap"
)

// Node is one row in a session's scopes tree: either a scope or a variable.
// Children are fetched lazily; Read records whether that fetch ever happened,
// Expanded whether the row is currently open.
//
// ChildrenExpandedCount caches the number of visible descendant rows so a
// virtualized list can size itself without walking the tree: for an expanded
// node it is the sum over all children of child.ChildrenExpandedCount+1, for
// a collapsed node it is 0. All mutations go through SetChildren, Expand and
// Collapse, which re-derive the counts instead of adjusting them in place.
type Node struct {
	Scope    *godap.Scope
	Variable *godap.Variable

	Parent   *Node
	Children []*Node

	Read                  bool
	Expanded              bool
	ChildrenExpandedCount int
}

// Name returns the scope or variable name.
func (n *Node) Name() string {
	switch {
	case n.Scope != nil:
		return n.Scope.Name
	case n.Variable != nil:
		return n.Variable.Name
	default:
		return ""
	}
}

// Reference returns the variables reference used to fetch this node's
// children. Zero means the node is a leaf.
func (n *Node) Reference() int {
	switch {
	case n.Scope != nil:
		return n.Scope.VariablesReference
	case n.Variable != nil:
		return n.Variable.VariablesReference
	default:
		return 0
	}
}

// HasChildren reports whether the adapter can produce children for this node.
func (n *Node) HasChildren() bool {
	return n.Reference() > 0
}

// Path returns the chain of variables references leading to this node, root
// scope first, excluding the node itself. It is what a client needs to
// re-fetch the node after the tree was rebuilt.
func (n *Node) Path() []int {
	var path []int
	for cur := n.Parent; cur != nil && (cur.Scope != nil || cur.Variable != nil); cur = cur.Parent {
		path = append([]int{cur.Reference()}, path...)
	}
	return path
}

// SetChildren replaces the node's children with the given variables and marks
// the node read. Counts are re-derived; the node's expansion state is left
// alone.
func (n *Node) SetChildren(vars []godap.Variable) {
	children := make([]*Node, len(vars))
	for i := range vars {
		v := vars[i]
		children[i] = &Node{Variable: &v, Parent: n}
	}
	n.Children = children
	n.Read = true
	n.refresh()
}

// Expand opens the node and updates the visible-row counts up the tree.
func (n *Node) Expand() {
	n.Expanded = true
	n.refresh()
}

// Collapse closes the node and updates the visible-row counts up the tree.
// Descendants keep their own expansion state, so re-expanding restores the
// previous count.
func (n *Node) Collapse() {
	n.Expanded = false
	n.refresh()
}

// refresh re-derives ChildrenExpandedCount for this node and every ancestor.
// Siblings and descendants are untouched; their counts are already correct.
func (n *Node) refresh() {
	for cur := n; cur != nil; cur = cur.Parent {
		cur.ChildrenExpandedCount = countFromChildren(cur)
	}
}

func countFromChildren(n *Node) int {
	if !n.Expanded {
		return 0
	}
	total := 0
	for _, c := range n.Children {
		total += c.ChildrenExpandedCount + 1
	}
	return total
}

// Tree is the scopes tree of one debug session, rebuilt on every getScopes
// call. It is not safe for concurrent use; the owning session serializes
// access.
type Tree struct {
	root *Node
}

// NewTree builds a tree from scope/variable pairs as returned by getScopes:
// the first scope is open with its variables populated, every other scope
// starts closed and unread.
func NewTree(scopes []ScopeVars) *Tree {
	root := &Node{Read: true, Expanded: true}
	root.Children = make([]*Node, len(scopes))
	for i := range scopes {
		sv := scopes[i]
		node := &Node{Scope: &sv.Scope, Parent: root}
		if i == 0 {
			node.SetChildren(sv.Variables)
			node.Expanded = true
		}
		root.Children[i] = node
	}

	t := &Tree{root: root}
	t.Recount()
	return t
}

// Empty reports whether the tree has no scopes.
func (t *Tree) Empty() bool {
	return len(t.root.Children) == 0
}

// Scopes returns the top-level scope nodes in adapter order.
func (t *Tree) Scopes() []*Node {
	return t.root.Children
}

// VisibleCount returns the total number of visible rows.
func (t *Tree) VisibleCount() int {
	return t.root.ChildrenExpandedCount
}

// FindReference returns the node carrying the given variables reference, or
// nil. References are unique per stop, across scopes and variables.
func (t *Tree) FindReference(ref int) *Node {
	if ref <= 0 {
		return nil
	}
	return findReference(t.root, ref)
}

func findReference(n *Node, ref int) *Node {
	for _, c := range n.Children {
		if c.Reference() == ref {
			return c
		}
		if found := findReference(c, ref); found != nil {
			return found
		}
	}
	return nil
}

// Recount re-derives every ChildrenExpandedCount in the tree from the leaves
// up. The incremental bookkeeping in Expand and Collapse keeps the same
// invariant; Recount is the authoritative version used after bulk changes.
func (t *Tree) Recount() {
	recount(t.root)
}

func recount(n *Node) {
	for _, c := range n.Children {
		recount(c)
	}
	n.ChildrenExpandedCount = countFromChildren(n)
}
