// Package review applies approve/deny decisions to the entity snapshot of a
// copy request and decides whether a request may be completed.
package review

const (
	TypeFile   = "file"
	TypeFolder = "folder"

	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
)

// Node is one snapshot row as seen by the review engine. Status is empty for
// folders and ParentID is empty for top-level entities.
type Node struct {
	ID       string
	ParentID string
	Type     string
	Status   string
}

func (n Node) IsFile() bool {
	return n.Type == TypeFile
}

// Tree indexes a request snapshot by parent so descendants can be resolved
// without recursion.
type Tree struct {
	nodes    map[string]Node
	children map[string][]string
	order    []string
}

func NewTree(nodes []Node) *Tree {
	t := &Tree{
		nodes:    make(map[string]Node, len(nodes)),
		children: make(map[string][]string),
		order:    make([]string, 0, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := t.nodes[n.ID]; dup {
			continue
		}
		t.nodes[n.ID] = n
		t.order = append(t.order, n.ID)
		if n.ParentID != "" {
			t.children[n.ParentID] = append(t.children[n.ParentID], n.ID)
		}
	}
	return t
}

func (t *Tree) Len() int {
	return len(t.order)
}

func (t *Tree) Has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

// Roots returns the top-level entities in snapshot order.
func (t *Tree) Roots() []string {
	var roots []string
	for _, id := range t.order {
		if t.nodes[id].ParentID == "" {
			roots = append(roots, id)
		}
	}
	return roots
}

// Files resolves a selection to leaf files. Selected files are kept, selected
// folders contribute every file below them at any depth, and ids outside the
// snapshot are ignored. The result has no duplicates.
func (t *Tree) Files(selected []string) []string {
	seen := make(map[string]struct{})
	var files []string
	stack := make([]string, 0, len(selected))
	for i := len(selected) - 1; i >= 0; i-- {
		stack = append(stack, selected[i])
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		node, ok := t.nodes[id]
		if !ok {
			continue
		}
		if node.IsFile() {
			files = append(files, id)
			continue
		}
		kids := t.children[id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return files
}

// FilesWithStatus returns every file in the snapshot with the given status.
func (t *Tree) FilesWithStatus(status string) []string {
	var out []string
	for _, id := range t.order {
		n := t.nodes[id]
		if n.IsFile() && n.Status == status {
			out = append(out, id)
		}
	}
	return out
}

// Filter keeps the ids whose node has the given status.
func (t *Tree) Filter(ids []string, status string) []string {
	var out []string
	for _, id := range ids {
		if n, ok := t.nodes[id]; ok && n.Status == status {
			out = append(out, id)
		}
	}
	return out
}

func (t *Tree) Count(ids []string, status string) int {
	return len(t.Filter(ids, status))
}
