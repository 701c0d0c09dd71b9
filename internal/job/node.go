package job

import "fmt"

// Node is a job with its children, rebuilt from persisted records.
type Node struct {
	Job      *Job
	Children []*Node
}

// Size returns the number of nodes in the subtree rooted at n.
func (n *Node) Size() int {
	if n == nil {
		return 0
	}
	size := 1
	for _, c := range n.Children {
		size += c.Size()
	}
	return size
}

// Find returns the node holding job id, searching depth-first.
func (n *Node) Find(id int64) *Node {
	if n == nil {
		return nil
	}
	if n.Job.ID == id {
		return n
	}
	for _, c := range n.Children {
		if c.Job.ID == id {
			return c
		}
	}
	for _, c := range n.Children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// BuildTree assembles records linked by ParentJobID into a single tree.
//
// Records may arrive in any order: a child seen before its parent is parked
// and attached once the parent joins the tree. The first record without a
// parent is the root. Nil records are ignored and an empty input yields a nil
// tree. Records that cannot be attached make the call fail with
// ErrIncompleteTree.
func BuildTree(jobs []*Job) (*Node, error) {
	records := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		if j != nil {
			records = append(records, j)
		}
	}
	if len(records) == 0 {
		return nil, nil
	}

	var root *Node
	for _, j := range records {
		if j.ParentJobID == nil {
			root = &Node{Job: j}
			break
		}
	}
	if root == nil {
		return nil, ErrNoRoot
	}

	var orphans []*Job
	for _, j := range records {
		if j == root.Job {
			continue
		}
		if j.ParentJobID == nil {
			orphans = append(orphans, j)
			continue
		}
		parent := root.Find(*j.ParentJobID)
		if parent == nil {
			orphans = append(orphans, j)
			continue
		}
		node := &Node{Job: j}
		parent.Children = append(parent.Children, node)
		orphans = adopt(node, orphans)
	}

	if size := root.Size(); size != len(records) {
		return nil, fmt.Errorf("%w, difference of %d", ErrIncompleteTree, len(records)-size)
	}
	return root, nil
}

// adopt attaches the parked records whose parent is node, recursing into the
// newly attached nodes, and returns the records still waiting for a parent.
func adopt(node *Node, orphans []*Job) []*Job {
	var attached []*Node
	remaining := make([]*Job, 0, len(orphans))
	for _, o := range orphans {
		if o.ParentJobID != nil && *o.ParentJobID == node.Job.ID {
			child := &Node{Job: o}
			node.Children = append(node.Children, child)
			attached = append(attached, child)
			continue
		}
		remaining = append(remaining, o)
	}
	for _, child := range attached {
		remaining = adopt(child, remaining)
	}
	return remaining
}

// FindLeafNodes returns the childless nodes of the tree, depth-first, left to right.
func FindLeafNodes(root *Node) []*Node {
	if root == nil {
		return nil
	}
	if len(root.Children) == 0 {
		return []*Node{root}
	}
	var leaves []*Node
	for _, c := range root.Children {
		leaves = append(leaves, FindLeafNodes(c)...)
	}
	return leaves
}

// Walk visits every node of the tree in pre-order.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}
