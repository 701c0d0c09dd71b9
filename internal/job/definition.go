package job

import (
	"strings"

	"jobrunner/internal/arghash"
)

// Definition is a submitted job tree: a processor name, its arguments and
// nested child definitions.
type Definition struct {
	Name      string
	Arguments Arguments
	Jobs      []Definition
}

// Flatten returns the definition and all its descendants in pre-order.
// Returned copies carry no children.
func (d Definition) Flatten() []Definition {
	out := []Definition{{Name: d.Name, Arguments: d.Arguments}}
	for _, child := range d.Jobs {
		out = append(out, child.Flatten()...)
	}
	return out
}

// HasDuplicate reports whether two nodes of the tree share a name and
// equivalent arguments. Argument equivalence is decided by the canonical
// digest, so key order and null values do not matter.
func (d Definition) HasDuplicate() bool {
	seen := make(map[string]struct{})
	for _, def := range d.Flatten() {
		key := def.Name + "\x00" + arghash.Sum(def.Arguments)
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
	}
	return false
}

// Tree is an expanded definition. Nodes are stored in pre-order in a flat
// slice, so Nodes[0] is always the root and every parent precedes its children.
type Tree struct {
	Nodes []TreeNode
}

// TreeNode is one job of an expanded tree.
type TreeNode struct {
	Job      Job
	Parent   int // -1 for the root
	Children []int
}

// Root returns the root job.
func (t *Tree) Root() *Job {
	return &t.Nodes[0].Job
}

// Names returns the distinct processor names in pre-order.
func (t *Tree) Names() []string {
	seen := make(map[string]struct{}, len(t.Nodes))
	var names []string
	for _, n := range t.Nodes {
		if _, ok := seen[n.Job.Name]; ok {
			continue
		}
		seen[n.Job.Name] = struct{}{}
		names = append(names, n.Job.Name)
	}
	return names
}

// Len returns the number of jobs in the tree.
func (t *Tree) Len() int {
	return len(t.Nodes)
}

// Expand validates a definition and turns it into a tree of READY jobs with
// their argument digests computed. A tree holding the same name and arguments
// twice is rejected with ErrDuplicateDefinition.
func Expand(def Definition) (*Tree, error) {
	if err := validate(def, "jobs"); err != nil {
		return nil, err
	}
	if def.HasDuplicate() {
		return nil, ErrDuplicateDefinition
	}

	t := &Tree{}
	t.add(def, -1)
	return t, nil
}

func (t *Tree) add(def Definition, parent int) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, TreeNode{
		Job: Job{
			Name:          def.Name,
			Arguments:     def.Arguments,
			ArgumentsHash: arghash.Sum(def.Arguments),
			State:         StateReady,
		},
		Parent: parent,
	})
	if parent >= 0 {
		t.Nodes[parent].Children = append(t.Nodes[parent].Children, idx)
	}
	for _, child := range def.Jobs {
		t.add(child, idx)
	}
	return idx
}

func validate(def Definition, path string) error {
	if strings.TrimSpace(def.Name) == "" {
		return &ValidationError{Message: path + ": name is required"}
	}
	for _, child := range def.Jobs {
		if err := validate(child, path+"."+def.Name); err != nil {
			return err
		}
	}
	return nil
}
