package tree

// TreeState is the subtree sync state shown for a local node.
type TreeState int

const (
	TreeStateNone TreeState = iota
	TreeStateSynced
	TreeStatePending
	TreeStateSyncing
)

func (s TreeState) String() string {
	switch s {
	case TreeStateSynced:
		return "synced"
	case TreeStatePending:
		return "pending"
	case TreeStateSyncing:
		return "syncing"
	default:
		return "none"
	}
}

// SetState records a node's own sync state and propagates the
// aggregate upward: every ancestor recomputes its folder state from
// its children, all the way to the root. Display notifications fire
// only when the shown state actually changes.
func (n *LocalNode) SetState(ts TreeState) {
	n.State = ts
	n.notifyState()

	for p := n.Parent; p != nil; p = p.Parent {
		agg := p.CheckState()
		if agg == p.State {
			break
		}
		p.State = agg
		p.notifyState()
	}
}

// RefreshState recomputes a folder's aggregate state after its child
// set changed, propagating upward as needed.
func (n *LocalNode) RefreshState() {
	agg := n.CheckState()
	if agg == n.State {
		return
	}
	n.SetState(agg)
}

// CheckState computes the aggregate state of a folder from its
// children: any child syncing wins, then any pending, otherwise
// synced. Only meaningful for folders.
func (n *LocalNode) CheckState() TreeState {
	state := TreeStateSynced
	for _, c := range n.Children {
		switch c.State {
		case TreeStateSyncing:
			return TreeStateSyncing
		case TreeStatePending, TreeStateNone:
			state = TreeStatePending
		}
	}
	return state
}

func (n *LocalNode) notifyState() {
	if n.State == n.ShownState {
		return
	}
	n.ShownState = n.State
	if n.tree != nil && n.tree.StateChanged != nil {
		n.tree.StateChanged(n, n.State)
	}
}
