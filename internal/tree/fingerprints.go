package tree

import (
	"github.com/google/btree"

	"github.com/skeinsync/skein/internal/models"
)

const fingerprintDegree = 32

// Fingerprints is the ordered multi-map from content fingerprint to
// file nodes. Equality on the fingerprint order is coarser than true
// content equality, so lookups return candidate sets; callers needing
// certainty must compare further. Entries are kept unique by breaking
// ties on the node handle, which also makes removal a delete by exact
// composite key rather than a value search.
type Fingerprints struct {
	set      *btree.BTreeG[*Node]
	sumSizes int64
}

func fingerprintLess(a, b *Node) bool {
	if !a.Fingerprint.EqualTo(b.Fingerprint) {
		return a.Fingerprint.Less(b.Fingerprint)
	}
	return a.Handle < b.Handle
}

// NewFingerprints creates an empty index.
func NewFingerprints() *Fingerprints {
	return &Fingerprints{
		set: btree.NewG(fingerprintDegree, fingerprintLess),
	}
}

// Add inserts a file node with a resolved fingerprint. Folder nodes,
// invalid fingerprints and nodes already present are ignored.
func (f *Fingerprints) Add(n *Node) {
	if n.Type != models.TypeFile || !n.Fingerprint.Valid || n.indexed {
		return
	}
	f.set.ReplaceOrInsert(n)
	n.indexed = true
	f.sumSizes += n.Fingerprint.Size
}

// Remove erases the node's recorded index position. No-op if the node
// is not indexed.
func (f *Fingerprints) Remove(n *Node) {
	if !n.indexed {
		return
	}
	if _, ok := f.set.Delete(n); ok {
		f.sumSizes -= n.Fingerprint.Size
	}
	n.indexed = false
}

// NodeByFingerprint returns the lowest node comparing equal to fp, or
// nil.
func (f *Fingerprints) NodeByFingerprint(fp models.Fingerprint) *Node {
	var found *Node
	pivot := &Node{Fingerprint: fp}
	f.set.AscendGreaterOrEqual(pivot, func(n *Node) bool {
		if n.Fingerprint.EqualTo(fp) {
			found = n
		}
		return false
	})
	return found
}

// NodesByFingerprint returns all nodes comparing equal to fp, in index
// order.
func (f *Fingerprints) NodesByFingerprint(fp models.Fingerprint) []*Node {
	var out []*Node
	pivot := &Node{Fingerprint: fp}
	f.set.AscendGreaterOrEqual(pivot, func(n *Node) bool {
		if !n.Fingerprint.EqualTo(fp) {
			return false
		}
		out = append(out, n)
		return true
	})
	return out
}

// Clear empties the index and resets the size sum. Nodes themselves
// are untouched apart from their membership marker.
func (f *Fingerprints) Clear() {
	f.set.Ascend(func(n *Node) bool {
		n.indexed = false
		return true
	})
	f.set.Clear(false)
	f.sumSizes = 0
}

// SumSizes returns the running sum of all indexed file sizes.
func (f *Fingerprints) SumSizes() int64 { return f.sumSizes }

// Len returns the number of indexed nodes.
func (f *Fingerprints) Len() int { return f.set.Len() }
