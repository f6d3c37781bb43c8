// Package session runs the sync core's control loop. All tree
// mutation happens here, on one goroutine, in response to discrete
// collaborator events: remote protocol batches, filesystem scan
// passes, transfer notifications.
package session

import (
	"context"
	"path"
	"time"

	"github.com/skeinsync/skein/internal/config"
	"github.com/skeinsync/skein/internal/crypto"
	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
	"github.com/skeinsync/skein/internal/scanner"
	"github.com/skeinsync/skein/internal/state"
	"github.com/skeinsync/skein/internal/transport"
	"github.com/skeinsync/skein/internal/tree"
)

// Session owns one synchronization context: the remote tree, its local
// mirror, the state cache and the collaborator adapters.
type Session struct {
	cfg    *config.Config
	logger *events.Logger

	remote *tree.Tree
	local  *tree.LocalTree

	store     state.Store
	transport transport.Transport
	scan      *scanner.Scanner

	// Pending remote creations, in request order.
	pending []*tree.NewNode

	syncIDSeq uint64
	running   bool
}

// New assembles a session. store, tp and scan may be nil for partial
// setups (tests, read-only inspection).
func New(cfg *config.Config, cipher crypto.Cipher, masterKey []byte, store state.Store, tp transport.Transport, scan *scanner.Scanner, logger *events.Logger) *Session {
	log := logger.WithField("component", "session")
	remote := tree.New(cipher, masterKey, logger)
	rootName := "."
	if cfg != nil && cfg.Storage.SyncRoot != "" {
		rootName = cfg.Storage.SyncRoot
	}
	return &Session{
		cfg:       cfg,
		logger:    log,
		remote:    remote,
		local:     tree.NewLocalTree(remote, rootName, logger),
		store:     store,
		transport: tp,
		scan:      scan,
	}
}

// Remote exposes the remote tree for queries.
func (s *Session) Remote() *tree.Tree { return s.remote }

// Local exposes the local mirror for queries.
func (s *Session) Local() *tree.LocalTree { return s.local }

// Run drives the control loop until ctx is cancelled: an initial
// snapshot (or cached-state load), then remote events, watcher events
// and periodic scan passes, all applied on this goroutine.
func (s *Session) Run(ctx context.Context) error {
	if s.running {
		return models.ErrAlreadySyncing
	}
	s.running = true
	defer func() { s.running = false }()

	if err := s.LoadState(); err != nil {
		s.logger.WithError(err).Warn("State cache unusable, fetching snapshot")
		snapshot, err := s.transport.FetchSnapshot(ctx)
		if err != nil {
			return err
		}
		for _, ev := range snapshot {
			s.OnRemoteNodeCreated(ev)
		}
	}

	remoteCh, err := s.transport.StreamEvents(ctx)
	if err != nil {
		return err
	}

	var localCh <-chan models.LocalEvent
	if s.scan != nil {
		s.RunScanPass(ctx)
		localCh, err = s.scan.Watch(ctx)
		if err != nil {
			return err
		}
	}

	interval := 30 * time.Second
	if s.cfg != nil && s.cfg.Sync.ScanInterval > 0 {
		interval = s.cfg.Sync.ScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.SaveState(); err != nil {
				s.logger.WithError(err).Error("Final state save failed")
			}
			return ctx.Err()

		case ev, ok := <-remoteCh:
			if !ok {
				return models.ErrSessionClosed
			}
			s.applyRemote(ev)

		case ev, ok := <-localCh:
			if !ok {
				localCh = nil
				continue
			}
			// Watcher events arrive generation-less; stamp them here,
			// where the scan sequence is owned.
			ev.ScanPass = s.local.ScanSeq
			s.applyLocal(ev)

		case <-ticker.C:
			if s.scan != nil {
				s.RunScanPass(ctx)
			}
			if err := s.SaveState(); err != nil {
				s.logger.WithError(err).Error("Periodic state save failed")
			}
		}
	}
}

func (s *Session) applyRemote(ev models.RemoteEvent) {
	switch ev.Type {
	case models.RemoteNodeCreated:
		s.OnRemoteNodeCreated(ev)
	case models.RemoteNodeUpdated:
		s.OnRemoteNodeUpdated(ev)
	case models.RemoteNodeRemoved:
		s.OnRemoteNodeRemoved(ev)
	}
}

func (s *Session) applyLocal(ev models.LocalEvent) {
	switch ev.Type {
	case models.LocalEntryObserved:
		s.OnLocalEntryObserved(ev)
	case models.LocalEntryVanished:
		s.OnLocalEntryVanished(ev)
	}
}

// OnRemoteNodeCreated materializes a node from a remote creation
// event: register, resolve key, link, index, persist.
func (s *Session) OnRemoteNodeCreated(ev models.RemoteEvent) {
	n := tree.NewRemoteNode(ev.Handle, ev.Parent, ev.NodeType, ev.Owner, ev.CTime, ev.Key, ev.Attr)
	if ev.NodeType == models.TypeFile && ev.Size > 0 {
		// Wire-level size; the fingerprint proper arrives with the
		// attributes once the key resolves.
		n.Fingerprint.Size = ev.Size
	}
	if err := s.remote.Put(n); err != nil {
		s.logger.WithError(err).WithField("handle", ev.Handle).Error("Rejected remote node")
		return
	}
	if !ev.Parent.IsDef() && s.remote.RootHandle == models.UndefHandle {
		s.remote.RootHandle = ev.Handle
	}
	s.linkPending(n)
	s.persistNode(n)
}

// OnRemoteNodeUpdated applies attribute, ownership and parent changes
// to an existing node.
func (s *Session) OnRemoteNodeUpdated(ev models.RemoteEvent) {
	n := s.remote.Get(ev.Handle)
	if n == nil {
		// Update for a node we never saw: treat as creation.
		s.OnRemoteNodeCreated(ev)
		return
	}

	if ev.Owner.IsDef() && ev.Owner != n.Owner {
		n.Owner = ev.Owner
		n.Changed.Owner = true
	}
	if ev.CTime != 0 && ev.CTime != n.CTime {
		n.CTime = ev.CTime
		n.Changed.CTime = true
	}
	if len(ev.Attr) > 0 {
		n.AttrBlob = ev.Attr
		if key, err := n.NodeCipherKey(); err == nil {
			plain, err := s.remote.DecryptAttr(key, ev.Attr)
			if err != nil {
				s.logger.WithError(err).WithField("handle", n.Handle).Warn("Updated attributes undecryptable")
			} else if err := s.remote.SetAttributes(n, plain); err != nil {
				s.logger.WithError(err).WithField("handle", n.Handle).Warn("Updated attributes partially decoded")
			}
		}
	}
	if ev.Parent.IsDef() && (n.Parent == nil || n.Parent.Handle != ev.Parent) {
		if p := s.remote.Get(ev.Parent); p != nil {
			if err := s.remote.Attach(n, p); err != nil {
				s.logger.WithError(err).Error("Rejected remote move")
			}
		} else {
			n.ParentHandle = ev.Parent
		}
	}
	s.persistNode(n)
}

// OnRemoteNodeRemoved deletes the node and its subtree, dropping
// persisted records along the way.
func (s *Session) OnRemoteNodeRemoved(ev models.RemoteEvent) {
	n := s.remote.Get(ev.Handle)
	if n == nil {
		return
	}
	var handles []models.Handle
	collectHandles(n, &handles)
	s.remote.Remove(n)
	if s.store != nil {
		for _, h := range handles {
			if err := s.store.DeleteNode(h); err != nil {
				s.logger.WithError(err).Warn("Cannot drop node record")
			}
		}
	}
}

func collectHandles(n *tree.Node, out *[]models.Handle) {
	*out = append(*out, n.Handle)
	for _, c := range n.Children {
		collectHandles(c, out)
	}
}

// OnLocalEntryObserved folds one filesystem observation into the local
// mirror: refresh an existing node or create a new one plus its
// pending remote creation.
func (s *Session) OnLocalEntryObserved(ev models.LocalEvent) {
	parent := s.local.NodeByPath(parentPath(ev.Path))
	if parent == nil {
		s.logger.WithField("path", ev.Path).Debug("Observation for unscanned parent, deferred to next pass")
		return
	}

	n := parent.ChildByName(ev.Name)
	if n == nil {
		n = s.local.NewNode(ev.NodeType, parent, ev.Name)
		s.syncIDSeq++
		n.SyncID = models.Handle(s.syncIDSeq)
		n.SetState(tree.TreeStatePending)
		s.queueCreation(n)
	}

	s.local.Seen(n)
	if ev.FsID.IsDefined() {
		if err := s.local.SetFsID(n, ev.FsID); err != nil {
			// Move-vs-copy ambiguity is the matching collaborator's
			// call; surface and carry on.
			s.logger.WithError(err).Warn("Duplicate fsid in scan pass")
		}
	}
	if ev.NodeType == models.TypeFile && ev.Fingerprint.Valid && !ev.Fingerprint.EqualTo(n.Fingerprint) {
		n.Fingerprint = ev.Fingerprint
		nagle := 3 * time.Second
		if s.cfg != nil && s.cfg.Sync.NagleDelay > 0 {
			nagle = s.cfg.Sync.NagleDelay
		}
		n.BumpNagle(nagle)
		n.SetState(tree.TreeStatePending)
	}
}

// OnLocalEntryVanished counts an entry as missing in the event's scan
// generation; deletion only happens once absence is confirmed across a
// full pass.
func (s *Session) OnLocalEntryVanished(ev models.LocalEvent) {
	n := s.local.NodeByPath(ev.Path)
	if n == nil || n.IsRoot() {
		return
	}
	s.local.MarkNotSeen(n, ev.ScanPass)
	if s.local.ConfirmedGone(n) {
		s.removeLocal(n)
	}
}

// OnTransferStarted is the transfer-collaborator begin hook.
func (s *Session) OnTransferStarted(ev models.TransferEvent) {
	if n := s.local.NodeByPath(ev.Path); n != nil {
		s.local.Prepare(n)
	}
}

// OnTransferCompleted is the transfer-collaborator end hook. A
// successful upload resolves the pending creation and links the new
// remote node.
func (s *Session) OnTransferCompleted(ev models.TransferEvent) {
	n := s.local.NodeByPath(ev.Path)
	if n == nil {
		return
	}
	s.local.Completed(ev, n)
	if ev.Err == nil && ev.Direction == models.TransferUpload {
		if n.New != nil {
			n.New.Added = true
			n.New.Local = nil
			n.New = nil
		}
		if ev.Handle.IsDef() {
			if rn := s.remote.Get(ev.Handle); rn != nil {
				s.local.SetRemoteLink(n, rn)
			}
		}
	}
	s.persistLocal(n)
}

// RunScanPass performs one full scan: bump the generation, replay
// observations, then sweep for entries the pass did not touch.
func (s *Session) RunScanPass(ctx context.Context) {
	s.local.ScanSeq++
	pass := s.local.ScanSeq
	err := s.scan.ScanPass(ctx, pass, func(ev models.LocalEvent) {
		s.OnLocalEntryObserved(ev)
	})
	if err != nil {
		s.logger.WithError(err).Error("Scan pass aborted")
		return
	}
	s.sweepNotSeen(s.local.Root, pass)
}

func (s *Session) sweepNotSeen(n *tree.LocalNode, pass int) {
	for _, c := range n.Children {
		s.sweepNotSeen(c, pass)
		if c.ScanSeq != pass {
			s.local.MarkNotSeen(c, pass)
			if s.local.ConfirmedGone(c) {
				s.removeLocal(c)
			}
		}
	}
}

func (s *Session) removeLocal(n *tree.LocalNode) {
	var dbids []int64
	collectDBIDs(n, &dbids)
	s.local.Remove(n)
	if s.store != nil {
		for _, id := range dbids {
			if id == 0 {
				continue
			}
			if err := s.store.DeleteLocalNode(id); err != nil {
				s.logger.WithError(err).Warn("Cannot drop localnode record")
			}
		}
	}
}

func collectDBIDs(n *tree.LocalNode, out *[]int64) {
	*out = append(*out, n.DBID)
	for _, c := range n.Children {
		collectDBIDs(c, out)
	}
}

// queueCreation batches a remote-creation request for a new local
// entry.
func (s *Session) queueCreation(n *tree.LocalNode) {
	nn := &tree.NewNode{
		NodeCore: tree.NodeCore{
			Handle:       models.UndefHandle,
			ParentHandle: models.UndefHandle,
			Type:         n.Type,
		},
		Source: models.NewNodeSynced,
		SyncID: n.SyncID,
		Local:  n,
	}
	if n.Parent != nil && n.Parent.Node != nil {
		nn.ParentHandle = n.Parent.Node.Handle
	}
	n.New = nn
	s.pending = append(s.pending, nn)
}

// PendingCreations returns queued creation requests still awaiting
// acknowledgement.
func (s *Session) PendingCreations() []*tree.NewNode {
	live := s.pending[:0]
	for _, nn := range s.pending {
		if !nn.Added {
			live = append(live, nn)
		}
	}
	s.pending = live
	return live
}

// AbandonCreation cancels an in-flight creation by severing the
// back-reference; the request itself ages out when acknowledged or
// dropped.
func (s *Session) AbandonCreation(n *tree.LocalNode) {
	if n.New == nil {
		return
	}
	n.New.Local = nil
	n.New.Added = true
	n.New = nil
}

// linkPending correlates a freshly created remote node with a queued
// creation via its sync id.
func (s *Session) linkPending(rn *tree.Node) {
	for _, nn := range s.pending {
		if nn.Added || nn.Local == nil {
			continue
		}
		if nn.Local.Type == rn.Type && nn.Local.Name == rn.DisplayName() {
			nn.Added = true
			nn.Handle = rn.Handle
			s.local.SetRemoteLink(nn.Local, rn)
			nn.Local.Flags.Created = true
			nn.Local.New = nil
			nn.Local.SetState(tree.TreeStateSynced)
			nn.Local = nil
			return
		}
	}
}

// FingerprintLookup returns the candidate set of remote nodes whose
// fingerprints compare equal to fp.
func (s *Session) FingerprintLookup(fp models.Fingerprint) []*tree.Node {
	return s.remote.Fingerprints().NodesByFingerprint(fp)
}

// ResolveDisplayPath builds the decrypted cloud path for a node.
func (s *Session) ResolveDisplayPath(n *tree.Node) string {
	return s.remote.DisplayPath(n)
}

// SubtreeCounts aggregates file/folder/storage counts below a node.
func (s *Session) SubtreeCounts(n *tree.Node) tree.NodeCounter {
	return s.remote.SubtreeCounts(n)
}

// SerializeTree renders the remote tree as one record stream.
func (s *Session) SerializeTree() []byte {
	return state.EncodeTree(s.remote)
}

// LoadState rebuilds both trees from the state cache.
func (s *Session) LoadState() error {
	if s.store == nil {
		return models.ErrStateNotFound
	}
	orphans, err := state.LoadTree(s.store, s.remote)
	if err != nil {
		return err
	}
	for _, o := range orphans {
		s.logger.WithField("handle", o.Handle).WithField("parent", o.Parent).Warn("Orphan node kept as root")
	}
	if s.remote.Len() == 0 {
		return models.ErrStateNotFound
	}
	if err := state.LoadLocalTree(s.store, s.local, s.remote); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"nodes":  s.remote.Len(),
		"sum":    s.remote.Fingerprints().SumSizes(),
	}).Info("State cache loaded")
	return nil
}

// SaveState writes both trees to the state cache.
func (s *Session) SaveState() error {
	if s.store == nil {
		return nil
	}
	if err := state.SaveTree(s.remote, s.store); err != nil {
		return err
	}
	return state.SaveLocalTree(s.local, s.store)
}

func (s *Session) persistNode(n *tree.Node) {
	if s.store == nil {
		return
	}
	if err := s.store.PutNode(n.Handle, state.EncodeNode(n)); err != nil {
		s.logger.WithError(err).WithField("handle", n.Handle).Error("Cannot persist node")
	}
}

func (s *Session) persistLocal(n *tree.LocalNode) {
	if s.store == nil {
		return
	}
	dbid, err := s.store.PutLocalNode(n.DBID, state.EncodeLocalNode(n))
	if err != nil {
		s.logger.WithError(err).WithField("dbid", n.DBID).Error("Cannot persist localnode")
		return
	}
	n.DBID = dbid
}

func parentPath(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
