package session_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinsync/skein/internal/attrs"
	"github.com/skeinsync/skein/internal/crypto"
	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
	"github.com/skeinsync/skein/internal/services/session"
	"github.com/skeinsync/skein/internal/state"
	"github.com/skeinsync/skein/internal/transport"
	"github.com/skeinsync/skein/internal/tree"
)

var testMasterKey = []byte("0123456789abcdef")

func newSession(t *testing.T, store state.Store, tp transport.Transport) *session.Session {
	t.Helper()
	provider := crypto.NewProvider()
	return session.New(nil, provider, testMasterKey, store, tp, nil, events.NewTestLogger())
}

func newStore(t *testing.T) *state.SQLiteStore {
	t.Helper()
	store, err := state.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), nil, nil, events.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// createEvent builds a node-created event whose key and attributes
// decrypt under the test master key.
func createEvent(t *testing.T, h, parent models.Handle, typ models.NodeType, name string, size int64) models.RemoteEvent {
	t.Helper()
	provider := crypto.NewProvider()

	keyLen := crypto.FolderKeyLen
	if typ == models.TypeFile {
		keyLen = crypto.FileKeyLen
	}
	cooked := make([]byte, keyLen)
	for i := range cooked {
		cooked[i] = byte(h) + byte(i)
	}
	keyBlob, err := provider.EncryptKey(testMasterKey, cooked)
	require.NoError(t, err)

	fp := models.Fingerprint{Size: size, MTime: int64(h), Valid: typ == models.TypeFile}
	plain, err := attrs.Build(name, fp, 0, nil)
	require.NoError(t, err)
	cipherKey, err := crypto.FileCipherKey(cooked)
	require.NoError(t, err)
	attrBlob, err := provider.EncryptAttr(cipherKey, plain)
	require.NoError(t, err)

	return models.RemoteEvent{
		Type:     models.RemoteNodeCreated,
		Handle:   h,
		Parent:   parent,
		NodeType: typ,
		Owner:    1,
		Key:      keyBlob,
		Attr:     attrBlob,
	}
}

func TestSession_RemoteCreate(t *testing.T) {
	s := newSession(t, nil, nil)

	s.OnRemoteNodeCreated(createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0))
	s.OnRemoteNodeCreated(createEvent(t, 2, 1, models.TypeFolder, "docs", 0))
	s.OnRemoteNodeCreated(createEvent(t, 3, 2, models.TypeFile, "a.txt", 100))

	assert.Equal(t, models.Handle(1), s.Remote().RootHandle)
	assert.Equal(t, 3, s.Remote().Len())

	file := s.Remote().Get(3)
	require.NotNil(t, file)
	assert.True(t, file.KeyResolved())
	assert.Equal(t, "/cloud/docs/a.txt", s.ResolveDisplayPath(file))
	assert.Equal(t, int64(100), s.Remote().Fingerprints().SumSizes())

	counts := s.SubtreeCounts(s.Remote().Get(1))
	assert.Equal(t, int64(1), counts.Files)
	assert.Equal(t, int64(2), counts.Folders)
}

func TestSession_RemoteUpdateRename(t *testing.T) {
	s := newSession(t, nil, nil)
	s.OnRemoteNodeCreated(createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0))
	s.OnRemoteNodeCreated(createEvent(t, 2, 1, models.TypeFile, "old.txt", 10))

	n := s.Remote().Get(2)
	require.Equal(t, "old.txt", n.DisplayName())

	// Re-seal a rename under the node's own cipher key.
	provider := crypto.NewProvider()
	key, err := n.NodeCipherKey()
	require.NoError(t, err)
	plain, err := attrs.Build("new.txt", n.Fingerprint, 0, nil)
	require.NoError(t, err)
	blob, err := provider.EncryptAttr(key, plain)
	require.NoError(t, err)

	s.OnRemoteNodeUpdated(models.RemoteEvent{
		Type:   models.RemoteNodeUpdated,
		Handle: 2,
		Attr:   blob,
	})

	assert.Equal(t, "new.txt", n.DisplayName())
	assert.True(t, n.Changed.Attrs)
}

func TestSession_RemoteUpdateMove(t *testing.T) {
	s := newSession(t, nil, nil)
	s.OnRemoteNodeCreated(createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0))
	s.OnRemoteNodeCreated(createEvent(t, 2, 1, models.TypeFolder, "a", 0))
	s.OnRemoteNodeCreated(createEvent(t, 3, 1, models.TypeFolder, "b", 0))
	s.OnRemoteNodeCreated(createEvent(t, 4, 2, models.TypeFile, "f.txt", 10))

	s.OnRemoteNodeUpdated(models.RemoteEvent{
		Type:   models.RemoteNodeUpdated,
		Handle: 4,
		Parent: 3,
		Owner:  models.UndefHandle,
	})

	f := s.Remote().Get(4)
	assert.Same(t, s.Remote().Get(3), f.Parent)
	assert.Equal(t, "/cloud/b/f.txt", s.ResolveDisplayPath(f))
	assert.Empty(t, s.Remote().Get(2).Children)
}

func TestSession_RemoteUpdateUnknownNodeCreates(t *testing.T) {
	s := newSession(t, nil, nil)
	s.OnRemoteNodeCreated(createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0))

	ev := createEvent(t, 9, 1, models.TypeFile, "surprise.txt", 7)
	ev.Type = models.RemoteNodeUpdated
	s.OnRemoteNodeUpdated(ev)

	n := s.Remote().Get(9)
	require.NotNil(t, n)
	assert.Equal(t, "surprise.txt", n.DisplayName())
}

func TestSession_RemoteRemoveSubtree(t *testing.T) {
	store := newStore(t)
	s := newSession(t, store, nil)
	s.OnRemoteNodeCreated(createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0))
	s.OnRemoteNodeCreated(createEvent(t, 2, 1, models.TypeFolder, "docs", 0))
	s.OnRemoteNodeCreated(createEvent(t, 3, 2, models.TypeFile, "a.txt", 100))

	s.OnRemoteNodeRemoved(models.RemoteEvent{Type: models.RemoteNodeRemoved, Handle: 2})

	assert.Equal(t, 1, s.Remote().Len())
	assert.Nil(t, s.Remote().Get(3))
	assert.Equal(t, int64(0), s.Remote().Fingerprints().SumSizes())

	// Persisted records for the whole subtree are gone too.
	count := 0
	require.NoError(t, store.WalkNodes(func([]byte) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestSession_LocalObserveBuildsMirror(t *testing.T) {
	s := newSession(t, nil, nil)

	s.OnLocalEntryObserved(models.LocalEvent{
		Type: models.LocalEntryObserved, Path: "docs", Name: "docs",
		NodeType: models.TypeFolder, FsID: 10,
	})
	s.OnLocalEntryObserved(models.LocalEvent{
		Type: models.LocalEntryObserved, Path: "docs/f.txt", Name: "f.txt",
		NodeType: models.TypeFile, FsID: 11,
		Fingerprint: models.Fingerprint{Size: 5, MTime: 1, Valid: true},
	})

	f := s.Local().NodeByPath("docs/f.txt")
	require.NotNil(t, f)
	assert.Equal(t, models.TypeFile, f.Type)
	assert.True(t, f.SyncID.IsDef())
	assert.Equal(t, tree.TreeStatePending, f.State)
	assert.Same(t, f, s.Local().ByFsID(11))

	// Both new entries queued remote creations.
	assert.Len(t, s.PendingCreations(), 2)
}

func TestSession_LocalObserveDeferredWithoutParent(t *testing.T) {
	s := newSession(t, nil, nil)

	s.OnLocalEntryObserved(models.LocalEvent{
		Type: models.LocalEntryObserved, Path: "unseen/f.txt", Name: "f.txt",
		NodeType: models.TypeFile,
	})
	assert.Nil(t, s.Local().NodeByPath("unseen/f.txt"))
	assert.Empty(t, s.PendingCreations())
}

func TestSession_LocalContentChangeBumpsNagle(t *testing.T) {
	s := newSession(t, nil, nil)

	first := models.LocalEvent{
		Type: models.LocalEntryObserved, Path: "f.txt", Name: "f.txt",
		NodeType: models.TypeFile, FsID: 5,
		Fingerprint: models.Fingerprint{Size: 10, MTime: 1, Valid: true},
	}
	s.OnLocalEntryObserved(first)
	n := s.Local().NodeByPath("f.txt")
	require.NotNil(t, n)
	deadline := n.NagleDeadline

	// Unchanged content: no new delay.
	s.OnLocalEntryObserved(first)
	assert.Equal(t, deadline, n.NagleDeadline)

	// New content: delay pushed out, upload deferred.
	changed := first
	changed.Fingerprint = models.Fingerprint{Size: 12, MTime: 2, Valid: true}
	s.OnLocalEntryObserved(changed)
	assert.True(t, n.NagleDeadline.After(deadline))
	assert.False(t, n.NagleElapsed())
	assert.Equal(t, tree.TreeStatePending, n.State)
	assert.True(t, n.Fingerprint.EqualTo(changed.Fingerprint))
}

func TestSession_LinkPendingOnRemoteCreate(t *testing.T) {
	s := newSession(t, nil, nil)
	s.OnRemoteNodeCreated(createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0))

	s.OnLocalEntryObserved(models.LocalEvent{
		Type: models.LocalEntryObserved, Path: "notes.txt", Name: "notes.txt",
		NodeType: models.TypeFile, FsID: 7,
		Fingerprint: models.Fingerprint{Size: 3, MTime: 1, Valid: true},
	})
	local := s.Local().NodeByPath("notes.txt")
	require.NotNil(t, local)
	require.NotNil(t, local.New)
	require.Len(t, s.PendingCreations(), 1)

	// The server acknowledges by creating the remote counterpart.
	s.OnRemoteNodeCreated(createEvent(t, 5, 1, models.TypeFile, "notes.txt", 3))

	rn := s.Remote().Get(5)
	assert.Same(t, rn, local.Node)
	assert.Same(t, local, rn.Local)
	assert.Nil(t, local.New)
	assert.True(t, local.Flags.Created)
	assert.Equal(t, tree.TreeStateSynced, local.State)
	assert.Empty(t, s.PendingCreations())
}

func TestSession_AbandonCreation(t *testing.T) {
	s := newSession(t, nil, nil)
	s.OnLocalEntryObserved(models.LocalEvent{
		Type: models.LocalEntryObserved, Path: "tmp.txt", Name: "tmp.txt",
		NodeType: models.TypeFile,
	})
	n := s.Local().NodeByPath("tmp.txt")
	require.NotNil(t, n.New)

	s.AbandonCreation(n)
	assert.Nil(t, n.New)
	assert.Empty(t, s.PendingCreations())
}

func TestSession_LocalVanishNeedsConfirmation(t *testing.T) {
	s := newSession(t, nil, nil)
	s.OnLocalEntryObserved(models.LocalEvent{
		Type: models.LocalEntryObserved, Path: "f.txt", Name: "f.txt",
		NodeType: models.TypeFile, FsID: 5,
	})
	require.NotNil(t, s.Local().NodeByPath("f.txt"))

	// First miss: still present.
	s.OnLocalEntryVanished(models.LocalEvent{
		Type: models.LocalEntryVanished, Path: "f.txt", ScanPass: 1,
	})
	assert.NotNil(t, s.Local().NodeByPath("f.txt"))

	// A miss in the following pass confirms the deletion.
	s.OnLocalEntryVanished(models.LocalEvent{
		Type: models.LocalEntryVanished, Path: "f.txt", ScanPass: 2,
	})
	assert.Nil(t, s.Local().NodeByPath("f.txt"))
	assert.Nil(t, s.Local().ByFsID(5))
}

func TestSession_DuplicateVanishInOnePassKeepsNode(t *testing.T) {
	s := newSession(t, nil, nil)
	s.OnLocalEntryObserved(models.LocalEvent{
		Type: models.LocalEntryObserved, Path: "f.txt", Name: "f.txt",
		NodeType: models.TypeFile,
	})

	// A rename shows up as two remove notifications in the same
	// generation; that is one miss, not confirmed absence.
	vanish := models.LocalEvent{Type: models.LocalEntryVanished, Path: "f.txt", ScanPass: 1}
	s.OnLocalEntryVanished(vanish)
	s.OnLocalEntryVanished(vanish)
	assert.NotNil(t, s.Local().NodeByPath("f.txt"))

	s.OnLocalEntryVanished(models.LocalEvent{
		Type: models.LocalEntryVanished, Path: "f.txt", ScanPass: 2,
	})
	assert.Nil(t, s.Local().NodeByPath("f.txt"))
}

func TestSession_TransferLifecycle(t *testing.T) {
	s := newSession(t, nil, nil)
	s.OnRemoteNodeCreated(createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0))
	s.OnRemoteNodeCreated(createEvent(t, 2, 1, models.TypeFile, "up.txt", 9))

	s.OnLocalEntryObserved(models.LocalEvent{
		Type: models.LocalEntryObserved, Path: "other.txt", Name: "other.txt",
		NodeType: models.TypeFile,
	})
	n := s.Local().NodeByPath("other.txt")
	require.NotNil(t, n)

	s.OnTransferStarted(models.TransferEvent{Path: "other.txt", Direction: models.TransferUpload})
	assert.Equal(t, tree.TreeStateSyncing, n.State)

	s.OnTransferCompleted(models.TransferEvent{
		Path: "other.txt", Direction: models.TransferUpload, Handle: 2,
	})
	assert.Equal(t, tree.TreeStateSynced, n.State)
	assert.Same(t, s.Remote().Get(2), n.Node)
	assert.Nil(t, n.New)
}

func TestSession_FingerprintLookup(t *testing.T) {
	s := newSession(t, nil, nil)
	s.OnRemoteNodeCreated(createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0))
	s.OnRemoteNodeCreated(createEvent(t, 2, 1, models.TypeFile, "a.bin", 64))

	want := s.Remote().Get(2).Fingerprint
	got := s.FingerprintLookup(want)
	require.Len(t, got, 1)
	assert.Same(t, s.Remote().Get(2), got[0])

	assert.Empty(t, s.FingerprintLookup(models.Fingerprint{Size: 1, Valid: true}))
}

func TestSession_SaveLoadState(t *testing.T) {
	store := newStore(t)

	src := newSession(t, store, nil)
	src.OnRemoteNodeCreated(createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0))
	src.OnRemoteNodeCreated(createEvent(t, 2, 1, models.TypeFile, "a.txt", 50))
	src.OnLocalEntryObserved(models.LocalEvent{
		Type: models.LocalEntryObserved, Path: "a.txt", Name: "a.txt",
		NodeType: models.TypeFile, FsID: 3,
	})
	require.NoError(t, src.SaveState())

	dst := newSession(t, store, nil)
	require.NoError(t, dst.LoadState())

	assert.Equal(t, 2, dst.Remote().Len())
	assert.Equal(t, "a.txt", dst.Remote().Get(2).DisplayName())
	assert.Equal(t, int64(50), dst.Remote().Fingerprints().SumSizes())
	restored := dst.Local().NodeByPath("a.txt")
	require.NotNil(t, restored)
	assert.Equal(t, models.FsID(3), restored.FsID)
}

func TestSession_LoadStateEmpty(t *testing.T) {
	s := newSession(t, newStore(t), nil)
	assert.ErrorIs(t, s.LoadState(), models.ErrStateNotFound)

	noStore := newSession(t, nil, nil)
	assert.ErrorIs(t, noStore.LoadState(), models.ErrStateNotFound)
}

func TestSession_RunConsumesStream(t *testing.T) {
	mock := &transport.MockTransport{
		Snapshot: []models.RemoteEvent{
			createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0),
		},
		Stream: []models.RemoteEvent{
			createEvent(t, 2, 1, models.TypeFile, "streamed.txt", 20),
		},
	}
	s := newSession(t, nil, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The scripted stream closes after replay, ending the loop.
	err := s.Run(ctx)
	assert.ErrorIs(t, err, models.ErrSessionClosed)

	assert.Equal(t, 1, mock.FetchCalls)
	assert.Equal(t, 2, s.Remote().Len())
	assert.Equal(t, "streamed.txt", s.Remote().Get(2).DisplayName())
}

func TestSession_SerializeTree(t *testing.T) {
	s := newSession(t, nil, nil)
	s.OnRemoteNodeCreated(createEvent(t, 1, models.UndefHandle, models.TypeFolder, "cloud", 0))

	blob := s.SerializeTree()
	require.NotEmpty(t, blob)

	provider := crypto.NewProvider()
	dst := tree.New(provider, testMasterKey, events.NewTestLogger())
	orphans, err := state.DecodeTree(blob, dst)
	require.NoError(t, err)
	assert.Empty(t, orphans)
	assert.Equal(t, 1, dst.Len())
}
