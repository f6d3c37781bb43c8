package models

import "time"

// RemoteEventType classifies remote-tree mutation events.
type RemoteEventType string

const (
	RemoteNodeCreated RemoteEventType = "node_created"
	RemoteNodeUpdated RemoteEventType = "node_updated"
	RemoteNodeRemoved RemoteEventType = "node_removed"
)

// RemoteEvent is one remote mutation delivered by the protocol
// collaborator. Key and Attr are still encrypted at this point.
type RemoteEvent struct {
	Type      RemoteEventType `json:"type"`
	Handle    Handle          `json:"handle"`
	Parent    Handle          `json:"parent"`
	NodeType  NodeType        `json:"node_type"`
	Size      int64           `json:"size"`
	Owner     Handle          `json:"owner"`
	CTime     int64           `json:"ctime"`
	Key       []byte          `json:"key,omitempty"`
	Attr      []byte          `json:"attr,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// LocalEventType classifies filesystem observations.
type LocalEventType string

const (
	LocalEntryObserved LocalEventType = "entry_observed"
	LocalEntryVanished LocalEventType = "entry_vanished"
)

// LocalEvent is one filesystem observation delivered by the scan
// collaborator.
type LocalEvent struct {
	Type        LocalEventType
	Path        string
	Name        string
	NodeType    NodeType
	FsID        FsID
	Fingerprint Fingerprint
	ScanPass    int
}

// TransferDirection distinguishes uploads from downloads.
type TransferDirection int

const (
	TransferUpload TransferDirection = iota
	TransferDownload
)

// TransferEvent is a lifecycle notification from the transfer
// collaborator.
type TransferEvent struct {
	Direction TransferDirection
	Path      string
	Handle    Handle
	Err       error
}
