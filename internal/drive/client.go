// Package drive declares the capability set the sync engine requires from
// the opaque, end-to-end-encrypted remote object store client (spec §6).
// The core never implements the wire protocol or cryptography; it only
// consumes this interface, so tests substitute an in-memory fake
// (drivetest.Client) that honors the full-iteration rule (spec §4.4).
package drive

import (
	"context"
	"io"
	"time"
)

// NodeType distinguishes folder and file nodes in the remote tree.
type NodeType string

const (
	NodeFolder NodeType = "folder"
	NodeFile   NodeType = "file"
)

// Child is one entry yielded while iterating a folder's children.
type Child struct {
	UID      string
	Name     string
	Type     NodeType
	Degraded bool // true when DecryptionFailure produced a partial entry (spec §7)
}

// ChildIterator is a lazy, finite, non-restartable sequence over a folder's
// children (spec §9). Callers MUST drain it to exhaustion even after a
// match, per the full-iteration rule (spec §4.4): the underlying client
// only marks its children-complete cache once Next returns ok=false.
type ChildIterator interface {
	// Next returns the next child, or ok=false once exhausted.
	Next(ctx context.Context) (child Child, ok bool, err error)
}

// UploadMetadata describes the file being uploaded (spec §4.5).
type UploadMetadata struct {
	MediaType        string
	ExpectedSize     int64
	ModificationTime *time.Time
}

// ProgressFunc receives the number of bytes uploaded so far.
type ProgressFunc func(uploadedBytes int64)

// Uploader is the controller returned by GetFileUploader /
// GetFileRevisionUploader (spec §4.5, §9): pausable, resumable, and
// awaitable for the final node id.
type Uploader interface {
	Pause()
	Resume()
	// Completion blocks until the upload finishes, fails, or ctx is
	// canceled, returning the new/updated node's id.
	Completion(ctx context.Context) (nodeID string, err error)
}

// NodeResult is one entry of a batch move/trash/delete response (spec §4.5).
type NodeResult struct {
	NodeID string
	Err    error
}

// Client is the drive capability set consumed by the sync engine (spec §6).
type Client interface {
	GetRootFolder(ctx context.Context) (nodeID string, err error)
	IterateFolderChildren(ctx context.Context, folderID string) (ChildIterator, error)

	CreateFolder(ctx context.Context, parent, name string, mtime *time.Time) (nodeID string, err error)

	GetFileUploader(ctx context.Context, parent, name string, meta UploadMetadata, body io.ReadCloser, onProgress ProgressFunc) (Uploader, error)
	GetFileRevisionUploader(ctx context.Context, nodeID string, meta UploadMetadata, body io.ReadCloser, onProgress ProgressFunc) (Uploader, error)

	TrashNodes(ctx context.Context, ids []string) ([]NodeResult, error)
	DeleteNodes(ctx context.Context, ids []string) ([]NodeResult, error)
	MoveNodes(ctx context.Context, ids []string, newParent string) ([]NodeResult, error)
	RenameNode(ctx context.Context, id, newName string) error

	// Declared for capability-set completeness per spec §6; the core never
	// calls these, only the out-of-scope dashboard collaborator does.
	IterateSharedNodes(ctx context.Context) (ChildIterator, error)
	IterateTrashedNodes(ctx context.Context) (ChildIterator, error)
}
