// Package drivetest provides an in-memory drive.Client fake for exercising
// the path resolver and executor without a real remote store, honoring
// the full-iteration rule from spec §4.4 so tests can assert on it.
package drivetest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MiMillieuh/proton-drive-sync/internal/drive"
)

type node struct {
	id       string
	name     string
	typ      drive.NodeType
	parent   string
	children []string
	content  []byte
}

// Client is a mutation-tracking in-memory fake of drive.Client.
type Client struct {
	mu     sync.Mutex
	nodes  map[string]*node
	rootID string

	// IterationCounts records, per folder id, how many times its children
	// iterator was drained to exhaustion (Next returned ok=false). Tests
	// assert this only increases on fully-consumed iterations.
	IterationCounts map[string]int

	// ScriptedUploadErrors, keyed by file name, is a FIFO queue of errors
	// returned by the Nth Completion() call for an uploader of that name;
	// once exhausted, uploads for that name succeed.
	ScriptedUploadErrors map[string][]error

	// ScriptedDeleteErrors, keyed by node id, is a FIFO queue of errors
	// returned by the next TrashNodes/DeleteNodes call for that id, for
	// simulating a race where the node is found by a pre-check but gone
	// by the time the actual delete call reaches the backend.
	ScriptedDeleteErrors map[string][]error
}

// New constructs an empty fake rooted at a single root folder.
func New() *Client {
	c := &Client{
		nodes:                map[string]*node{},
		IterationCounts:      map[string]int{},
		ScriptedUploadErrors: map[string][]error{},
		ScriptedDeleteErrors: map[string][]error{},
	}
	c.rootID = c.newID()
	c.nodes[c.rootID] = &node{id: c.rootID, name: "", typ: drive.NodeFolder}
	return c
}

// newID mints an opaque node uid the way the real drive client's §6
// capability surface describes node identifiers (uid, not a sequential
// row number), so tests exercise the same string-keyed lookups a real
// backend would require.
func (c *Client) newID() string {
	return uuid.NewString()
}

// GetRootFolder implements drive.Client.
func (c *Client) GetRootFolder(ctx context.Context) (string, error) {
	return c.rootID, nil
}

type iterator struct {
	children []drive.Child
	pos      int
	onDone   func()
}

func (it *iterator) Next(ctx context.Context) (drive.Child, bool, error) {
	if it.pos >= len(it.children) {
		if it.onDone != nil {
			it.onDone()
			it.onDone = nil // idempotent: only the first exhausting call counts
		}
		return drive.Child{}, false, nil
	}
	c := it.children[it.pos]
	it.pos++
	return c, true, nil
}

// IterateFolderChildren implements drive.Client.
func (c *Client) IterateFolderChildren(ctx context.Context, folderID string) (drive.ChildIterator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parent, ok := c.nodes[folderID]
	if !ok {
		return nil, drive.NewError(drive.KindNotFound, "IterateFolderChildren", folderID, nil)
	}
	children := make([]drive.Child, 0, len(parent.children))
	for _, id := range parent.children {
		n := c.nodes[id]
		children = append(children, drive.Child{UID: n.id, Name: n.name, Type: n.typ})
	}
	return &iterator{
		children: children,
		onDone: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.IterationCounts[folderID]++
		},
	}, nil
}

// CreateFolder implements drive.Client.
func (c *Client) CreateFolder(ctx context.Context, parent, name string, mtime *time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.nodes[parent]
	if !ok {
		return "", drive.NewError(drive.KindNotFound, "CreateFolder", parent, nil)
	}
	for _, id := range p.children {
		if c.nodes[id].name == name {
			return "", drive.NewError(drive.KindNameConflict, "CreateFolder", name, nil)
		}
	}
	id := c.newID()
	c.nodes[id] = &node{id: id, name: name, typ: drive.NodeFolder, parent: parent}
	p.children = append(p.children, id)
	return id, nil
}

type uploader struct {
	complete func(ctx context.Context) (string, error)
}

func (u *uploader) Pause()  {}
func (u *uploader) Resume() {}
func (u *uploader) Completion(ctx context.Context) (string, error) {
	return u.complete(ctx)
}

func (c *Client) nextScriptedError(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.ScriptedUploadErrors[name]
	if len(q) == 0 {
		return nil
	}
	c.ScriptedUploadErrors[name] = q[1:]
	return q[0]
}

// GetFileUploader implements drive.Client: creates a new file node on
// Completion, or returns a scripted error for this name.
func (c *Client) GetFileUploader(ctx context.Context, parent, name string, meta drive.UploadMetadata, body io.ReadCloser, onProgress drive.ProgressFunc) (drive.Uploader, error) {
	return &uploader{complete: func(ctx context.Context) (string, error) {
		if err := c.nextScriptedError(name); err != nil {
			return "", err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		p, ok := c.nodes[parent]
		if !ok {
			return "", drive.NewError(drive.KindNotFound, "GetFileUploader", parent, nil)
		}
		id := c.newID()
		c.nodes[id] = &node{id: id, name: name, typ: drive.NodeFile, parent: parent}
		p.children = append(p.children, id)
		if onProgress != nil {
			onProgress(meta.ExpectedSize)
		}
		return id, nil
	}}, nil
}

// GetFileRevisionUploader implements drive.Client: replaces nodeID's
// content on Completion, or returns a scripted error keyed by its name.
func (c *Client) GetFileRevisionUploader(ctx context.Context, nodeID string, meta drive.UploadMetadata, body io.ReadCloser, onProgress drive.ProgressFunc) (drive.Uploader, error) {
	c.mu.Lock()
	n, ok := c.nodes[nodeID]
	c.mu.Unlock()
	if !ok {
		return nil, drive.NewError(drive.KindNotFound, "GetFileRevisionUploader", nodeID, nil)
	}
	return &uploader{complete: func(ctx context.Context) (string, error) {
		if err := c.nextScriptedError(n.name); err != nil {
			return "", err
		}
		if onProgress != nil {
			onProgress(meta.ExpectedSize)
		}
		return nodeID, nil
	}}, nil
}

// TrashNodes implements drive.Client.
func (c *Client) TrashNodes(ctx context.Context, ids []string) ([]drive.NodeResult, error) {
	return c.removeNodes(ids), nil
}

// DeleteNodes implements drive.Client.
func (c *Client) DeleteNodes(ctx context.Context, ids []string) ([]drive.NodeResult, error) {
	return c.removeNodes(ids), nil
}

func (c *Client) removeNodes(ids []string) []drive.NodeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	results := make([]drive.NodeResult, 0, len(ids))
	for _, id := range ids {
		if q := c.ScriptedDeleteErrors[id]; len(q) > 0 {
			c.ScriptedDeleteErrors[id] = q[1:]
			results = append(results, drive.NodeResult{NodeID: id, Err: q[0]})
			continue
		}
		n, ok := c.nodes[id]
		if !ok {
			results = append(results, drive.NodeResult{NodeID: id, Err: drive.NewError(drive.KindNotFound, "Delete", id, nil)})
			continue
		}
		if p, ok := c.nodes[n.parent]; ok {
			p.children = removeID(p.children, id)
		}
		delete(c.nodes, id)
		results = append(results, drive.NodeResult{NodeID: id})
	}
	return results
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// MoveNodes implements drive.Client.
func (c *Client) MoveNodes(ctx context.Context, ids []string, newParent string) ([]drive.NodeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	np, ok := c.nodes[newParent]
	if !ok {
		results := make([]drive.NodeResult, len(ids))
		for i, id := range ids {
			results[i] = drive.NodeResult{NodeID: id, Err: drive.NewError(drive.KindNotFound, "Move", newParent, nil)}
		}
		return results, nil
	}
	results := make([]drive.NodeResult, 0, len(ids))
	for _, id := range ids {
		n, ok := c.nodes[id]
		if !ok {
			results = append(results, drive.NodeResult{NodeID: id, Err: drive.NewError(drive.KindNotFound, "Move", id, nil)})
			continue
		}
		if oldParent, ok := c.nodes[n.parent]; ok {
			oldParent.children = removeID(oldParent.children, id)
		}
		n.parent = newParent
		np.children = append(np.children, id)
		results = append(results, drive.NodeResult{NodeID: id})
	}
	return results, nil
}

// RenameNode implements drive.Client.
func (c *Client) RenameNode(ctx context.Context, id, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return drive.NewError(drive.KindNotFound, "Rename", id, nil)
	}
	if p, ok := c.nodes[n.parent]; ok {
		for _, siblingID := range p.children {
			if siblingID != id && c.nodes[siblingID].name == newName {
				return drive.NewError(drive.KindNameConflict, "Rename", newName, nil)
			}
		}
	}
	n.name = newName
	return nil
}

// IterateSharedNodes implements drive.Client with an always-empty sequence.
func (c *Client) IterateSharedNodes(ctx context.Context) (drive.ChildIterator, error) {
	return &iterator{}, nil
}

// IterateTrashedNodes implements drive.Client with an always-empty sequence.
func (c *Client) IterateTrashedNodes(ctx context.Context) (drive.ChildIterator, error) {
	return &iterator{}, nil
}
