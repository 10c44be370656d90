package drive

import (
	"context"
	"fmt"
	"strings"
)

// ErrPathNotFound is returned by ResolvePath when a component is missing.
var ErrPathNotFound = fmt.Errorf("path not found")

// Resolver maps slash-delimited logical paths to remote folder node ids
// (spec §4.4). It strips an optional leading "my_files/" prefix and obeys
// the full-iteration rule: every children enumeration is drained to
// exhaustion, even after a match, so the drive client can mark its
// children-complete cache.
type Resolver struct {
	client Client
}

// NewResolver constructs a path resolver over client.
func NewResolver(client Client) *Resolver {
	return &Resolver{client: client}
}

func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "my_files/")
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// findChild scans folderID's children for name, always exhausting the
// iterator before returning (spec §4.4's full-iteration rule).
func (r *Resolver) findChild(ctx context.Context, folderID, name string) (Child, bool, error) {
	it, err := r.client.IterateFolderChildren(ctx, folderID)
	if err != nil {
		return Child{}, false, err
	}
	var found Child
	var ok bool
	for {
		c, more, err := it.Next(ctx)
		if err != nil {
			return Child{}, false, err
		}
		if !more {
			break
		}
		if !ok && c.Name == name {
			found, ok = c, true
		}
	}
	return found, ok, nil
}

// EnsurePath walks components from the root, creating any that are
// missing, and switches to create-only mode for the remainder once a
// component had to be created (spec §4.4). Returns the deepest folder's
// node id.
func (r *Resolver) EnsurePath(ctx context.Context, path string) (string, error) {
	parent, err := r.client.GetRootFolder(ctx)
	if err != nil {
		return "", err
	}
	components := splitPath(path)
	createOnly := false
	for _, name := range components {
		if !createOnly {
			child, found, err := r.findChild(ctx, parent, name)
			if err != nil {
				return "", err
			}
			if found {
				parent = child.UID
				continue
			}
			createOnly = true
		}
		nodeID, err := r.client.CreateFolder(ctx, parent, name, nil)
		if err != nil {
			return "", err
		}
		parent = nodeID
	}
	return parent, nil
}

// ResolvePath walks components from the root without creating anything;
// a missing component returns ErrPathNotFound (spec §4.4).
func (r *Resolver) ResolvePath(ctx context.Context, path string) (string, error) {
	parent, err := r.client.GetRootFolder(ctx)
	if err != nil {
		return "", err
	}
	for _, name := range splitPath(path) {
		child, found, err := r.findChild(ctx, parent, name)
		if err != nil {
			return "", err
		}
		if !found {
			return "", ErrPathNotFound
		}
		parent = child.UID
	}
	return parent, nil
}

// FindFileByName and FindFolderByName are the §4.5 find-by-name helpers;
// they share findChild's full-iteration guarantee.
func (r *Resolver) FindFileByName(ctx context.Context, folderID, name string) (Child, bool, error) {
	c, ok, err := r.findChild(ctx, folderID, name)
	if ok && c.Type != NodeFile {
		return Child{}, false, nil
	}
	return c, ok, err
}

func (r *Resolver) FindFolderByName(ctx context.Context, folderID, name string) (Child, bool, error) {
	c, ok, err := r.findChild(ctx, folderID, name)
	if ok && c.Type != NodeFolder {
		return Child{}, false, nil
	}
	return c, ok, err
}

// ParentPath splits a slash-delimited path into its parent path and base
// name, the way the executor needs before calling EnsurePath/ResolvePath
// on the containing folder and then looking up the leaf by name.
func ParentPath(path string) (parent, base string) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}
