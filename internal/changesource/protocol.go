// Package changesource speaks the request/response protocol of the
// long-lived file-change service (spec §4.6, §6): version handshake,
// watch-project registration, one-shot query, and named subscriptions.
// The wire format is loosely-typed JSON, so requests and responses are
// built and read with gjson/sjson rather than fully-typed structs,
// mirroring how the service itself treats its own protocol as an
// evolving bag of fields.
package changesource

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MinProtocolVersion is the oldest file-change service protocol version
// this adapter will run in subscription mode against. Older services are
// degraded to one-shot-only (spec §4.6 expansion).
const MinProtocolVersion = "2.0.0"

// File is one entry of a query or subscription result (spec §6).
type File struct {
	Name        string
	Exists      bool
	IsDir       bool
	Size        int64
	ModTimeMS   int64
	Inode       uint64
	New         bool
	ContentHash string
}

// QueryResult is the response to a `query` or the body of a subscription
// callback (spec §4.6).
type QueryResult struct {
	Clock           string
	Files           []File
	SubscriptionName string
	IsFreshInstance bool
}

func buildQueryRequest(watchRoot, relativeRoot, sinceClock string) ([]byte, error) {
	req := `["query","",{}]`
	var err error
	req, err = sjson.Set(req, "1", watchRoot)
	if err != nil {
		return nil, err
	}
	req, err = sjson.Set(req, "2.fields", []string{"name", "size", "mtime_ms", "exists", "type", "new", "ino", "content.sha1hex"})
	if err != nil {
		return nil, err
	}
	req, err = sjson.Set(req, "2.expression", []any{"anyof", []string{"type", "f"}, []string{"type", "d"}})
	if err != nil {
		return nil, err
	}
	if relativeRoot != "" {
		req, err = sjson.Set(req, "2.relative_root", relativeRoot)
		if err != nil {
			return nil, err
		}
	}
	if sinceClock != "" {
		req, err = sjson.Set(req, "2.since", sinceClock)
		if err != nil {
			return nil, err
		}
	}
	return []byte(req), nil
}

func buildSubscribeRequest(watchRoot, name, sinceClock string) ([]byte, error) {
	req := `["subscribe","","",{}]`
	var err error
	req, err = sjson.Set(req, "1", watchRoot)
	if err != nil {
		return nil, err
	}
	req, err = sjson.Set(req, "2", name)
	if err != nil {
		return nil, err
	}
	req, err = sjson.Set(req, "3.fields", []string{"name", "size", "mtime_ms", "exists", "type", "new", "ino", "content.sha1hex"})
	if err != nil {
		return nil, err
	}
	if sinceClock != "" {
		req, err = sjson.Set(req, "3.since", sinceClock)
		if err != nil {
			return nil, err
		}
	}
	return []byte(req), nil
}

func parseQueryResult(body []byte) QueryResult {
	root := gjson.ParseBytes(body)
	var result QueryResult
	result.Clock = root.Get("clock").String()
	result.SubscriptionName = root.Get("subscription").String()
	result.IsFreshInstance = root.Get("is_fresh_instance").Bool()
	root.Get("files").ForEach(func(_, f gjson.Result) bool {
		result.Files = append(result.Files, File{
			Name:        f.Get("name").String(),
			Exists:      f.Get("exists").Bool(),
			IsDir:       f.Get("type").String() == "d",
			Size:        f.Get("size").Int(),
			ModTimeMS:   f.Get("mtime_ms").Int(),
			Inode:       f.Get("ino").Uint(),
			New:         f.Get("new").Bool(),
			ContentHash: f.Get("content.sha1hex").String(),
		})
		return true
	})
	return result
}

func parseVersion(body []byte) (string, error) {
	v := gjson.ParseBytes(body).Get("version")
	if !v.Exists() {
		return "", fmt.Errorf("changesource: version response missing \"version\" field")
	}
	return v.String(), nil
}

func parseError(body []byte) (string, bool) {
	e := gjson.ParseBytes(body).Get("error")
	if !e.Exists() {
		return "", false
	}
	return e.String(), true
}
