package changesource

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/mod/semver"
)

// SpawnMode reports whether the adapter found the file-change service
// already running or had to launch it itself (spec §4.6).
type SpawnMode string

const (
	SpawnExisting SpawnMode = "EXISTING"
	SpawnSpawned  SpawnMode = "SPAWNED"
)

// Client is a connection to the file-change service's long-lived socket,
// speaking its request/response and unilateral-subscription protocol
// (spec §6).
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	mu      sync.Mutex
	version string

	subMu   sync.Mutex
	subs    chan []byte
	pending chan []byte
}

// Dial locates the service's socket via `get-pid --no-spawn`, spawning it
// if absent, and connects. binPath is the path to the service's CLI
// binary (e.g. "watchman").
func Dial(ctx context.Context, binPath, sockPath string) (*Client, SpawnMode, error) {
	mode := SpawnExisting
	if err := probeRunning(ctx, binPath); err != nil {
		if spawnErr := spawnService(ctx, binPath); spawnErr != nil {
			return nil, "", fmt.Errorf("changesource: spawn service: %w", spawnErr)
		}
		mode = SpawnSpawned
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", sockPath)
	if err != nil {
		return nil, "", fmt.Errorf("changesource: dial %s: %w", sockPath, err)
	}
	c := &Client{conn: conn, reader: bufio.NewReader(conn), subs: make(chan []byte, 64), pending: make(chan []byte, 1)}
	return c, mode, nil
}

func probeRunning(ctx context.Context, binPath string) error {
	cmd := exec.CommandContext(ctx, binPath, "get-pid", "--no-spawn")
	return cmd.Run()
}

func spawnService(ctx context.Context, binPath string) error {
	cmd := exec.CommandContext(ctx, binPath, "get-pid")
	return cmd.Run()
}

// Handshake issues `version` and checks it against MinProtocolVersion,
// returning ok=false when the service is too old for subscription mode
// (spec §4.6 expansion: degrade to one-shot-only).
func (c *Client) Handshake(ctx context.Context) (version string, ok bool, err error) {
	resp, err := c.call(ctx, []byte(`["version"]`))
	if err != nil {
		return "", false, err
	}
	v, err := parseVersion(resp)
	if err != nil {
		return "", false, err
	}
	c.version = v
	normalized := "v" + strings.TrimPrefix(v, "v")
	return v, semver.Compare(normalized, "v"+MinProtocolVersion) >= 0, nil
}

// WatchProject registers watchRoot with the service, returning the
// canonical watched root (which may be an ancestor of watchRoot).
func (c *Client) WatchProject(ctx context.Context, watchRoot string) (canonicalRoot string, err error) {
	req, err := json.Marshal([]any{"watch-project", watchRoot})
	if err != nil {
		return "", err
	}
	resp, err := c.call(ctx, req)
	if err != nil {
		return "", err
	}
	if msg, isErr := parseError(resp); isErr {
		return "", fmt.Errorf("changesource: watch-project %s: %s", watchRoot, msg)
	}
	return gjson.GetBytes(resp, "watch").String(), nil
}

// Query issues a one-shot query against watchRoot since sinceClock
// (empty for a full initial query) and returns the matched files and the
// new clock to persist (spec §4.6).
func (c *Client) Query(ctx context.Context, watchRoot, relativeRoot, sinceClock string) (QueryResult, error) {
	req, err := buildQueryRequest(watchRoot, relativeRoot, sinceClock)
	if err != nil {
		return QueryResult{}, err
	}
	resp, err := c.call(ctx, req)
	if err != nil {
		return QueryResult{}, err
	}
	if msg, isErr := parseError(resp); isErr {
		return QueryResult{}, fmt.Errorf("changesource: query %s: %s", watchRoot, msg)
	}
	return parseQueryResult(resp), nil
}

// Subscribe registers a named subscription and returns the initial query
// result; subsequent unilateral pushes arrive via Subscriptions().
func (c *Client) Subscribe(ctx context.Context, watchRoot, name, sinceClock string) (QueryResult, error) {
	req, err := buildSubscribeRequest(watchRoot, name, sinceClock)
	if err != nil {
		return QueryResult{}, err
	}
	resp, err := c.call(ctx, req)
	if err != nil {
		return QueryResult{}, err
	}
	if msg, isErr := parseError(resp); isErr {
		return QueryResult{}, fmt.Errorf("changesource: subscribe %s/%s: %s", watchRoot, name, msg)
	}
	return parseQueryResult(resp), nil
}

// Unsubscribe tears down a named subscription.
func (c *Client) Unsubscribe(ctx context.Context, watchRoot, name string) error {
	req, err := json.Marshal([]any{"unsubscribe", watchRoot, name})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, req)
	return err
}

// ShutdownServer asks the service to terminate, for graceful daemon stop
// when the daemon owns the service's lifecycle.
func (c *Client) ShutdownServer(ctx context.Context) error {
	req, err := json.Marshal([]any{"shutdown-server"})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, req)
	return err
}

// Subscriptions returns the channel on which unsolicited subscription
// push frames are delivered; a background reader must be running via
// Listen for this to produce values.
func (c *Client) Subscriptions() <-chan []byte {
	return c.subs
}

// Listen reads frames from the socket until ctx is canceled or the
// connection closes, routing request/response replies to call() and
// unilateral subscription pushes to Subscriptions(). Run this in its own
// goroutine for the lifetime of the connection, started before the first
// request: call() receives its replies only through it.
func (c *Client) Listen(ctx context.Context) error {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			close(c.subs)
			return err
		}
		if gjsonHasSubscription(line) {
			select {
			case c.subs <- line:
			case <-ctx.Done():
				close(c.subs)
				return ctx.Err()
			}
			continue
		}
		select {
		case c.pending <- line:
		default:
		}
	}
}

func gjsonHasSubscription(line []byte) bool {
	return parseQueryResult(line).SubscriptionName != ""
}

// call sends req and blocks for the single matching reply. The protocol
// is strictly request/response outside of subscription pushes, so a
// single in-flight call at a time is sufficient and is serialized by mu.
func (c *Client) call(ctx context.Context, req []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	}
	if _, err := c.conn.Write(append(req, '\n')); err != nil {
		return nil, err
	}
	select {
	case line := <-c.pending:
		return line, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
