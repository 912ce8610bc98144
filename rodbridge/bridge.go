package rodbridge

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/evcap/capture"
	"github.com/hazyhaar/evcap/evqueue"
	"github.com/hazyhaar/evcap/idgen"
	"github.com/hazyhaar/evcap/mutlog"
)

//go:embed capture.js
var captureJS []byte

const bindingName = "__evcap_binding"

var newSnapshotID = idgen.Prefixed("snap_", idgen.UUIDv7())

// Bridge wires one page to the capture engine: raw records arrive over the
// runtime binding, become events via the queue, and mutations land in the
// collector. It also implements the agent's snapshot and network sources.
type Bridge struct {
	page      *rod.Page
	queue     *evqueue.Queue
	mutations *mutlog.Collector
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	seq atomic.Uint64

	netMu   sync.Mutex
	network []capture.NetworkRecord

	malformed atomic.Int64
}

// NewBridge creates a Bridge for an open page.
func NewBridge(page *rod.Page, queue *evqueue.Queue, mutations *mutlog.Collector, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		page:      page,
		queue:     queue,
		mutations: mutations,
		logger:    logger,
	}
}

// SetQueue binds the event queue. Must happen before Start.
func (b *Bridge) SetQueue(q *evqueue.Queue) { b.queue = q }

// Start installs the binding, the capture script, and the network listener.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	err := proto.RuntimeAddBinding{Name: bindingName}.Call(b.page)
	if err != nil {
		b.logger.Warn("rodbridge: addBinding failed (may already exist)", "error", err)
	}
	go b.listenBinding()
	go b.listenNetwork()

	if _, err := b.page.Eval(string(captureJS)); err != nil {
		return fmt.Errorf("rodbridge: inject capture script: %w", err)
	}

	// Re-inject on every subsequent navigation so full page loads do not
	// silently disable capture.
	if _, err := b.page.EvalOnNewDocument(string(captureJS)); err != nil {
		b.logger.Warn("rodbridge: evalOnNewDocument failed", "error", err)
	}

	b.logger.Debug("rodbridge: capture script injected")
	return nil
}

// Stop detaches the listeners. The page stays open for the final snapshot.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// MalformedCount reports records dropped before they could become events.
func (b *Bridge) MalformedCount() int64 { return b.malformed.Load() }

// rawRecord is the wire form posted by the capture script.
type rawRecord struct {
	Type string `json:"type"` // "event" or "mutation"
	Kind string `json:"kind"`
	TS   int64  `json:"ts"`

	Target    evqueue.Target `json:"target"`
	PageURL   string         `json:"page_url"`
	PageTitle string         `json:"page_title"`

	Path     string   `json:"path"`
	Attr     string   `json:"attr"`
	OldValue string   `json:"old_value"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
}

func (b *Bridge) listenBinding() {
	b.page.Context(b.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var records []rawRecord
		if err := json.Unmarshal([]byte(e.Payload), &records); err != nil {
			b.logger.Warn("rodbridge: parse binding payload", "error", err)
			b.malformed.Add(1)
			return
		}
		for _, rec := range records {
			b.handleRecord(rec)
		}
	})()
}

func (b *Bridge) handleRecord(rec rawRecord) {
	switch rec.Type {
	case "event":
		ev, err := evqueue.BuildEvent(rec.Kind, rec.TS, rec.Target, rec.PageURL, rec.PageTitle, nil)
		if err != nil {
			b.malformed.Add(1)
			return
		}
		b.queue.Enqueue(b.ctx, ev)
	case "mutation":
		if b.mutations == nil {
			return
		}
		b.mutations.Record(capture.DOMChange{
			Timestamp:   rec.TS,
			Kind:        changeKind(rec.Kind),
			TargetPath:  rec.Path,
			AddedTags:   rec.Added,
			RemovedTags: rec.Removed,
			AttrName:    rec.Attr,
			OldValue:    rec.OldValue,
		})
	default:
		b.malformed.Add(1)
	}
}

func changeKind(s string) capture.DOMChangeKind {
	switch s {
	case "attribute":
		return capture.ChangeAttribute
	case "text":
		return capture.ChangeText
	default:
		return capture.ChangeStructure
	}
}

func (b *Bridge) listenNetwork() {
	b.page.Context(b.ctx).EachEvent(func(e *proto.NetworkRequestWillBeSent) {
		b.netMu.Lock()
		b.network = append(b.network, capture.NetworkRecord{
			Method:       e.Request.Method,
			ResourceKind: string(e.Type),
			Timestamp:    time.Now().UnixMilli(),
		})
		b.netMu.Unlock()
	})()
}

// Records returns the network evidence observed so far.
func (b *Bridge) Records() []capture.NetworkRecord {
	b.netMu.Lock()
	defer b.netMu.Unlock()
	out := make([]capture.NetworkRecord, len(b.network))
	copy(out, b.network)
	return out
}

// Snapshot serializes the page's full DOM as a structural snapshot.
func (b *Bridge) Snapshot(ctx context.Context) (*capture.Snapshot, error) {
	res, err := b.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("rodbridge: get DOM: %w", err)
	}
	html := []byte(res.Value.Str())
	return &capture.Snapshot{
		ID:        newSnapshotID(),
		Seq:       b.seq.Add(1),
		Timestamp: time.Now().UnixMilli(),
		HTML:      html,
		HTMLHash:  capture.HashHTML(html),
	}, nil
}
