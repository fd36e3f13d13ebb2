// Package agentlog keeps the versioned, append-mostly log a session's agents
// report progress through. Clients poll it with Items(since) and can follow
// changes on the event bus.
package agentlog

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"agent-zero/internal/domain"
)

// Publisher is the subset of the event bus the log needs.
type Publisher interface {
	Emit(ctx context.Context, typ domain.EventType, sessionID string, payload any)
}

// Entry is an immutable snapshot of a log item.
type Entry struct {
	ID      string         `json:"id"`
	No      int            `json:"no"`
	Type    domain.LogType `json:"type"`
	Heading string         `json:"heading"`
	Content string         `json:"content"`
	KVPs    map[string]any `json:"kvps,omitempty"`
	Version int64          `json:"version"`
	Time    time.Time      `json:"time"`
}

// UpdatedPayload is published with domain.EventLogUpdated.
type UpdatedPayload struct {
	ItemID  string `json:"item_id"`
	Version int64  `json:"version"`
}

// Log is safe for concurrent use by the agents of one session.
type Log struct {
	sessionID string
	pub       Publisher
	now       func() time.Time

	mu      sync.Mutex
	items   []*item
	temp    *item // last item, when logged as temporary
	version int64
}

// New creates an empty log for sessionID. pub may be nil.
func New(sessionID string, pub Publisher) *Log {
	return &Log{sessionID: sessionID, pub: pub, now: time.Now}
}

// Log implements domain.SessionLog. A pending temporary item is replaced:
// the new item takes its number and the old one stops changing.
func (l *Log) Log(typ domain.LogType, heading, content string, kvps map[string]any) domain.LogItem {
	l.mu.Lock()
	l.version++
	it := &item{
		log: l,
		entry: Entry{
			ID:      ulid.Make().String(),
			No:      len(l.items),
			Type:    typ,
			Heading: heading,
			Content: content,
			KVPs:    maps.Clone(kvps),
			Version: l.version,
			Time:    l.now(),
		},
	}
	if old := l.temp; old != nil {
		old.replaced = true
		it.entry.No = old.entry.No
		l.items[old.entry.No] = it
	} else {
		l.items = append(l.items, it)
	}
	l.temp = nil
	if temp, _ := kvps[domain.LogKeyTemp].(bool); temp {
		l.temp = it
	}
	id, v := it.entry.ID, l.version
	l.mu.Unlock()

	l.notify(id, v)
	return it
}

// Version returns the version of the most recent change.
func (l *Log) Version() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Items returns snapshots of the items changed after version since, in log
// order, together with the current version.
func (l *Log) Items(since int64) ([]Entry, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, it := range l.items {
		if it.entry.Version > since {
			out = append(out, it.snapshot())
		}
	}
	return out, l.version
}

// Reset drops every item. The version keeps increasing so pollers notice.
func (l *Log) Reset() {
	l.mu.Lock()
	l.items = nil
	l.temp = nil
	l.version++
	v := l.version
	l.mu.Unlock()
	l.notify("", v)
}

func (l *Log) notify(itemID string, version int64) {
	if l.pub == nil {
		return
	}
	l.pub.Emit(context.Background(), domain.EventLogUpdated, l.sessionID, UpdatedPayload{ItemID: itemID, Version: version})
}

type item struct {
	log      *Log
	entry    Entry // guarded by log.mu
	replaced bool  // guarded by log.mu
}

func (it *item) snapshot() Entry {
	e := it.entry
	e.KVPs = maps.Clone(e.KVPs)
	return e
}

func (it *item) ID() string { return it.entry.ID }

// Update implements domain.LogItem.
func (it *item) Update(u domain.LogUpdate) {
	it.change(func(e *Entry) {
		if u.Type != nil {
			e.Type = *u.Type
		}
		if u.Heading != nil {
			e.Heading = *u.Heading
		}
		if u.Content != nil {
			e.Content = *u.Content
		}
		if len(u.KVPs) > 0 {
			if e.KVPs == nil {
				e.KVPs = make(map[string]any, len(u.KVPs))
			}
			maps.Copy(e.KVPs, u.KVPs)
		}
	})
}

// Stream implements domain.LogItem.
func (it *item) Stream(heading, content string) {
	if heading == "" && content == "" {
		return
	}
	it.change(func(e *Entry) {
		e.Heading += heading
		e.Content += content
	})
}

// StreamKV implements domain.LogItem.
func (it *item) StreamKV(key, value string) {
	it.change(func(e *Entry) {
		if e.KVPs == nil {
			e.KVPs = make(map[string]any, 1)
		}
		prev, _ := e.KVPs[key].(string)
		e.KVPs[key] = prev + value
	})
}

func (it *item) change(fn func(*Entry)) {
	l := it.log
	l.mu.Lock()
	if it.replaced {
		l.mu.Unlock()
		return
	}
	fn(&it.entry)
	l.version++
	it.entry.Version = l.version
	v := l.version
	l.mu.Unlock()
	l.notify(it.entry.ID, v)
}

var (
	_ domain.SessionLog = (*Log)(nil)
	_ domain.LogItem    = (*item)(nil)
)
