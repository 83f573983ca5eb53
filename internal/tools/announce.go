package tools

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// AnnounceQueueItem is one completed subagent result waiting to be announced to its
// parent session.
type AnnounceQueueItem struct {
	SubagentID string
	Label      string
	Status     string
	Result     string
	Runtime    time.Duration
	Iterations int
}

// AnnounceMetadata carries the origin routing info needed to publish an announce
// message back into the right inbound channel/chat.
type AnnounceMetadata struct {
	OriginChannel    string
	OriginChatID     string
	OriginPeerKind   string
	OriginUserID     string
	ParentAgent      string
	OriginTraceID    string
	OriginRootSpanID string
}

// announceBatch accumulates items for one session key between debounce flushes.
type announceBatch struct {
	items []AnnounceQueueItem
	meta  AnnounceMetadata
	timer *time.Timer
}

// AnnounceQueue batches subagent completion announces per parent session with a
// debounce window, so N subagents finishing within a few seconds of each other produce
// one combined message instead of N separate ones flooding the chat.
type AnnounceQueue struct {
	mu        sync.Mutex
	batches   map[string]*announceBatch
	debounce  time.Duration
	maxItems  int
	onFlush   func(sessionKey string, items []AnnounceQueueItem, meta AnnounceMetadata)
	remaining func(parentID string) int
}

// NewAnnounceQueue builds an AnnounceQueue. debounceMs is the quiet period after the last
// enqueue before a batch flushes; maxItems caps how many results one flush carries
// (oldest-first) to keep a single announce message bounded in size.
func NewAnnounceQueue(
	debounceMs, maxItems int,
	onFlush func(sessionKey string, items []AnnounceQueueItem, meta AnnounceMetadata),
	remaining func(parentID string) int,
) *AnnounceQueue {
	return &AnnounceQueue{
		batches:   make(map[string]*announceBatch),
		debounce:  time.Duration(debounceMs) * time.Millisecond,
		maxItems:  maxItems,
		onFlush:   onFlush,
		remaining: remaining,
	}
}

// Enqueue adds item to sessionKey's batch, (re)starting its debounce timer.
func (q *AnnounceQueue) Enqueue(sessionKey string, item AnnounceQueueItem, meta AnnounceMetadata) {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, ok := q.batches[sessionKey]
	if !ok {
		b = &announceBatch{meta: meta}
		q.batches[sessionKey] = b
	}
	b.meta = meta
	b.items = append(b.items, item)
	if len(b.items) > q.maxItems {
		b.items = b.items[len(b.items)-q.maxItems:]
	}

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(q.debounce, func() {
		q.flush(sessionKey)
	})
}

func (q *AnnounceQueue) flush(sessionKey string) {
	q.mu.Lock()
	b, ok := q.batches[sessionKey]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.batches, sessionKey)
	q.mu.Unlock()

	if q.onFlush != nil {
		q.onFlush(sessionKey, b.items, b.meta)
	}
}

// FormatBatchedAnnounce renders a set of completed subagent results as a single message
// for delivery to the parent session, noting how many subagents are still running.
func FormatBatchedAnnounce(items []AnnounceQueueItem, remainingActive int) string {
	var sb strings.Builder

	if len(items) == 1 {
		item := items[0]
		sb.WriteString(fmt.Sprintf("Subagent '%s' %s in %s (%d iterations).\n\nResult:\n%s",
			item.Label, statusVerb(item.Status), item.Runtime.Round(time.Second), item.Iterations, item.Result))
	} else {
		sb.WriteString(fmt.Sprintf("%d subagent tasks completed:\n", len(items)))
		for _, item := range items {
			sb.WriteString(fmt.Sprintf("\n— %s (%s, %s, %d iterations):\n%s\n",
				item.Label, statusVerb(item.Status), item.Runtime.Round(time.Second), item.Iterations, item.Result))
		}
	}

	if remainingActive > 0 {
		sb.WriteString(fmt.Sprintf("\n\n(%d more subagent task(s) still running)", remainingActive))
	}

	return sb.String()
}

func statusVerb(status string) string {
	switch status {
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusFailed:
		return "failed"
	case TaskStatusCancelled:
		return "was cancelled"
	default:
		return status
	}
}
