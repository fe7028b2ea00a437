package squad

import (
	"github.com/staryskies/explo/wire"
)

// MessageStatus is the delivery status of a cached message.
type MessageStatus string

const (
	// StatusPending means the message was appended optimistically and is
	// still in flight.
	StatusPending MessageStatus = "pending"

	// StatusDelivered means the server acknowledged or echoed the message.
	StatusDelivered MessageStatus = "delivered"

	// StatusFailed means every delivery path failed. The message stays in
	// the cache so the UI can offer a retry.
	StatusFailed MessageStatus = "failed"
)

// CachedMessage is a message plus its local delivery status.
type CachedMessage struct {
	wire.Message
	Status MessageStatus
}

// messageCache deduplicates messages by their sender-assigned id and tracks
// the per-scope seq watermark for polling.
//
// Identity is the message id alone. The same id arriving over the socket,
// a poll, and an ack is one message: the first sighting wins the slot and
// later sightings only upgrade status and fill in server fields.
type messageCache struct {
	byID    map[string]*CachedMessage
	order   map[wire.Scope][]string
	lastSeq map[wire.Scope]int64
}

func newMessageCache() *messageCache {
	return &messageCache{
		byID:    make(map[string]*CachedMessage),
		order:   make(map[wire.Scope][]string),
		lastSeq: make(map[wire.Scope]int64),
	}
}

// addPending inserts an optimistic local message. Re-adding a known id is a
// no-op so a retry does not duplicate the entry.
func (mc *messageCache) addPending(msg wire.Message) *CachedMessage {
	if existing, ok := mc.byID[msg.ID]; ok {
		return existing
	}
	cached := &CachedMessage{Message: msg, Status: StatusPending}
	mc.byID[msg.ID] = cached
	mc.order[msg.Scope] = append(mc.order[msg.Scope], msg.ID)
	return cached
}

// observe records a server-sourced copy of a message (push, poll result, or
// ack echo). It returns the cached entry, whether the message is new to the
// cache, and whether its status changed.
func (mc *messageCache) observe(msg wire.Message) (cached *CachedMessage, isNew, statusChanged bool) {
	if msg.Seq > mc.lastSeq[msg.Scope] {
		mc.lastSeq[msg.Scope] = msg.Seq
	}

	if existing, ok := mc.byID[msg.ID]; ok {
		// Server copy carries seq and the canonical timestamp; keep them.
		existing.Message = msg
		if existing.Status != StatusDelivered {
			existing.Status = StatusDelivered
			return existing, false, true
		}
		return existing, false, false
	}

	cached = &CachedMessage{Message: msg, Status: StatusDelivered}
	mc.byID[msg.ID] = cached
	mc.order[msg.Scope] = append(mc.order[msg.Scope], msg.ID)
	return cached, true, true
}

// markFailed flags a pending message as failed. Delivered messages are left
// alone: a late failure signal after a successful echo is stale.
func (mc *messageCache) markFailed(id string) (cached *CachedMessage, changed bool) {
	existing, ok := mc.byID[id]
	if !ok || existing.Status != StatusPending {
		return existing, false
	}
	existing.Status = StatusFailed
	return existing, true
}

// dropScope removes every cached message in a scope and resets its
// watermark. Used on squad changes so the new squad's history does not
// interleave with the previous one's.
func (mc *messageCache) dropScope(scope wire.Scope) {
	for _, id := range mc.order[scope] {
		delete(mc.byID, id)
	}
	delete(mc.order, scope)
	mc.lastSeq[scope] = 0
}

// since returns the seq watermark for a scope, for use as the polling
// cursor.
func (mc *messageCache) since(scope wire.Scope) int64 {
	return mc.lastSeq[scope]
}

// snapshot returns the cached messages for a scope in arrival order.
func (mc *messageCache) snapshot(scope wire.Scope) []CachedMessage {
	ids := mc.order[scope]
	out := make([]CachedMessage, 0, len(ids))
	for _, id := range ids {
		if cached, ok := mc.byID[id]; ok {
			out = append(out, *cached)
		}
	}
	return out
}
