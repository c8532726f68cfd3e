package cache

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"tiered-cache/internal/common/logging"
)

// InvalidateTopic is the pub/sub channel carrying invalidation messages.
const InvalidateTopic = "cache:invalidate"

// MessageType discriminates invalidation messages.
type MessageType string

const (
	// MessageEvict drops a single key from peer local tiers.
	MessageEvict MessageType = "EVICT"
	// MessageClear empties a whole cache in peer local tiers.
	MessageClear MessageType = "CLEAR"
)

// CacheMessage is the wire form published on InvalidateTopic. The JSON field
// names are the cross-process contract and must not change.
type CacheMessage struct {
	InstanceID string      `json:"instanceId"`
	Type       MessageType `json:"type"`
	CacheName  string      `json:"cacheName"`
	Key        string      `json:"key,omitempty"`
}

// currentInstanceID identifies this process on the invalidation topic so it
// can skip its own messages. Computed once at startup, immutable afterwards.
var currentInstanceID = generateInstanceID()

func generateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		fallback := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		logging.GetGlobalLogger().Warn("Could not resolve hostname, using fallback instance ID",
			logging.Field{Key: "instance_id", Value: fallback})
		return fallback
	}
	id := host + ":" + strconv.Itoa(os.Getpid())
	logging.GetGlobalLogger().Info("Generated instance ID", logging.Field{Key: "instance_id", Value: id})
	return id
}

// CurrentInstanceID returns this process's identity on the invalidation topic.
func CurrentInstanceID() string {
	return currentInstanceID
}

// NewEvictMessage builds an EVICT message stamped with this instance's ID.
func NewEvictMessage(cacheName, key string) CacheMessage {
	return CacheMessage{
		InstanceID: currentInstanceID,
		Type:       MessageEvict,
		CacheName:  cacheName,
		Key:        key,
	}
}

// NewClearMessage builds a CLEAR message stamped with this instance's ID.
func NewClearMessage(cacheName string) CacheMessage {
	return CacheMessage{
		InstanceID: currentInstanceID,
		Type:       MessageClear,
		CacheName:  cacheName,
	}
}

// FromCurrentInstance reports whether this process published the message.
func (m CacheMessage) FromCurrentInstance() bool {
	return m.InstanceID == currentInstanceID
}
