package topiclog

import "sync"

// TopicID is the 32-byte topic identifier (spec §3). The core never parses
// its contents.
type TopicID [32]byte

// Manager owns one Log per topic, created lazily on first use. It
// guarantees exactly one writer per topic (spec §4.6) by giving each topic
// its own Log, each serialized by its own mutex, while the outer RWMutex
// only protects the topic->Log map itself — mirroring the teacher's
// map-of-sub-managers-guarded-by-an-outer-lock shape in
// internal/routing/manager.go.
type Manager struct {
	mu         sync.RWMutex
	bufferSize uint64
	topics     map[TopicID]*Log

	// onEvict and onDrop are threaded into every Log this manager creates,
	// for metrics reporting; either may be nil.
	onEvict func()
	onDrop  func()
}

// NewManager creates a topic log manager with the given per-topic retention
// window (DefaultBufferSize if zero).
func NewManager(bufferSize uint64) *Manager {
	return &Manager{
		bufferSize: bufferSize,
		topics:     make(map[TopicID]*Log),
	}
}

// SetMetricsHooks installs callbacks invoked on eviction and subscriber
// drop, applied to every Log this manager creates from this point on.
func (m *Manager) SetMetricsHooks(onEvict, onDrop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = onEvict
	m.onDrop = onDrop
}

// Get returns the Log for topic, creating it if this is the first append or
// subscribe seen for that topic.
func (m *Manager) Get(topic TopicID) *Log {
	m.mu.RLock()
	log, ok := m.topics[topic]
	m.mu.RUnlock()
	if ok {
		return log
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if log, ok := m.topics[topic]; ok {
		return log
	}
	log = New(m.bufferSize)
	log.onEvict = m.onEvict
	log.onDrop = m.onDrop
	m.topics[topic] = log
	return log
}

// Append appends op to topic's log, creating the log if needed, and returns
// the assigned sequence number.
func (m *Manager) Append(topic TopicID, op []byte) uint64 {
	return m.Get(topic).Append(op)
}

// Subscribe subscribes to topic's log since the given sequence number,
// creating the log if needed.
func (m *Manager) Subscribe(topic TopicID, since uint64) (<-chan Message, func()) {
	return m.Get(topic).Subscribe(since)
}

// TopicCount returns the number of topics with at least one log instance,
// for metrics reporting.
func (m *Manager) TopicCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics)
}
