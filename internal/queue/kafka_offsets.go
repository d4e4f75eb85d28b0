package queue

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type trackedOffset struct {
	msg      kafka.Message
	resolved bool
}

// offsetTracker keeps the fetched but uncommitted offsets of each
// partition in fetch order, which is offset order within a partition.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int][]*trackedOffset
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int][]*trackedOffset)}
}

func (t *offsetTracker) fetched(km kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partitions[km.Partition] = append(t.partitions[km.Partition], &trackedOffset{msg: km})
}

// resolve marks km resolved and pops the resolved prefix of its partition.
// It returns the last popped message, which is safe to commit, and false
// when an unresolved offset still sits in front of km.
func (t *offsetTracker) resolve(km kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := t.partitions[km.Partition]
	for _, p := range pending {
		if p.msg.Offset == km.Offset {
			p.resolved = true
			break
		}
	}

	var (
		commit kafka.Message
		n      int
	)
	for n < len(pending) && pending[n].resolved {
		commit = pending[n].msg
		n++
	}
	if n == 0 {
		return kafka.Message{}, false
	}
	t.partitions[km.Partition] = pending[n:]
	return commit, true
}
