package disk

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// lrukNode tracks the access history of one frame. history holds at most k
// logical timestamps, newest first. A frame seen only through scans has an
// empty history; createdAt then stands in for its earliest access.
type lrukNode struct {
	frameId   int
	history   []uint64
	evictable bool
	createdAt uint64
}

func (n *lrukNode) recordAccess(timestamp uint64, k int) {
	n.history = append([]uint64{timestamp}, n.history...)
	if len(n.history) > k {
		n.history = n.history[:k]
	}
}

// kDistance returns the backward k-distance, or (0, false) if the node has
// fewer than k recorded accesses (infinite distance).
func (n *lrukNode) kDistance(now uint64, k int) (uint64, bool) {
	if len(n.history) < k {
		return 0, false
	}
	return now - n.history[k-1], true
}

func (n *lrukNode) earliestAccess() uint64 {
	if len(n.history) == 0 {
		return n.createdAt
	}
	return n.history[len(n.history)-1]
}

// LRUKReplacer selects eviction victims by the LRU-K rule: the evictable
// frame with the largest backward k-distance loses, where frames with
// fewer than k accesses count as infinitely distant and are ordered among
// themselves by their earliest recorded access.
type LRUKReplacer struct {
	nodeStore     map[int]*lrukNode
	currTimestamp uint64
	currSize      int
	k             int
	mu            sync.Mutex
}

func NewLRUKReplacer(k int) *LRUKReplacer {
	if k <= 0 {
		log.Fatalf("LRU-K replacer requires k > 0, got %d.", k)
	}
	return &LRUKReplacer{
		nodeStore: make(map[int]*lrukNode),
		k:         k,
	}
}

func (lru *LRUKReplacer) RecordAccess(frameId int, accessType AccessType) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	lru.currTimestamp++
	node, ok := lru.nodeStore[frameId]
	if !ok {
		node = &lrukNode{
			frameId:   frameId,
			createdAt: lru.currTimestamp,
		}
		lru.nodeStore[frameId] = node
	}
	if accessType == AccessScan {
		return
	}
	node.recordAccess(lru.currTimestamp, lru.k)
}

func (lru *LRUKReplacer) SetEvictable(frameId int, evictable bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		log.Fatalf("Setting evictability of unknown frame %d.", frameId)
	}
	if node.evictable != evictable {
		if evictable {
			lru.currSize++
		} else {
			lru.currSize--
		}
	}
	node.evictable = evictable
}

func (lru *LRUKReplacer) Evict() (int, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	var victim *lrukNode
	victimInf := false
	var victimDistance uint64
	for _, node := range lru.nodeStore {
		if !node.evictable {
			continue
		}
		distance, finite := node.kDistance(lru.currTimestamp, lru.k)
		if victim == nil {
			victim, victimInf, victimDistance = node, !finite, distance
			continue
		}
		if !finite {
			// Infinite distance beats any finite one; among infinite
			// nodes the older earliest access loses.
			if !victimInf || node.earliestAccess() < victim.earliestAccess() {
				victim, victimInf, victimDistance = node, true, 0
			}
			continue
		}
		if !victimInf && distance > victimDistance {
			victim, victimDistance = node, distance
		}
	}
	if victim == nil {
		return 0, false
	}
	delete(lru.nodeStore, victim.frameId)
	lru.currSize--
	return victim.frameId, true
}

func (lru *LRUKReplacer) Remove(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		return
	}
	if !node.evictable {
		log.Fatalf("Removing non-evictable frame %d from the replacer.", frameId)
	}
	delete(lru.nodeStore, frameId)
	lru.currSize--
}

func (lru *LRUKReplacer) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.currSize
}
