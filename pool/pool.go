// Package pool keeps the call sessions that are waiting for a receiver,
// ordered by creation time.
package pool

import (
	"sync"
	"time"

	"github.com/wangjia184/sortedset"

	"duocall/database"
)

// Pool is a sorted set of waiting call sessions keyed by session id and
// scored by creation time.
type Pool struct {
	mutex sync.Mutex
	set   *sortedset.SortedSet
}

// New initializes a new Pool.
func New() *Pool {
	return &Pool{
		set: sortedset.New(),
	}
}

func score(createdAt time.Time) sortedset.SCORE {
	return sortedset.SCORE(createdAt.UnixNano())
}

// Add adds the session to the pool. Adding an id twice keeps one entry.
func (p *Pool) Add(info *database.CallSessionInfo) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.set.AddOrUpdate(info.ID, score(info.CreatedAt), info.DeepCopy())
}

// Remove removes the session from the pool and reports whether it was there.
func (p *Pool) Remove(id string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.set.Remove(id) != nil
}

// Contains reports whether the session is in the pool.
func (p *Pool) Contains(id string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.set.GetByKey(id) != nil
}

// Len returns the number of sessions in the pool.
func (p *Pool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.set.GetCount()
}

// PopExpired removes and returns the sessions created at or before cutoff,
// oldest first.
func (p *Pool) PopExpired(cutoff time.Time) []*database.CallSessionInfo {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	limit := score(cutoff)
	var expired []*database.CallSessionInfo
	for {
		node := p.set.PeekMin()
		if node == nil || node.Score() > limit {
			return expired
		}
		p.set.PopMin()
		expired = append(expired, node.Value.(*database.CallSessionInfo))
	}
}
