package quicp2p

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// bootstrapGroup coordinates a set of racing outbound connect attempts
// started from one Bootstrap call: the first to succeed cancels every
// other member. Unlike a membership list peers join and leave over a
// long session, a bootstrapGroup is a single-shot barrier: created, raced
// exactly once, then discarded.
type bootstrapGroup struct {
	id  uuid.UUID
	log *logrus.Entry

	mu       sync.Mutex
	members  map[string]chan struct{} // peer address string -> terminator
	finished bool
}

func newBootstrapGroup(log *logrus.Entry) *bootstrapGroup {
	id := uuid.New()
	return &bootstrapGroup{
		id:      id,
		log:     log.WithField("bootstrap_group", id.String()),
		members: make(map[string]chan struct{}),
	}
}

// addMember registers addr's terminator with the group and returns false
// if the group has already finished, so a late entrant's caller can reject
// the attempt instead of racing a group that has already picked a winner.
func (g *bootstrapGroup) addMember(addr string, terminator chan struct{}) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finished {
		return false
	}
	g.members[addr] = terminator
	return true
}

// terminateGroup is idempotent: the first caller wins, fires every other
// member's terminator, and marks the group finished so no further member
// can join. success is carried only for the log line.
func (g *bootstrapGroup) terminateGroup(winnerAddr string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finished {
		return
	}
	g.finished = true

	for addr, terminator := range g.members {
		if addr == winnerAddr {
			continue
		}
		close(terminator)
	}
	g.log.WithFields(logrus.Fields{
		"winner":  winnerAddr,
		"success": success,
		"losers":  len(g.members) - 1,
	}).Debug("bootstrap group terminated")
}
