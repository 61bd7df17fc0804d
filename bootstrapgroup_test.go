package quicp2p

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestTerminateGroupClosesLosersNotWinner(t *testing.T) {
	g := newBootstrapGroup(testLogger())

	winner := make(chan struct{})
	loserA := make(chan struct{})
	loserB := make(chan struct{})

	if !g.addMember("winner", winner) {
		t.Fatal("expected addMember to succeed before the group finishes")
	}
	if !g.addMember("loserA", loserA) {
		t.Fatal("expected addMember to succeed before the group finishes")
	}
	if !g.addMember("loserB", loserB) {
		t.Fatal("expected addMember to succeed before the group finishes")
	}

	g.terminateGroup("winner", true)

	select {
	case <-loserA:
	default:
		t.Fatal("expected loserA's terminator to be closed")
	}
	select {
	case <-loserB:
	default:
		t.Fatal("expected loserB's terminator to be closed")
	}
	select {
	case <-winner:
		t.Fatal("expected the winner's own terminator to remain open")
	default:
	}
}

func TestTerminateGroupIsIdempotent(t *testing.T) {
	g := newBootstrapGroup(testLogger())
	loser := make(chan struct{})
	g.addMember("loser", loser)

	g.terminateGroup("winner", true)
	g.terminateGroup("someone-else", true) // must not panic on a second close

	select {
	case <-loser:
	default:
		t.Fatal("expected loser's terminator to be closed")
	}
}

func TestAddMemberRejectsLateEntrantAfterFinish(t *testing.T) {
	g := newBootstrapGroup(testLogger())
	g.terminateGroup("winner", true)

	if g.addMember("late", make(chan struct{})) {
		t.Fatal("expected addMember to reject a join after the group already finished")
	}
}
