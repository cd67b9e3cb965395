package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryJoinReportsExistence(t *testing.T) {
	r := NewRegistry()

	a := NewConnection("ABCD", &fakeSender{})
	existed, roster := r.Join("ABCD", a)
	assert.False(t, existed)
	assert.Empty(t, roster)

	b := NewConnection("ABCD", &fakeSender{})
	existed, roster = r.Join("ABCD", b)
	assert.True(t, existed)
	require.Len(t, roster, 1)
	assert.Same(t, a, roster[0])
}

func TestRegistryRosterSkipsClosed(t *testing.T) {
	r := NewRegistry()

	a := NewConnection("ABCD", &fakeSender{})
	r.Join("ABCD", a)
	a.MarkClosed()

	b := NewConnection("ABCD", &fakeSender{})
	_, roster := r.Join("ABCD", b)
	assert.Empty(t, roster)
}

func TestRegistryLeaveCountsDown(t *testing.T) {
	r := NewRegistry()

	a := NewConnection("ABCD", &fakeSender{})
	b := NewConnection("ABCD", &fakeSender{})
	r.Join("ABCD", a)
	r.Join("ABCD", b)

	assert.Equal(t, 1, r.Leave(a))
	assert.Equal(t, 0, r.Leave(b))

	// The empty set is dropped, so the next join reads as a new game.
	c := NewConnection("ABCD", &fakeSender{})
	existed, _ := r.Join("ABCD", c)
	assert.False(t, existed)
}

func TestRegistryConnectionsSnapshot(t *testing.T) {
	r := NewRegistry()

	a := NewConnection("ABCD", &fakeSender{})
	b := NewConnection("ABCD", &fakeSender{})
	r.Join("ABCD", a)
	r.Join("ABCD", b)
	b.MarkClosed()

	conns := r.Connections("ABCD")
	require.Len(t, conns, 1)
	assert.Same(t, a, conns[0])

	assert.Empty(t, r.Connections("WXYZ"))
}
