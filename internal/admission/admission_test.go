package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeferred(t *testing.T) {
	var p Deferred
	s := Snapshot{Active: true, MaxLinks: 10}
	assert.False(t, p.ShouldAdmit(Candidate{Addr: "1.2.3.4:5"}, s))
	assert.False(t, p.WantsMoreConnections(s))
}

func TestLimitShouldAdmit(t *testing.T) {
	var p Limit
	c := Candidate{Addr: "1.2.3.4:5"}
	assert.True(t, p.ShouldAdmit(c, Snapshot{Links: 9, MaxLinks: 10}))
	assert.False(t, p.ShouldAdmit(c, Snapshot{Links: 10, MaxLinks: 10}))
	assert.False(t, p.ShouldAdmit(c, Snapshot{Links: 1, MaxLinks: 10, Connected: true}))
}

func TestLimitWantsMoreConnections(t *testing.T) {
	var p Limit
	cases := []struct {
		name string
		s    Snapshot
		want bool
	}{
		{"inactive", Snapshot{Active: false, Links: 0, MaxLinks: 10}, false},
		{"below max", Snapshot{Active: true, Links: 9, MaxLinks: 10}, true},
		{"at max", Snapshot{Active: true, Links: 10, MaxLinks: 10}, false},
		{"incoming caps outgoing", Snapshot{Active: true, Links: 6, MaxLinks: 10, AcceptsIncoming: true}, false},
		{"incoming below cap", Snapshot{Active: true, Links: 5, MaxLinks: 10, AcceptsIncoming: true}, true},
		{"seeder gives way", Snapshot{Active: true, Complete: true, OthersDownloading: true, MaxLinks: 10}, false},
		{"lone seeder", Snapshot{Active: true, Complete: true, MaxLinks: 10}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, p.WantsMoreConnections(c.s))
		})
	}
}
