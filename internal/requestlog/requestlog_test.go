package requestlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordAndRecent(t *testing.T) {
	l := New(3)
	l.Record(Entry{Server: "a", Method: "m1", Timestamp: time.Unix(1, 0)})
	l.Record(Entry{Server: "b", Method: "m2", Timestamp: time.Unix(2, 0)})

	recent := l.Recent(10)
	assert.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Server)
	assert.Equal(t, "a", recent[1].Server)
}

func TestCapacityDropsOldest(t *testing.T) {
	l := New(2)
	l.Record(Entry{Server: "first"})
	l.Record(Entry{Server: "second"})
	l.Record(Entry{Server: "third"})

	recent := l.Recent(10)
	assert.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Server)
	assert.Equal(t, "second", recent[1].Server)
}

func TestDefaultCapacity(t *testing.T) {
	l := New(0)
	assert.Equal(t, 0, l.Len())
	for i := 0; i < 150; i++ {
		l.Record(Entry{Server: "x"})
	}
	assert.Equal(t, 100, l.Len())
}

func TestRecentNCap(t *testing.T) {
	l := New(10)
	l.Record(Entry{Server: "a"})
	l.Record(Entry{Server: "b"})
	assert.Len(t, l.Recent(1), 1)
	assert.Len(t, l.Recent(0), 2)
}
