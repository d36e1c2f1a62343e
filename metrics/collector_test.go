package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorConcurrentRecords(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	var wg sync.WaitGroup
	for vu := uint64(1); vu <= 50; vu++ {
		wg.Add(1)
		go func(vu uint64) {
			defer wg.Done()
			c.RecordLaunch()
			for i := 0; i < 20; i++ {
				c.Record(Record{
					VU: vu, Step: "Get game", Kind: "request",
					Start: time.Now(), Duration: time.Duration(i+1) * time.Millisecond,
					OK: i%10 != 9, Error: "status.find.is(200), but actually found 500", Status: 200,
				})
			}
			c.RecordOutcome(vu, Completed, "", "")
		}(vu)
	}
	wg.Wait()

	assert.Equal(t, 1000, c.Len())
	s := c.Summarize()
	require.Len(t, s.Steps, 1)
	ss := s.Steps[0]
	assert.Equal(t, int64(1000), ss.Count)
	assert.Equal(t, int64(900), ss.Successes)
	assert.Equal(t, int64(100), ss.Failures)
	assert.InDelta(t, 0.9, ss.SuccessRate, 1e-9)
	assert.Equal(t, time.Millisecond, ss.Min)
	assert.Equal(t, 20*time.Millisecond, ss.Max)
	assert.Equal(t, 10500*time.Microsecond, ss.Mean)
	assert.InDelta(t, float64(10*time.Millisecond), float64(ss.Median), float64(200*time.Microsecond))
	assert.InDelta(t, float64(19*time.Millisecond), float64(ss.P95), float64(300*time.Microsecond))
	assert.Equal(t, int64(100), ss.Errors["status.find.is(200), but actually found 500"])
	assert.Equal(t, int64(50), s.VUs.Launched)
	assert.Equal(t, int64(50), s.VUs.Completed)
	assert.Equal(t, int64(100), s.Failures())
}

func TestCollectorStepOrderAndKinds(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	for _, step := range []string{"B", "A", "B", "C"} {
		c.Record(Record{Step: step, Kind: "request", OK: true, Duration: time.Millisecond})
	}
	c.Record(Record{Step: "A", Kind: "pause", OK: true, Duration: time.Second})

	s := c.Summarize()
	var names []string
	for _, ss := range s.Steps {
		names = append(names, fmt.Sprintf("%s/%s", ss.Kind, ss.Name))
	}
	assert.Equal(t, []string{"request/B", "request/A", "request/C", "pause/A"}, names)

	b, ok := s.Step("B")
	require.True(t, ok)
	assert.Equal(t, int64(2), b.Count)
	_, ok = s.Step("Z")
	assert.False(t, ok)
}

func TestCollectorOutcomes(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	start := time.Now()
	c.MarkStart(start)
	c.RecordOutcome(1, Completed, "", "")
	c.RecordOutcome(2, Failed, "Create game", "status.find.is(201), but actually found 401")
	c.RecordOutcome(3, Failed, "Create game", "status.find.is(201), but actually found 401")
	c.RecordOutcome(4, Cancelled, "", "")
	c.MarkEnd(start.Add(3 * time.Second))

	s := c.Summarize()
	assert.Equal(t, 3*time.Second, s.Duration)
	assert.Equal(t, int64(1), s.VUs.Completed)
	assert.Equal(t, int64(2), s.VUs.Failed)
	assert.Equal(t, int64(1), s.VUs.Cancelled)
	assert.Equal(t, map[string]int64{
		"Create game: status.find.is(201), but actually found 401": 2,
	}, s.VUs.Reasons)
}

func TestRecordsSince(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	for i := 0; i < 5; i++ {
		c.Record(Record{VU: uint64(i), Step: "s", Kind: "pause", OK: true})
	}
	assert.Len(t, c.Records(), 5)
	since := c.RecordsSince(3)
	require.Len(t, since, 2)
	assert.Equal(t, uint64(3), since[0].VU)
	assert.Nil(t, c.RecordsSince(5))
	assert.Len(t, c.RecordsSince(-1), 5)

	since[0].VU = 99
	assert.Equal(t, uint64(3), c.Records()[3].VU)
}

func TestSinks(t *testing.T) {
	t.Parallel()

	tr := NewTrendSink()
	assert.True(t, tr.IsEmpty())
	assert.Equal(t, 0.0, tr.P(0.5))
	tr.AddDuration(1500 * time.Microsecond)
	assert.Equal(t, 1.5, tr.P(0.9))
	assert.Equal(t, 1.5, tr.Format()["avg"])

	r := &RateSink{}
	assert.Equal(t, 0.0, r.Rate())
	r.Add(1)
	r.Add(0)
	assert.Equal(t, map[string]float64{"rate": 0.5}, r.Format())

	assert.Equal(t, 2.5, D(2500*time.Microsecond))
	assert.Equal(t, 2500*time.Microsecond, ToD(2.5))
}
