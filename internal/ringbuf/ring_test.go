package ringbuf

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type record struct {
	index   int
	payload []int
}

func newRecordRing(t *testing.T, capacity int) *Ring[record] {
	t.Helper()
	r, err := New(capacity, func(rec *record) {
		rec.payload = make([]int, 4)
	})
	require.NoError(t, err)
	return r
}

func TestNewRejectsEmptyRing(t *testing.T) {
	_, err := New[record](0, nil)
	assert.Error(t, err)
}

func TestRoundTripPreservesOrder(t *testing.T) {
	const frames = 64

	for capacity := 2; capacity <= 5; capacity++ {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			r := newRecordRing(t, capacity)

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < frames; i++ {
					ok := r.Produce(func(rec *record) {
						rec.index = i
						for j := range rec.payload {
							rec.payload[j] = i*10 + j
						}
					})
					if !ok {
						return
					}
				}
			}()

			for i := 0; i < frames; i++ {
				ok := r.Consume(func(rec *record) {
					assert.Equal(t, i, rec.index)
					for j, v := range rec.payload {
						assert.Equal(t, i*10+j, v)
					}
				})
				require.True(t, ok)
			}

			<-done
			r.Quit()

			stats := r.Stats()
			assert.Equal(t, uint64(frames), stats.Produced)
			assert.Equal(t, uint64(frames), stats.Consumed)
			assert.Zero(t, stats.Dropped)
		})
	}
}

func TestSequentialProduceThenConsume(t *testing.T) {
	r := newRecordRing(t, 4)

	for i := 0; i < 4; i++ {
		require.True(t, r.Produce(func(rec *record) { rec.index = i }))
	}
	assert.Equal(t, 4, r.Pending())

	for i := 0; i < 4; i++ {
		require.True(t, r.Consume(func(rec *record) {
			assert.Equal(t, i, rec.index)
		}))
	}
	r.Quit()
}

func TestProduceNoWaitNeverBlocks(t *testing.T) {
	for capacity := 1; capacity <= 4; capacity++ {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			r := newRecordRing(t, capacity)

			// Park the consumer inside its callback so it holds a record.
			r.ProduceNoWait(func(rec *record) { rec.index = -1 })
			holding := make(chan struct{})
			release := make(chan struct{})
			consumerDone := make(chan struct{})
			go func() {
				defer close(consumerDone)
				r.Consume(func(*record) {
					close(holding)
					<-release
				})
			}()
			<-holding

			producerDone := make(chan struct{})
			go func() {
				defer close(producerDone)
				for i := 0; i < 1000; i++ {
					r.ProduceNoWait(func(rec *record) { rec.index = i })
				}
			}()

			select {
			case <-producerDone:
			case <-time.After(2 * time.Second):
				t.Fatal("ProduceNoWait blocked")
			}

			close(release)
			<-consumerDone
			r.Quit()

			// Everything beyond the ring capacity was overwritten.
			assert.Equal(t, uint64(1000-capacity), r.Stats().Dropped)
		})
	}
}

func TestProduceNoWaitOverwriteLeavesGap(t *testing.T) {
	r := newRecordRing(t, 2)

	for i := 0; i < 5; i++ {
		r.ProduceNoWait(func(rec *record) { rec.index = i })
	}
	r.Quit()

	var got []int
	for r.Consume(func(rec *record) { got = append(got, rec.index) }) {
	}
	assert.Equal(t, []int{3, 4}, got)
	assert.Equal(t, uint64(3), r.Stats().Dropped)
}

func TestLiveConsumeSkipsBacklog(t *testing.T) {
	r := newRecordRing(t, 4)

	for i := 0; i < 3; i++ {
		require.True(t, r.Produce(func(rec *record) { rec.index = i }))
	}

	r.SetPolicy(Live)
	require.True(t, r.Consume(func(rec *record) {
		assert.Equal(t, 2, rec.index)
	}))
	assert.Zero(t, r.Pending())
	assert.Equal(t, uint64(2), r.Stats().Dropped)

	require.True(t, r.Produce(func(rec *record) { rec.index = 3 }))
	require.True(t, r.Consume(func(rec *record) {
		assert.Equal(t, 3, rec.index)
	}))
	r.Quit()
}

func TestQuitDrainsBacklogThenShutsDown(t *testing.T) {
	r := newRecordRing(t, 3)

	require.True(t, r.Produce(func(rec *record) { rec.index = 0 }))
	require.True(t, r.Produce(func(rec *record) { rec.index = 1 }))
	r.Quit()
	r.Quit()

	assert.False(t, r.Produce(func(*record) { t.Error("mutate called after quit") }))
	r.ProduceNoWait(func(*record) { t.Error("mutate called after quit") })

	var got []int
	for r.Consume(func(rec *record) { got = append(got, rec.index) }) {
	}
	assert.Equal(t, []int{0, 1}, got)

	r.SetPolicy(Live)
	for i := 0; i < 3; i++ {
		assert.False(t, r.Consume(func(*record) {}))
	}
	assert.True(t, r.Closed())
}

func TestQuitWakesBlockedConsumer(t *testing.T) {
	r := newRecordRing(t, 2)

	result := make(chan bool, 1)
	go func() {
		result <- r.Consume(func(*record) {})
	}()

	time.Sleep(20 * time.Millisecond)
	r.Quit()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer still blocked after Quit")
	}
}

func TestQuitWakesBlockedProducer(t *testing.T) {
	r := newRecordRing(t, 1)
	require.True(t, r.Produce(func(*record) {}))

	// The only slot is full, so this producer has to wait.
	result := make(chan bool, 1)
	go func() {
		result <- r.Produce(func(*record) {})
	}()

	time.Sleep(20 * time.Millisecond)
	r.Quit()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after Quit")
	}

	// The record published before Quit is still delivered.
	assert.True(t, r.Consume(func(*record) {}))
	assert.False(t, r.Consume(func(*record) {}))
}

func TestForEachResizeIsVisibleToProduce(t *testing.T) {
	const length = 257
	r := newRecordRing(t, 3)

	r.ForEach(func(rec *record) {
		rec.payload = make([]int, length)
	})

	for i := 0; i < 6; i++ {
		require.True(t, r.Produce(func(rec *record) {
			assert.Len(t, rec.payload, length)
			rec.index = i
		}))
		require.True(t, r.Consume(func(rec *record) {
			assert.Len(t, rec.payload, length)
		}))
	}

	count := 0
	r.ForEach(func(rec *record) {
		count++
		assert.Len(t, rec.payload, length)
	})
	assert.Equal(t, r.Capacity()+1, count)
	r.Quit()
}

func TestWaitPolicyString(t *testing.T) {
	assert.Equal(t, "blocking", Blocking.String())
	assert.Equal(t, "live", Live.String())
	assert.Equal(t, "WaitPolicy(7)", WaitPolicy(7).String())
}

func TestPolicySwitchAppliesToWaitingConsumer(t *testing.T) {
	r := newRecordRing(t, 4)
	r.SetPolicy(Live)

	got := make(chan []int, 1)
	go func() {
		var seen []int
		for r.Consume(func(rec *record) { seen = append(seen, rec.index) }) {
		}
		got <- seen
	}()

	// Let the consumer park inside Consume under Live.
	time.Sleep(20 * time.Millisecond)
	r.SetPolicy(Blocking)
	assert.Equal(t, Blocking, r.Policy())

	for i := 0; i < 4; i++ {
		require.True(t, r.Produce(func(rec *record) { rec.index = i }))
	}
	r.Quit()

	select {
	case seen := <-got:
		assert.Equal(t, []int{0, 1, 2, 3}, seen)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not finish")
	}
	assert.Zero(t, r.Stats().Dropped)
}
