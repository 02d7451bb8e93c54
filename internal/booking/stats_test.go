package booking

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsMarkSuccessOnce(t *testing.T) {
	s := NewStats(time.Now())

	var wg sync.WaitGroup
	wins := make(chan string, 8)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if s.MarkSuccess(id) {
				wins <- id
			}
		}(id)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for id := range wins {
		winners = append(winners, id)
	}
	assert.Len(t, winners, 1)
	snap := s.Snapshot()
	assert.True(t, snap.Success)
	assert.Equal(t, winners[0], snap.SuccessSession)
}

func TestStatsReport(t *testing.T) {
	s := NewStats(time.Now().Add(-time.Minute))
	s.Update(func(snap *Snapshot) {
		snap.DaysFound = 2
		snap.CaptchasSolved = 3
		snap.CaptchasFailed = 1
	})
	s.Cycle("scanned", time.Now())

	report := Report(s.Snapshot(), PhaseWarmup, "HYBRID", false)
	assert.Contains(t, report, "📊 STATUS REPORT")
	assert.Contains(t, report, "Mode: HYBRID (WARMUP)")
	assert.Contains(t, report, "🟢 Running")
	assert.Contains(t, report, "Scans: 1")
	assert.Contains(t, report, "Days Found: 2")
	assert.Contains(t, report, "Captchas: 3/4")
	assert.NotContains(t, report, "Booked")

	s.MarkSuccess("session-1")
	report = Report(s.Snapshot(), PhasePatrol, "AUTO", true)
	assert.Contains(t, report, "⏸ Paused")
	assert.Contains(t, report, "Booked by session session-1")
}

func TestTargetPublishWakesWaiters(t *testing.T) {
	target := NewTarget()
	wait := target.Wait()

	_, ok := target.Current()
	assert.False(t, ok)

	target.Publish("month-5")
	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
	url, ok := target.Current()
	assert.True(t, ok)
	assert.Equal(t, "month-5", url)

	// publishing again must not panic on the closed channel
	target.Publish("month-6")
	url, _ = target.Current()
	assert.Equal(t, "month-6", url)
}

func TestTargetClear(t *testing.T) {
	target := NewTarget()
	target.Publish("month-5")

	target.Clear("month-4")
	_, ok := target.Current()
	assert.True(t, ok, "stale clear must not drop a newer target")

	target.Clear("month-5")
	_, ok = target.Current()
	assert.False(t, ok)

	select {
	case <-target.Wait():
		t.Fatal("signal should be re-armed after clear")
	default:
	}
}
