package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sniper/internal/booking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	snap   booking.Snapshot
	paused bool
}

func (f *fakeSource) Snapshot() booking.Snapshot { return f.snap }
func (f *fakeSource) Phase() booking.Phase       { return booking.PhaseWarmup }
func (f *fakeSource) Paused() bool               { return f.paused }

func TestHealthEndpoint(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		snap   booking.Snapshot
		paused bool
		code   int
		status string
		last   string
	}{
		{
			name:   "not started",
			snap:   booking.Snapshot{StartedAt: now.Add(-time.Minute)},
			code:   http.StatusOK,
			status: "healthy",
			last:   "not started",
		},
		{
			name:   "recent cycle",
			snap:   booking.Snapshot{StartedAt: now.Add(-time.Hour), LastCycle: "scanned", LastCycleAt: now.Add(-20 * time.Second)},
			code:   http.StatusOK,
			status: "healthy",
			last:   "scanned",
		},
		{
			name:   "stale",
			snap:   booking.Snapshot{StartedAt: now.Add(-time.Hour), LastCycle: "scanned", LastCycleAt: now.Add(-10 * time.Minute)},
			code:   http.StatusServiceUnavailable,
			status: "stale",
			last:   "scanned",
		},
		{
			name:   "paused is not stale",
			snap:   booking.Snapshot{StartedAt: now.Add(-time.Hour), LastCycle: "scanned", LastCycleAt: now.Add(-10 * time.Minute)},
			paused: true,
			code:   http.StatusOK,
			status: "healthy",
			last:   "scanned",
		},
		{
			name:   "booked",
			snap:   booking.Snapshot{StartedAt: now.Add(-time.Hour), Success: true, LastCycle: "BOOKED", LastCycleAt: now.Add(-time.Hour)},
			code:   http.StatusOK,
			status: "booked",
			last:   "BOOKED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(&fakeSource{snap: tt.snap, paused: tt.paused}, "0", zaptest.NewLogger(t))
			s.now = func() time.Time { return now }
			srv := httptest.NewServer(s.Handler())
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			var st Status
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
			assert.Equal(t, tt.status, st.Status)
			assert.Equal(t, tt.last, st.LastCycleStatus)
			assert.Equal(t, "WARMUP", st.Phase)
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	src := &fakeSource{snap: booking.Snapshot{Scans: 12, DaysFound: 3, CaptchasSolved: 5, CaptchasFailed: 2}}
	srv := httptest.NewServer(NewServer(src, "0", zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap booking.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 12, snap.Scans)
	assert.Equal(t, 3, snap.DaysFound)
	assert.Equal(t, 7, snap.CaptchaTotal())

	resp2, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}
