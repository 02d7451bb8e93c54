package booking

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"sniper/internal/browser/browsertest"
	"sniper/internal/captcha"
	"sniper/internal/config"
	"sniper/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewManagerValidates(t *testing.T) {
	solver := captcha.NewController(testConfig().Captcha, config.ModeAuto, &fakeStrategy{answers: []string{"x"}}, nil, zaptest.NewLogger(t))

	_, err := NewManager(testConfig(), Deps{Solver: solver})
	assert.Error(t, err, "launcher required")

	cfg := testConfig()
	cfg.TargetURL = "not a url"
	_, err = NewManager(cfg, Deps{Launcher: &browsertest.Launcher{}, Solver: solver})
	assert.Error(t, err)
}

func TestRoles(t *testing.T) {
	assert.Equal(t, []session.Role{session.RoleSolo}, roles(1))
	assert.Equal(t, []session.Role{session.RoleScout, session.RoleAttacker, session.RoleAttacker}, roles(3))
}

func TestManagerCommands(t *testing.T) {
	clk := newClock(patrolTime())
	m, _ := newTestManager(t, testConfig(), servingLauncher(emptyCalendarPage), &fakeStrategy{answers: []string{"ab12cd"}}, clk)

	assert.Equal(t, config.ModeAuto, m.Mode())
	mode, err := m.SetMode("hybrid")
	require.NoError(t, err)
	assert.Equal(t, config.ModeHybrid, mode)
	assert.Equal(t, config.ModeHybrid, m.Mode())

	_, err = m.SetMode("turbo")
	assert.Error(t, err)
	assert.Equal(t, config.ModeHybrid, m.Mode())

	m.Pause()
	assert.True(t, m.Paused())
	assert.Contains(t, m.StatusReport(), "⏸ Paused")
	m.Resume()
	assert.False(t, m.Paused())

	report := m.StatusReport()
	assert.Contains(t, report, "Mode: HYBRID (PATROL)")
	assert.Contains(t, report, "🟢 Running")

	assert.False(t, m.Stopped())
	m.Stop()
	m.Stop()
	assert.True(t, m.Stopped())
}

func TestManagerStatusCard(t *testing.T) {
	clk := newClock(patrolTime())
	m, _ := newTestManager(t, testConfig(), servingLauncher(emptyCalendarPage), &fakeStrategy{answers: []string{"ab12cd"}}, clk)

	data, err := m.StatusCard()
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestManagerRunDryRunStopsAfterSuccess(t *testing.T) {
	clk := newClock(patrolTime())
	cfg := testConfig()
	cfg.DryRun = true
	launcher := servingLauncher(calendarPage(16, 17))
	m, notifier := newTestManager(t, cfg, launcher, &fakeStrategy{answers: []string{"ab12cd"}}, clk)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		m.Stop()
		t.Fatal("run did not stop after the dry-run booking")
	}

	snap := m.Snapshot()
	assert.True(t, snap.Success)
	assert.Equal(t, 1, snap.FormsFilled)
	assert.Equal(t, 2, snap.DaysFound)
	assert.Equal(t, 1, launcher.Closed)

	all := notifier.all()
	assert.Contains(t, all, "🚀 Sniper started")
	assert.Contains(t, all, "🧪 DRY RUN")
	assert.Contains(t, all, "🛑 Sniper stopped")
}

func TestManagerRunStopsOnContext(t *testing.T) {
	clk := newClock(patrolTime())
	m, _ := newTestManager(t, testConfig(), servingLauncher(emptyCalendarPage), &fakeStrategy{answers: []string{"ab12cd"}}, clk)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))
	assert.False(t, m.Snapshot().Success)
	assert.GreaterOrEqual(t, m.Snapshot().Scans, 1)
}
