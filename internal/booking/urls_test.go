package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareBaseURL(t *testing.T) {
	base, err := PrepareBaseURL("  " + testTarget + "&request_locale=de ")
	require.NoError(t, err)
	assert.Contains(t, base, "request_locale=en")
	assert.NotContains(t, base, "request_locale=de")
	assert.Contains(t, base, "locationCode=sana")

	_, err = PrepareBaseURL("extern/appointment_showMonth.do")
	assert.Error(t, err)
}

func TestMonthURLs(t *testing.T) {
	base, err := PrepareBaseURL(testTarget)
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	urls, err := MonthURLs(base, []int{0, 2, 3}, now)
	require.NoError(t, err)
	require.Len(t, urls, 3)

	assert.Contains(t, urls[0], "dateStr=15.03.2026")
	assert.Contains(t, urls[1], "dateStr=15.05.2026")
	assert.Contains(t, urls[2], "dateStr=15.06.2026")
	for _, u := range urls {
		assert.Contains(t, u, "request_locale=en")
		assert.Contains(t, u, "appointment_showMonth.do")
	}
}

func TestMonthURLsCrossYear(t *testing.T) {
	urls, err := MonthURLs(testTarget, []int{1}, time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, urls[0], "dateStr=15.01.2027")
}

func TestAbsoluteURL(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"extern/appointment_showDay.do?dateStr=16.05.2026", testSiteRoot + "/extern/appointment_showDay.do?dateStr=16.05.2026"},
		{"/extern/x.do", testSiteRoot + "/extern/x.do"},
		{"https://other.example/x", "https://other.example/x"},
		{"  extern/y.do ", testSiteRoot + "/extern/y.do"},
	}
	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			assert.Equal(t, tt.want, AbsoluteURL(testTarget, tt.href))
		})
	}
}

func TestSiteRoot(t *testing.T) {
	assert.Equal(t, testSiteRoot, SiteRoot(testTarget))
	assert.Equal(t, "https://example.test", SiteRoot("https://example.test/booking?x=1"))
}
