package browser

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomFingerprintBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		fp := RandomFingerprint(rng, "Asia/Aden")
		assert.GreaterOrEqual(t, fp.Width, 1366)
		assert.LessOrEqual(t, fp.Width, 1416)
		assert.GreaterOrEqual(t, fp.Height, 768)
		assert.LessOrEqual(t, fp.Height, 798)
		assert.Contains(t, userAgents, fp.UserAgent)
		assert.Equal(t, "Asia/Aden", fp.Timezone)
	}
}

func TestHolderSetCancelsPrevious(t *testing.T) {
	var h Holder
	firstClosed, secondClosed := 0, 0

	h.Set(nil, Fingerprint{UserAgent: "a"}, func() { firstClosed++ })
	h.Set(nil, Fingerprint{UserAgent: "b"}, func() { secondClosed++ })

	assert.Equal(t, 1, firstClosed)
	assert.Equal(t, 0, secondClosed)
	assert.Equal(t, "b", h.Fingerprint().UserAgent)

	h.Cancel()
	h.Cancel()
	assert.Equal(t, 1, secondClosed)
	assert.Nil(t, h.Get())
}

func TestQuoteEscapes(t *testing.T) {
	assert.Equal(t, `"input[name='captchaText']"`, quote("input[name='captchaText']"))
	assert.Equal(t, `"a\"b"`, quote(`a"b`))
}
