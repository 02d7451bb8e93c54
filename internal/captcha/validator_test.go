package captcha

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var defaultGarbage = []string{"4333", "333", "444", "1111", "0000", "4444", "3333"}

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomCode(rng *rand.Rand, n int) string {
	for {
		b := make([]byte, n)
		for i := range b {
			b[i] = alphabet[rng.Intn(len(alphabet))]
		}
		s := string(b)
		if n <= 3 || strings.Count(s, s[:1]) != n {
			return s
		}
	}
}

func TestValidate(t *testing.T) {
	v := NewValidator(defaultGarbage)

	tests := []struct {
		name   string
		raw    string
		code   string
		ok     bool
		status Status
	}{
		{"empty", "", "", false, StatusEmpty},
		{"whitespace", "   \t", "", false, StatusEmpty},
		{"punctuation only", "--..", "", false, StatusEmpty},
		{"garbage literal", "4333", "4333", false, StatusBlackDetected},
		{"short garbage literal", "333", "333", false, StatusBlackDetected},
		{"same character six times", "aaaaaa", "aaaaaa", false, StatusBlackDetected},
		{"too short", "ab", "ab", false, StatusTooShort},
		{"four chars", "ab1c", "ab1c", false, StatusTooShort},
		{"five chars", "ab1cd", "ab1cd", false, StatusTooShort},
		{"valid", "ab12cd", "ab12cd", true, StatusValid},
		{"valid after cleaning", " AB-12 cd ", "ab12cd", true, StatusValid},
		{"aging seven", "ab12cde", "ab12cde", true, StatusAging7},
		{"aging eight", "ab12cdef", "ab12cdef", true, StatusAging8},
		{"too long", "ab12cdefg", "ab12cdefg", false, StatusTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok, status := v.Validate(tt.raw)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestValidateLengthProperties(t *testing.T) {
	v := NewValidator(defaultGarbage)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		_, ok, status := v.Validate(randomCode(rng, 6))
		assert.True(t, ok)
		assert.Equal(t, StatusValid, status)

		_, ok, status = v.Validate(randomCode(rng, 7))
		assert.True(t, ok)
		assert.Equal(t, StatusAging7, status)

		_, ok, status = v.Validate(randomCode(rng, 8))
		assert.True(t, ok)
		assert.Equal(t, StatusAging8, status)

		_, ok, status = v.Validate(randomCode(rng, 9+rng.Intn(10)))
		assert.False(t, ok)
		assert.Equal(t, StatusTooLong, status)
	}

	for n := 1; n <= 3; n++ {
		for i := 0; i < 50; i++ {
			code := randomCode(rng, n)
			if n == 3 && (code == "333" || code == "444") {
				continue
			}
			_, ok, status := v.Validate(code)
			assert.False(t, ok)
			assert.Equal(t, StatusTooShort, status, code)
		}
	}
}

func TestValidateRepeatedCharacterWinsOverLength(t *testing.T) {
	v := NewValidator(nil)
	for _, c := range alphabet {
		for n := 4; n <= 12; n++ {
			_, ok, status := v.Validate(strings.Repeat(string(c), n))
			assert.False(t, ok)
			assert.Equal(t, StatusBlackDetected, status)
		}
	}
}

func TestCustomGarbageList(t *testing.T) {
	v := NewValidator([]string{"ab12cd"})
	_, ok, status := v.Validate("AB12CD")
	assert.False(t, ok)
	assert.Equal(t, StatusBlackDetected, status)

	_, ok, _ = NewValidator(nil).Validate("4333")
	assert.False(t, ok, "4333 is still too short without the literal list")
}

func TestCleanIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	chars := []rune("aZ09 -_.!äß€\t\nXyz")
	for i := 0; i < 500; i++ {
		r := make([]rune, rng.Intn(20))
		for j := range r {
			r[j] = chars[rng.Intn(len(chars))]
		}
		once := Clean(string(r))
		assert.Equal(t, once, Clean(once))
	}
	assert.Equal(t, "ab12cd", Clean(" Ab-12_Cd! "))
}

func TestNormalizeReply(t *testing.T) {
	tests := []struct {
		reply string
		code  string
		ok    bool
	}{
		{"AB12CD", "ab12cd", true},
		{" ab 12 cd ", "ab12cd", true},
		{"abc", "", false},
		{"abcdefghijk", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		code, ok := NormalizeReply(tt.reply)
		assert.Equal(t, tt.code, code, tt.reply)
		assert.Equal(t, tt.ok, ok, tt.reply)
	}
}

func TestAutoSkip(t *testing.T) {
	assert.Equal(t, Status("AUTO_SKIP_TOO_SHORT"), AutoSkip(StatusTooShort))
	assert.True(t, StatusAging8.Aging())
	assert.False(t, StatusValid.Aging())
}
