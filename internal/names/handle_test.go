package names

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var handlePattern = regexp.MustCompile(`^[a-z]+-[a-z]+-\d{2}$`)

func TestHandle(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		h := Handle()
		assert.Regexp(t, handlePattern, h)
		seen[h] = true
	}
	assert.GreaterOrEqual(t, len(seen), 10, "expected variety")
}

func TestFromEmail(t *testing.T) {
	cases := map[string]string{
		"Alice.Smith@example.com": "alice.smith",
		"bob+chat@example.com":    "bobchat",
		"x@example.com":           "",
		"  .__@example.com":       "",
		"no-at-sign":              "no-at-sign",
	}
	for in, want := range cases {
		assert.Equal(t, want, FromEmail(in), in)
	}
}
