// Package names produces usernames for accounts created without one.
package names

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

var (
	adjectives = []string{
		"quiet", "brisk", "amber", "lucid", "mellow", "nimble", "wry",
		"gentle", "bold", "hazy", "lunar", "polar", "rustic", "sunny",
		"tidal", "velvet", "woven", "zesty", "candid", "dusky",
	}
	nouns = []string{
		"otter", "heron", "lynx", "maple", "comet", "harbor", "lantern",
		"meadow", "pebble", "quill", "raven", "sparrow", "thistle",
		"willow", "badger", "cinder", "fjord", "juniper", "kestrel", "orchid",
	}
)

// Handle returns a random handle such as "quiet-otter-42".
func Handle() string {
	rngMu.Lock()
	defer rngMu.Unlock()
	return fmt.Sprintf("%s-%s-%02d",
		adjectives[rng.Intn(len(adjectives))],
		nouns[rng.Intn(len(nouns))],
		rng.Intn(100))
}

// FromEmail derives a handle from the local part of an email address, keeping
// letters, digits, '-', '_' and '.'. It returns "" when nothing usable is left.
func FromEmail(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ".-_")
	if len([]rune(out)) < 2 {
		return ""
	}
	return out
}
