package probe

import (
	"testing"

	"github.com/codestreak/backend/internal/platform"
)

func TestNewDefaultSetCoversEveryPlatform(t *testing.T) {
	set := NewDefaultSet(Options{})

	for _, plat := range platform.All() {
		if _, ok := set.Activity(plat); !ok {
			t.Fatalf("missing activity probe for %s", plat)
		}
	}

	for _, plat := range []platform.Platform{platform.LeetCode, platform.Codeforces, platform.GFG} {
		if _, ok := set.Stats(plat); !ok {
			t.Fatalf("missing stats source for %s", plat)
		}
	}
	if _, ok := set.Stats(platform.HackerRank); ok {
		t.Fatalf("hackerrank exposes no solved count and must not register stats")
	}
}
