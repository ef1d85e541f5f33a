package probe

import (
	"github.com/codestreak/backend/internal/platform"
	"github.com/codestreak/backend/internal/streak"
)

// NewDefaultSet wires every supported platform into a probe set. HackerRank
// registers no stats source; its profile offers no programmatic solved count
// and stats unavailability is tolerated by the reconciler.
func NewDefaultSet(opts Options) *streak.ProbeSet {
	set := streak.NewProbeSet()

	leetcode := NewLeetCode(opts)
	set.RegisterActivity(platform.LeetCode, leetcode)
	set.RegisterStats(platform.LeetCode, leetcode)

	codeforces := NewCodeforces(opts)
	set.RegisterActivity(platform.Codeforces, codeforces)
	set.RegisterStats(platform.Codeforces, codeforces)

	gfg := NewGFG(opts)
	set.RegisterActivity(platform.GFG, gfg)
	set.RegisterStats(platform.GFG, gfg)

	set.RegisterActivity(platform.HackerRank, NewHackerRank(opts))

	return set
}
