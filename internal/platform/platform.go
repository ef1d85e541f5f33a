package platform

import (
	"errors"
	"fmt"
	"strings"
)

// Platform identifies a supported external coding platform.
type Platform string

const (
	// LeetCode is the default platform for new accounts.
	LeetCode   Platform = "leetcode"
	Codeforces Platform = "codeforces"
	GFG        Platform = "gfg"
	HackerRank Platform = "hackerrank"
)

// Default is the platform used when tier gating restricts a user to one platform.
const Default = LeetCode

// ErrUnknownPlatform indicates the raw value is not a supported platform.
var ErrUnknownPlatform = errors.New("platform: unknown platform")

// All lists every supported platform in a stable order.
func All() []Platform {
	return []Platform{LeetCode, Codeforces, GFG, HackerRank}
}

// Parse validates raw input and returns the matching Platform.
func Parse(rawInput string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(rawInput))) {
	case LeetCode:
		return LeetCode, nil
	case Codeforces:
		return Codeforces, nil
	case GFG:
		return GFG, nil
	case HackerRank:
		return HackerRank, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, rawInput)
	}
}

// String returns the lowercase platform identifier.
func (p Platform) String() string {
	return string(p)
}
