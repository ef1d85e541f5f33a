package probe

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const gfgBaseURL = "https://auth.geeksforgeeks.org"

var gfgSolvedPattern = regexp.MustCompile(`(?i)total[_ ]?problems?[_ ]?solved\D{0,40}?(\d+)`)

// GFG scrapes the public practice profile page. There is no stable JSON API,
// so activity detection falls back to the page listing today's date next to
// a submission, the same heuristic the submission calendar renders from.
type GFG struct {
	client   *Client
	baseURL  string
	clock    func() time.Time
	location *time.Location
}

// NewGFG constructs the GeeksforGeeks probe.
func NewGFG(opts Options) *GFG {
	opts = opts.normalized(gfgBaseURL)
	return &GFG{
		client:   opts.Client,
		baseURL:  opts.BaseURL,
		clock:    opts.Clock,
		location: opts.Location,
	}
}

// CheckToday reports whether the practice page shows a submission dated
// today (DD-MM-YYYY, as the page renders dates).
func (p *GFG) CheckToday(ctx context.Context, username string) (bool, error) {
	body, err := p.practicePage(ctx, username)
	if err != nil {
		if NotFound(err) {
			return false, nil
		}
		return false, err
	}

	now := p.clock().In(p.location)
	todayStamp := now.Format("02-01-2006")
	return strings.Contains(body, todayStamp), nil
}

// TotalSolved extracts the cumulative solved count from the practice page.
func (p *GFG) TotalSolved(ctx context.Context, username string) (int, error) {
	body, err := p.practicePage(ctx, username)
	if err != nil {
		if NotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownUser, username)
		}
		return 0, err
	}

	match := gfgSolvedPattern.FindStringSubmatch(body)
	if match == nil {
		return 0, fmt.Errorf("solved count not present on practice page for %s", username)
	}
	return strconv.Atoi(match[1])
}

func (p *GFG) practicePage(ctx context.Context, username string) (string, error) {
	endpoint := fmt.Sprintf("%s/user/%s/practice/", p.baseURL, url.PathEscape(username))
	body, err := p.client.GetBody(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("practice page fetch: %w", err)
	}
	return body, nil
}
