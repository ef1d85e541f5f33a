package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

const hackerRankBaseURL = "https://www.hackerrank.com"

const hackerRankRecentLimit = 10

// HackerRank reads the recent-challenges feed. The profile exposes no
// programmatic cumulative-solved count, so this platform has no StatsSource.
type HackerRank struct {
	client   *Client
	baseURL  string
	clock    func() time.Time
	location *time.Location
}

// NewHackerRank constructs the HackerRank probe.
func NewHackerRank(opts Options) *HackerRank {
	opts = opts.normalized(hackerRankBaseURL)
	return &HackerRank{
		client:   opts.Client,
		baseURL:  opts.BaseURL,
		clock:    opts.Clock,
		location: opts.Location,
	}
}

type hackerRankChallenge struct {
	CreatedAt flexibleTime `json:"created_at"`
	UpdatedAt flexibleTime `json:"updated_at"`
}

type hackerRankRecentResponse struct {
	Models []hackerRankChallenge `json:"models"`
	Data   []hackerRankChallenge `json:"data"`
}

// CheckToday reports whether the feed shows a challenge touched today.
func (p *HackerRank) CheckToday(ctx context.Context, username string) (bool, error) {
	endpoint := fmt.Sprintf("%s/rest/hackers/%s/recent_challenges?limit=%d",
		p.baseURL, url.PathEscape(username), hackerRankRecentLimit)

	var response hackerRankRecentResponse
	if err := p.client.GetJSON(ctx, endpoint, &response); err != nil {
		if NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("recent challenges lookup: %w", err)
	}

	items := response.Models
	if len(items) == 0 {
		items = response.Data
	}

	dayStart, _ := dayBounds(p.clock, p.location)
	for _, item := range items {
		touched := item.CreatedAt.Time
		if touched.IsZero() {
			touched = item.UpdatedAt.Time
		}
		if !touched.IsZero() && !touched.Before(dayStart) {
			return true, nil
		}
	}
	return false, nil
}

// flexibleTime accepts the feed's two timestamp encodings: epoch
// milliseconds and RFC 3339 strings.
type flexibleTime struct {
	Time time.Time
}

func (t *flexibleTime) UnmarshalJSON(raw []byte) error {
	if string(raw) == "null" {
		return nil
	}

	var millis int64
	if err := json.Unmarshal(raw, &millis); err == nil {
		t.Time = time.UnixMilli(millis)
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
