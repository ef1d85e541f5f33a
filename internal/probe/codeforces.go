package probe

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

const codeforcesBaseURL = "https://codeforces.com"

// Activity checks scan a short recent window; the stats source pages deep
// enough to count every solved problem.
const (
	codeforcesRecentCount = 100
	codeforcesStatsCount  = 10000
)

// Codeforces reads the public user.status API for accepted submissions.
type Codeforces struct {
	client   *Client
	baseURL  string
	clock    func() time.Time
	location *time.Location
}

// NewCodeforces constructs the Codeforces probe.
func NewCodeforces(opts Options) *Codeforces {
	opts = opts.normalized(codeforcesBaseURL)
	return &Codeforces{
		client:   opts.Client,
		baseURL:  opts.BaseURL,
		clock:    opts.Clock,
		location: opts.Location,
	}
}

type codeforcesStatusResponse struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Result  []struct {
		CreationTimeSeconds int64  `json:"creationTimeSeconds"`
		Verdict             string `json:"verdict"`
		Problem             struct {
			ContestID int    `json:"contestId"`
			Index     string `json:"index"`
		} `json:"problem"`
	} `json:"result"`
}

// CheckToday reports whether the handle has an accepted submission today.
// An unknown handle (API status FAILED) maps to false, not an error.
func (p *Codeforces) CheckToday(ctx context.Context, username string) (bool, error) {
	response, err := p.userStatus(ctx, username, codeforcesRecentCount)
	if err != nil {
		// The API answers 400 for unknown handles.
		if ClientRejected(err) {
			return false, nil
		}
		return false, err
	}
	if response.Status != "OK" {
		return false, nil
	}

	dayStart, _ := dayBounds(p.clock, p.location)
	threshold := dayStart.Unix()
	for _, submission := range response.Result {
		if submission.Verdict == "OK" && submission.CreationTimeSeconds >= threshold {
			return true, nil
		}
	}
	return false, nil
}

// TotalSolved counts distinct problems with an accepted verdict.
func (p *Codeforces) TotalSolved(ctx context.Context, username string) (int, error) {
	response, err := p.userStatus(ctx, username, codeforcesStatsCount)
	if err != nil {
		return 0, err
	}
	if response.Status != "OK" {
		return 0, fmt.Errorf("%w: %s (%s)", ErrUnknownUser, username, response.Comment)
	}

	solved := make(map[string]struct{})
	for _, submission := range response.Result {
		if submission.Verdict != "OK" {
			continue
		}
		key := fmt.Sprintf("%d-%s", submission.Problem.ContestID, submission.Problem.Index)
		solved[key] = struct{}{}
	}
	return len(solved), nil
}

func (p *Codeforces) userStatus(ctx context.Context, username string, count int) (codeforcesStatusResponse, error) {
	endpoint := fmt.Sprintf("%s/api/user.status?handle=%s&from=1&count=%d",
		p.baseURL, url.QueryEscape(username), count)

	var response codeforcesStatusResponse
	if err := p.client.GetJSON(ctx, endpoint, &response); err != nil {
		return codeforcesStatusResponse{}, fmt.Errorf("user.status lookup: %w", err)
	}
	return response, nil
}
