package probe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const leetCodeBaseURL = "https://leetcode.com"

// ErrUnknownUser indicates the platform has no profile for the username.
var ErrUnknownUser = errors.New("probe: unknown username")

// LeetCode checks whether a user solved today's daily challenge and reports
// cumulative accepted-problem counts, both over the public GraphQL API.
type LeetCode struct {
	client   *Client
	baseURL  string
	clock    func() time.Time
	location *time.Location
}

// NewLeetCode constructs the LeetCode probe.
func NewLeetCode(opts Options) *LeetCode {
	opts = opts.normalized(leetCodeBaseURL)
	return &LeetCode{
		client:   opts.Client,
		baseURL:  opts.BaseURL,
		clock:    opts.Clock,
		location: opts.Location,
	}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type dailyChallengeResponse struct {
	Data struct {
		ActiveDailyCodingChallengeQuestion struct {
			Date     string `json:"date"`
			Question struct {
				TitleSlug string `json:"titleSlug"`
			} `json:"question"`
		} `json:"activeDailyCodingChallengeQuestion"`
	} `json:"data"`
}

type recentSubmissionsResponse struct {
	Data struct {
		RecentSubmissions []struct {
			TitleSlug     string `json:"titleSlug"`
			Timestamp     string `json:"timestamp"`
			StatusDisplay string `json:"statusDisplay"`
		} `json:"recentSubmissions"`
	} `json:"data"`
}

type submitStatsResponse struct {
	Data struct {
		MatchedUser *struct {
			SubmitStatsGlobal struct {
				ACSubmissionNum []struct {
					Difficulty string `json:"difficulty"`
					Count      int    `json:"count"`
				} `json:"acSubmissionNum"`
			} `json:"submitStatsGlobal"`
		} `json:"matchedUser"`
	} `json:"data"`
}

// CheckToday reports whether the user submitted an accepted solution to
// today's daily-challenge question.
func (p *LeetCode) CheckToday(ctx context.Context, username string) (bool, error) {
	endpoint := p.baseURL + "/graphql"

	var daily dailyChallengeResponse
	err := p.client.PostJSON(ctx, endpoint, graphqlRequest{
		Query: `query questionOfToday {
  activeDailyCodingChallengeQuestion {
    date
    question { titleSlug }
  }
}`,
	}, &daily)
	if err != nil {
		return false, fmt.Errorf("daily challenge lookup: %w", err)
	}
	dailySlug := daily.Data.ActiveDailyCodingChallengeQuestion.Question.TitleSlug
	if dailySlug == "" {
		return false, errors.New("daily challenge slug missing from response")
	}

	var submissions recentSubmissionsResponse
	err = p.client.PostJSON(ctx, endpoint, graphqlRequest{
		Query: `query recentSubmissions($username: String!) {
  recentSubmissions(username: $username) {
    titleSlug
    timestamp
    statusDisplay
  }
}`,
		Variables: map[string]interface{}{"username": username},
	}, &submissions)
	if err != nil {
		if NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("recent submissions lookup: %w", err)
	}

	dayStart, dayEnd := dayBounds(p.clock, p.location)
	for _, submission := range submissions.Data.RecentSubmissions {
		if submission.TitleSlug != dailySlug || submission.StatusDisplay != "Accepted" {
			continue
		}
		seconds, parseErr := strconv.ParseInt(submission.Timestamp, 10, 64)
		if parseErr != nil {
			continue
		}
		submittedAt := time.Unix(seconds, 0)
		if !submittedAt.Before(dayStart) && submittedAt.Before(dayEnd) {
			return true, nil
		}
	}
	return false, nil
}

// TotalSolved returns the user's cumulative accepted-problem count.
func (p *LeetCode) TotalSolved(ctx context.Context, username string) (int, error) {
	var stats submitStatsResponse
	err := p.client.PostJSON(ctx, p.baseURL+"/graphql", graphqlRequest{
		Query: `query userStats($username: String!) {
  matchedUser(username: $username) {
    submitStatsGlobal {
      acSubmissionNum { difficulty count }
    }
  }
}`,
		Variables: map[string]interface{}{"username": username},
	}, &stats)
	if err != nil {
		return 0, fmt.Errorf("submit stats lookup: %w", err)
	}
	if stats.Data.MatchedUser == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	for _, bucket := range stats.Data.MatchedUser.SubmitStatsGlobal.ACSubmissionNum {
		if bucket.Difficulty == "All" {
			return bucket.Count, nil
		}
	}
	return 0, errors.New("submit stats missing aggregate bucket")
}
