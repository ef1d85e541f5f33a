package probe

import "time"

// Options are the shared knobs for the platform probe constructors.
type Options struct {
	Client *Client
	// BaseURL overrides the platform endpoint, used by tests.
	BaseURL  string
	Clock    func() time.Time
	Location *time.Location
}

func (o Options) normalized(defaultBaseURL string) Options {
	if o.Client == nil {
		o.Client = NewClient(ClientConfig{})
	}
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// dayBounds returns the inclusive start and exclusive end of the current
// calendar day in the configured reconciliation zone.
func dayBounds(clock func() time.Time, location *time.Location) (time.Time, time.Time) {
	now := clock().In(location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, location)
	return start, start.AddDate(0, 0, 1)
}
