package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHackerRankCheckToday(t *testing.T) {
	todayMillis := time.Date(2026, 8, 14, 7, 0, 0, 0, time.UTC).UnixMilli()
	yesterdayRFC := time.Date(2026, 8, 13, 7, 0, 0, 0, time.UTC).Format(time.RFC3339)

	for _, scenario := range []struct {
		name string
		body string
		want bool
	}{
		{
			name: "epoch millis today",
			body: fmt.Sprintf(`{"models":[{"created_at":%d}]}`, todayMillis),
			want: true,
		},
		{
			name: "rfc3339 yesterday",
			body: fmt.Sprintf(`{"models":[{"created_at":%q}]}`, yesterdayRFC),
			want: false,
		},
		{
			name: "updated today under data key",
			body: fmt.Sprintf(`{"data":[{"created_at":null,"updated_at":%d}]}`, todayMillis),
			want: true,
		},
		{
			name: "empty feed",
			body: `{"models":[]}`,
			want: false,
		},
	} {
		t.Run(scenario.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/rest/hackers/dev/recent_challenges" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				fmt.Fprint(w, scenario.body)
			}))
			defer server.Close()

			probe := NewHackerRank(probeOptions(server))
			got, err := probe.CheckToday(context.Background(), "dev")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != scenario.want {
				t.Fatalf("expected %v, got %v", scenario.want, got)
			}
		})
	}
}

func TestHackerRankCheckTodayUnknownUserIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	probe := NewHackerRank(probeOptions(server))
	got, err := probe.CheckToday(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("a missing profile must not surface as an error: %v", err)
	}
	if got {
		t.Fatalf("a missing profile must read as no activity")
	}
}
