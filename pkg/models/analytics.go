package models

import "time"

// ActivityCounts counts activities in the standard windows.
type ActivityCounts struct {
	Total      int64 `json:"total"`
	Today      int64 `json:"today"`
	Last7Days  int64 `json:"last_7_days"`
	Last30Days int64 `json:"last_30_days"`
}

// EngagementTotals sums engagement counters over a window.
type EngagementTotals struct {
	PageViews          int64   `json:"page_views"`
	Conversations      int64   `json:"conversations"`
	Messages           int64   `json:"messages"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
}

// AnalyticsSummary is the response of the summary endpoint.
type AnalyticsSummary struct {
	UserActivity ActivityCounts   `json:"user_activity"`
	Engagement   EngagementTotals `json:"engagement"`
	Timestamp    time.Time        `json:"timestamp"`
}

// TrendPoint is one (day, action) bucket.
type TrendPoint struct {
	Date   string `json:"date"`
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

// ActivityTrends is the response of the trends endpoint.
type ActivityTrends struct {
	Days      int          `json:"days"`
	StartDate time.Time    `json:"start_date"`
	Trends    []TrendPoint `json:"trends"`
}

// WindowCounts counts rows overall, today and over the last week.
type WindowCounts struct {
	Total     int64 `json:"total"`
	Today     int64 `json:"today"`
	Last7Days int64 `json:"last_7_days"`
}

// DashboardStats is the response of the dashboard endpoint.
type DashboardStats struct {
	Users struct {
		Total       int64 `json:"total"`
		ActiveToday int64 `json:"active_today"`
		New7Days    int64 `json:"new_7_days"`
	} `json:"users"`
	Orders struct {
		WindowCounts
		StatusDistribution map[string]int64 `json:"status_distribution"`
	} `json:"orders"`
	Conversations struct {
		Total              int64            `json:"total"`
		Active             int64            `json:"active"`
		Today              int64            `json:"today"`
		StatusDistribution map[string]int64 `json:"status_distribution"`
	} `json:"conversations"`
	Timestamp time.Time `json:"timestamp"`
}

// Windows are the standard aggregation boundaries computed from one clock reading.
type Windows struct {
	Now        time.Time
	Today      time.Time
	Last7Days  time.Time
	Last30Days time.Time
}

// NewWindows computes window starts in now's location.
func NewWindows(now time.Time) Windows {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return Windows{
		Now:        now,
		Today:      today,
		Last7Days:  now.AddDate(0, 0, -7),
		Last30Days: now.AddDate(0, 0, -30),
	}
}
