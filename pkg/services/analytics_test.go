package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

// memActivity is an in-memory ActivityRepository that aggregates the way the SQL does.
type memActivity struct {
	mu         sync.Mutex
	nextID     int64
	rows       []*models.UserActivity
	engagement []*models.UserEngagement

	trendsSince time.Time
}

var _ repositories.ActivityRepository = (*memActivity)(nil)

func (m *memActivity) Create(_ context.Context, a *models.UserActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memActivity) Get(_ context.Context, p models.Principal, id int64) (*models.UserActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.ID == id && inScope(p, a.UserID, a.GroupID) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memActivity) List(_ context.Context, p models.Principal, filter repositories.ActivityFilter) ([]*models.UserActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.UserActivity
	for _, a := range m.rows {
		if !inScope(p, a.UserID, a.GroupID) {
			continue
		}
		if filter.UserID != nil && a.UserID != *filter.UserID {
			continue
		}
		if filter.Action != "" && a.Action != filter.Action {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memActivity) Counts(_ context.Context, p models.Principal, w models.Windows) (models.ActivityCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c models.ActivityCounts
	for _, a := range m.rows {
		if !inScope(p, a.UserID, a.GroupID) {
			continue
		}
		c.Total++
		if !a.CreatedAt.Before(w.Today) {
			c.Today++
		}
		if !a.CreatedAt.Before(w.Last7Days) {
			c.Last7Days++
		}
		if !a.CreatedAt.Before(w.Last30Days) {
			c.Last30Days++
		}
	}
	return c, nil
}

func (m *memActivity) Trends(_ context.Context, p models.Principal, since time.Time) ([]models.TrendPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trendsSince = since
	counts := map[[2]string]int64{}
	var keys [][2]string
	for _, a := range m.rows {
		if !inScope(p, a.UserID, a.GroupID) || a.CreatedAt.Before(since) {
			continue
		}
		k := [2]string{a.CreatedAt.Format(time.DateOnly), a.Action}
		if _, ok := counts[k]; !ok {
			keys = append(keys, k)
		}
		counts[k]++
	}
	var out []models.TrendPoint
	for _, k := range keys {
		out = append(out, models.TrendPoint{Date: k[0], Action: k[1], Count: counts[k]})
	}
	return out, nil
}

func (m *memActivity) BumpEngagement(_ context.Context, userID int64, groupID *int64, date time.Time, delta models.EngagementDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := date.Truncate(24 * time.Hour)
	for _, e := range m.engagement {
		if e.UserID == userID && e.Date.Equal(day) {
			e.PageViews += delta.PageViews
			e.ConversationsCount += delta.ConversationsCount
			e.MessagesSent += delta.MessagesSent
			e.OrdersCreated += delta.OrdersCreated
			e.FilesUploaded += delta.FilesUploaded
			return nil
		}
	}
	m.engagement = append(m.engagement, &models.UserEngagement{
		UserID:             userID,
		GroupID:            groupID,
		Date:               day,
		PageViews:          delta.PageViews,
		ConversationsCount: delta.ConversationsCount,
		MessagesSent:       delta.MessagesSent,
		OrdersCreated:      delta.OrdersCreated,
		FilesUploaded:      delta.FilesUploaded,
	})
	return nil
}

func (m *memActivity) ListEngagement(_ context.Context, p models.Principal, _ repositories.Page) ([]*models.UserEngagement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.UserEngagement
	for _, e := range m.engagement {
		if inScope(p, e.UserID, e.GroupID) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memActivity) EngagementTotals(_ context.Context, p models.Principal, since time.Time) (models.EngagementTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t models.EngagementTotals
	for _, e := range m.engagement {
		if !inScope(p, e.UserID, e.GroupID) || e.Date.Before(since) {
			continue
		}
		t.PageViews += int64(e.PageViews)
		t.Conversations += int64(e.ConversationsCount)
		t.Messages += int64(e.MessagesSent)
	}
	return t, nil
}

// stubStats records the principal it was asked for.
type stubStats struct {
	seen  []models.Principal
	stats *models.DashboardStats
	err   error
}

func (s *stubStats) Dashboard(_ context.Context, p models.Principal, _ models.Windows) (*models.DashboardStats, error) {
	s.seen = append(s.seen, p)
	if s.err != nil {
		return nil, s.err
	}
	return s.stats, nil
}

func newTestAnalyticsService(now time.Time) (*analyticsService, *memActivity, *stubStats) {
	activity := &memActivity{}
	stats := &stubStats{stats: &models.DashboardStats{}}
	s := NewAnalyticsService(activity, stats, zap.NewNop()).(*analyticsService)
	s.now = func() time.Time { return now }
	return s, activity, stats
}

func seedActivity(t *testing.T, repo *memActivity, p models.Principal, action string, at time.Time) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &models.UserActivity{
		UserID:    p.UserID,
		GroupID:   p.GroupID,
		Action:    action,
		CreatedAt: at,
	}))
}

func TestAnalyticsService_SummaryEmptyIsZeros(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s, _, _ := newTestAnalyticsService(now)

	summary, err := s.Summary(context.Background(), simpleUser)
	require.NoError(t, err)
	assert.Equal(t, models.ActivityCounts{}, summary.UserActivity)
	assert.Equal(t, models.EngagementTotals{}, summary.Engagement)
	assert.True(t, now.Equal(summary.Timestamp))

	raw, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "null")
	assert.Contains(t, string(raw), `"page_views":0`)
	assert.Contains(t, string(raw), `"avg_session_duration":0`)
	assert.Contains(t, string(raw), `"last_30_days":0`)
}

func TestAnalyticsService_SummaryIsRoleScoped(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s, activity, _ := newTestAnalyticsService(now)
	ctx := context.Background()

	seedActivity(t, activity, simpleUser, models.ActionLogin, now.Add(-time.Hour))
	seedActivity(t, activity, otherUser, models.ActionLogin, now.Add(-time.Hour))
	seedActivity(t, activity, foreignAdm, models.ActionLogin, now.AddDate(0, 0, -10))
	require.NoError(t, activity.BumpEngagement(ctx, simpleUser.UserID, simpleUser.GroupID, now, models.EngagementDelta{PageViews: 3}))
	require.NoError(t, activity.BumpEngagement(ctx, foreignAdm.UserID, foreignAdm.GroupID, now, models.EngagementDelta{PageViews: 5}))

	tests := []struct {
		name      string
		p         models.Principal
		total     int64
		last7     int64
		pageViews int64
	}{
		{"simple sees own rows", simpleUser, 1, 1, 3},
		{"admin sees own group", adminUser, 2, 2, 3},
		{"foreign admin sees other group", foreignAdm, 1, 0, 5},
		{"superadmin sees everything", rootUser, 3, 2, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := s.Summary(ctx, tt.p)
			require.NoError(t, err)
			assert.Equal(t, tt.total, summary.UserActivity.Total)
			assert.Equal(t, tt.last7, summary.UserActivity.Last7Days)
			assert.Equal(t, tt.pageViews, summary.Engagement.PageViews)
		})
	}
}

func TestAnalyticsService_TrendsDefaultsToAWeek(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s, activity, _ := newTestAnalyticsService(now)

	trends, err := s.Trends(context.Background(), simpleUser, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, trends.Days)
	assert.True(t, now.AddDate(0, 0, -7).Equal(trends.StartDate))
	assert.True(t, now.AddDate(0, 0, -7).Equal(activity.trendsSince))

	// No rows still yields an empty list, not null.
	require.NotNil(t, trends.Trends)
	raw, err := json.Marshal(trends)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"trends":[]`)
}

func TestAnalyticsService_TrendsRejectsOutOfRangeDays(t *testing.T) {
	s, _, _ := newTestAnalyticsService(time.Now())

	for _, days := range []int{-1, 366, 1000} {
		_, err := s.Trends(context.Background(), simpleUser, days)
		assert.ErrorIs(t, err, apperrors.ErrValidation, "days=%d", days)
	}
	for _, days := range []int{1, 30, 365} {
		trends, err := s.Trends(context.Background(), simpleUser, days)
		require.NoError(t, err, "days=%d", days)
		assert.Equal(t, days, trends.Days)
	}
}

func TestAnalyticsService_TrendsAreRoleScoped(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s, activity, _ := newTestAnalyticsService(now)

	seedActivity(t, activity, simpleUser, models.ActionLogin, now.Add(-time.Hour))
	seedActivity(t, activity, otherUser, models.ActionLogin, now.Add(-time.Hour))
	seedActivity(t, activity, foreignAdm, models.ActionLogin, now.Add(-time.Hour))

	own, err := s.Trends(context.Background(), simpleUser, 7)
	require.NoError(t, err)
	require.Len(t, own.Trends, 1)
	assert.Equal(t, int64(1), own.Trends[0].Count)

	group, err := s.Trends(context.Background(), adminUser, 7)
	require.NoError(t, err)
	require.Len(t, group.Trends, 1)
	assert.Equal(t, int64(2), group.Trends[0].Count)

	all, err := s.Trends(context.Background(), rootUser, 7)
	require.NoError(t, err)
	require.Len(t, all.Trends, 1)
	assert.Equal(t, int64(3), all.Trends[0].Count)
}

func TestAnalyticsService_ActivitiesAreRoleScoped(t *testing.T) {
	now := time.Now()
	s, activity, _ := newTestAnalyticsService(now)
	ctx := context.Background()

	seedActivity(t, activity, simpleUser, models.ActionLogin, now)
	seedActivity(t, activity, otherUser, models.ActionLogin, now)
	seedActivity(t, activity, foreignAdm, models.ActionLogin, now)

	rows, err := s.Activities(ctx, simpleUser, repositories.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, simpleUser.UserID, rows[0].UserID)

	rows, err = s.Activities(ctx, adminUser, repositories.ActivityFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.Activities(ctx, rootUser, repositories.ActivityFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// A simple user cannot ask for someone else's rows.
	_, err = s.Activities(ctx, simpleUser, repositories.ActivityFilter{UserID: ptr(otherUser.UserID)})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	// An admin may filter to a member of the group.
	rows, err = s.Activities(ctx, adminUser, repositories.ActivityFilter{UserID: ptr(otherUser.UserID)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, otherUser.UserID, rows[0].UserID)

	_, err = s.Activities(ctx, rootUser, repositories.ActivityFilter{Action: "teleport"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAnalyticsService_ActivityOutsideScopeIsNotFound(t *testing.T) {
	now := time.Now()
	s, activity, _ := newTestAnalyticsService(now)
	seedActivity(t, activity, foreignAdm, models.ActionLogin, now)

	_, err := s.Activity(context.Background(), simpleUser, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	got, err := s.Activity(context.Background(), rootUser, 1)
	require.NoError(t, err)
	assert.Equal(t, foreignAdm.UserID, got.UserID)
}

func TestAnalyticsService_DashboardPassesPrincipal(t *testing.T) {
	s, _, stats := newTestAnalyticsService(time.Now())

	_, err := s.Dashboard(context.Background(), adminUser)
	require.NoError(t, err)
	require.Len(t, stats.seen, 1)
	assert.Equal(t, adminUser, stats.seen[0])

	stats.err = assert.AnError
	_, err = s.Dashboard(context.Background(), adminUser)
	assert.ErrorIs(t, err, assert.AnError)
}
