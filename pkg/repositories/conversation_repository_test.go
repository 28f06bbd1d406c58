//go:build integration

package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/testhelpers"
)

type conversationTestContext struct {
	tdb   *testhelpers.TestDB
	ctx   context.Context
	repo  ConversationRepository
	group int64
	alice int64
	bob   int64
}

func setupConversationTest(t *testing.T) *conversationTestContext {
	t.Helper()
	tdb := testhelpers.GetTestDB(t)
	tdb.Truncate(t, "voice_recordings", "messages", "conversations", "users", "groups")
	ctx, cleanup := tdb.SystemContext(t)
	t.Cleanup(cleanup)

	tc := &conversationTestContext{tdb: tdb, ctx: ctx, repo: NewConversationRepository()}
	tc.group = tdb.InsertGroup(t, "north")
	tc.alice = tdb.InsertUser(t, "alice@example.com", string(models.RoleSimple), &tc.group)
	tc.bob = tdb.InsertUser(t, "bob@example.com", string(models.RoleSimple), &tc.group)
	return tc
}

func (tc *conversationTestContext) open(t *testing.T, userID int64) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{
		UserID:   userID,
		GroupID:  &tc.group,
		Type:     models.ConversationTypeChat,
		Status:   models.ConversationActive,
		Metadata: map[string]any{"order_type": "loan"},
	}
	require.NoError(t, tc.repo.Create(tc.ctx, conv))
	return conv
}

func TestConversationRepository_EndOnce(t *testing.T) {
	tc := setupConversationTest(t)
	conv := tc.open(t, tc.alice)

	first := conv.StartedAt.Add(90 * time.Second)
	ended, err := tc.repo.End(tc.ctx, conv.ID, first)
	require.NoError(t, err)
	assert.True(t, ended)

	ended, err = tc.repo.End(tc.ctx, conv.ID, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ended)

	got, err := tc.repo.GetOwned(tc.ctx, tc.alice, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationEnded, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.WithinDuration(t, first, *got.EndedAt, time.Millisecond)
	require.NotNil(t, got.Duration)
	assert.Equal(t, int64(90), *got.Duration)
	assert.Equal(t, "loan", got.OrderType())
}

func TestConversationRepository_SetStatus(t *testing.T) {
	tc := setupConversationTest(t)
	conv := tc.open(t, tc.alice)

	require.NoError(t, tc.repo.SetStatus(tc.ctx, conv.ID, models.ConversationActive, models.ConversationWaiting))

	// Not active any more, so a second move from active fails.
	err := tc.repo.SetStatus(tc.ctx, conv.ID, models.ConversationActive, models.ConversationTransferred)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestConversationRepository_Ownership(t *testing.T) {
	tc := setupConversationTest(t)
	conv := tc.open(t, tc.alice)

	_, err := tc.repo.GetOwned(tc.ctx, tc.bob, conv.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = tc.repo.Get(tc.ctx, models.Principal{UserID: tc.bob, Role: models.RoleSimple, GroupID: &tc.group}, conv.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	got, err := tc.repo.Get(tc.ctx, models.Principal{UserID: 0, Role: models.RoleAdmin, GroupID: &tc.group}, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, tc.alice, got.UserID)

	latest, err := tc.repo.GetLatestForUser(tc.ctx, tc.alice)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, latest.ID)
}

func TestConversationRepository_RecentMessages(t *testing.T) {
	tc := setupConversationTest(t)
	conv := tc.open(t, tc.alice)

	add := func(sender, content string) {
		t.Helper()
		require.NoError(t, tc.repo.AddMessage(tc.ctx, &models.Message{
			ConversationID: conv.ID,
			SenderType:     sender,
			MessageType:    models.MessageText,
			Content:        content,
		}))
	}
	for i := 0; i < 6; i++ {
		sender := models.SenderUser
		if i%2 == 1 {
			sender = models.SenderAI
		}
		add(sender, fmt.Sprintf("m%d", i))
	}

	recent, err := tc.repo.RecentMessages(tc.ctx, conv.ID, 4)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, "m2", recent[0].Content)
	assert.Equal(t, "m5", recent[3].Content)

	all, err := tc.repo.ListMessages(tc.ctx, conv.ID, Page{})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	got, err := tc.repo.Get(tc.ctx, models.Principal{UserID: tc.alice, Role: models.RoleSimple}, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.MessageCount)
}
