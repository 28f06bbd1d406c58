package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/llm"
	"github.com/omnifin/backoffice/pkg/models"
)

type chatFixture struct {
	convs    *memConversations
	prompts  *stubPrompts
	store    *memStore
	activity *recordingActivity
	service  ChatService
}

// failingResponder always errors.
type failingResponder struct{}

func (failingResponder) Generate(context.Context, int64, string, *int64) (*Reply, error) {
	return nil, errors.New("context unavailable")
}

func newChatFixture(t *testing.T, transcriber llm.Transcriber) *chatFixture {
	t.Helper()
	f := &chatFixture{
		convs:    newMemConversations(),
		prompts:  &stubPrompts{},
		store:    newMemStore(),
		activity: &recordingActivity{},
	}
	logger := zap.NewNop()
	prompts := NewPromptService(f.prompts, NewPromptCache(nil, 0, logger), f.activity, logger)
	responder := NewResponder(f.convs, &stubKnowledge{}, nil, llm.Config{}, logger)
	f.service = NewChatService(f.convs, prompts, responder, transcriber, f.store, f.activity, logger)
	return f
}

func TestChat_StartStoresWelcome(t *testing.T) {
	f := newChatFixture(t, nil)

	start, err := f.service.Start(context.Background(), simpleUser, "insurance")
	require.NoError(t, err)

	assert.Equal(t, models.ConversationActive, start.Conversation.Status)
	assert.Equal(t, "insurance", start.Conversation.OrderType())
	assert.Equal(t, models.SenderAI, start.WelcomeMessage.SenderType)
	assert.Contains(t, start.WelcomeMessage.Content, "insurance")
	assert.Equal(t, "welcome", start.WelcomeMessage.Metadata["type"])
	assert.Equal(t, []string{models.ActionChatStart}, f.activity.actions())
}

func TestChat_StartRendersConfiguredWelcome(t *testing.T) {
	f := newChatFixture(t, nil)
	f.prompts.active = &models.Prompt{ID: 9, Content: "Hi! Let's talk {order_type}."}

	start, err := f.service.Start(context.Background(), simpleUser, "loan")
	require.NoError(t, err)
	assert.Equal(t, "Hi! Let's talk loan.", start.WelcomeMessage.Content)
}

func TestChat_StartDefaultsOrderType(t *testing.T) {
	f := newChatFixture(t, nil)

	start, err := f.service.Start(context.Background(), simpleUser, "  ")
	require.NoError(t, err)
	assert.Equal(t, "general", start.Conversation.OrderType())
}

func TestChat_PostMessageWithoutConversationOpensOne(t *testing.T) {
	f := newChatFixture(t, nil)

	ex, err := f.service.PostMessage(context.Background(), simpleUser, nil, "I need a loan of $5000 for 6 months", "loan")
	require.NoError(t, err)

	require.NotNil(t, ex.Welcome)
	require.NotNil(t, ex.UserMessage)
	require.NotNil(t, ex.AIMessage)
	assert.Equal(t, IntentLoanInquiry, ex.Intent)
	assert.Equal(t, "$5000", *ex.Entities.Amount)
	assert.Contains(t, ex.AIMessage.Content, "I need a loan of $5000 for 6 months")

	msgs, err := f.service.History(context.Background(), simpleUser, ex.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{models.SenderAI, models.SenderUser, models.SenderAI},
		[]string{msgs[0].SenderType, msgs[1].SenderType, msgs[2].SenderType})
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
}

func TestChat_PostEmptyMessageOnlyOpens(t *testing.T) {
	f := newChatFixture(t, nil)

	ex, err := f.service.PostMessage(context.Background(), simpleUser, nil, "", "")
	require.NoError(t, err)

	assert.NotNil(t, ex.Welcome)
	assert.Nil(t, ex.UserMessage)
	assert.Nil(t, ex.AIMessage)
}

func TestChat_PostMessageToForeignConversation(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	start, err := f.service.Start(ctx, otherUser, "loan")
	require.NoError(t, err)

	_, err = f.service.PostMessage(ctx, simpleUser, &start.Conversation.ID, "hello", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.service.History(ctx, simpleUser, start.Conversation.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestChat_ResponderFailureStoresApology(t *testing.T) {
	f := newChatFixture(t, nil)
	logger := zap.NewNop()
	prompts := NewPromptService(f.prompts, NewPromptCache(nil, 0, logger), f.activity, logger)
	f.service = NewChatService(f.convs, prompts, failingResponder{}, nil, f.store, f.activity, logger)

	ex, err := f.service.PostMessage(context.Background(), simpleUser, nil, "hello", "")
	require.NoError(t, err)

	assert.Equal(t, ApologyReply, ex.AIMessage.Content)
	assert.Equal(t, IntentError, ex.Intent)
	assert.Equal(t, "hello", ex.UserMessage.Content)
}

func TestChat_Status(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	status, err := f.service.Status(ctx, simpleUser, nil)
	require.NoError(t, err)
	assert.False(t, status.Active)

	start, err := f.service.Start(ctx, simpleUser, "loan")
	require.NoError(t, err)

	status, err = f.service.Status(ctx, simpleUser, nil)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, start.Conversation.ID, status.Conversation.ID)
	assert.Equal(t, 1, status.Conversation.MessageCount)

	_, err = f.service.Status(ctx, otherUser, &start.Conversation.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestChat_VoiceWithoutTranscriberUsesDemoTranscript(t *testing.T) {
	f := newChatFixture(t, nil)

	res, err := f.service.Voice(context.Background(), simpleUser, VoiceInput{Audio: audioUpload()})
	require.NoError(t, err)

	assert.Equal(t, demoVoiceTranscript, res.Transcript)
	assert.Equal(t, 0.85, res.Confidence)
	assert.Equal(t, "I heard you say: 'This is a demo transcript of your voice message.'. How can I help you with that?", res.AIResponse)
	assert.NotZero(t, res.RecordingID)
	assert.Equal(t, 1, f.store.len())
	assert.Equal(t, []string{models.ActionVoiceStart, models.ActionChatMessage}, f.activity.actions())

	rec, rc, _, err := f.service.OpenRecording(context.Background(), simpleUser, res.RecordingID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, wavHeader(), body)
	assert.Equal(t, res.Transcript, rec.Transcript)
}

func TestChat_VoiceUsesTranscriber(t *testing.T) {
	tr := &llm.MockTranscriber{TranscribeFunc: func(_ context.Context, _ string, audio io.Reader, _ string) (*llm.Transcription, error) {
		data, err := io.ReadAll(audio)
		if err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(data, []byte("RIFF")) {
			return nil, errors.New("unexpected audio")
		}
		return &llm.Transcription{Text: "what is my balance", Language: "en", Confidence: 0.97, Duration: 2.5}, nil
	}}
	f := newChatFixture(t, tr)

	res, err := f.service.Voice(context.Background(), simpleUser, VoiceInput{Audio: audioUpload()})
	require.NoError(t, err)

	assert.Equal(t, "what is my balance", res.Transcript)
	assert.Equal(t, 0.97, res.Confidence)
	assert.Equal(t, 2.5, res.Duration)
	// The stored copy is complete even though the transcriber read the audio.
	assert.Equal(t, 1, f.store.len())
	for _, data := range f.store.objects {
		assert.Equal(t, wavHeader(), data)
	}
}

func TestChat_VoiceRejectsNonAudio(t *testing.T) {
	f := newChatFixture(t, nil)
	data := []byte("%PDF-1.4 not audio")

	_, err := f.service.Voice(context.Background(), simpleUser, VoiceInput{
		Audio: Upload{Filename: "x.pdf", Size: int64(len(data)), Body: bytes.NewReader(data)},
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Zero(t, f.store.len())
}

func TestChat_UploadRecordingRoundsDuration(t *testing.T) {
	f := newChatFixture(t, nil)

	res, err := f.service.UploadRecording(context.Background(), simpleUser, VoiceInput{
		Duration: ptr(3.14159),
		Audio:    audioUpload(),
	})
	require.NoError(t, err)

	assert.Equal(t, 3.14, res.Duration)
	assert.Equal(t, `I processed your 3.14-second voice note. Here's what I heard: "Demo transcript from voice recording"`, res.AIResponse)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, "en", res.Language)
}

func TestChat_UploadRecordingDefaultDuration(t *testing.T) {
	f := newChatFixture(t, nil)

	res, err := f.service.UploadRecording(context.Background(), simpleUser, VoiceInput{Audio: audioUpload()})
	require.NoError(t, err)
	assert.Contains(t, res.AIResponse, "your 5.0-second voice note")
}

func TestChat_UploadRecordingWholeSecondsKeepFraction(t *testing.T) {
	f := newChatFixture(t, nil)

	res, err := f.service.UploadRecording(context.Background(), simpleUser, VoiceInput{
		Duration: ptr(12.0),
		Audio:    audioUpload(),
	})
	require.NoError(t, err)
	assert.Contains(t, res.AIResponse, "your 12.0-second voice note")
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{5, "5.0"},
		{12.0, "12.0"},
		{5.256, "5.26"},
		{3.14159, "3.14"},
		{2.5, "2.5"},
		{0.999, "1.0"},
		{90.004, "90.0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSeconds(tt.in), "formatSeconds(%v)", tt.in)
	}
}

func TestChat_RecordingHiddenFromOtherUsers(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	res, err := f.service.Voice(ctx, simpleUser, VoiceInput{Audio: audioUpload()})
	require.NoError(t, err)

	_, err = f.service.GetRecording(ctx, otherUser, res.RecordingID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.service.GetRecording(ctx, adminUser, res.RecordingID)
	assert.NoError(t, err)
}

func TestChat_ProcessMessageStoresNothing(t *testing.T) {
	f := newChatFixture(t, nil)

	reply, err := f.service.ProcessMessage(context.Background(), simpleUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, IntentGreeting, reply.Intent)
	assert.Empty(t, f.convs.msgs)

	_, err = f.service.ProcessMessage(context.Background(), simpleUser, " ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
