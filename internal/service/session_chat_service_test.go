package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/membria/membria-api/internal/dto"
	"github.com/membria/membria-api/internal/models"
	"github.com/membria/membria-api/internal/repository"
)

var (
	member     = Actor{UserID: "member-1", UserName: "Alice", Role: "member"}
	memberTwo  = Actor{UserID: "member-2", UserName: "Bob", Role: "member"}
	outsider   = Actor{UserID: "member-3", UserName: "Carol", Role: "member"}
	instructor = Actor{UserID: "instructor-1", UserName: "Dana", Role: "instructor"}
)

func newChatFixture(t *testing.T, words []string) (SessionChatService, repository.SessionChatRepository, *miniredis.Miniredis) {
	t.Helper()

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	repo := repository.NewSessionChatRepository(openTestDB(t))
	limits := testChatLimits()

	limiter := NewRateLimiter(redisClient, limits, zerolog.Nop())
	moderation := NewModerationService(repo, redisClient, limits, words, zerolog.Nop())
	validate := validator.New(validator.WithRequiredStructEnabled())

	svc := NewSessionChatService(repo, limiter, moderation, redisClient, limits, validate, zerolog.Nop())
	return svc, repo, mini
}

func TestSendStoresSanitizedMessage(t *testing.T) {
	svc, _, _ := newChatFixture(t, nil)

	ctx := context.Background()
	result, err := svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "  hello <script>alert(1)</script>everyone  "})
	require.NoError(t, err)
	require.NotZero(t, result.Message.ID)
	require.NotContains(t, result.Message.Content, "<script>")
	require.Contains(t, result.Message.Content, "hello")
	require.False(t, result.Message.IsPrivate)
	require.Nil(t, result.AutoMute)

	messages, err := svc.List(ctx, 1, member)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	svc, _, _ := newChatFixture(t, nil)

	ctx := context.Background()
	_, err := svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "   "})
	require.ErrorIs(t, err, ErrEmptyMessage)

	// A message that is only markup sanitizes down to nothing.
	_, err = svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "<script>alert(1)</script>"})
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendEnforcesRateLimit(t *testing.T) {
	svc, _, _ := newChatFixture(t, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "hello"})
		require.NoError(t, err)
	}

	_, err := svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "one too many"})
	require.ErrorIs(t, err, ErrRateLimited)

	// Moderators bypass the quota.
	for i := 0; i < 10; i++ {
		_, err := svc.Send(ctx, 1, instructor, dto.ChatSendRequest{Message: "announcement"})
		require.NoError(t, err)
	}
}

func TestSendBlockedWhileMuted(t *testing.T) {
	svc, _, _ := newChatFixture(t, nil)

	ctx := context.Background()
	_, err := svc.Mute(ctx, 1, instructor, member.UserID, 10, "disruptive")
	require.NoError(t, err)

	_, err = svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "let me talk"})
	muted, ok := IsMuted(err)
	require.True(t, ok)
	require.Equal(t, "disruptive", muted.Reason)
	require.NotNil(t, muted.ExpiresAt)

	require.NoError(t, svc.Unmute(ctx, 1, instructor, member.UserID))

	_, err = svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "thanks"})
	require.NoError(t, err)
}

func TestSendProfanitySurfacesAutoMute(t *testing.T) {
	svc, _, _ := newChatFixture(t, []string{"darn"})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		result, err := svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "darn it"})
		require.NoError(t, err)
		require.Equal(t, "d*** it", result.Message.Content)
		require.Nil(t, result.AutoMute)
	}

	result, err := svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "darn once more"})
	require.NoError(t, err)
	require.NotNil(t, result.AutoMute)

	// The third message was still delivered; the next one is blocked.
	_, err = svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "hello?"})
	_, ok := IsMuted(err)
	require.True(t, ok)
}

func TestPrivateMessageVisibility(t *testing.T) {
	svc, _, _ := newChatFixture(t, nil)

	ctx := context.Background()
	_, err := svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "public hello"})
	require.NoError(t, err)

	result, err := svc.Send(ctx, 1, member, dto.ChatSendRequest{
		Message:       "just for you",
		IsPrivate:     true,
		RecipientID:   memberTwo.UserID,
		RecipientName: memberTwo.UserName,
	})
	require.NoError(t, err)
	require.Equal(t, memberTwo.UserName, result.Message.RecipientName)

	// Sender and recipient see both messages.
	for _, viewer := range []Actor{member, memberTwo} {
		messages, err := svc.List(ctx, 1, viewer)
		require.NoError(t, err)
		require.Len(t, messages, 2)
	}

	// A third member only sees the public message.
	messages, err := svc.List(ctx, 1, outsider)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "public hello", messages[0].Content)

	// Moderators see everything.
	messages, err = svc.List(ctx, 1, instructor)
	require.NoError(t, err)
	require.Len(t, messages, 2)
}

func TestPrivateMessageRequiresRecipient(t *testing.T) {
	svc, _, _ := newChatFixture(t, nil)

	_, err := svc.Send(context.Background(), 1, member, dto.ChatSendRequest{
		Message:   "psst",
		IsPrivate: true,
	})
	require.Error(t, err)
}

func TestDeleteMessage(t *testing.T) {
	svc, _, _ := newChatFixture(t, nil)

	ctx := context.Background()
	result, err := svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "to be removed"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, 1, result.Message.ID, memberTwo), ErrPermissionDenied)

	require.NoError(t, svc.Delete(ctx, 1, result.Message.ID, instructor))

	messages, err := svc.List(ctx, 1, instructor)
	require.NoError(t, err)
	require.Empty(t, messages)

	// Deleting again reports not found.
	require.ErrorIs(t, svc.Delete(ctx, 1, result.Message.ID, instructor), ErrMessageNotFound)
}

func TestReactToMessage(t *testing.T) {
	svc, _, _ := newChatFixture(t, nil)

	ctx := context.Background()
	result, err := svc.Send(ctx, 1, member, dto.ChatSendRequest{Message: "react to me"})
	require.NoError(t, err)

	_, err = svc.React(ctx, 1, result.Message.ID, memberTwo, "thumbsup")
	require.ErrorIs(t, err, ErrInvalidReaction)

	updated, err := svc.React(ctx, 1, result.Message.ID, memberTwo, models.ReactionClap)
	require.NoError(t, err)
	require.Equal(t, 1, updated.Reactions[models.ReactionClap])

	updated, err = svc.React(ctx, 1, result.Message.ID, outsider, models.ReactionClap)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Reactions[models.ReactionClap])

	_, err = svc.React(ctx, 1, 9999, memberTwo, models.ReactionClap)
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestRaiseHandIdempotent(t *testing.T) {
	svc, _, _ := newChatFixture(t, nil)

	ctx := context.Background()
	first, err := svc.RaiseHand(ctx, 1, member)
	require.NoError(t, err)

	second, err := svc.RaiseHand(ctx, 1, member)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	hands, err := svc.RaisedHands(ctx, 1)
	require.NoError(t, err)
	require.Len(t, hands, 1)
}

func TestLowerHand(t *testing.T) {
	svc, _, _ := newChatFixture(t, nil)

	ctx := context.Background()
	_, err := svc.RaiseHand(ctx, 1, member)
	require.NoError(t, err)

	// A peer cannot lower someone else's hand.
	require.ErrorIs(t, svc.LowerHand(ctx, 1, memberTwo, member.UserID), ErrPermissionDenied)

	// An instructor can.
	require.NoError(t, svc.LowerHand(ctx, 1, instructor, member.UserID))

	hands, err := svc.RaisedHands(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, hands)

	// Lowering an already-lowered hand is a no-op.
	require.NoError(t, svc.LowerHand(ctx, 1, member, ""))

	// Raising again creates a fresh hand.
	fresh, err := svc.RaiseHand(ctx, 1, member)
	require.NoError(t, err)
	require.NotZero(t, fresh.ID)
}

func TestTypingIndicators(t *testing.T) {
	svc, _, mini := newChatFixture(t, nil)

	ctx := context.Background()
	require.NoError(t, svc.SetTyping(ctx, 1, member, true))
	require.NoError(t, svc.SetTyping(ctx, 1, memberTwo, true))
	require.NoError(t, svc.SetTyping(ctx, 2, outsider, true))

	users, err := svc.TypingUsers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, users, 2)

	require.NoError(t, svc.SetTyping(ctx, 1, member, false))
	users, err = svc.TypingUsers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, memberTwo.UserID, users[0].UserID)

	// A lost typing_stop is cleaned up by the TTL.
	mini.FastForward(6 * time.Second)
	users, err = svc.TypingUsers(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestAttendanceRecording(t *testing.T) {
	svc, repo, _ := newChatFixture(t, nil)

	ctx := context.Background()
	require.NoError(t, svc.RecordJoin(ctx, 1, member))
	require.NoError(t, svc.RecordLeave(ctx, 1, member))

	// Leaving without an open record is tolerated.
	require.NoError(t, svc.RecordLeave(ctx, 1, memberTwo))

	// Rejoining creates a second record.
	require.NoError(t, svc.RecordJoin(ctx, 1, member))

	err := repo.CloseAttendance(ctx, 1, member.UserID, time.Now())
	require.NoError(t, err)
}
