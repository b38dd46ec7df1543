package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRepository_Append(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewMessageRepository(db)
	ctx := context.Background()

	t.Run("stores a message", func(t *testing.T) {
		msg := &model.Message{
			DeliveryID:    strPtr("d-1"),
			Direction:     model.DirectionInbound,
			SenderRole:    model.RoleVendor,
			LandlordPhone: "15550100100",
			VendorPhone:   "15550100200",
			Body:          "leak fixed",
		}
		stored, err := repo.Append(ctx, msg)
		require.NoError(t, err)
		assert.NotZero(t, stored.ID)
		assert.Equal(t, "leak fixed", stored.Body)
	})

	t.Run("same delivery id returns the original row", func(t *testing.T) {
		first, err := repo.Append(ctx, &model.Message{
			DeliveryID:    strPtr("d-2"),
			Direction:     model.DirectionInbound,
			SenderRole:    model.RoleVendor,
			LandlordPhone: "15550100100",
			VendorPhone:   "15550100200",
			Body:          "first body",
		})
		require.NoError(t, err)

		second, err := repo.Append(ctx, &model.Message{
			DeliveryID:    strPtr("d-2"),
			Direction:     model.DirectionInbound,
			SenderRole:    model.RoleVendor,
			LandlordPhone: "15550100100",
			VendorPhone:   "15550100200",
			Body:          "replayed body",
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "first body", second.Body)
	})

	t.Run("nil delivery id rows never collide", func(t *testing.T) {
		a, err := repo.Append(ctx, &model.Message{
			Direction:     model.DirectionOutbound,
			SenderRole:    model.RoleSystem,
			LandlordPhone: "15550100100",
			VendorPhone:   "15550100200",
			Body:          "forwarded",
		})
		require.NoError(t, err)

		b, err := repo.Append(ctx, &model.Message{
			Direction:     model.DirectionOutbound,
			SenderRole:    model.RoleSystem,
			LandlordPhone: "15550100100",
			VendorPhone:   "15550100200",
			Body:          "forwarded",
		})
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestMessageRepository_IsDuplicate(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewMessageRepository(db)
	ctx := context.Background()

	_, err := repo.Append(ctx, &model.Message{
		DeliveryID:    strPtr("seen"),
		Direction:     model.DirectionInbound,
		SenderRole:    model.RoleLandlord,
		LandlordPhone: "15550100100",
		VendorPhone:   "15550100200",
		Body:          "hello",
	})
	require.NoError(t, err)

	dup, err := repo.IsDuplicate(ctx, "seen")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = repo.IsDuplicate(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = repo.IsDuplicate(ctx, "")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestMessageRepository_RecentDuplicateFromVendor(t *testing.T) {
	helper := setupTestDB(t)
	repo := NewMessageRepository(helper.DB)
	ctx := context.Background()

	_, err := repo.Append(ctx, &model.Message{
		DeliveryID:    strPtr("v-1"),
		Direction:     model.DirectionInbound,
		SenderRole:    model.RoleVendor,
		LandlordPhone: "15550100100",
		VendorPhone:   "15550100200",
		Body:          "on my way",
	})
	require.NoError(t, err)

	t.Run("identical body inside window", func(t *testing.T) {
		dup, err := repo.RecentDuplicateFromVendor(ctx, "15550100100", "15550100200", "on my way", 10*time.Second)
		require.NoError(t, err)
		assert.True(t, dup)
	})

	t.Run("different body", func(t *testing.T) {
		dup, err := repo.RecentDuplicateFromVendor(ctx, "15550100100", "15550100200", "on my way!", 10*time.Second)
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("different pair", func(t *testing.T) {
		dup, err := repo.RecentDuplicateFromVendor(ctx, "15550100100", "15550100999", "on my way", 10*time.Second)
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("landlord rows do not count", func(t *testing.T) {
		_, err := repo.Append(ctx, &model.Message{
			DeliveryID:    strPtr("l-1"),
			Direction:     model.DirectionInbound,
			SenderRole:    model.RoleLandlord,
			LandlordPhone: "15550100100",
			VendorPhone:   "15550100200",
			Body:          "any update?",
		})
		require.NoError(t, err)

		dup, err := repo.RecentDuplicateFromVendor(ctx, "15550100100", "15550100200", "any update?", 10*time.Second)
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("aged out of the window", func(t *testing.T) {
		old := &MessageEntity{
			DeliveryID:    strPtr("v-old"),
			Direction:     string(model.DirectionInbound),
			SenderRole:    string(model.RoleVendor),
			LandlordPhone: "15550100100",
			VendorPhone:   "15550100200",
			Body:          "stale text",
			CreatedAt:     time.Now().Add(-time.Minute),
		}
		require.NoError(t, helper.rawDB.Create(old).Error)

		dup, err := repo.RecentDuplicateFromVendor(ctx, "15550100100", "15550100200", "stale text", 10*time.Second)
		require.NoError(t, err)
		assert.False(t, dup)
	})
}

func TestMessageRepository_RecentConversation(t *testing.T) {
	helper := setupTestDB(t)
	repo := NewMessageRepository(helper.DB)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	bodies := []string{"one", "two", "three", "four", "five"}
	for i, body := range bodies {
		id := "c-" + body
		entity := &MessageEntity{
			DeliveryID:    &id,
			Direction:     string(model.DirectionInbound),
			SenderRole:    string(model.RoleVendor),
			LandlordPhone: "15550100100",
			VendorPhone:   "15550100200",
			Body:          body,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, helper.rawDB.Create(entity).Error)
	}

	t.Run("returns last N oldest first", func(t *testing.T) {
		msgs, err := repo.RecentConversation(ctx, "15550100100", "15550100200", 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "three", msgs[0].Body)
		assert.Equal(t, "four", msgs[1].Body)
		assert.Equal(t, "five", msgs[2].Body)
	})

	t.Run("limit above count returns everything", func(t *testing.T) {
		msgs, err := repo.RecentConversation(ctx, "15550100100", "15550100200", 50)
		require.NoError(t, err)
		assert.Len(t, msgs, 5)
		assert.Equal(t, "one", msgs[0].Body)
	})

	t.Run("unknown pair is empty", func(t *testing.T) {
		msgs, err := repo.RecentConversation(ctx, "15550100100", "15550109999", 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestMessageRepository_List(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewMessageRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		role := model.RoleVendor
		dir := model.DirectionInbound
		if i == 2 {
			role = model.RoleSystem
			dir = model.DirectionOutbound
		}
		_, err := repo.Append(ctx, &model.Message{
			Direction:     dir,
			SenderRole:    role,
			LandlordPhone: "15550100100",
			VendorPhone:   "15550100200",
			Body:          "msg",
		})
		require.NoError(t, err)
	}

	t.Run("filter by direction", func(t *testing.T) {
		dir := model.DirectionInbound
		msgs, total, err := repo.List(ctx, model.MessageFilter{Direction: &dir})
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		assert.Len(t, msgs, 2)
	})

	t.Run("filter by role", func(t *testing.T) {
		role := model.RoleSystem
		msgs, total, err := repo.List(ctx, model.MessageFilter{SenderRole: &role})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		assert.Len(t, msgs, 1)
	})

	t.Run("pagination", func(t *testing.T) {
		msgs, total, err := repo.List(ctx, model.MessageFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		assert.Len(t, msgs, 1)
	})
}
