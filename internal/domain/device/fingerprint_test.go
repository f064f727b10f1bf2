package device

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsUnknown(t *testing.T) {
	userID := uuid.New()
	f := New("hash-1", userID, "Mozilla/5.0", "web")

	assert.Equal(t, TrustUnknown, f.TrustState)
	assert.False(t, f.IsBlocked())
	assert.False(t, f.IsTrusted())
	assert.Equal(t, userID, f.UserID)
}

func TestSeen_TracksLatestUser(t *testing.T) {
	f := New("hash-1", uuid.New(), "", "")
	other := uuid.New()
	at := time.Now().Add(time.Hour)

	f.Seen(other, at)
	assert.Equal(t, other, f.UserID)
	assert.Equal(t, at.UTC(), f.LastSeenAt)
}

func TestBlock(t *testing.T) {
	admin := uuid.New()

	t.Run("by admin", func(t *testing.T) {
		f := New("hash-1", uuid.New(), "", "")
		require.NoError(t, f.Block(admin, "reported stolen"))
		assert.True(t, f.IsBlocked())
		require.NotNil(t, f.BlockedBy)
		assert.Equal(t, admin, *f.BlockedBy)
		assert.Equal(t, "reported stolen", f.BlockedReason)
	})

	t.Run("by rule action", func(t *testing.T) {
		f := New("hash-1", uuid.New(), "", "")
		require.NoError(t, f.Block(uuid.Nil, "rule PAY_AMOUNT_SURGE matched"))
		assert.True(t, f.IsBlocked())
		assert.Nil(t, f.BlockedBy)
	})

	t.Run("already blocked", func(t *testing.T) {
		f := New("hash-1", uuid.New(), "", "")
		require.NoError(t, f.Block(admin, "first"))
		assert.Error(t, f.Block(admin, "second"))
	})

	t.Run("trusted device can be blocked", func(t *testing.T) {
		f := New("hash-1", uuid.New(), "", "")
		require.NoError(t, f.Trust(admin))
		require.NoError(t, f.Block(admin, "compromised"))
		assert.True(t, f.IsBlocked())
	})
}

func TestUnblock_NeverRestoresTrust(t *testing.T) {
	admin := uuid.New()
	f := New("hash-1", uuid.New(), "", "")

	require.NoError(t, f.Trust(admin))
	require.NoError(t, f.Block(admin, "compromised"))
	require.NoError(t, f.Unblock(admin))

	assert.Equal(t, TrustUnknown, f.TrustState, "trust must be re-granted explicitly")
	assert.Nil(t, f.BlockedBy)
	assert.Empty(t, f.BlockedReason)
}

func TestUnblock_Requirements(t *testing.T) {
	admin := uuid.New()

	f := New("hash-1", uuid.New(), "", "")
	assert.Error(t, f.Unblock(admin), "only blocked devices unblock")

	require.NoError(t, f.Block(admin, "x"))
	assert.Error(t, f.Unblock(uuid.Nil), "unblock requires an acting admin")
}

func TestTrust(t *testing.T) {
	admin := uuid.New()

	f := New("hash-1", uuid.New(), "", "")
	assert.Error(t, f.Trust(uuid.Nil), "trust requires an acting admin")

	require.NoError(t, f.Trust(admin))
	assert.True(t, f.IsTrusted())
	assert.Error(t, f.Trust(admin), "already trusted")

	blocked := New("hash-2", uuid.New(), "", "")
	require.NoError(t, blocked.Block(admin, "x"))
	assert.Error(t, blocked.Trust(admin), "blocked devices must be unblocked first")
}
