package password

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func fastArgon2() Argon2Params {
	return Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}
}

func TestArgon2HashAndVerify(t *testing.T) {
	ctx := context.Background()
	h := NewArgon2(fastArgon2())

	encoded, err := h.Hash(ctx, "Passw0rd!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))
	assert.Equal(t, AlgorithmArgon2id, AlgorithmOf(encoded))

	ok, err := h.Verify(ctx, "Passw0rd!", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(ctx, "passw0rd!", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := h.Hash(ctx, "Passw0rd!")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again, "salt must be random")
	assert.False(t, h.NeedsRehash(encoded))
}

func TestArgon2RejectsMalformedHash(t *testing.T) {
	h := NewArgon2(fastArgon2())
	for _, encoded := range []string{
		"",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5",
	} {
		_, err := h.Verify(context.Background(), "pw", encoded)
		assert.ErrorIs(t, err, ErrMalformedHash, encoded)
		assert.True(t, h.NeedsRehash(encoded))
	}
}

func TestArgon2NeedsRehashOnParamChange(t *testing.T) {
	ctx := context.Background()
	weak := NewArgon2(fastArgon2())
	encoded, err := weak.Hash(ctx, "Passw0rd!")
	require.NoError(t, err)

	stronger := fastArgon2()
	stronger.Time = 2
	assert.True(t, NewArgon2(stronger).NeedsRehash(encoded))

	ok, err := NewArgon2(stronger).Verify(ctx, "Passw0rd!", encoded)
	require.NoError(t, err)
	assert.True(t, ok, "verification uses the parameters embedded in the hash")
}

func TestBcryptVerifiesLegacyHashes(t *testing.T) {
	ctx := context.Background()
	legacy, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)

	h, err := NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := h.Verify(ctx, "correctpass", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(ctx, "wrongpass", string(legacy))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify(ctx, "x", "$2a$short")
	assert.ErrorIs(t, err, ErrMalformedHash)

	_, err = NewBcrypt(64)
	assert.Error(t, err)
}

func TestBcryptRejectsPasswordsPastItsLimit(t *testing.T) {
	ctx := context.Background()
	h, err := NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)

	_, err = h.Hash(ctx, strings.Repeat("a", BcryptMaxLength))
	require.NoError(t, err)

	_, err = h.Hash(ctx, strings.Repeat("a", BcryptMaxLength+1))
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestNewDispatchesByAlgorithmTag(t *testing.T) {
	ctx := context.Background()
	h, err := New(Config{Algorithm: AlgorithmArgon2id, Argon2: fastArgon2(), BcryptCost: bcrypt.MinCost, MaxConcurrent: 2})
	require.NoError(t, err)

	legacy, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)
	ok, err := h.Verify(ctx, "correctpass", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, h.NeedsRehash(string(legacy)))

	encoded, err := h.Hash(ctx, "correctpass")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmArgon2id, AlgorithmOf(encoded))
	assert.False(t, h.NeedsRehash(encoded))

	_, err = h.Verify(ctx, "correctpass", "plaintext")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = New(Config{Algorithm: "md5"})
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

type blockingHasher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	b.started <- struct{}{}
	<-b.release
	return "hashed", nil
}

func (b *blockingHasher) Verify(ctx context.Context, plaintext, encoded string) (bool, error) {
	return true, nil
}

func (b *blockingHasher) NeedsRehash(string) bool { return false }

func TestLimitedHonoursContextWhileSaturated(t *testing.T) {
	inner := &blockingHasher{started: make(chan struct{}, 1), release: make(chan struct{})}
	limited := NewLimited(inner, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = limited.Hash(context.Background(), "first")
	}()
	<-inner.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := limited.Verify(ctx, "second", "hashed")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(inner.release)
	<-done

	ok, err := limited.Verify(context.Background(), "third", "hashed")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewArgon2(fastArgon2()).Hash(ctx, "pw")
	assert.ErrorIs(t, err, context.Canceled)
}
