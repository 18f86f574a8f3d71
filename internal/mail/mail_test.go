package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderLast(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()
	require.NoError(t, r.Send(ctx, VerificationCode("a@b.co", "111111")))
	require.NoError(t, r.Send(ctx, PasswordReset("A@B.co", "222222")))

	msg, ok := r.Last("a@b.co")
	require.True(t, ok)
	assert.Contains(t, msg.Body, "222222")

	_, ok = r.Last("other@b.co")
	assert.False(t, ok)
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, Log{}.Send(context.Background(), VerificationCode("a@b.co", "123456")))
}
