package common

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBoundKeepsEarlierCallerDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	want, _ := parent.Deadline()

	ctx, done := Bound(parent, OpConnect)
	defer done()
	got, ok := ctx.Deadline()
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestBoundAppliesOpDeadline(t *testing.T) {
	for _, op := range []Op{OpProbe, OpRead, OpWrite, OpConnect} {
		ctx, done := Bound(context.Background(), op)
		deadline, ok := ctx.Deadline()
		done()
		require.True(t, ok)
		require.WithinDuration(t, time.Now().Add(op.Timeout()), deadline, time.Second)
	}
	require.Equal(t, OpWrite.Timeout(), Op(42).Timeout())
}

func TestEscapeLike(t *testing.T) {
	require.Equal(t, `credential:%`, EscapeLike("credential:"))
	require.Equal(t, `a\_b\%c\\%`, EscapeLike(`a_b%c\`))
}

func TestPrefixRegex(t *testing.T) {
	re := regexp.MustCompile(PrefixRegex("accesskey:."))
	require.True(t, re.MatchString("accesskey:.x"))
	require.False(t, re.MatchString("accesskey:ax"))
	require.False(t, re.MatchString("x-accesskey:."))
}
