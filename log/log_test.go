package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevels(t *testing.T) {
	for _, tc := range []struct {
		name    string
		allowed int
		emit    func(Logger)
		printed bool
	}{
		{"info at info", InfoLevel, func(l Logger) { l.Infow("hello") }, true},
		{"debug at info", InfoLevel, func(l Logger) { l.Debugw("hello") }, false},
		{"error at debug", DebugLevel, func(l Logger) { l.Errorw("hello") }, true},
		{"warn at error", ErrorLevel, func(l Logger) { l.Warnw("hello") }, false},
		{"warn at debug", DebugLevel, func(l Logger) { l.Warnw("hello") }, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var b bytes.Buffer
			tc.emit(New(&b, tc.allowed, true))
			if !tc.printed {
				require.Empty(t, b.String())
				return
			}
			require.Contains(t, b.String(), `"msg":"hello"`)
		})
	}
}

func TestNamedKeyed(t *testing.T) {
	var b bytes.Buffer
	l := New(&b, DebugLevel, true).Named("coordinator").With("round", 2)

	l.Infow("locked chunk", "chunkId", "3", "participant", "frank")

	out := b.String()
	require.Contains(t, out, `"logger":"coordinator"`)
	require.Contains(t, out, `"round":2`)
	require.Contains(t, out, `"chunkId":"3"`)
	require.Contains(t, out, `"participant":"frank"`)
	require.NotContains(t, out, "Ignored key without a value.")
}

func TestConsoleFormat(t *testing.T) {
	var b bytes.Buffer
	New(&b, InfoLevel, false).Warnw("lock refused", "chunkId", "1")
	require.Contains(t, b.String(), "lock refused")
	require.Contains(t, b.String(), `{"chunkId": "1"}`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, DebugLevel, ParseLevel("debug"))
	require.Equal(t, WarnLevel, ParseLevel("warn"))
	require.Equal(t, ErrorLevel, ParseLevel("error"))
	require.Equal(t, InfoLevel, ParseLevel("not-a-level"))
}

func TestDefaultAndContext(t *testing.T) {
	require.NotNil(t, DefaultLogger())

	var b bytes.Buffer
	l := New(&b, InfoLevel, true)
	SetDefault(l)
	require.Equal(t, l, DefaultLogger())
	require.Equal(t, l, FromContextOrDefault(context.Background()))

	var scoped bytes.Buffer
	ctx := ToContext(context.Background(), New(&scoped, InfoLevel, true))
	FromContextOrDefault(ctx).Infow("from context")
	require.Contains(t, scoped.String(), "from context")
	require.Empty(t, b.String())
}
