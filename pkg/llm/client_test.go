package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChatter struct {
	responses []string
	errs      []error
	calls     int
}

func (s *stubChatter) Chat(context.Context, string) (string, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var out string
	if i < len(s.responses) {
		out = s.responses[i]
	}
	return out, err
}

func TestChatWithRetry(t *testing.T) {
	t.Run("returns first success", func(t *testing.T) {
		stub := &stubChatter{responses: []string{"ok"}}
		out, err := ChatWithRetry(context.Background(), stub, "prompt")
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, 1, stub.calls)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		stub := &stubChatter{
			responses: []string{"", "", "recovered"},
			errs:      []error{errors.New("boom"), errors.New("boom"), nil},
		}
		out, err := ChatWithRetry(context.Background(), stub, "prompt")
		require.NoError(t, err)
		assert.Equal(t, "recovered", out)
		assert.Equal(t, 3, stub.calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		stub := &stubChatter{
			errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")},
		}
		_, err := ChatWithRetry(context.Background(), stub, "prompt")
		require.Error(t, err)
		assert.Equal(t, maxAttempts, stub.calls)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		stub := &stubChatter{errs: []error{errors.New("boom")}}
		_, err := ChatWithRetry(ctx, stub, "prompt")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no language", "```\n[1,2]\n```", `[1,2]`},
		{"leading prose", "Here you go: {\"a\":1}", `{"a":1}`},
		{"array", `[1,2,3]`, `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}
