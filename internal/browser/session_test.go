// File: internal/browser/session_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseAuxData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         string
		wantFrame   string
		wantDefault bool
	}{
		{"main world", `{"frameId":"F1","isDefault":true,"type":"default"}`, "F1", true},
		{"isolated world", `{"frameId":"F1","isDefault":false,"type":"isolated"}`, "F1", false},
		{"garbage", `nope`, "", false},
		{"empty", ``, "", false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			frame, isDefault := parseAuxData([]byte(tc.raw))
			assert.Equal(t, tc.wantFrame, frame)
			assert.Equal(t, tc.wantDefault, isDefault)
		})
	}
}

func TestCombineContextCancelsOnEitherParent(t *testing.T) {
	t.Parallel()

	t.Run("caller cancellation propagates", func(t *testing.T) {
		t.Parallel()
		session := context.Background()
		caller, cancelCaller := context.WithCancel(context.Background())

		ctx, cancel := combineContext(session, caller)
		defer cancel()

		cancelCaller()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not canceled by caller")
		}
	})

	t.Run("session cancellation propagates", func(t *testing.T) {
		t.Parallel()
		session, cancelSession := context.WithCancel(context.Background())
		caller := context.Background()

		ctx, cancel := combineContext(session, caller)
		defer cancel()

		cancelSession()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not canceled by session")
		}
	})

	t.Run("cleanup releases the AfterFunc", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := combineContext(context.Background(), context.Background())
		cancel()
		assert.Error(t, ctx.Err())
	})
}
