package content

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"worknode/internal/failure"
)

func TestClassify(t *testing.T) {
	expired, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name        string
		ctx         context.Context
		err         error
		unavailable bool
	}{
		{"backend deadline", context.Background(), context.DeadlineExceeded, true},
		{"work deadline", expired, context.DeadlineExceeded, false},
		{"canceled", expired, context.Canceled, false},
		{"other", context.Background(), errors.New("permission denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.ctx, "mem://b/k", "open", tt.err)
			assert.Equal(t, tt.unavailable, failure.IsUnavailable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
