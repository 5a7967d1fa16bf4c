package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		exp  ErrorKind
	}{
		{name: "wrapped quota", err: fmt.Errorf("summarize: %w", ErrQuotaExceeded), exp: KindQuota},
		{name: "configuration", err: ErrConfiguration, exp: KindConfiguration},
		{name: "integrity", err: fmt.Errorf("insert: %w", ErrIntegrity), exp: KindIntegrity},
		{name: "not found", err: ErrNotFound, exp: KindTerminal},
		{name: "timeout", err: context.DeadlineExceeded, exp: KindTransient},
		{name: "unknown", err: errors.New("boom"), exp: KindTransient},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exp, KindOf(tc.err))
		})
	}
}

func TestRunRecordError(t *testing.T) {
	run := &Run{Status: RunInProgress}
	run.RecordError("channel UCx", fmt.Errorf("list videos: %w", ErrUnavailable))

	assert.Equal(t, 1, run.Errors)
	assert.Equal(t, []string{"transient: channel UCx: list videos: service unavailable"}, run.ErrorDetail)
	assert.False(t, run.Finished())
}
