package rpcerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	base := Resource("task.0001", errors.New("no fitting node"))
	wrapped := fmt.Errorf("schedule: %w", base)

	assert.True(t, Is(wrapped, KindResource))
	assert.False(t, Is(wrapped, KindStaging))
}

func TestErrorStringIncludesScope(t *testing.T) {
	err := Launch("task.0002", errors.New("ENOENT"))
	assert.Contains(t, err.Error(), "task.0002")
	assert.Contains(t, err.Error(), "LaunchError")
}
