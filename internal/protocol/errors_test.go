package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfExtractsKind(t *testing.T) {
	err := NewError(KindMissingFile, false, errors.New("no such file"))
	assert.Equal(t, KindMissingFile, KindOf(err))
}

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := NewError(KindTimeout, true, errors.New("deadline"))
	wrapped := fmt.Errorf("invoke failed: %w", base)
	assert.Equal(t, KindTimeout, KindOf(wrapped))
}

func TestKindOfDefaultsToExecutionError(t *testing.T) {
	assert.Equal(t, KindExecution, KindOf(errors.New("unclassified")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := NewError(KindValidation, false, errors.New("bad field"))
	assert.Contains(t, err.Error(), "validation_error")
	assert.Contains(t, err.Error(), "bad field")
}
