package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

func TestErrorResponseUsesValidationKindForNonObjectPayload(t *testing.T) {
	resp := errorResponse(protocol.ErrNotAnObject)
	assert.Equal(t, string(protocol.KindValidation), resp.Error.Type)
}

func TestErrorResponseUsesYAMLParseKindForOtherDecodeErrors(t *testing.T) {
	resp := errorResponse(assertError{"garbage input"})
	assert.Equal(t, string(protocol.KindYAMLParse), resp.Error.Type)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
