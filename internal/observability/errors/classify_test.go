package errors

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/driptech/admin-session/internal/errors"
)

func TestClassify(t *testing.T) {
	assert.Empty(t, Classify(nil))
	assert.Equal(t, "invalid_credentials", Classify(apperrors.InvalidCredentials("bad")))
	assert.Equal(t, "transient",
		Classify(fmt.Errorf("refresh: %w", apperrors.Wrap(context.DeadlineExceeded, apperrors.ErrCodeTransient, "timeout"))))
	assert.Equal(t, "net_operror", Classify(fmt.Errorf("dial: %w", &net.OpError{Op: "dial"})))
}
