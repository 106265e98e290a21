package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	e := New(CategorySandbox, SeverityError, "volume provisioning failed")
	assert.Equal(t, "sandbox (error): volume provisioning failed", e.Error())

	wrapped := Wrap(stderrors.New("disk full"), CategorySandbox, SeverityError, "volume provisioning failed")
	assert.Equal(t, "sandbox (error): volume provisioning failed: disk full", wrapped.Error())
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	e := QueueError(cause, "claim failed")
	assert.ErrorIs(t, e, cause)
}

func TestRetryability(t *testing.T) {
	assert.True(t, IsRetryable(TimeoutError("sandbox timed out")))
	assert.True(t, IsRetryable(HelperError("toolchain exit status 1")))
	assert.True(t, IsRetryable(SandboxSetupError(stderrors.New("no space"), "provision")))

	assert.False(t, IsRetryable(SanitizeRejection("undecodable image")))
	assert.False(t, IsRetryable(ContractViolation("input not found")))
	assert.False(t, IsRetryable(ConfigError("bad driver")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("claim j1: %w", TimeoutError("sandbox timed out"))
	assert.True(t, IsRetryable(wrapped))
	assert.True(t, IsCategory(wrapped, CategoryTimeout))

	double := fmt.Errorf("worker 3: %w", wrapped)
	assert.True(t, IsRetryable(double))
}

func TestIsCategory(t *testing.T) {
	assert.True(t, IsCategory(TimeoutError("x"), CategoryTimeout))
	assert.False(t, IsCategory(TimeoutError("x"), CategoryQueue))
	assert.False(t, IsCategory(stderrors.New("plain"), CategoryQueue))
}

func TestWithContext(t *testing.T) {
	e := New(CategoryHelper, SeverityError, "conversion failed").
		WithContext("job_id", "j1").
		WithContext("attempt", 2)
	require.NotNil(t, e.Context)
	assert.Equal(t, "j1", e.Context["job_id"])
	assert.Equal(t, 2, e.Context["attempt"])
}
