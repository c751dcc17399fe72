package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildErrorFormatting(t *testing.T) {
	err := New(CategoryConfig, SeverityFatal, "invalid configuration")
	assert.Equal(t, "config (fatal): invalid configuration", err.Error())

	wrapped := Wrap(fmt.Errorf("yaml: line 3: mapping values"), CategoryConfig, SeverityFatal, "invalid configuration")
	assert.Contains(t, wrapped.Error(), "mapping values")
}

func TestCategoryClassification(t *testing.T) {
	err := RepositoryError("clone failed", fmt.Errorf("exit 128"))
	assert.True(t, IsCategory(err, CategoryRepository))
	assert.False(t, IsCategory(err, CategoryConfig))
	assert.Equal(t, CategoryRepository, GetCategory(err))

	// Wrapped in a plain error chain the category still resolves.
	chained := fmt.Errorf("running build: %w", err)
	assert.True(t, IsCategory(chained, CategoryRepository))

	assert.Equal(t, CategoryInternal, GetCategory(fmt.Errorf("plain")))
}

func TestRetryability(t *testing.T) {
	locked := VersionLockedError("main")
	assert.True(t, IsRetryable(locked))
	assert.False(t, IsRetryable(RepositoryError("x", nil)))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestUserMessageNeverLeaksInternals(t *testing.T) {
	internal := Wrap(fmt.Errorf("nil pointer dereference at director.go:42"), CategoryInternal, SeverityFatal, "boom")
	msg := UserMessage(internal)
	require.NotContains(t, msg, "nil pointer")
	require.NotContains(t, msg, "director.go")

	assert.Equal(t, msg, UserMessage(fmt.Errorf("raw panic text")))
}

func TestUserMessageIncludesConfigDiagnostic(t *testing.T) {
	err := ConfigurationError("problem in your project's configuration file", fmt.Errorf("yaml: line 7: found unexpected end of stream"))
	msg := UserMessage(err)
	assert.Contains(t, msg, "line 7")
}

func TestWithContext(t *testing.T) {
	err := New(CategoryLocked, SeverityError, "locked").WithContext("project", "demo")
	assert.Equal(t, "demo", err.Context["project"])
}
