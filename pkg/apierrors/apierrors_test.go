package apierrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ErrorFormatsKindAndMessage(t *testing.T) {
	err := New(KindStorage, "connection refused")
	assert.Equal(t, "StorageError: connection refused", err.Error())
}

func TestError_IsMatchesOnKindAloneNotMessage(t *testing.T) {
	a := New(KindUnauthenticated, "token expired")
	b := New(KindUnauthenticated, "no token supplied")

	assert.True(t, errors.Is(a, b))
	assert.True(t, errors.Is(a, ErrUnauthenticated))
	assert.False(t, errors.Is(a, ErrUnauthorized))
}

func TestError_IsRejectsNonApierrorsTarget(t *testing.T) {
	err := New(KindRequest, "bad input")
	assert.False(t, errors.Is(err, errors.New("bad input")))
}

func TestNewValidation_CarriesStructuredDetail(t *testing.T) {
	err := NewValidation([]string{"name is required"}, map[string]FieldErrors{
		"name": {Errors: []string{"must not be empty"}},
	})

	require.Equal(t, KindValidation, err.Kind)
	require.NotNil(t, err.Validation)
	assert.Equal(t, []string{"name is required"}, err.Validation.Errors)
	assert.Equal(t, []string{"must not be empty"}, err.Validation.Properties["name"].Errors)
}

func TestAsyncGraphqlErrorf_FormatsAndTagsKind(t *testing.T) {
	err := AsyncGraphqlErrorf("pipeline %s already assigned", "p-1")

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindAsyncGraphql, apiErr.Kind)
	assert.Equal(t, "pipeline p-1 already assigned", apiErr.Message)
}

func TestStorageErrorf_FormatsAndTagsKind(t *testing.T) {
	err := StorageErrorf("query %s: %s", "projects", "timeout")

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindStorage, apiErr.Kind)
	assert.Equal(t, "query projects: timeout", apiErr.Message)
}
