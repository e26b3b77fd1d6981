package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Retriable(t *testing.T) {
	assert.True(t, NewError(KindResolverTimeout, "s", "a", "timed out").Retriable())
	assert.False(t, NewError(KindParamValidationError, "s", "a", "bad").Retriable())
}

func TestError_Is(t *testing.T) {
	err := NewError(KindDatasetNotFound, "step1", "merge_datasets", "missing key")
	assert.True(t, errors.Is(err, &Error{Kind: KindDatasetNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindMissingColumn}))
}

func TestError_WrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindFileWriteFailed, "export", "export_dataset", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "export_dataset")
}

func TestError_MessageFormatWithoutStepContext(t *testing.T) {
	err := NewError(KindStrategyLoadError, "", "", "bad yaml")
	assert.Equal(t, "STRATEGY_LOAD_ERROR: bad yaml", err.Error())
}
