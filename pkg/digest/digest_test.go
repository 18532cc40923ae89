package digest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeKnownValue(t *testing.T) {
	etag := Compute([]byte("hello"))
	require.Equal(t, `"5d41402abc4b2a76b9719d911017c592"`, etag)
}

func TestComputeIsDeterministic(t *testing.T) {
	a := Compute([]byte("same bytes"))
	b := Compute([]byte("same bytes"))
	require.Equal(t, a, b)
}

func TestValidateCustomAccepts(t *testing.T) {
	require.NoError(t, ValidateCustom(`"my-tag"`))
	require.NoError(t, ValidateCustom(`"x"`))
}

func TestValidateCustomRejects(t *testing.T) {
	require.Error(t, ValidateCustom(""))
	require.Error(t, ValidateCustom(`""`))
	require.Error(t, ValidateCustom("unquoted"))
	require.Error(t, ValidateCustom("\"has\x01control\""))
	require.Error(t, ValidateCustom("\""))
}
