package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	s := NewSealer("key")
	sealed, err := s.Seal("whsec")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "whsec")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "whsec", plain)
}

func TestOpenRejectsWrongKeyAndShortPayload(t *testing.T) {
	sealed, err := NewSealer("a").Seal("value")
	require.NoError(t, err)
	_, err = NewSealer("b").Open(sealed)
	assert.Error(t, err)

	_, err = NewSealer("a").Open([]byte{1, 2})
	assert.ErrorIs(t, err, ErrMalformedSecret)
}

func TestSealUsesFreshNonce(t *testing.T) {
	s := NewSealer("key")
	first, err := s.Seal("same")
	require.NoError(t, err)
	second, err := s.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
