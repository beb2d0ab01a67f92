package appkey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"OAM-12345/TP-2023",
		"oam-123-7/do-2024",
		"  OAM-999/zm-2024  ",
		"45678/ST-2025",
	}

	for _, raw := range cases {
		key, err := Parse(raw)
		require.NoError(t, err, raw)

		again, err := Parse(key.String())
		require.NoError(t, err)
		assert.Equal(t, key.String(), again.String(), "round-trip mismatch for %q", raw)
	}
}

func TestParseRejectsBadGrammar(t *testing.T) {
	for _, raw := range []string{
		"12/TP-2023",
		"OAM-12345/TPP-2023",
		"OAM-12345-TP-2023",
		"OAM-12345/TP-23",
		"",
	} {
		_, err := Parse(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseRejectsDisallowedType(t *testing.T) {
	_, err := Parse("OAM-12345/XX-2023")
	assert.Error(t, err)
}

func TestValidYear(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	assert.True(t, ValidYear(2026, now))
	assert.True(t, ValidYear(2023, now))
	assert.False(t, ValidYear(2022, now))
	assert.False(t, ValidYear(2027, now))
}

func TestSuffixRoundTrip(t *testing.T) {
	key, err := Parse("OAM-100-5/CD-2025")
	require.NoError(t, err)
	require.NotNil(t, key.Suffix)
	assert.Equal(t, 5, *key.Suffix)
	assert.Equal(t, "OAM-100-5/CD-2025", key.String())
}
