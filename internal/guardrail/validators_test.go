package guardrail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidators(t *testing.T) {
	require.True(t, validLuhn("4111 1111 1111 1111"))
	require.False(t, validLuhn("4111 1111 1111 1112"))
	require.False(t, validLuhn("1234"))

	require.True(t, validIBAN("GB82 WEST 1234 5698 7654 32"))
	require.True(t, validIBAN("de89370400440532013000"))
	require.False(t, validIBAN("GB82 WEST 1234 5698 7654 33"))
	require.False(t, validIBAN("GB82 WEST 1234"))

	require.True(t, validSSN("123-45-6789"))
	require.False(t, validSSN("000-45-6789"))
	require.False(t, validSSN("666-45-6789"))
	require.False(t, validSSN("912-45-6789"))
	require.False(t, validSSN("123-00-6789"))
	require.False(t, validSSN("123-45-0000"))
	require.False(t, validSSN("111-11-1111"))

	require.True(t, validPhone("555-123-4567"))
	require.False(t, validPhone("555-1234"))
}

func TestPatternRecognizer_LoadErrors(t *testing.T) {
	_, err := NewPatternRecognizer([]byte("entities: ["))
	require.Error(t, err)

	_, err = NewPatternRecognizer([]byte("entities:\n  - name: X\n    validator: nope\n    patterns: []\n"))
	require.ErrorIs(t, err, ErrUnknownValidator)

	_, err = NewPatternRecognizer([]byte("entities:\n  - name: X\n    patterns:\n      - id: bad\n        regex: '('\n"))
	require.Error(t, err)
}

func TestPatternRecognizer_Default(t *testing.T) {
	rec, err := NewDefaultRecognizer()
	require.NoError(t, err)
	require.Equal(t, []string{"PHONE_NUMBER", "EMAIL_ADDRESS", "CREDIT_CARD", "IBAN_CODE", "US_SSN"}, rec.Entities())

	findings, err := rec.Recognize(context.Background(), "reach me at +44 20 7946 0958")
	require.NoError(t, err)
	require.NotEmpty(t, findings)
	require.Equal(t, "PHONE_NUMBER", findings[0].Entity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rec.Recognize(ctx, "anything")
	require.Error(t, err)
}
