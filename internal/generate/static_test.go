package generate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticGeneratorReturnsCannedResponses(t *testing.T) {
	var g Generator = &StaticGenerator{SOAP: "soap", Referral: "referral", Letter: "letter"}

	soap, err := g.GenerateSOAP(context.Background(), "transcript", "context")
	require.NoError(t, err)
	require.Equal(t, "soap", soap)

	referral, err := g.GenerateReferral(context.Background(), "soap", "hint")
	require.NoError(t, err)
	require.Equal(t, "referral", referral)

	letter, err := g.GenerateLetter(context.Background(), "content", "gp", "specs")
	require.NoError(t, err)
	require.Equal(t, "letter", letter)
}

func TestStaticGeneratorPropagatesConfiguredError(t *testing.T) {
	wantErr := errors.New("boom")
	g := &StaticGenerator{Err: wantErr}

	_, err := g.GenerateSOAP(context.Background(), "transcript", "context")
	require.ErrorIs(t, err, wantErr)
}
