package generate

import "context"

// StaticGenerator is a test double satisfying Generator with
// caller-supplied canned responses, used by executor tests in place of a
// live AnthropicGenerator.
type StaticGenerator struct {
	SOAP     string
	Referral string
	Letter   string
	Err      error
}

func (g *StaticGenerator) GenerateSOAP(ctx context.Context, transcript, clinicalContext string) (string, error) {
	return g.SOAP, g.Err
}

func (g *StaticGenerator) GenerateReferral(ctx context.Context, soapNote, conditionsHint string) (string, error) {
	return g.Referral, g.Err
}

func (g *StaticGenerator) GenerateLetter(ctx context.Context, content, recipientType, specs string) (string, error) {
	return g.Letter, g.Err
}
