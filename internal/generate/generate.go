// Package generate defines the Generator collaborator contract and a
// concrete AnthropicGenerator implementation. AnthropicGenerator sends
// the inputs through verbatim (no prompt engineering) and maps
// transport/HTTP failures onto the core's ErrorKind taxonomy.
package generate

import "context"

// Generator is the three-method collaborator contract for downstream
// artifact generation.
type Generator interface {
	GenerateSOAP(ctx context.Context, transcript, clinicalContext string) (string, error)
	GenerateReferral(ctx context.Context, soapNote, conditionsHint string) (string, error)
	GenerateLetter(ctx context.Context, content, recipientType, specs string) (string, error)
}
