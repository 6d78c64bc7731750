package envelope

// Signer produces the sig field of an outbound envelope. It is called after
// every other field is final.
type Signer interface {
	Sign(env *Envelope) (string, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(env *Envelope) (string, error)

// Sign calls f(env).
func (f SignerFunc) Sign(env *Envelope) (string, error) {
	return f(env)
}

// PlaceholderSig is the signature emitted until a real signer is plugged in.
const PlaceholderSig = "dev-mock"

// PlaceholderSigner signs every envelope with PlaceholderSig.
type PlaceholderSigner struct{}

// Sign returns PlaceholderSig.
func (PlaceholderSigner) Sign(*Envelope) (string, error) {
	return PlaceholderSig, nil
}
