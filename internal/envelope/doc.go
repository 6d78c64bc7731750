// Package envelope implements the SOCP wire envelope: one JSON object per
// WebSocket frame carrying a typed payload, the sender and recipient
// identities, a send timestamp, a random nonce and a signature.
//
// Envelopes are built with Build, completed at send time with Stamp and a
// Signer, encoded with Marshal and decoded with Parse. Parse never panics on
// hostile input; it reports a *ParseError instead.
package envelope
