// Package admission decides whether a request is processed at all.
//
// Filter.Admit(origin, apiKey, requiresWrite) is a pure decision over the
// current Policy:
//
//   - Reads: an absent Origin is admitted unless Policy.RequireOrigin is set;
//     a present Origin must be in AllowedOrigins or equal CanonicalOrigin.
//     The canonical production origin is a deliberate carve-out that is
//     admitted regardless of the generic allow-list.
//   - Writes: the API key must equal Policy.APIKey. With no key configured
//     every write is rejected with ReasonWriteDisabled and an error is logged;
//     the server keeps serving reads.
//
// Admission runs before rate limiting so rejected traffic never consumes a
// client's quota. The policy can be replaced at runtime with SetPolicy.
//
// UnaryInterceptor applies the write check to gRPC calls, reading the key
// from the configured metadata header.
package admission
