// Package accounts is the client-side SDK for the Kerliix accounts backend.
// It owns the in-process session cache and the multi-step login and
// onboarding state machines; everything else (rendering, routing, image
// cropping) stays behind small interfaces supplied by the host application.
//
// Session lifecycle:
//   - SessionStore is the single writer of session state. Bootstrap resolves
//     the current identity on cold start and recovers a silently expired
//     access token with exactly one refresh-then-retry; it never surfaces
//     the failure, it degrades to logged out. Logout is the opposite: a
//     failed server-side logout leaves the cached identity untouched and
//     reports the error so the host can retry.
//
// Flows:
//   - LoginFlow walks identify -> credential (password or passkey) ->
//     optional MFA challenge, committing the finalized identity into the
//     SessionStore and navigating to the resolved redirect target.
//   - OnboardingFlow chains register -> verify email -> add phone ->
//     verify phone -> avatar -> welcome, threading an in-memory context
//     (email, redirect target, phone) through every transition. Optional
//     steps expose Skip as a first-class transition.
//
// Activity sinks:
//   - ActivitySink is a best-effort audit emitter used by the store and
//     both flows to describe session and flow lifecycle events. Sink errors
//     are logged, never propagated, so hosts can forward events to
//     telemetry without blocking authentication.
package accounts
