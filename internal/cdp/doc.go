// Package cdp is the recruitment customer data platform core: rule
// segment evaluation, audience reconciliation with the email provider,
// the email flow state machine and submission intake.
//
// The package depends only on the repository and provider interfaces in
// repository.go. Storage lives in internal/repository and provider
// adapters live in internal/resend, internal/ses and internal/templates.
package cdp
