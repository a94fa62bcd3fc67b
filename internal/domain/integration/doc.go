// Package integration contains the outbound Integration bounded context.
// It describes how a lead is delivered to third-party systems.
//
// Key concepts:
//   - Channel: Port interface implemented by each delivery target (CRM, messenger, mailer, webhook)
//   - Result: Immutable outcome of a single channel operation
//   - CredentialSet: Stored, typed credentials owned by an entity or a project
//   - DispatchUnit: One retryable attempt to deliver a lead over one channel
//   - Batch: The group of units fanned out for one lead and their aggregate outcome
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
