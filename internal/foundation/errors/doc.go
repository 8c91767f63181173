// Package errors provides the classified error type used across cascade.
//
// A ClassifiedError carries a category (config, graph, splitlog, transport, ...),
// a severity, a retry strategy and structured context. Errors are created with the
// fluent ErrorBuilder:
//
//	err := errors.TransportError("mark request failed").
//		WithCause(natsErr).
//		WithContext("agent", agentName).
//		Build()
//
// Package-level sentinels are compared with errors.Is, which matches on category and
// message, so copies produced by WithContext and WithCause still match.
package errors
