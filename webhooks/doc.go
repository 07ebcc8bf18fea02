// Package webhooks is the ingress side of the pipeline: signature
// verification, minimal event parsing and enqueueing.
//
// Nothing here runs business logic. A request is either rejected with a 4xx
// before any side effect, acknowledged after its raw payload is durably
// queued, or answered with 503 so the provider redelivers.
package webhooks
