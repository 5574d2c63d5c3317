// Package chaterrs collects the sentinel errors shared across the chat,
// session, channel and netlayer packages. It exists as a leaf package so
// those packages can compare errors with errors.Is without importing one
// another.
package chaterrs

import "errors"

var (
	// ErrUnregisteredTransport is returned by the netlayer manager when
	// asked to dial a locator naming a transport that was never
	// registered.
	ErrUnregisteredTransport = errors.New("unregistered transport")

	// ErrTransportClosed is returned when an operation is attempted on a
	// netlayer that has already been torn down.
	ErrTransportClosed = errors.New("transport closed")

	// ErrProtocolError marks a malformed or unexpected capability
	// message. It is returned to the caller (or dropped, for a
	// deliver_only call); the session carrying it is not aborted.
	ErrProtocolError = errors.New("protocol error")

	// ErrAuthFailure marks a signature that failed to verify during
	// Gateway.Authenticate.
	ErrAuthFailure = errors.New("could not verify signature")

	// ErrUnknownSwiss is returned (via a broken fetch promise) when a
	// swiss number does not resolve to any known capability.
	ErrUnknownSwiss = errors.New("unrecognized swiss")

	// ErrUnknownChannel is returned by Portal.Connect when the channel id
	// does not name a registered channel.
	ErrUnknownChannel = errors.New("unrecognized channel id")

	// ErrDeliverFailed marks a remote method invocation that failed
	// in-flight, e.g. because the owning session already aborted.
	ErrDeliverFailed = errors.New("deliver failed")

	// ErrSessionAborted is returned by operations attempted against a
	// session that is no longer open.
	ErrSessionAborted = errors.New("session aborted")

	// ErrUnknownMethod is returned (via a broken promise) when a
	// capability receives a call for a method name it doesn't implement.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrShuttingDown is returned by operations attempted after the
	// owning component has observed the shutdown signal.
	ErrShuttingDown = errors.New("shutting down")
)
