// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It acts as an adapter between external clients
// (operators, GUIs, node agents) and the queue controller and dispatcher,
// translating HTTP concerns to business operations.
package api
