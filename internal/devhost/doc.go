// Package devhost is a development host for one module instance.
//
// A Host sits on the host end of an ipc.Peer. It answers every call a
// module makes (definitions, variable and feedback values, status, log
// lines, OSC requests, saved config and variable parsing) and persists
// what matters in SQLite through Store, so an instance can be restarted
// with its config, action and feedback instances and upgrade index intact.
// Every host-to-module call is exposed as a Go method.
//
// Server puts a REST API in front of a Host and streams its events to
// websocket clients through Hub:
//
//	GET    /health
//	GET    /live, /ready                       when ServerDeps.Probes is set
//	GET    /metrics                            when ServerDeps.Metrics is set
//	GET    /ws                                 filtered events, see WSSubscribePayload
//	ANY    /http/*                             module HTTP handler
//	GET    /api/v1/instance/
//	POST   /api/v1/instance/init
//	POST   /api/v1/instance/destroy
//	GET    /api/v1/instance/config
//	PUT    /api/v1/instance/config
//	GET    /api/v1/instance/config-fields
//	GET    /api/v1/instance/definitions
//	GET    /api/v1/instance/feedback-values
//	GET    /api/v1/instance/variables
//	GET    /api/v1/instance/variables/{id}/history
//	GET    /api/v1/instance/actions
//	PUT    /api/v1/instance/actions/{id}
//	DELETE /api/v1/instance/actions/{id}
//	POST   /api/v1/instance/actions/{id}/execute
//	POST   /api/v1/instance/actions/{id}/learn
//	GET    /api/v1/instance/feedbacks
//	PUT    /api/v1/instance/feedbacks/{id}
//	DELETE /api/v1/instance/feedbacks/{id}
//	POST   /api/v1/instance/feedbacks/{id}/learn
//
// Module notifications that change stored state are handled in arrival
// order on the peer's receive goroutine. Once a host call returns, every
// effect the module reported before answering it has been stored.
package devhost
