// ostiary — consent-gated remote access host agent
//
// A single binary that runs on a host machine and admits remote-control
// connections only after a password check and verification of durable,
// revocable owner consent. Every admission decision and session lifecycle
// transition is recorded in a tamper-evident audit log.
//
// Usage:
//
//	ostiary serve --config /etc/ostiary/config.yaml   # run the admission server
//	ostiary consent grant alice                       # record owner consent
//	ostiary sessions                                  # list live sessions
//	ostiary logs --since 24h                          # inspect the audit trail
package main

import "github.com/ostiary-io/ostiary/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
