// Package `chatsrv` implements server application for broadcast chat over TCP.
//
// To compile chat server locally, run from package directory:
//
//	go install -ldflags "-X main.version=v0.4.0" .
//
// Launch server:
//
//	chatsrv serve --port=8052 --admin=127.0.0.1:8053
//
// Check it with built-in protocol client:
//
//	chatsrv ping --port=8052
//	chatsrv say "hello everyone"
//
// Every flag of serve command falls back to CHATCAST_* environment variable.
package main
