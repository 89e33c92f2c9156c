// Package service orchestrates the core components of the venue:
// order books, write-ahead log, outbox, and execution distribution.
//
// The Engine is the only write entry point. Every mutation is logged
// and fsynced before the caller sees an acknowledgement.
package service
