// Package logx is bosstracker's structured logging on top of zerolog.
//
// Console output is human readable with a short caller, the optional file
// sink is JSON, and the optional chat sink mirrors warnings into an operator
// chat under a rate limit.
package logx
