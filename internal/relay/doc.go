// Package relay ties the pieces of one exchange together.
//
// For each message, Service holds the user's session lock, reads the stored
// continuation token, asks the Generator for an answer, renders the answer
// through the transcoder, caps its length, and records the new token.
// Transports (Matrix, HTTP) only translate their events into HandleMessage,
// Reset and Status calls and send the Reply back.
package relay
