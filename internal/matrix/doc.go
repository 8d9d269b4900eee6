// Package matrix is the Matrix chat transport for the relay.
//
// The bridge syncs as a bot account, turns each text message in an allowed
// room into a relay exchange, and answers with an HTML formatted reply plus a
// plain text body. "/new" clears the sender's session and "/status" reports
// it. Messages from one sender are handled in arrival order; different
// senders are handled concurrently.
package matrix
