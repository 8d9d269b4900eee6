// Package httpapi serves the relay as a JSON API.
//
//	POST   /api/messages           {"user_id": "...", "text": "..."}
//	GET    /api/sessions/{userID}  session status
//	DELETE /api/sessions/{userID}  clear the session
//	POST   /api/render             {"markdown": "...", "max_length": 4000}
//	GET    /healthz
//
// The metrics handler is mounted at the configured path when enabled.
package httpapi
