// Package claude runs prompts through the Claude Code CLI.
//
// Each call is one `claude -p <prompt> --output-format json` invocation.
// The CLI's session_id is the continuation token: passing it back through
// --resume continues the same conversation. The token is opaque to the rest
// of the relay.
package claude
