// Package cmd implements the command-line interface for calagent.
//
// This package provides the following commands:
//   - serve: Run the chat API (HTTP) or the MCP assistant tools (stdio)
//   - login/logout: Store or remove a Google token for CLI and MCP use
//   - chat: Interactive conversation with the calendar assistant
//   - ask: Run a single request
//   - contacts: Manage the address book used to resolve names
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for the MCP tools
//
// Settings come from flags, CALAGENT_* environment variables and an
// optional calagent.yaml.
package cmd
