// Package common provides helpers shared by the MCP tool packages: account
// and session resolution from a tool call, and handler instrumentation.
package common
