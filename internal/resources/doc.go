// Package resources provides MCP resources for exposing assistant data.
// Resources are read-only data sources that MCP clients can fetch.
//
// calagent://conversation is scoped to the reading MCP client session, so
// each client sees only the conflict or cancel choice it left open.
package resources
