// Package assistant_tools exposes the calendar assistant as MCP tools.
//
// assistant_query runs one dialogue turn for an account logged in with
// "calagent login". Each MCP client session keeps its own conversation
// state per account, so a conflict raised in one client is confirmed only
// from that client. assistant_reset drops that state. contacts_list and
// contacts_add manage the address book the classifier resolves names with.
package assistant_tools
