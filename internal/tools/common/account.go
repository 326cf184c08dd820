package common

import (
	"context"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calagent/internal/google"
)

// GetAccountFromArgs returns the "account" argument, or the default account
// when it is missing or not a string.
func GetAccountFromArgs(args map[string]interface{}) string {
	if accountVal, ok := args["account"].(string); ok && accountVal != "" {
		return accountVal
	}
	return google.DefaultAccount
}

// ClientSessionID returns the id of the MCP client session making the call,
// or "default" outside of one.
func ClientSessionID(ctx context.Context) string {
	if cs := mcpserver.ClientSessionFromContext(ctx); cs != nil && cs.SessionID() != "" {
		return cs.SessionID()
	}
	return "default"
}

// DialogueSessionKey names the dialogue session of one account within one
// MCP client session, so two clients never share pending state.
func DialogueSessionKey(ctx context.Context, account string) string {
	return "mcp:" + ClientSessionID(ctx) + ":" + account
}
