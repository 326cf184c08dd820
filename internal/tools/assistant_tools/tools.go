package assistant_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/server"
	"github.com/teemow/calagent/internal/tools/common"
)

// Tool names.
const (
	ToolQuery        = "assistant_query"
	ToolReset        = "assistant_reset"
	ToolContactsList = "contacts_list"
	ToolContactsAdd  = "contacts_add"
)

// ContactBook is the address book behind the contact tools.
type ContactBook interface {
	All(ctx context.Context) (map[string]string, error)
	Put(ctx context.Context, name, email string) error
}

// RegisterAssistantTools registers the assistant tools with the MCP server.
// contacts may be nil, in which case the contact tools are not registered.
func RegisterAssistantTools(s *mcpserver.MCPServer, sc *server.ServerContext, contacts ContactBook) error {
	if s == nil || sc == nil {
		return fmt.Errorf("MCP server and server context are required")
	}

	accountOpt := mcp.WithString("account",
		mcp.Description("Account name (default: 'default'), as given to 'calagent login --account'."),
	)

	queryTool := mcp.NewTool(ToolQuery,
		mcp.WithDescription("Ask the calendar assistant in plain language: list, schedule or cancel events. "+
			"Follow-ups such as \"schedule anyway\" or \"the second one\" refer to the previous answer."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The request, e.g. 'Schedule sync with bob tomorrow at 3pm'"),
		),
		accountOpt,
		mcp.WithBoolean("include_intent",
			mcp.Description("Append the classified intent as JSON to the answer"),
		),
	)
	s.AddTool(queryTool, common.InstrumentedToolHandler(ToolQuery, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleQuery(ctx, request, sc)
		}))

	resetTool := mcp.NewTool(ToolReset,
		mcp.WithDescription("Forget any pending conflict or cancellation choice of this conversation"),
		accountOpt,
	)
	s.AddTool(resetTool, common.InstrumentedToolHandler(ToolReset, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleReset(ctx, request, sc)
		}))

	if contacts == nil {
		return nil
	}

	listTool := mcp.NewTool(ToolContactsList,
		mcp.WithDescription("List the saved contacts the assistant resolves names with"),
	)
	s.AddTool(listTool, common.InstrumentedToolHandler(ToolContactsList, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleContactsList(ctx, contacts)
		}))

	addTool := mcp.NewTool(ToolContactsAdd,
		mcp.WithDescription("Save or update a contact"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name used in requests, e.g. 'bob'")),
		mcp.WithString("email", mcp.Required(), mcp.Description("Email address")),
	)
	s.AddTool(addTool, common.InstrumentedToolHandler(ToolContactsAdd, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleContactsAdd(ctx, request, contacts)
		}))

	return nil
}

func handleQuery(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	account := common.GetAccountFromArgs(args)
	includeIntent, _ := args["include_intent"].(bool)

	key := common.DialogueSessionKey(ctx, account)
	sess, err := sc.Sessions().GetOrCreate(key, account)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open conversation: %v", err)), nil
	}

	controller, err := sc.ControllerForAccount(account)
	if errors.Is(err, google.ErrNoToken) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"No Google token for account %q. Run 'calagent login --account %s' first.", account, account)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open calendar: %v", err)), nil
	}

	lease, err := sc.Sessions().Acquire(ctx, sess.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("conversation is busy: %v", err)), nil
	}
	defer lease.Release()

	ta := instrumentation.NewTurnAudit("mcp").
		WithUser(account, logging.ShortID(common.ClientSessionID(ctx))).
		WithUtterance(query)

	turn, err := controller.HandleTurn(ctx, query, lease.State)
	ta.WithOutcome(string(turn.Intent.Kind), string(turn.Transition))
	sc.AuditLogger().LogTurn(ctx, ta.WithSpanContext(ctx).Complete(err))
	if err != nil {
		sc.Logger().ErrorContext(ctx, "Assistant turn failed", logging.Err(err))
		return mcp.NewToolResultError(turn.Response), nil
	}
	lease.Commit(turn.State)

	text := turn.Response
	if includeIntent {
		data, err := json.MarshalIndent(turn.Intent, "", "  ")
		if err == nil {
			text += "\n\nIntent:\n" + string(data)
		}
	}
	return mcp.NewToolResultText(text), nil
}

func handleReset(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	account := common.GetAccountFromArgs(request.GetArguments())
	sc.Sessions().Delete(common.DialogueSessionKey(ctx, account))
	return mcp.NewToolResultText("Conversation state cleared."), nil
}

func handleContactsList(ctx context.Context, contacts ContactBook) (*mcp.CallToolResult, error) {
	all, err := contacts.All(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list contacts: %v", err)), nil
	}
	if len(all) == 0 {
		return mcp.NewToolResultText("No contacts saved."), nil
	}

	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\n", name, all[name])
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func handleContactsAdd(ctx context.Context, request mcp.CallToolRequest, contacts ContactBook) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	name, _ := args["name"].(string)
	email, _ := args["email"].(string)
	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" {
		return mcp.NewToolResultError("name and email are required"), nil
	}

	if err := contacts.Put(ctx, name, email); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save contact: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Saved %s as %s.", strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(email))), nil
}
