package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/server"
	"github.com/teemow/calagent/internal/session"
	"github.com/teemow/calagent/internal/tools/common"
)

// Resource URIs.
const (
	ConversationURI = "calagent://conversation"
	ContactsURI     = "calagent://contacts"
)

// ContactLister reads the address book.
type ContactLister interface {
	All(ctx context.Context) (map[string]string, error)
}

// ConversationView is the JSON form of the open conversation state.
type ConversationView struct {
	Account          string          `json:"account"`
	PendingConflict  *PendingView    `json:"pendingConflict,omitempty"`
	CancelCandidates []CandidateView `json:"cancelCandidates,omitempty"`
}

// PendingView is an event creation waiting for "schedule anyway".
type PendingView struct {
	Summary   string    `json:"summary"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Location  string    `json:"location,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`
}

// CandidateView is one numbered cancel candidate.
type CandidateView struct {
	Option  int       `json:"option"`
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
}

// RegisterResources registers the conversation resource and, when contacts
// is not nil, the contacts resource.
func RegisterResources(s *mcpserver.MCPServer, sc *server.ServerContext, contacts ContactLister) error {
	if s == nil || sc == nil {
		return fmt.Errorf("MCP server and server context are required")
	}

	conversationResource := mcp.NewResource(
		ConversationURI,
		"Open Conversation",
		mcp.WithResourceDescription("The conflict awaiting confirmation and the cancel candidates offered to this client, for the default account"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(conversationResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleConversation(ctx, request, sc)
	})

	if contacts == nil {
		return nil
	}

	contactsResource := mcp.NewResource(
		ContactsURI,
		"Contacts",
		mcp.WithResourceDescription("Names the assistant resolves to email addresses"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(contactsResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleContacts(ctx, request, contacts)
	})

	return nil
}

func handleConversation(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	account := google.DefaultAccount

	state, err := sc.Sessions().State(common.DialogueSessionKey(ctx, account))
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	return jsonContents(request, newConversationView(account, state))
}

func handleContacts(ctx context.Context, request mcp.ReadResourceRequest, contacts ContactLister) ([]mcp.ResourceContents, error) {
	all, err := contacts.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return jsonContents(request, all)
}

func newConversationView(account string, state session.State) ConversationView {
	view := ConversationView{Account: account}
	if p := state.PendingConflict; p != nil {
		view.PendingConflict = &PendingView{
			Summary:   p.Summary,
			Start:     p.Start,
			End:       p.End,
			Location:  p.Location,
			Attendees: p.Attendees,
		}
	}
	for i, e := range state.CancelCandidates {
		view.CancelCandidates = append(view.CancelCandidates, candidateView(i+1, e))
	}
	return view
}

func candidateView(option int, e calendar.Event) CandidateView {
	return CandidateView{Option: option, ID: e.ID, Summary: e.Summary, Start: e.Start}
}

func jsonContents(request mcp.ReadResourceRequest, v any) ([]mcp.ResourceContents, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
