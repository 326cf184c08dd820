package instrumentation

import "strings"

// ExtractUserDomain extracts the domain part from an email address.
// Metrics never carry full addresses; the domain is the finest grain allowed.
//
// Example:
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
//	ExtractUserDomain("")                  // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return strings.ToLower(parts[1])
	}

	return "unknown"
}

// Operation types for Google API metrics.
const (
	OperationList      = "list"
	OperationFreeBusy  = "availability"
	OperationCreate    = "create"
	OperationDelete    = "delete"
	OperationUserInfo  = "userinfo"
	OperationTokenSwap = "exchange"
)
