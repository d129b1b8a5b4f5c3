package azure

import "fmt"

// AuthError reports a failed credential exchange with Azure AD. The relay
// surfaces it to callers as an upstream-unavailable condition; the request
// is aborted before any completion call is made.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("azure auth: %s", e.Message)
	}
	return fmt.Sprintf("azure auth: status %d: %s", e.StatusCode, e.Message)
}

// UpstreamError reports a non-success response or unusable payload from the
// Azure OpenAI endpoint. StatusCode is the provider's HTTP status (0 when
// the request never produced a response) and Message preserves the
// provider's own error text.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("azure openai: %s", e.Message)
	}
	return fmt.Sprintf("azure openai: status %d: %s", e.StatusCode, e.Message)
}
