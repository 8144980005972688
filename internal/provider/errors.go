package provider

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrStreamIdle = errors.New("stream idle timeout")

const maxErrorBody = 512

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	status := e.Status
	if status == "" {
		status = strconv.Itoa(e.StatusCode)
	}

	body := strings.TrimSpace(e.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	if body == "" {
		return fmt.Sprintf("provider returned %s", status)
	}
	return fmt.Sprintf("provider returned %s: %s", status, body)
}

// Terminal reports whether retrying the same request cannot succeed.
func (e *APIError) Terminal() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429
}
