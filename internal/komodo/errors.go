package komodo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("komodo: unauthorized")
	ErrNotFound     = errors.New("komodo: not found")
)

const maxErrorBody = 64 << 10

// APIError is returned for every non-2xx response from the Komodo API.
type APIError struct {
	StatusCode int
	// Detail is the decoded "detail" field: a string, a JSON object or nil.
	Detail any
	// Fields holds the whole decoded error body when it was a JSON object.
	Fields  map[string]any
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// DetailMessage returns the human readable detail of the error: the detail
// string itself, or the "detail" member of a structured detail object.
func (e *APIError) DetailMessage() string {
	switch d := e.Detail.(type) {
	case string:
		return d
	case map[string]any:
		if s, ok := d["detail"].(string); ok {
			return s
		}
	}
	return ""
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("request failed with status code %d", resp.StatusCode),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return apiErr
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil {
		apiErr.Fields = fields
		apiErr.Detail = fields["detail"]
	}
	return apiErr
}
