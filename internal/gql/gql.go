// Package gql holds the GraphQL request/response envelope shared by the HTTP
// and realtime transports.
package gql

import (
	"encoding/json"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is the body of a GraphQL operation.
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Encode marshals the request to JSON.
func (r Request) Encode() ([]byte, error) {
	return codec.Marshal(r)
}

// Response is a GraphQL response body: {data} or {errors:[...]}.
type Response struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Errors     []ErrorEntry    `json:"errors,omitempty"`
	Extensions json.RawMessage `json:"extensions,omitempty"`
}

// Err returns an *Error when the response carries a non-empty errors array.
func (r Response) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &Error{Errors: r.Errors}
}

// DecodeResponse parses a GraphQL response body.
func DecodeResponse(body []byte) (Response, error) {
	var resp Response
	if err := codec.Unmarshal(body, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Location is a position in the GraphQL document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ErrorEntry is one element of a GraphQL errors array.
type ErrorEntry struct {
	Message   string          `json:"message"`
	ErrorType string          `json:"errorType,omitempty"`
	Path      []any           `json:"path,omitempty"`
	Locations []Location      `json:"locations,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Error is a semantic GraphQL failure. It is deterministic and never retried.
type Error struct {
	Errors []ErrorEntry
}

func (e *Error) Error() string {
	return e.Message()
}

// Message joins all error messages.
func (e *Error) Message() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, entry := range e.Errors {
		msgs = append(msgs, entry.Message)
	}
	return strings.Join(msgs, "; ")
}

// Messages returns each error message.
func (e *Error) Messages() []string {
	msgs := make([]string, 0, len(e.Errors))
	for _, entry := range e.Errors {
		msgs = append(msgs, entry.Message)
	}
	return msgs
}

// Operation identifies a GraphQL operation for logs and metrics.
type Operation struct {
	Type string // "query", "mutation", "subscription"
	Name string // Empty for anonymous operations
}

// String renders "type name", or just the type for anonymous operations.
func (o Operation) String() string {
	if o.Name == "" {
		return o.Type
	}
	return o.Type + " " + o.Name
}

// ParseOperation returns the first operation defined in query. Unparseable
// documents are reported as "unknown"; the server remains the authority on
// validity.
func ParseOperation(query string) Operation {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil || doc == nil || len(doc.Operations) == 0 {
		return Operation{Type: "unknown"}
	}

	op := doc.Operations[0]
	return Operation{
		Type: string(op.Operation),
		Name: op.Name,
	}
}
