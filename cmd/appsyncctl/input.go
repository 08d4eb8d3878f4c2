package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// readQuery returns the inline query or the contents of file. A file of
// "-" reads stdin.
func readQuery(inline, file string, stdin io.Reader) (string, error) {
	switch {
	case inline != "" && file != "":
		return "", errors.New("use either --query or --file, not both")
	case inline != "":
		return inline, nil
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", errors.New("a query is required (--query or --file)")
	}
}

// parseVariables decodes a JSON object of variables. Empty means none.
func parseVariables(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var vars map[string]any
	if err := codec.UnmarshalFromString(raw, &vars); err != nil {
		return nil, fmt.Errorf("parse variables: %w", err)
	}
	return vars, nil
}

// readQueries collects repeatable --query and --file values. what names the
// operation kind in the error for an empty set.
func readQueries(inline, files []string, stdin io.Reader, what string) ([]string, error) {
	queries := make([]string, 0, len(inline)+len(files))
	queries = append(queries, inline...)
	for _, f := range files {
		q, err := readQuery("", f, stdin)
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("at least one %s is required (--query or --file)", what)
	}
	return queries, nil
}
