package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "dlq",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/deadletters",
			QueryFields:  []string{"service", "limit", "offset"},
			Fields: []Field{
				{Name: "service", Prompt: "service", Type: FieldString, Required: true},
				{Name: "limit", Prompt: "limit", Type: FieldInt, Required: false},
				{Name: "offset", Prompt: "offset", Type: FieldInt, Required: false},
			},
		},
		{
			Service:      "dlq",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/deadletters/:id",
			Fields: []Field{
				{Name: "id", Prompt: "dead_letter_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "dlq",
			Action:       "key",
			Method:       "GET",
			PathTemplate: "/api/v1/deadletters/key/:idempotency_key",
			Fields: []Field{
				{Name: "idempotency_key", Aliases: []string{"key"}, Prompt: "idempotency_key", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "dlq",
			Action:       "replay",
			Method:       "POST",
			PathTemplate: "/api/v1/deadletters/:id/replay",
			Fields: []Field{
				{Name: "id", Prompt: "dead_letter_id", Type: FieldInt64, Required: true},
				{Name: "topic", Prompt: "topic", Type: FieldString, Required: false},
			},
		},
		{
			Service:      "dlq",
			Action:       "export",
			Method:       "GET",
			PathTemplate: "/api/v1/deadletters",
			QueryFields:  []string{"service", "limit", "offset"},
			Fields: []Field{
				{Name: "service", Prompt: "service", Type: FieldString, Required: true},
				{Name: "file", Prompt: "output file (.jsonl.zst)", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "cleanup",
			Action:       "initiate",
			Method:       "POST",
			PathTemplate: "/api/v1/sources/:name/cleanup",
			Fields: []Field{
				{Name: "name", Aliases: []string{"source"}, Prompt: "source_name", Type: FieldString, Required: true},
				{Name: "requested_by", Prompt: "requested_by", Type: FieldString, Required: false},
			},
		},
		{
			Service:      "cleanup",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/cleanups/:correlation_id",
			Fields: []Field{
				{Name: "correlation_id", Aliases: []string{"id"}, Prompt: "correlation_id", Type: FieldString, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	path = appendQuery(path, cmd.QueryFields, params)

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"idempotency_key", "correlation_id", "id", "name"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		}
	}
	return path, nil
}

func appendQuery(path string, queryFields []string, params Params) string {
	query := url.Values{}
	for _, name := range queryFields {
		if value := params.Get(name); value != "" {
			query.Set(name, value)
		}
	}
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Service {
	case "dlq":
		if cmd.Action == "replay" {
			if topic := params.Get("topic"); topic != "" {
				return map[string]string{"topic": topic}, nil
			}
			return nil, nil
		}
	case "cleanup":
		if cmd.Action == "initiate" {
			if by := params.Get("requested_by"); by != "" {
				return map[string]string{"requested_by": by}, nil
			}
			return nil, nil
		}
	}
	return nil, nil
}
