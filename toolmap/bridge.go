package toolmap

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Bridge program sentinels. The workflow service reaches host-native tools
// by issuing run_command with one of these program names; the payload rides
// in arguments[0] or embedded after the program name in a command string.
const (
	ProgramTodoRead  = "__todo_read__"
	ProgramTodoWrite = "__todo_write__"
	ProgramWebFetch  = "__webfetch__"
	ProgramQuestion  = "__question__"
	ProgramSkill     = "__skill__"
)

// bridgePrograms maps each sentinel to its host tool.
var bridgePrograms = map[string]string{
	ProgramTodoRead:  HostTodoRead,
	ProgramTodoWrite: HostTodoWrite,
	ProgramWebFetch:  HostWebFetch,
	ProgramQuestion:  HostQuestion,
	ProgramSkill:     HostSkill,
}

// bridgeSchemaSources holds the payload schema for each bridge host tool.
var bridgeSchemaSources = map[string]string{
	HostTodoRead: `{"type":"object"}`,
	HostTodoWrite: `{
		"type": "object",
		"required": ["todos"],
		"properties": {
			"todos": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["content", "status", "priority"],
					"properties": {
						"content": {"type": "string"},
						"status": {"enum": ["pending", "in_progress", "completed", "cancelled"]},
						"priority": {"enum": ["high", "medium", "low"]}
					}
				}
			}
		}
	}`,
	HostWebFetch: `{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string"},
			"format": {"enum": ["text", "markdown", "html"]},
			"timeout": {"type": "number", "exclusiveMinimum": 0}
		}
	}`,
	HostQuestion: `{
		"type": "object",
		"required": ["questions"],
		"properties": {
			"questions": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["question", "header", "options"],
					"properties": {
						"question": {"type": "string"},
						"header": {"type": "string"},
						"options": {
							"type": "array",
							"minItems": 1,
							"items": {
								"type": "object",
								"required": ["label", "description"],
								"properties": {
									"label": {"type": "string"},
									"description": {"type": "string"}
								}
							}
						},
						"multiple": {"type": "boolean"}
					}
				}
			}
		}
	}`,
	HostSkill: `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string", "minLength": 1}
		}
	}`,
}

// bridgeSchemas holds the compiled payload schemas, keyed by host tool.
var bridgeSchemas = compileBridgeSchemas()

func compileBridgeSchemas() map[string]*jsonschema.Schema {
	compiled := make(map[string]*jsonschema.Schema, len(bridgeSchemaSources))
	for tool, src := range bridgeSchemaSources {
		var doc any
		if err := json.Unmarshal([]byte(src), &doc); err != nil {
			panic(fmt.Sprintf("toolmap: bridge schema for %s is not valid JSON: %v", tool, err))
		}
		c := jsonschema.NewCompiler()
		name := tool + ".json"
		if err := c.AddResource(name, doc); err != nil {
			panic(fmt.Sprintf("toolmap: add bridge schema for %s: %v", tool, err))
		}
		schema, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("toolmap: compile bridge schema for %s: %v", tool, err))
		}
		compiled[tool] = schema
	}
	return compiled
}

// bridgePayload recognizes a bridge program invocation in a run_command
// action. The payload comes from arguments[0] when present, otherwise from
// the text following the program name in the command string.
func bridgePayload(program, command string, args map[string]any) (prog, payload string, ok bool) {
	if _, known := bridgePrograms[program]; known {
		if list := stringSliceArg(args, "arguments"); len(list) > 0 {
			return program, list[0], true
		}
		if rest, found := strings.CutPrefix(command, program+" "); found {
			return program, rest, true
		}
		return program, "", true
	}
	if command == "" {
		return "", "", false
	}
	for sentinel := range bridgePrograms {
		if command == sentinel {
			return sentinel, "", true
		}
		if rest, found := strings.CutPrefix(command, sentinel+" "); found {
			return sentinel, rest, true
		}
	}
	return "", "", false
}

// mapBridge parses and validates a bridge payload, producing either the host
// tool call or the synthetic invalid call describing the failure.
func mapBridge(program, rawPayload string) HostCall {
	tool := bridgePrograms[program]

	payload := stripQuoteLayer(strings.TrimSpace(rawPayload))
	if payload == "" {
		payload = "{}"
	}

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return invalidCall(tool, fmt.Sprintf("%s payload is not valid JSON", program))
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return invalidCall(tool, fmt.Sprintf("%s payload is not a JSON object", program))
	}
	if err := bridgeSchemas[tool].Validate(obj); err != nil {
		return invalidCall(tool, fmt.Sprintf("%s payload failed validation: %v", program, err))
	}

	if tool == HostSkill {
		name, _ := obj["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return invalidCall(tool, fmt.Sprintf("%s payload requires a non-empty name", program))
		}
		obj["name"] = name
	}

	return HostCall{Name: tool, Args: obj}
}

// stripQuoteLayer removes exactly one layer of matching wrapping quotes.
// Payloads embedded in shell commands often arrive quoted once; the JSON
// inside must not lose its own quoting.
func stripQuoteLayer(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first == last && (first == '\'' || first == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

func invalidCall(tool, message string) HostCall {
	return HostCall{
		Name: HostInvalid,
		Args: map[string]any{"tool": tool, "error": message},
	}
}
