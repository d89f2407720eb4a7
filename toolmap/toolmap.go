// Package toolmap translates workflow service tool invocations into host
// tool calls. The translation is pure: every service call maps to at least
// one host call, with read_files fanning out into one read per path and
// sentinel "bridge programs" routed to dedicated host tools. Failures never
// escape as errors; malformed bridge payloads surface to the host as a
// synthetic "invalid" tool call carrying a structured description.
package toolmap

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Host tool names the mapper emits.
const (
	HostRead      = "read"
	HostWrite     = "write"
	HostEdit      = "edit"
	HostGlob      = "glob"
	HostGrep      = "grep"
	HostBash      = "bash"
	HostTodoRead  = "todoread"
	HostTodoWrite = "todowrite"
	HostWebFetch  = "webfetch"
	HostQuestion  = "question"
	HostSkill     = "skill"
	// HostInvalid signals a rejected bridge payload. Args carry the target
	// tool and a descriptive error instead of the tool's own arguments.
	HostInvalid = "invalid"
)

type (
	// HostCall is a single host tool invocation produced by the mapper.
	HostCall struct {
		// Name is the host tool name.
		Name string
		// Args holds the host tool arguments. Never nil.
		Args map[string]any
		// Label is the aggregation key recorded for fan-out calls, the path
		// of the element the call covers. Empty for scalar calls.
		Label string
	}

	// Mapped is the outcome of translating one service tool invocation.
	Mapped struct {
		// Calls holds at least one host call.
		Calls []HostCall
		// Expanded reports a fan-out: results of the individual calls must
		// be aggregated into a single response for the original request.
		Expanded bool
	}

	// Mapper translates service tool names and arguments into host calls.
	// The zero value is not usable; construct with New.
	Mapper struct {
		instanceURL string
	}

	// Option configures a Mapper.
	Option func(*Mapper)
)

// WithInstanceURL sets the instance base URL used to build absolute API
// passthrough commands.
func WithInstanceURL(u string) Option {
	return func(m *Mapper) {
		m.instanceURL = strings.TrimSuffix(u, "/")
	}
}

// New constructs a Mapper.
func New(opts ...Option) *Mapper {
	m := &Mapper{}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Map translates a service tool invocation into host calls. Unrecognized
// names pass through unchanged so the host can reject them with its own
// unknown-tool handling.
func (m *Mapper) Map(name string, args map[string]any) Mapped {
	if args == nil {
		args = make(map[string]any)
	}
	switch name {
	case "list_dir":
		dir, ok := stringArg(args, "directory")
		if !ok {
			dir = "."
		}
		return scalar(HostRead, map[string]any{"filePath": dir})

	case "read_file":
		path, ok := stringArg(args, "file_path", "filepath", "filePath", "path")
		if !ok {
			return passthrough(name, args)
		}
		out := map[string]any{"filePath": path}
		if v, ok := args["offset"]; ok {
			out["offset"] = v
		}
		if v, ok := args["limit"]; ok {
			out["limit"] = v
		}
		return scalar(HostRead, out)

	case "read_files":
		paths := stringSliceArg(args, "file_paths", "filepaths")
		if len(paths) == 0 {
			return passthrough(name, args)
		}
		calls := make([]HostCall, len(paths))
		for i, p := range paths {
			calls[i] = HostCall{
				Name:  HostRead,
				Args:  map[string]any{"filePath": p},
				Label: p,
			}
		}
		return Mapped{Calls: calls, Expanded: true}

	case "create_file_with_contents":
		path, _ := stringArg(args, "file_path", "filepath", "filePath", "path")
		contents, _ := stringArg(args, "contents")
		return scalar(HostWrite, map[string]any{"filePath": path, "content": contents})

	case "edit_file":
		path, _ := stringArg(args, "file_path", "filepath", "filePath", "path")
		oldStr, _ := stringArg(args, "old_str")
		newStr, _ := stringArg(args, "new_str")
		return scalar(HostEdit, map[string]any{
			"filePath":  path,
			"oldString": oldStr,
			"newString": newStr,
		})

	case "find_files":
		pattern, _ := stringArg(args, "name_pattern")
		return scalar(HostGlob, map[string]any{"pattern": pattern})

	case "grep":
		pattern, _ := stringArg(args, "pattern")
		if boolArg(args, "case_insensitive") && !strings.HasPrefix(pattern, "(?i)") {
			pattern = "(?i)" + pattern
		}
		out := map[string]any{"pattern": pattern}
		if dir, ok := stringArg(args, "search_directory"); ok {
			out["path"] = dir
		}
		return scalar(HostGrep, out)

	case "mkdir":
		dir, _ := stringArg(args, "directory_path")
		return scalar(HostBash, map[string]any{"command": "mkdir -p " + ShellQuote(dir)})

	case "shell_command":
		command, _ := stringArg(args, "command")
		return scalar(HostBash, map[string]any{"command": command})

	case "run_command":
		return m.mapRunCommand(args)

	case "run_git_command":
		return scalar(HostBash, map[string]any{"command": gitCommand(args)})

	case "gitlab_api_request":
		return scalar(HostBash, map[string]any{"command": m.curlCommand(args)})
	}
	return passthrough(name, args)
}

// mapRunCommand handles the run_command action: bridge programs dispatch to
// dedicated host tools, everything else becomes a bash invocation.
func (m *Mapper) mapRunCommand(args map[string]any) Mapped {
	program, _ := stringArg(args, "program")
	command, _ := stringArg(args, "command")

	if prog, payload, ok := bridgePayload(program, command, args); ok {
		return Mapped{Calls: []HostCall{mapBridge(prog, payload)}}
	}

	if command != "" {
		return scalar(HostBash, map[string]any{"command": command})
	}

	tokens := make([]string, 0, 8)
	if program != "" {
		tokens = append(tokens, program)
	}
	tokens = append(tokens, stringSliceArg(args, "flags")...)
	tokens = append(tokens, stringSliceArg(args, "arguments")...)
	return scalar(HostBash, map[string]any{"command": ShellJoin(tokens)})
}

// gitCommand builds the shell command for run_git_command.
func gitCommand(args map[string]any) string {
	command, _ := stringArg(args, "command")
	tokens := []string{"git", command}
	switch v := args["args"].(type) {
	case []any:
		for _, a := range v {
			tokens = append(tokens, fmt.Sprint(a))
		}
	case string:
		tokens = append(tokens, strings.Fields(v)...)
	}
	return ShellJoin(tokens)
}

// curlCommand builds the authenticated curl literal for gitlab_api_request.
// The token reference stays unexpanded inside single quotes; the host
// substitutes it at execution time.
func (m *Mapper) curlCommand(args map[string]any) string {
	method, ok := stringArg(args, "method")
	if !ok {
		method = "GET"
	}
	method = strings.ToUpper(method)
	path, _ := stringArg(args, "path")

	tokens := []string{
		"curl", "-s", "-X", method,
		"-H", "Authorization: Bearer $TOKEN",
		"-H", "Content-Type: application/json",
	}
	if body, ok := bodyArg(args); ok {
		tokens = append(tokens, "-d", body)
	}
	tokens = append(tokens, m.apiURL(path))
	return ShellJoin(tokens)
}

// apiURL resolves an api/v4 path against the configured instance URL.
func (m *Mapper) apiURL(path string) string {
	path = strings.TrimPrefix(path, "/")
	if m.instanceURL == "" {
		return "/api/v4/" + path
	}
	return m.instanceURL + "/api/v4/" + path
}

// bodyArg returns the request body as a string. Object bodies are
// re-encoded as JSON.
func bodyArg(args map[string]any) (string, bool) {
	v, ok := args["body"]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// stringArg returns the first non-empty string value among the given keys.
func stringArg(args map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// stringSliceArg returns the first list value among the given keys with its
// elements rendered as strings.
func stringSliceArg(args map[string]any, keys ...string) []string {
	for _, k := range keys {
		list, ok := args[k].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(list))
		for _, v := range list {
			out = append(out, fmt.Sprint(v))
		}
		return out
	}
	return nil
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func scalar(name string, callArgs map[string]any) Mapped {
	return Mapped{Calls: []HostCall{{Name: name, Args: callArgs}}}
}

func passthrough(name string, args map[string]any) Mapped {
	return Mapped{Calls: []HostCall{{Name: name, Args: args}}}
}
