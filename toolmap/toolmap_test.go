package toolmap

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestMapScalars(t *testing.T) {
	m := New(WithInstanceURL("https://gitlab.example.com/"))

	cases := []struct {
		name     string
		tool     string
		args     map[string]any
		wantTool string
		wantArgs map[string]any
	}{
		{
			name:     "list_dir",
			tool:     "list_dir",
			args:     map[string]any{"directory": "src"},
			wantTool: HostRead,
			wantArgs: map[string]any{"filePath": "src"},
		},
		{
			name:     "list_dir defaults to cwd",
			tool:     "list_dir",
			args:     map[string]any{},
			wantTool: HostRead,
			wantArgs: map[string]any{"filePath": "."},
		},
		{
			name:     "read_file",
			tool:     "read_file",
			args:     map[string]any{"file_path": "main.go"},
			wantTool: HostRead,
			wantArgs: map[string]any{"filePath": "main.go"},
		},
		{
			name:     "read_file alternate key filepath",
			tool:     "read_file",
			args:     map[string]any{"filepath": "main.go"},
			wantTool: HostRead,
			wantArgs: map[string]any{"filePath": "main.go"},
		},
		{
			name:     "read_file alternate key filePath",
			tool:     "read_file",
			args:     map[string]any{"filePath": "main.go"},
			wantTool: HostRead,
			wantArgs: map[string]any{"filePath": "main.go"},
		},
		{
			name:     "read_file alternate key path",
			tool:     "read_file",
			args:     map[string]any{"path": "main.go"},
			wantTool: HostRead,
			wantArgs: map[string]any{"filePath": "main.go"},
		},
		{
			name:     "read_file carries offset and limit",
			tool:     "read_file",
			args:     map[string]any{"file_path": "main.go", "offset": float64(10), "limit": float64(50)},
			wantTool: HostRead,
			wantArgs: map[string]any{"filePath": "main.go", "offset": float64(10), "limit": float64(50)},
		},
		{
			name:     "read_file without a path passes through",
			tool:     "read_file",
			args:     map[string]any{"offset": float64(10)},
			wantTool: "read_file",
			wantArgs: map[string]any{"offset": float64(10)},
		},
		{
			name:     "create_file_with_contents",
			tool:     "create_file_with_contents",
			args:     map[string]any{"file_path": "out.txt", "contents": "hello"},
			wantTool: HostWrite,
			wantArgs: map[string]any{"filePath": "out.txt", "content": "hello"},
		},
		{
			name:     "edit_file",
			tool:     "edit_file",
			args:     map[string]any{"file_path": "main.go", "old_str": "a", "new_str": "b"},
			wantTool: HostEdit,
			wantArgs: map[string]any{"filePath": "main.go", "oldString": "a", "newString": "b"},
		},
		{
			name:     "find_files",
			tool:     "find_files",
			args:     map[string]any{"name_pattern": "*.go"},
			wantTool: HostGlob,
			wantArgs: map[string]any{"pattern": "*.go"},
		},
		{
			name:     "grep",
			tool:     "grep",
			args:     map[string]any{"pattern": "TODO"},
			wantTool: HostGrep,
			wantArgs: map[string]any{"pattern": "TODO"},
		},
		{
			name:     "grep case insensitive",
			tool:     "grep",
			args:     map[string]any{"pattern": "todo", "case_insensitive": true},
			wantTool: HostGrep,
			wantArgs: map[string]any{"pattern": "(?i)todo"},
		},
		{
			name:     "grep already prefixed",
			tool:     "grep",
			args:     map[string]any{"pattern": "(?i)todo", "case_insensitive": true},
			wantTool: HostGrep,
			wantArgs: map[string]any{"pattern": "(?i)todo"},
		},
		{
			name:     "grep scoped to a directory",
			tool:     "grep",
			args:     map[string]any{"pattern": "TODO", "search_directory": "internal"},
			wantTool: HostGrep,
			wantArgs: map[string]any{"pattern": "TODO", "path": "internal"},
		},
		{
			name:     "mkdir quotes the path",
			tool:     "mkdir",
			args:     map[string]any{"directory_path": "my dir"},
			wantTool: HostBash,
			wantArgs: map[string]any{"command": "mkdir -p 'my dir'"},
		},
		{
			name:     "shell_command passes the command verbatim",
			tool:     "shell_command",
			args:     map[string]any{"command": "echo $HOME | wc -c"},
			wantTool: HostBash,
			wantArgs: map[string]any{"command": "echo $HOME | wc -c"},
		},
		{
			name:     "run_command with explicit command",
			tool:     "run_command",
			args:     map[string]any{"command": "make test"},
			wantTool: HostBash,
			wantArgs: map[string]any{"command": "make test"},
		},
		{
			name:     "run_command joins program flags and arguments",
			tool:     "run_command",
			args:     map[string]any{"program": "ls", "flags": []any{"-la"}, "arguments": []any{"src dir"}},
			wantTool: HostBash,
			wantArgs: map[string]any{"command": "ls -la 'src dir'"},
		},
		{
			name:     "run_git_command with argument list",
			tool:     "run_git_command",
			args:     map[string]any{"command": "commit", "args": []any{"-m", "fix bug"}},
			wantTool: HostBash,
			wantArgs: map[string]any{"command": "git commit -m 'fix bug'"},
		},
		{
			name:     "run_git_command with argument string",
			tool:     "run_git_command",
			args:     map[string]any{"command": "status", "args": "--short --branch"},
			wantTool: HostBash,
			wantArgs: map[string]any{"command": "git status --short --branch"},
		},
		{
			name:     "gitlab_api_request defaults to GET",
			tool:     "gitlab_api_request",
			args:     map[string]any{"path": "projects"},
			wantTool: HostBash,
			wantArgs: map[string]any{
				"command": "curl -s -X GET -H 'Authorization: Bearer $TOKEN' -H 'Content-Type: application/json' https://gitlab.example.com/api/v4/projects",
			},
		},
		{
			name:     "gitlab_api_request with body",
			tool:     "gitlab_api_request",
			args:     map[string]any{"method": "post", "path": "/projects", "body": map[string]any{"title": "x"}},
			wantTool: HostBash,
			wantArgs: map[string]any{
				"command": `curl -s -X POST -H 'Authorization: Bearer $TOKEN' -H 'Content-Type: application/json' -d '{"title":"x"}' https://gitlab.example.com/api/v4/projects`,
			},
		},
		{
			name:     "unknown tool passes through",
			tool:     "deploy_to_production",
			args:     map[string]any{"cluster": "prod"},
			wantTool: "deploy_to_production",
			wantArgs: map[string]any{"cluster": "prod"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mapped := m.Map(c.tool, c.args)
			require.Len(t, mapped.Calls, 1)
			require.False(t, mapped.Expanded)
			require.Equal(t, c.wantTool, mapped.Calls[0].Name)
			require.Equal(t, c.wantArgs, mapped.Calls[0].Args)
			require.Empty(t, mapped.Calls[0].Label)
		})
	}
}

func TestMapReadFilesFanOut(t *testing.T) {
	m := New()

	mapped := m.Map("read_files", map[string]any{"file_paths": []any{"a.go", "b.go", "c.go"}})
	require.True(t, mapped.Expanded)
	require.Len(t, mapped.Calls, 3)
	for i, path := range []string{"a.go", "b.go", "c.go"} {
		require.Equal(t, HostRead, mapped.Calls[i].Name)
		require.Equal(t, map[string]any{"filePath": path}, mapped.Calls[i].Args)
		require.Equal(t, path, mapped.Calls[i].Label)
	}

	empty := m.Map("read_files", map[string]any{"file_paths": []any{}})
	require.False(t, empty.Expanded)
	require.Len(t, empty.Calls, 1)
	require.Equal(t, "read_files", empty.Calls[0].Name)
}

func TestMapRelativeAPIURLWithoutInstance(t *testing.T) {
	m := New()
	mapped := m.Map("gitlab_api_request", map[string]any{"path": "user"})
	require.Equal(t,
		"curl -s -X GET -H 'Authorization: Bearer $TOKEN' -H 'Content-Type: application/json' /api/v4/user",
		mapped.Calls[0].Args["command"])
}

// reverseCall rebuilds the service-side action for a host call so the
// mapping can be applied twice.
func reverseCall(call HostCall) (string, map[string]any) {
	switch call.Name {
	case HostRead:
		out := map[string]any{"file_path": call.Args["filePath"]}
		if v, ok := call.Args["offset"]; ok {
			out["offset"] = v
		}
		if v, ok := call.Args["limit"]; ok {
			out["limit"] = v
		}
		return "read_file", out
	case HostWrite:
		return "create_file_with_contents", map[string]any{
			"file_path": call.Args["filePath"],
			"contents":  call.Args["content"],
		}
	case HostEdit:
		return "edit_file", map[string]any{
			"file_path": call.Args["filePath"],
			"old_str":   call.Args["oldString"],
			"new_str":   call.Args["newString"],
		}
	case HostGlob:
		return "find_files", map[string]any{"name_pattern": call.Args["pattern"]}
	case HostGrep:
		out := map[string]any{"pattern": call.Args["pattern"]}
		if v, ok := call.Args["path"]; ok {
			out["search_directory"] = v
		}
		return "grep", out
	}
	return call.Name, call.Args
}

func TestMapRoundTripProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	m := New()

	properties.Property("mapping is stable under the reverse schema", prop.ForAll(
		func(tool, path, aux string, insensitive bool) bool {
			var args map[string]any
			switch tool {
			case "read_file":
				args = map[string]any{"file_path": path}
			case "create_file_with_contents":
				args = map[string]any{"file_path": path, "contents": aux}
			case "edit_file":
				args = map[string]any{"file_path": path, "old_str": aux, "new_str": aux + "2"}
			case "find_files":
				args = map[string]any{"name_pattern": path}
			case "grep":
				args = map[string]any{"pattern": path, "case_insensitive": insensitive}
			}
			first := m.Map(tool, args)
			if len(first.Calls) != 1 {
				return false
			}
			again, againArgs := reverseCall(first.Calls[0])
			second := m.Map(again, againArgs)
			return reflect.DeepEqual(first, second)
		},
		gen.OneConstOf("read_file", "create_file_with_contents", "edit_file", "find_files", "grep"),
		gen.AnyString(),
		gen.AnyString(),
		gen.Bool(),
	))

	properties.Property("fan-out elements round-trip as single reads", prop.ForAll(
		func(paths []string) bool {
			raw := make([]any, len(paths))
			for i, p := range paths {
				raw[i] = p
			}
			mapped := m.Map("read_files", map[string]any{"file_paths": raw})
			if !mapped.Expanded || len(mapped.Calls) != len(paths) {
				return false
			}
			for i, call := range mapped.Calls {
				if call.Label != paths[i] {
					return false
				}
				tool, args := reverseCall(call)
				single := m.Map(tool, args)
				if len(single.Calls) != 1 || !reflect.DeepEqual(single.Calls[0].Args, call.Args) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.Identifier()),
	))

	properties.TestingRun(t)
}
