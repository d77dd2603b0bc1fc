// orchestratorctl is a thin operator CLI over orchestratord's MCP tool
// surface. It spawns the server binary as a subprocess over stdio (there is
// no HTTP API to dial) and renders the uniform tool envelope.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultServerPath = "orchestratord"

type cliConfig struct {
	serverPath string
	jsonOutput bool
}

func main() {
	cfg, command, args, err := parseArgs(os.Args[1:])
	if errors.Is(err, errShowUsage) {
		printUsage()
		if len(os.Args) == 1 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	if command == "version" {
		fmt.Printf("orchestratorctl %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}
	if command == "help" || command == "" {
		printUsage()
		if command == "" {
			os.Exit(1)
		}
		return
	}

	ctx := context.Background()
	client, err := Dial(ctx, cfg.serverPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	switch command {
	case "jobs":
		err = runJobs(ctx, client, cfg, args)
	case "runners":
		err = runRunners(ctx, client, cfg, args)
	case "radar":
		err = runRadar(ctx, client, cfg, args)
	case "routing":
		err = runRouting(ctx, client, cfg, args)
	default:
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errShowUsage = errors.New("show usage")

func parseArgs(args []string) (cliConfig, string, []string, error) {
	cfg := cliConfig{serverPath: defaultServerPath}
	if p := os.Getenv("ORCHESTRATORD_PATH"); p != "" {
		cfg.serverPath = p
	}

	idx := 0
	for idx < len(args) {
		arg := args[idx]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		switch arg {
		case "--help", "-h":
			return cfg, "", nil, errShowUsage
		case "--server-path":
			if idx+1 >= len(args) {
				return cfg, "", nil, fmt.Errorf("--server-path requires a value")
			}
			cfg.serverPath = args[idx+1]
			idx += 2
		case "--json":
			cfg.jsonOutput = true
			idx++
		default:
			return cfg, "", nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if idx >= len(args) {
		return cfg, "", nil, errShowUsage
	}

	return cfg, args[idx], args[idx+1:], nil
}

func printUsage() {
	fmt.Print(`Usage: orchestratorctl [--server-path <path>] [--json] <command>

Commands:
  jobs create --workspace <ws> --title <title> --prompt <text> [--kind <kind>] [--priority <p>] [--meta <json>]
  jobs list --workspace <ws> [--status <status>]
  jobs get <job-id>
  jobs cancel <job-id> [--expected-revision <n>] [--reason <text>]
  jobs requeue <job-id> [--reason <text>]
  runners list --workspace <ws> [--offline]
  radar query --workspace <ws>
  radar diagnose --workspace <ws>
  routing select --workspace <ws> --profile <fast|deep|audit> [--artifact <name>]...

The ORCHESTRATORD_PATH environment variable overrides the orchestratord
binary location (default: "orchestratord", resolved via $PATH).
`)
}

func runJobs(ctx context.Context, client *Client, cfg cliConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: orchestratorctl jobs <create|list|get|cancel|requeue>")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "create":
		flags, err := parseFlags(rest, map[string]bool{"workspace": true, "title": true, "prompt": true, "kind": true, "priority": true, "meta": true})
		if err != nil {
			return err
		}
		if flags["workspace"] == "" || flags["title"] == "" || flags["prompt"] == "" {
			return fmt.Errorf("usage: orchestratorctl jobs create --workspace <ws> --title <title> --prompt <text>")
		}
		callArgs := map[string]any{"workspace": flags["workspace"], "title": flags["title"], "prompt": flags["prompt"]}
		if flags["kind"] != "" {
			callArgs["kind"] = flags["kind"]
		}
		if flags["priority"] != "" {
			callArgs["priority"] = flags["priority"]
		}
		if flags["meta"] != "" {
			var meta any
			if err := json.Unmarshal([]byte(flags["meta"]), &meta); err != nil {
				return fmt.Errorf("--meta must be valid JSON: %w", err)
			}
			callArgs["meta"] = meta
		}
		return call(ctx, client, cfg, "jobs_create", callArgs)

	case "list":
		flags, err := parseFlags(rest, map[string]bool{"workspace": true, "status": true})
		if err != nil {
			return err
		}
		if flags["workspace"] == "" {
			return fmt.Errorf("usage: orchestratorctl jobs list --workspace <ws>")
		}
		callArgs := map[string]any{"workspace": flags["workspace"]}
		if flags["status"] != "" {
			callArgs["status"] = flags["status"]
		}
		return call(ctx, client, cfg, "jobs_list", callArgs)

	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("usage: orchestratorctl jobs get <job-id>")
		}
		return call(ctx, client, cfg, "jobs_get", map[string]any{"id": rest[0]})

	case "cancel":
		if len(rest) < 1 {
			return fmt.Errorf("usage: orchestratorctl jobs cancel <job-id> [--expected-revision <n>] [--reason <text>]")
		}
		jobID := rest[0]
		flags, err := parseFlags(rest[1:], map[string]bool{"expected-revision": true, "reason": true})
		if err != nil {
			return err
		}
		callArgs := map[string]any{"id": jobID}
		if flags["expected-revision"] != "" {
			rev, err := strconv.ParseInt(flags["expected-revision"], 10, 64)
			if err != nil {
				return fmt.Errorf("--expected-revision must be an integer: %w", err)
			}
			callArgs["expected_revision"] = rev
		}
		if flags["reason"] != "" {
			callArgs["reason"] = flags["reason"]
		}
		return call(ctx, client, cfg, "jobs_cancel", callArgs)

	case "requeue":
		if len(rest) < 1 {
			return fmt.Errorf("usage: orchestratorctl jobs requeue <job-id> [--reason <text>]")
		}
		jobID := rest[0]
		flags, err := parseFlags(rest[1:], map[string]bool{"reason": true})
		if err != nil {
			return err
		}
		callArgs := map[string]any{"id": jobID}
		if flags["reason"] != "" {
			callArgs["reason"] = flags["reason"]
		}
		return call(ctx, client, cfg, "jobs_requeue", callArgs)

	default:
		return fmt.Errorf("unknown jobs command: %s", sub)
	}
}

func runRunners(ctx context.Context, client *Client, cfg cliConfig, args []string) error {
	if len(args) == 0 || args[0] != "list" {
		return fmt.Errorf("usage: orchestratorctl runners list --workspace <ws> [--offline]")
	}
	flags, err := parseFlags(args[1:], map[string]bool{"workspace": true, "offline": false})
	if err != nil {
		return err
	}
	if flags["workspace"] == "" {
		return fmt.Errorf("usage: orchestratorctl runners list --workspace <ws> [--offline]")
	}
	callArgs := map[string]any{"workspace": flags["workspace"]}
	if _, ok := flags["offline"]; ok {
		callArgs["offline"] = true
	}
	return call(ctx, client, cfg, "runners_list", callArgs)
}

func runRadar(ctx context.Context, client *Client, cfg cliConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: orchestratorctl radar <query|diagnose> --workspace <ws>")
	}
	sub, rest := args[0], args[1:]
	flags, err := parseFlags(rest, map[string]bool{"workspace": true})
	if err != nil {
		return err
	}
	if flags["workspace"] == "" {
		return fmt.Errorf("usage: orchestratorctl radar %s --workspace <ws>", sub)
	}
	switch sub {
	case "query":
		return call(ctx, client, cfg, "radar_query", map[string]any{"workspace": flags["workspace"]})
	case "diagnose":
		return call(ctx, client, cfg, "radar_diagnose", map[string]any{"workspace": flags["workspace"]})
	default:
		return fmt.Errorf("unknown radar command: %s", sub)
	}
}

func runRouting(ctx context.Context, client *Client, cfg cliConfig, args []string) error {
	if len(args) == 0 || args[0] != "select" {
		return fmt.Errorf("usage: orchestratorctl routing select --workspace <ws> --profile <fast|deep|audit>")
	}
	rest := args[1:]
	var artifacts []string
	var plain []string
	for i := 0; i < len(rest); i++ {
		if rest[i] == "--artifact" {
			if i+1 >= len(rest) {
				return fmt.Errorf("--artifact requires a value")
			}
			artifacts = append(artifacts, rest[i+1])
			i++
			continue
		}
		plain = append(plain, rest[i])
	}

	flags, err := parseFlags(plain, map[string]bool{"workspace": true, "profile": true})
	if err != nil {
		return err
	}
	if flags["workspace"] == "" || flags["profile"] == "" {
		return fmt.Errorf("usage: orchestratorctl routing select --workspace <ws> --profile <fast|deep|audit>")
	}
	callArgs := map[string]any{"workspace": flags["workspace"], "requested_profile": flags["profile"]}
	if len(artifacts) > 0 {
		callArgs["expected_artifacts"] = artifacts
	}
	return call(ctx, client, cfg, "routing_select", callArgs)
}

// parseFlags parses "--name value" pairs (and bare "--name" boolean flags,
// for names the known map sets to false) into a string map.
func parseFlags(args []string, known map[string]bool) (map[string]string, error) {
	out := make(map[string]string, len(known))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		name := strings.TrimPrefix(arg, "--")
		needsValue, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !needsValue {
			out[name] = "true"
			continue
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("--%s requires a value", name)
		}
		out[name] = args[i+1]
		i++
	}
	return out, nil
}

// call invokes a tool and prints its envelope, either as raw JSON (--json)
// or a short human summary over the pretty-printed result/error.
func call(ctx context.Context, client *Client, cfg cliConfig, tool string, args map[string]any) error {
	raw, err := client.CallTool(ctx, tool, args)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		fmt.Println(string(raw))
		return nil
	}
	return printEnvelope(raw)
}

type envelope struct {
	Success bool            `json:"success"`
	Intent  string          `json:"intent"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Recovery string `json:"recovery,omitempty"`
	} `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func printEnvelope(raw json.RawMessage) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		fmt.Println(string(raw))
		return nil
	}

	if !env.Success {
		fmt.Printf("FAILED (%s): %s\n", env.Intent, env.Error.Message)
		if env.Error.Recovery != "" {
			fmt.Printf("recovery: %s\n", env.Error.Recovery)
		}
		return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}

	fmt.Printf("OK (%s)\n", env.Intent)
	if len(env.Result) > 0 {
		pretty, err := indentJSON(env.Result)
		if err != nil {
			fmt.Println(string(env.Result))
		} else {
			fmt.Println(pretty)
		}
	}
	for _, w := range env.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return nil
}

func indentJSON(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
