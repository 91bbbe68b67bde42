package router

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind identifies a parsed command.
type Kind int

const (
	KindEmpty Kind = iota
	KindChat
	KindHelp
	KindTools
	KindNew
	KindSave
	KindCall
	KindPeers
	KindExit
	KindPeerList
	KindPeerCall
	KindPeerRPC
	KindPeerRestart
)

var (
	// ErrUnknownCommand indicates a slash command the router does not know.
	ErrUnknownCommand = stderrors.New("unknown command")

	// ErrUsage indicates a known command with malformed arguments.
	ErrUsage = stderrors.New("usage")
)

// Command is one parsed input line.
type Command struct {
	Kind Kind

	// Alias is the peer targeted by alias-prefixed verbs.
	Alias string
	// Tool is the tool name for call verbs.
	Tool string
	// Args holds tool arguments for call verbs; always a JSON object.
	Args json.RawMessage
	// Method and Params are the raw request of an rpc verb.
	Method string
	Params json.RawMessage
	// Path is the optional transcript path of /save.
	Path string
	// Text is the chat message.
	Text string
}

type rpcPayload struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Parse turns an input line into a Command. Lines not starting with "/" are
// chat text.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Kind: KindEmpty}, nil
	}

	if !strings.HasPrefix(line, "/") {
		return Command{Kind: KindChat, Text: line}, nil
	}

	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	// Built-in verbs and actions are case-insensitive; aliases keep their case.
	switch strings.ToLower(verb) {
	case "/help", "/?":
		return Command{Kind: KindHelp}, nil
	case "/tools":
		return Command{Kind: KindTools}, nil
	case "/new":
		return Command{Kind: KindNew}, nil
	case "/peers":
		return Command{Kind: KindPeers}, nil
	case "/exit", "/quit", "/q":
		return Command{Kind: KindExit}, nil
	case "/save":
		return Command{Kind: KindSave, Path: rest}, nil
	case "/call":
		name, args, err := parseCall(verb, rest)
		if err != nil {
			return Command{}, err
		}

		return Command{Kind: KindCall, Tool: name, Args: args}, nil
	}

	alias, action, ok := strings.Cut(strings.TrimPrefix(verb, "/"), ".")
	if !ok || alias == "" {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, verb)
	}

	switch strings.ToLower(action) {
	case "list", "tools":
		return Command{Kind: KindPeerList, Alias: alias}, nil
	case "restart":
		return Command{Kind: KindPeerRestart, Alias: alias}, nil
	case "call":
		name, args, err := parseCall(verb, rest)
		if err != nil {
			return Command{}, err
		}

		return Command{Kind: KindPeerCall, Alias: alias, Tool: name, Args: args}, nil
	case "rpc":
		if rest == "" {
			return Command{}, fmt.Errorf(`%w: %s {"method":"tools/list","params":{}}`, ErrUsage, verb)
		}

		var payload rpcPayload
		if err := json.Unmarshal([]byte(rest), &payload); err != nil {
			return Command{}, fmt.Errorf("invalid JSON: %w", err)
		}

		if payload.Method == "" {
			return Command{}, fmt.Errorf(`%w: %s {"method":"tools/list","params":{}}`, ErrUsage, verb)
		}

		return Command{Kind: KindPeerRPC, Alias: alias, Method: payload.Method, Params: payload.Params}, nil
	default:
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, verb)
	}
}

// parseCall splits "NAME {json}" into the tool name and its argument object.
// Missing arguments mean an empty object.
func parseCall(verb, rest string) (string, json.RawMessage, error) {
	name, raw, _ := strings.Cut(rest, " ")
	if name == "" {
		return "", nil, fmt.Errorf("%w: %s NAME {json}", ErrUsage, verb)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return name, json.RawMessage(`{}`), nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", nil, fmt.Errorf("invalid JSON: %w", err)
	}

	return name, json.RawMessage(raw), nil
}
