// Package router implements the interactive command surface.
//
// Each input line is parsed into a Command. Alias-prefixed verbs route to that
// alias's Peer, /call routes to the local registry, and router-local verbs
// (help, tools, new, save, peers, exit) need no protocol traffic. Free text is
// a chat turn: the router owns the conversation and passes the full history
// to the llm_chat tool on every call.
package router
