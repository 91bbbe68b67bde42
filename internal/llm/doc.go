// Package llm is a minimal client for OpenAI-compatible chat completion
// endpoints such as a local Ollama server.
package llm
