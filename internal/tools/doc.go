// Package tools provides the reference tool handlers.
//
// Local tools (sum, llm_chat, data_profile, ts_forecast, report_generate,
// project_scaffold) are registered on the host's own registry. Filesystem and
// git tools are served by peer processes. Every file access goes through a
// sandbox.Sandbox.
package tools
