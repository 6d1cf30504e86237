// Package config handles configuration loading for coagent-demo.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by .toml extension) with
// environment variable expansion. Every field has a built-in default, so
// the binary runs without any file at all.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COAGENT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coagent/demo.yaml
//  3. ~/.config/coagent/demo.yaml
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:3000"
//	  read_header_timeout: "10s"
//
//	runtime:
//	  endpoint: "/api/copilotkit"
//	  remote_endpoints:
//	    - url: "http://localhost:8080/copilotkit"
//	  service_adapter: "empty"
//	  request_timeout: "0s"
//
//	shell:
//	  agent: "sample_agent"
//	  mode: "sidebar"        # sidebar, popup
//	  default_open: true
//	  history_variant: "records"  # records, strings
//	  labels:
//	    title: "智能AI Copilot"
//
//	database:
//	  path: ""   # empty disables the journal
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
// Syntax for environment variables is ${VAR_NAME}; unset variables expand to
// the empty string.
package config
