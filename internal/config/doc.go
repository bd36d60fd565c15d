// Package config handles configuration loading for lead-gateway.
//
// # Configuration File
//
// The binary reads, in order of preference:
//
//  1. Path from the LEAD_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/lead-gateway/config.yaml
//  3. ~/.config/lead-gateway/config.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}; unset
// variables expand to the empty string:
//
//	openai:
//	  api_key: "${OPENAI_API_KEY}"
//
// # Durations
//
// Duration values use time.ParseDuration syntax ("250ms", "90s", "5m").
//
// # Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "30s"
//	tailscale:
//	  enabled: false
//	  hostname: "lead-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: true              # public HTTPS for the Meta webhook
//	database:
//	  path: "/var/lib/lead-gateway/leads.db"
//	auth:
//	  jwt_secret: "${LEAD_GATEWAY_JWT_SECRET}"   # empty disables /api
//	openai:
//	  backend: "openai"         # or "fake" for offline runs
//	  api_key: "${OPENAI_API_KEY}"
//	  assistant_id: "asst_..."
//	  classifier_model: "gpt-4o"
//	  request_timeout: "30s"
//	whatsapp:
//	  enabled: true
//	  phone_number_id: "..."
//	  access_token: "${WHATSAPP_TOKEN}"
//	  verify_token: "${WHATSAPP_VERIFY_TOKEN}"
//	  app_secret: "${WHATSAPP_APP_SECRET}"
//	  rate_per_second: 20
//	  mark_read: true
//	orchestrator:
//	  turn_timeout: "120s"
//	  run_timeout: "90s"
//	  poll_initial_interval: "500ms"
//	  poll_max_interval: "5s"
//	qualification:
//	  mode: "classifier"        # or "heuristic"
//	tools:
//	  timeout: "5s"
//	  disabled: []
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text, json, color
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Load applies defaults and then Validate, which reports the first problem
// found.
package config
