// Package config handles configuration loading for relay-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${RELAY_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server and deployment:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	tailscale:
//	  enabled: true
//	  hostname: "relay-gateway"
//	  funnel: true          # public HTTPS for provider webhooks
//
// External collaborators:
//
//	control_plane:
//	  base_url: "http://controlplane.internal:7000"
//	  token: "${RELAY_CONTROL_PLANE_TOKEN}"
//	workflow:
//	  base_url: "http://orchestrator.internal:7233"
//	  task_queue: "agent-actions"
//	  result_timeout: "60s"
//
// Messaging channels (multi-bot directory plus single-token legacy mode):
//
//	channels:
//	  telegram:
//	    enabled: true
//	    default_bot: "main"
//	    bots:
//	      - id: "main"
//	        token: "${RELAY_TG_TOKEN}"
//	        workspaces: ["ws-acme"]
//	  whatsapp:
//	    enabled: true
//	    access_token: "${RELAY_WA_TOKEN}"
//	    phone_number_id: "1234567890"
//	    verify_token: "${RELAY_WA_VERIFY}"
package config
