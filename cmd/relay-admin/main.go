// ABOUTME: Admin CLI for relay-gateway approvals and channel links
// ABOUTME: Talks to the versioned HTTP API with JWT bearer authentication

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
           _                           _           _
  _ __ ___| | __ _ _   _          __ _| |_ __ ___ (_)_ __
 | '__/ _ \ |/ _' | | | | _____  / _' | | '_ ' _ \| | '_ \
 | | |  __/ | (_| | |_| ||_____|| (_| | | | | | | | | | | |
 |_|  \___|_|\__,_|\__, |        \__,_|_|_| |_| |_|_|_| |_|
                   |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("RELAY_GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	token := getToken()

	c := &client{baseURL: baseURL, token: token}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "pending":
		err = cmdPending(c)
	case "show":
		err = cmdShow(c, args)
	case "approve":
		err = cmdApprove(c, args)
	case "deny":
		err = cmdDeny(c, args)
	case "link":
		err = cmdLink(c, args)
	case "status":
		err = cmdStatus(c)
	case "disconnect":
		err = cmdDisconnect(c)
	case "watch":
		err = cmdWatch(c)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: relay-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  pending                    List pending approval requests")
	fmt.Println("  show <envelope-id>         Show one approval request in full")
	fmt.Println("  approve <envelope-id>      Approve a pending request")
	fmt.Println("  deny <envelope-id> [--reason TEXT]")
	fmt.Println("                             Deny a pending request")
	fmt.Println("  link                       Issue a link code and wait for the chat")
	fmt.Println("  link complete <code>       Finish a link handshake manually")
	fmt.Println("  status                     Show channel link status")
	fmt.Println("  disconnect                 Remove the workspace's channel link")
	fmt.Println("  watch                      Tail workspace events (SSE)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  RELAY_GATEWAY_URL          Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  RELAY_TOKEN                JWT bearer token (or ~/.config/relay/token)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export RELAY_TOKEN=\"eyJhbG...\"")
	fmt.Println("  relay-admin pending")
	fmt.Println("  relay-admin approve env-4f21")
	fmt.Println("  relay-admin deny env-4f21 --reason 'wrong recipient'")
	fmt.Println()
}

// client is a thin wrapper over the gateway HTTP API.
type client struct {
	baseURL string
	token   string
}

// do performs an authenticated request and decodes the JSON response into out.
// Non-2xx responses are turned into errors carrying the server's message.
func (c *client) do(method, path string, body, out any) error {
	if c.token == "" {
		return fmt.Errorf("RELAY_TOKEN environment variable is required")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("%s (status %d)", errBody.Error, resp.StatusCode)
		}
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// envelopeSummary mirrors the list item shape returned by the API.
type envelopeSummary struct {
	ID          string    `json:"envelope_id"`
	WorkspaceID string    `json:"workspace_id"`
	Intent      string    `json:"intent"`
	ToolName    string    `json:"tool_name"`
	Risk        string    `json:"risk_level"`
	RequestedAt time.Time `json:"requested_at"`
}

func cmdPending(c *client) error {
	var body struct {
		Envelopes []envelopeSummary `json:"envelopes"`
	}
	if err := c.do(http.MethodGet, "/api/approvals/pending", nil, &body); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Pending Approvals")
	cyan.Println("  -----------------")

	if len(body.Envelopes) == 0 {
		fmt.Println("  (none)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTOOL\tRISK\tINTENT\tREQUESTED")
	fmt.Fprintln(w, "  --\t----\t----\t------\t---------")
	for _, e := range body.Envelopes {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(e.ID, 14), e.ToolName, riskString(e.Risk),
			truncate(e.Intent, 40), e.RequestedAt.Local().Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdShow(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: relay-admin show <envelope-id>")
	}

	var envelope struct {
		envelopeSummary
		Inputs       json.RawMessage `json:"inputs"`
		RollbackPlan string          `json:"rollback_plan"`
		PIIFields    []string        `json:"pii_fields"`
		Decision     *struct {
			Approved  bool      `json:"approved"`
			UserID    string    `json:"user_id"`
			Reason    string    `json:"reason"`
			DecidedAt time.Time `json:"decided_at"`
		} `json:"decision"`
	}
	if err := c.do(http.MethodGet, "/api/approvals/"+args[0], nil, &envelope); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Approval Request")
	cyan.Println("  ----------------")
	fmt.Printf("  ID:         %s\n", envelope.ID)
	fmt.Printf("  Tool:       %s\n", envelope.ToolName)
	fmt.Printf("  Risk:       %s\n", riskString(envelope.Risk))
	fmt.Printf("  Intent:     %s\n", envelope.Intent)
	fmt.Printf("  Requested:  %s\n", envelope.RequestedAt.Local().Format(time.RFC1123))
	if len(envelope.Inputs) > 0 {
		var pretty bytes.Buffer
		if json.Indent(&pretty, envelope.Inputs, "              ", "  ") == nil {
			fmt.Printf("  Inputs:     %s\n", pretty.String())
		}
	}
	if envelope.RollbackPlan != "" {
		fmt.Printf("  Rollback:   %s\n", envelope.RollbackPlan)
	}
	if len(envelope.PIIFields) > 0 {
		color.Yellow("  PII:        %s\n", strings.Join(envelope.PIIFields, ", "))
	}
	if envelope.Decision != nil {
		verdict := "denied"
		if envelope.Decision.Approved {
			verdict = "approved"
		}
		fmt.Printf("  Decision:   %s by %s at %s\n", verdict, envelope.Decision.UserID,
			envelope.Decision.DecidedAt.Local().Format(time.RFC1123))
		if envelope.Decision.Reason != "" {
			fmt.Printf("  Reason:     %s\n", envelope.Decision.Reason)
		}
	}
	fmt.Println()

	return nil
}

func cmdApprove(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: relay-admin approve <envelope-id>")
	}

	var body struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := c.do(http.MethodPost, "/api/approvals/"+args[0]+"/approve", nil, &body); err != nil {
		return err
	}

	color.Green("  ✓ Approved %s\n", args[0])
	if body.Token != "" {
		fmt.Printf("  Execution token: %s\n", body.Token)
	}
	return nil
}

func cmdDeny(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: relay-admin deny <envelope-id> [--reason TEXT]")
	}
	envelopeID := args[0]

	var reason string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch {
		case rest[i] == "--reason" || rest[i] == "-r":
			if i+1 >= len(rest) {
				return fmt.Errorf("--reason requires a value")
			}
			reason = rest[i+1]
			i++
		case strings.HasPrefix(rest[i], "--reason="):
			reason = strings.TrimPrefix(rest[i], "--reason=")
		default:
			return fmt.Errorf("unexpected argument: %s", rest[i])
		}
	}

	var payload any
	if reason != "" {
		payload = map[string]string{"reason": reason}
	}
	if err := c.do(http.MethodPost, "/api/approvals/"+envelopeID+"/deny", payload, nil); err != nil {
		return err
	}

	color.Yellow("  ✗ Denied %s\n", envelopeID)
	return nil
}

func cmdLink(c *client, args []string) error {
	// Manual completion path: relay-admin link complete <code>
	if len(args) > 0 && args[0] == "complete" {
		if len(args) < 2 {
			return fmt.Errorf("usage: relay-admin link complete <code>")
		}
		return completeLink(c, strings.ToUpper(args[1]))
	}

	channelName := "telegram"
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--channel" || args[i] == "-c":
			if i+1 >= len(args) {
				return fmt.Errorf("--channel requires a value")
			}
			channelName = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--channel="):
			channelName = strings.TrimPrefix(args[i], "--channel=")
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	var issued struct {
		LinkCode     string    `json:"linkCode"`
		ExpiresAt    time.Time `json:"expiresAt"`
		BotIdentity  string    `json:"botIdentity"`
		Instructions string    `json:"instructions"`
	}
	payload := map[string]string{"channel": channelName}
	if err := c.do(http.MethodPost, "/api/channel/link", payload, &issued); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  Link code: %s\n", issued.LinkCode)
	if issued.BotIdentity != "" {
		fmt.Printf("  Bot:       @%s\n", issued.BotIdentity)
	}
	fmt.Printf("  Expires:   %s\n", issued.ExpiresAt.Local().Format("15:04:05"))
	fmt.Printf("  %s\n", issued.Instructions)
	fmt.Println()
	fmt.Print("  Press Enter once the chat has confirmed the code... ")

	reader := bufio.NewReader(os.Stdin)
	if _, err := reader.ReadString('\n'); err != nil {
		fmt.Println()
		return nil
	}

	return completeLink(c, issued.LinkCode)
}

func completeLink(c *client, code string) error {
	var body struct {
		Success          bool   `json:"success"`
		ExternalIdentity string `json:"externalIdentity"`
	}
	payload := map[string]string{"linkCode": code}
	if err := c.do(http.MethodPost, "/api/channel/link/complete", payload, &body); err != nil {
		return err
	}

	color.Green("  ✓ Linked to %s\n", body.ExternalIdentity)
	return nil
}

func cmdStatus(c *client) error {
	var body struct {
		Connected        bool   `json:"connected"`
		ExternalIdentity string `json:"externalIdentity"`
	}
	if err := c.do(http.MethodGet, "/api/channel/status", nil, &body); err != nil {
		return err
	}

	if body.Connected {
		color.Green("  ✓ Connected")
		if body.ExternalIdentity != "" {
			fmt.Printf(" (%s)", body.ExternalIdentity)
		}
		fmt.Println()
	} else {
		color.Yellow("  Not connected\n")
		fmt.Println("  Run 'relay-admin link' to start the handshake.")
	}
	return nil
}

func cmdDisconnect(c *client) error {
	if err := c.do(http.MethodDelete, "/api/channel/disconnect", nil, nil); err != nil {
		return err
	}
	color.Yellow("  ✗ Channel link removed\n")
	return nil
}

// cmdWatch tails the workspace event stream until interrupted.
func cmdWatch(c *client) error {
	if c.token == "" {
		return fmt.Errorf("RELAY_TOKEN environment variable is required")
	}

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	// No timeout: the stream stays open until the server or user closes it.
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)
	fmt.Println("  Watching events (Ctrl-C to stop)...")

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			gray.Printf("  %s ", time.Now().Format("15:04:05"))
			cyan.Printf("%s ", strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			fmt.Println(strings.TrimPrefix(line, "data: "))
		}
	}
	return scanner.Err()
}

// getToken returns the JWT token from RELAY_TOKEN env var or ~/.config/relay/token file
func getToken() string {
	// Check env var first
	if token := os.Getenv("RELAY_TOKEN"); token != "" {
		return token
	}

	// Try to read from token file
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "relay", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

func riskString(risk string) string {
	switch risk {
	case "high":
		return color.New(color.FgRed, color.Bold).Sprint("HIGH")
	case "medium":
		return color.YellowString("MED")
	case "low":
		return color.GreenString("LOW")
	default:
		return risk
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
