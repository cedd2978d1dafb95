package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// esqueue is a thin client for the worker endpoints of a running server.
// It needs ESQUEUE_API_URL and ESQUEUE_API_KEY in the environment (or a
// .env file). Exit codes: 0 success, 1 request failed, 2 bad usage or
// configuration.

type client struct {
	baseURL string
	key     string
	http    *http.Client
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	baseURL := os.Getenv("ESQUEUE_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	key := os.Getenv("ESQUEUE_API_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "ESQUEUE_API_KEY is not set")
		os.Exit(2)
	}
	c := &client{baseURL: baseURL, key: key, http: &http.Client{Timeout: 30 * time.Second}}

	switch os.Args[1] {
	case "workers":
		handleWorkers(c, os.Args[2:])
	case "queue":
		handleQueue(c, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func handleWorkers(c *client, args []string) {
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}
	switch args[0] {
	case "start":
		c.call(http.MethodPost, "/api/workers/start")
	case "stop":
		c.call(http.MethodPost, "/api/workers/stop")
	case "restart":
		c.call(http.MethodPost, "/api/workers/restart")
	case "status":
		c.call(http.MethodGet, "/api/workers/status")
	case "stats":
		c.call(http.MethodGet, "/api/workers/stats")
	default:
		fmt.Fprintf(os.Stderr, "unknown workers subcommand: %s\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func handleQueue(c *client, args []string) {
	if len(args) < 2 {
		printUsage()
		os.Exit(2)
	}
	name := args[1]
	switch args[0] {
	case "pause":
		c.call(http.MethodPost, "/api/workers/queues/"+name+"/pause")
	case "resume":
		c.call(http.MethodPost, "/api/workers/queues/"+name+"/resume")
	case "clean":
		path := "/api/workers/queues/" + name + "/clean"
		if len(args) > 2 {
			if _, err := time.ParseDuration(args[2]); err != nil {
				fmt.Fprintf(os.Stderr, "bad grace duration %q: %v\n", args[2], err)
				os.Exit(2)
			}
			path += "?grace=" + args[2]
		}
		c.call(http.MethodPost, path)
	default:
		fmt.Fprintf(os.Stderr, "unknown queue subcommand: %s\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

// call performs the request and prints the envelope's data field. Any
// transport or API failure exits 1.
func (c *client) call(method, path string) {
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "build request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		fmt.Fprintf(os.Stderr, "decode response (status %d): %v\n", resp.StatusCode, err)
		os.Exit(1)
	}
	if !env.Success {
		msg := "request rejected"
		code := ""
		if env.Error != nil {
			msg = env.Error.Message
			code = env.Error.Code
		}
		fmt.Fprintf(os.Stderr, "error %s (%d): %s\n", code, resp.StatusCode, msg)
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, env.Data, "", "  "); err != nil {
		fmt.Println(string(env.Data))
		return
	}
	fmt.Println(pretty.String())
}

func printUsage() {
	fmt.Println(`esqueue — worker and queue control for a running server

Usage:
  esqueue workers start|stop|restart|status|stats
  esqueue queue pause|resume|clean <queue> [grace]

Environment:
  ESQUEUE_API_URL   Server base URL (default http://localhost:8080)
  ESQUEUE_API_KEY   API key with worker permissions (required)

Examples:
  esqueue workers status
  esqueue queue pause imports
  esqueue queue clean email-send 1h`)
}
