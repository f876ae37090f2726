// Command cli is an interactive console for the evaluation service,
// meant for operators poking at a running instance.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

const helpText = `commands:
  problems                        list catalog problems
  languages                       list supported languages
  submit <problem> <lang> <file>  submit a source file
  status <submission>             show submission status
  list                            show my submissions
  retract <submission>            cancel a submission
  help                            show this help
  exit                            quit`

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "server base URL")
	token := flag.String("token", os.Getenv("SKILLSNAP_TOKEN"), "bearer token")
	flag.Parse()

	client := &apiClient{
		base:  strings.TrimRight(*addr, "/"),
		token: *token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "skillsnap> ",
		HistoryFile:     os.TempDir() + "/skillsnap_cli_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init readline failed: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println(helpText)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit":
			return
		case "help":
			fmt.Println(helpText)
		case "problems":
			client.get("/api/problems")
		case "languages":
			client.get("/api/languages")
		case "list":
			client.get("/api/submissions")
		case "status":
			if len(args) != 2 {
				fmt.Println("usage: status <submission>")
				continue
			}
			client.get("/api/submissions/" + args[1] + "/status")
		case "retract":
			if len(args) != 2 {
				fmt.Println("usage: retract <submission>")
				continue
			}
			client.delete("/api/submissions/" + args[1])
		case "submit":
			if len(args) != 4 {
				fmt.Println("usage: submit <problem> <lang> <file>")
				continue
			}
			client.submit(args[1], args[2], args[3])
		default:
			fmt.Printf("unknown command %q, try help\n", args[0])
		}
	}
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func (c *apiClient) submit(problem, language, path string) {
	problemID, err := strconv.ParseInt(problem, 10, 64)
	if err != nil {
		fmt.Printf("invalid problem id %q\n", problem)
		return
	}
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("read source file: %v\n", err)
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"problem_id":  problemID,
		"language_id": language,
		"source_code": string(source),
	})
	c.do(http.MethodPost, "/api/submissions", payload)
}

func (c *apiClient) get(path string) {
	c.do(http.MethodGet, path, nil)
}

func (c *apiClient) delete(path string) {
	c.do(http.MethodDelete, path, nil)
}

func (c *apiClient) do(method, path string, body []byte) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		fmt.Printf("build request: %v\n", err)
		return
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Printf("request failed: %v\n", err)
		return
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("read response: %v\n", err)
		return
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
		return
	}
	fmt.Println(string(data))
}
