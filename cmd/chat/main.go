// Command chat is a terminal client for a thread websocket. It expects the
// server to run with crypto disabled, so frames carry plain text.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
)

var (
	serverURL = flag.String("server", "ws://127.0.0.1:8080", "server base URL")
	threadID  = flag.Uint("thread", 0, "thread id")
	token     = flag.String("token", os.Getenv("RAGCHAT_TOKEN"), "JWT access token")
	chatMode  = flag.String("mode", "", "chat mode: standard, rag, database or excel; empty follows the thread")
	cutoff    = flag.Float64("cutoff", 0, "similarity cutoff; 0 uses the server default")
	rerank    = flag.Bool("rerank", false, "rerank retrieved chunks")
)

type inbound struct {
	Mode             string   `json:"mode,omitempty"`
	ChatMode         string   `json:"chat_mode,omitempty"`
	EncryptedMessage string   `json:"encrypted_message,omitempty"`
	SimilarityCutoff *float64 `json:"similarity_cutoff,omitempty"`
	Rerank           bool     `json:"rerank,omitempty"`
	MessageID        uint     `json:"message_id,omitempty"`
}

type outbound struct {
	Mode                 string            `json:"mode"`
	Message              string            `json:"message"`
	Username             string            `json:"username"`
	MessageID            uint              `json:"message_id"`
	EncryptedTranslation string            `json:"encrypted_translation"`
	EncryptedContexts    map[string]string `json:"encrypted_contexts"`
	Error                string            `json:"error"`
}

func main() {
	flag.Parse()
	if *threadID == 0 || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -thread <id> -token <jwt>")
		os.Exit(2)
	}

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/threads/%d/ws", strings.TrimRight(*serverURL, "/"), *threadID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad server url: %v\n", err)
		os.Exit(2)
	}
	q := u.Query()
	q.Set("token", *token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		fmt.Println("\nbye")
		os.Exit(0)
	}()

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Println(boldGreen("ragchat terminal client"))
	fmt.Println("Commands: /translate <id>, /context <id>, exit")
	fmt.Println()

	frames := make(chan outbound)
	go func() {
		defer close(frames)
		for {
			var f outbound
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") {
			return
		}

		if err := conn.WriteJSON(buildInbound(line)); err != nil {
			fmt.Fprintln(os.Stderr, red("send failed: "+err.Error()))
			return
		}

	turn:
		for f := range frames {
			switch f.Mode {
			case "new":
				fmt.Print(boldCyan(f.Username+"'s assistant: "), f.Message)
			case "continue":
				fmt.Print(f.Message)
			case "last":
				fmt.Println(yellow(fmt.Sprintf("  [message %d]", f.MessageID)))
				break turn
			case "translation":
				fmt.Println(boldCyan("Translation: "), f.EncryptedTranslation)
				break turn
			case "context":
				for label, text := range f.EncryptedContexts {
					fmt.Printf("%s\n%s\n\n", yellow(label), text)
				}
				break turn
			case "error":
				fmt.Println(red("error: " + f.Error))
				break turn
			}
		}
		fmt.Println()
	}
}

func buildInbound(line string) inbound {
	if cmd, arg, ok := strings.Cut(line, " "); ok && (cmd == "/translate" || cmd == "/context") {
		var id uint
		_, _ = fmt.Sscanf(arg, "%d", &id)
		return inbound{Mode: modeFor(cmd), MessageID: id}
	}
	in := inbound{ChatMode: *chatMode, EncryptedMessage: line, Rerank: *rerank}
	if *cutoff > 0 {
		in.SimilarityCutoff = cutoff
	}
	return in
}

func modeFor(cmd string) string {
	if cmd == "/translate" {
		return "translation"
	}
	return "context"
}
