package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/arcway-labs/pilot/internal/channel"
)

// pilotctl is a thin local CLI descended from the teacher's single-session
// cmd/agent/main.go: it no longer runs the browser itself, it submits a
// task to a running pilotd over websocket and prints the event stream.
func main() {
	var (
		server string
		task   string
	)

	root := &cobra.Command{
		Use:   "pilotctl",
		Short: "Submit a task to a running pilotd and follow its progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := strings.TrimSpace(task)
			if t == "" {
				prompted, cancelled, err := promptTask()
				if err != nil {
					return err
				}
				if cancelled {
					fmt.Println("cancelled.")
					return nil
				}
				t = prompted
			}
			return run(server, t)
		},
	}
	root.Flags().StringVar(&server, "server", "ws://localhost:8080/ws", "pilotd websocket address")
	root.Flags().StringVar(&task, "task", "", "task description")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pilotctl:", err)
		os.Exit(1)
	}
}

func run(server, task string) error {
	conn, _, err := websocket.DefaultDialer.Dial(server, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", server, err)
	}
	defer conn.Close()

	if err := sendTask(conn, task); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}

		var env channel.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		switch env.Type {
		case channel.OutLog:
			var d channel.LogData
			_ = json.Unmarshal(env.Data, &d)
			fmt.Printf("[%s] %s\n", d.Phase, d.Message)
			if d.Error != "" {
				fmt.Printf("  error: %s\n", d.Error)
			}
		case channel.OutScreenshot:
			var d channel.ScreenshotData
			_ = json.Unmarshal(env.Data, &d)
			fmt.Printf("[screenshot] step %d: %s\n", d.Step, d.ScreenshotPath)
		case channel.OutStatus:
			var d channel.StatusData
			_ = json.Unmarshal(env.Data, &d)
			fmt.Printf("=== status: %s — %s ===\n", d.Status, d.Message)
			switch d.Status {
			case channel.StatusPaused:
				if err := handlePause(conn, d, reader); err != nil {
					return err
				}
			case channel.StatusCompleted, channel.StatusStopped, channel.StatusError:
				return nil
			}
		case channel.OutError:
			var d channel.ErrorData
			_ = json.Unmarshal(env.Data, &d)
			fmt.Println("error:", d.Message)
		}
	}
}

func handlePause(conn *websocket.Conn, d channel.StatusData, reader *bufio.Reader) error {
	fmt.Printf("\n=== input required (%s) ===\napprove? [y/N]: ", d.PauseKind)
	line, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	approved := strings.EqualFold(strings.TrimSpace(line), "y")
	return sendConfirmation(conn, d.SessionID, approved)
}

func sendTask(conn *websocket.Conn, task string) error {
	data, _ := json.Marshal(channel.TaskData{Task: task})
	env, _ := json.Marshal(channel.Envelope{Type: channel.InTask, Data: data})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, env)
}

func sendConfirmation(conn *websocket.Conn, sessionID string, approved bool) error {
	data, _ := json.Marshal(channel.ConfirmationData{SessionID: sessionID, Approved: approved})
	env, _ := json.Marshal(channel.Envelope{Type: channel.InConfirmation, Data: data})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, env)
}

func promptTask() (string, bool, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Enter task (leave empty to cancel): ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", false, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", true, nil
	}

	const maxTaskLength = 2000
	if len(line) > maxTaskLength {
		fmt.Printf("task too long (max %d chars), truncated\n", maxTaskLength)
		line = line[:maxTaskLength]
	}

	var sanitized strings.Builder
	for _, r := range line {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			sanitized.WriteRune(r)
		}
	}
	return sanitized.String(), false, nil
}
