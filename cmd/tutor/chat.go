package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pavelanni/tutor/internal/agent"
)

func runChat(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	a, err := newApp(ctx, v)
	if err != nil {
		return err
	}
	defer a.close()

	return a.repl(ctx, v.GetString("student"), os.Stdin, cmd.OutOrStdout())
}

// repl answers one line at a time in a fresh session until EOF or /quit.
func (a *app) repl(ctx context.Context, studentID string, in io.Reader, out io.Writer) error {
	sessionID := ""
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "/quit", "/exit":
			return nil
		}

		if sessionID == "" {
			sess, err := a.sessions.Create(ctx, studentID, line)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			sessionID = sess.ID
		}
		history, err := a.sessions.History(sessionID)
		if err != nil {
			return err
		}

		resp := a.agent.Handle(ctx, agent.Request{StudentID: studentID, Text: line, History: history})
		if err := a.sessions.Record(sessionID, resp.FinalQuery, resp.Response, false); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s\n\n> ", resp.Response)
	}
	return scanner.Err()
}
