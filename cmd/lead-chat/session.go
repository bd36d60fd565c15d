// ABOUTME: Interactive read-eval loop for lead-chat
// ABOUTME: Parses slash commands and prints replies with qualification progress

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

const historyLimit = 20

type session struct {
	api       *apiClient
	contactID string
	in        io.Reader
	out       io.Writer
}

func (s *session) run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)

	for {
		if s.contactID != "" {
			fmt.Fprintf(s.out, "[%s]> ", s.contactID)
		} else {
			fmt.Fprint(s.out, "> ")
		}

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
				return
			}
			if err := scanner.Err(); err != nil {
				errCh <- err
				return
			}
			errCh <- io.EOF
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if quit := s.handle(ctx, input); quit {
			return nil
		}
		fmt.Fprintln(s.out)
	}
}

// handle executes one line of input and reports whether the session should end.
func (s *session) handle(ctx context.Context, input string) bool {
	switch {
	case input == "/quit" || input == "/exit" || input == "/q":
		return true
	case input == "/help":
		s.printHelp()
	case strings.HasPrefix(input, "/use"):
		s.contactID = strings.TrimSpace(strings.TrimPrefix(input, "/use"))
		if s.contactID == "" {
			fmt.Fprintln(s.out, "Cleared contact selection")
		} else {
			fmt.Fprintf(s.out, "Now talking as %s\n", s.contactID)
		}
	case !s.requireContact():
	case input == "/history":
		s.printHistory(ctx)
	case input == "/reset":
		if err := s.api.reset(ctx, s.contactID); err != nil {
			s.printError(err)
			return false
		}
		fmt.Fprintln(s.out, "Conversation reset")
	case strings.HasPrefix(input, "/"):
		fmt.Fprintf(s.out, "Unknown command %s, try /help\n", input)
	default:
		s.sendPrompt(ctx, input)
	}
	return false
}

func (s *session) requireContact() bool {
	if s.contactID == "" {
		fmt.Fprintln(s.out, "No contact selected. Use /use <contact_id> first.")
		return false
	}
	return true
}

func (s *session) printHelp() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  /use <id>      Talk as this contact")
	fmt.Fprintln(s.out, "  /history       Show recent exchanges")
	fmt.Fprintln(s.out, "  /reset         Start the conversation over (admin token)")
	fmt.Fprintln(s.out, "  /help          Show this help")
	fmt.Fprintln(s.out, "  /quit          Exit")
}

func (s *session) sendPrompt(ctx context.Context, message string) {
	resp, err := s.api.prompt(ctx, s.contactID, message)
	if err != nil {
		s.printError(err)
		return
	}

	fmt.Fprintln(s.out, resp.Response)

	q := resp.Qualification
	status := fmt.Sprintf("[score %d] B:%s A:%s N:%s T:%s", q.Score,
		mark(q.Budget), mark(q.Authority), mark(q.Need), mark(q.Timeline))
	fmt.Fprintln(s.out, color.HiBlackString(status))
	if resp.MeetingReady {
		fmt.Fprintln(s.out, color.GreenString("[meeting ready]"))
	}
	if resp.Fallback {
		fmt.Fprintln(s.out, color.YellowString("[fallback reply]"))
	}
}

func (s *session) printHistory(ctx context.Context) {
	history, err := s.api.history(ctx, s.contactID, historyLimit)
	if err != nil {
		s.printError(err)
		return
	}
	if len(history.Exchanges) == 0 {
		fmt.Fprintln(s.out, "No conversation history")
		return
	}

	fmt.Fprintf(s.out, "Recent history for %s (%d exchanges):\n", s.contactID, len(history.Exchanges))
	tw := table.NewWriter()
	tw.SetOutputMirror(s.out)
	tw.AppendHeader(table.Row{"Time", "Lead", "Assistant"})
	for _, ex := range history.Exchanges {
		tw.AppendRow(table.Row{ex.CreatedAt, truncate(ex.Input, 60), truncate(ex.Response, 60)})
	}
	tw.Render()
}

func (s *session) printError(err error) {
	fmt.Fprintln(s.out, color.RedString("[error] %v", err))
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "·"
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
