// Package agent bridges a chat channel to an external command: every
// message from another participant becomes a prompt, and the command's
// output is sent back to the channel, chunked to fit the wire.
package agent

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/astrohq/astrochat-go/internal/chat"
	"github.com/astrohq/astrochat-go/internal/wire"
)

const (
	maxReplyLines = 30
	maxChunkBytes = 400
)

// Responder produces a reply for a prompt. Injected so tests don't
// shell out.
type Responder func(ctx context.Context, prompt string) (string, error)

// ChatClient is the slice of the interactive client the bridge needs.
type ChatClient interface {
	Subscribe() *chat.QueueSubscriber
	Unsubscribe(sub chat.Subscriber)
	Send(text string) error
}

// Bridge watches a client's event stream and answers messages.
type Bridge struct {
	client  ChatClient
	respond Responder
}

// NewBridge creates a bridge over an already-running client.
func NewBridge(client ChatClient, respond Responder) *Bridge {
	return &Bridge{client: client, respond: respond}
}

// Run consumes events until ctx is cancelled. Each prompt is answered
// on its own goroutine so a slow responder doesn't back up the stream.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe()
	defer b.client.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.Events():
			if ev.Kind != wire.KindMessage || ev.Self {
				continue
			}
			prompt := strings.TrimSpace(ev.Text)
			if prompt == "" {
				continue
			}
			go b.answer(ctx, ev.Sender, prompt)
		}
	}
}

func (b *Bridge) answer(ctx context.Context, sender, prompt string) {
	b.say(fmt.Sprintf("%s: Working on it...", sender))

	resp, err := b.respond(ctx, prompt)
	if err != nil {
		resp = fmt.Sprintf("(error: %v)", err)
	}
	resp = truncateLines(resp, maxReplyLines)
	b.say(fmt.Sprintf("%s: %s", sender, resp))
}

// say sends text line by line, chunked on word boundaries so long
// replies stay readable across fragments.
func (b *Bridge) say(text string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, chunk := range wire.CutMessageWords(line, maxChunkBytes) {
			if err := b.client.Send(chunk); err != nil {
				log.Printf("[Agent] Send failed: %v", err)
				return
			}
		}
	}
}

func truncateLines(text string, max int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= max {
		return text
	}
	kept := strings.Join(lines[:max], "\n")
	return fmt.Sprintf("%s\n... (%d more lines truncated)", kept, len(lines)-max)
}

// ExecResponder shells out to command, passing the prompt as the final
// argument. Used by the CLI to plug an external assistant in.
func ExecResponder(command []string, timeout time.Duration) Responder {
	return func(ctx context.Context, prompt string) (string, error) {
		if len(command) == 0 {
			return prompt, nil // echo responder
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		args := append(append([]string(nil), command[1:]...), prompt)
		out, err := exec.CommandContext(ctx, command[0], args...).CombinedOutput()
		text := strings.TrimSpace(string(out))
		if ctx.Err() == context.DeadlineExceeded {
			return "(timed out)", nil
		}
		if err != nil && text == "" {
			return "", err
		}
		if text == "" {
			text = "(no output)"
		}
		return text, nil
	}
}
