// Command router-client is a manual test client for the emotion router. It
// sends a single reply event on the decorate subject and prints the response.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/tts-emotion-router/internal/core"
	"github.com/book-expert/tts-emotion-router/internal/worker"
)

// Flag names.
const (
	flagURL     = "url"
	flagSubject = "subject"
	flagPhase   = "phase"
	flagKind    = "kind"
	flagSession = "session"
	flagText    = "text"
	flagCommand = "command"
	flagValue   = "value"
	flagTimeout = "timeout"
)

// Flag descriptions.
const (
	flagURLDesc     = "NATS server URL"
	flagSubjectDesc = "Decorate subject the router listens on"
	flagPhaseDesc   = "Event phase: llm_response, decorate or command"
	flagKindDesc    = "Session kind: user or group"
	flagSessionDesc = "Session identifier"
	flagTextDesc    = "Text payload for llm_response and decorate events"
	flagCommandDesc = "Command name for command events"
	flagValueDesc   = "Command argument"
	flagTimeoutDesc = "Request timeout"
)

// Defaults.
const (
	defaultURL     = nats.DefaultURL
	defaultSubject = "tts.decorate"
	defaultPhase   = worker.PhaseDecorate
	defaultKind    = string(core.KindUser)
	defaultSession = "local"
	defaultTimeout = 10 * time.Second
)

// Validation errors.
var (
	ErrBadPhase    = errors.New("phase must be llm_response, decorate or command")
	ErrBadKind     = errors.New("kind must be user or group")
	ErrTextMissing = errors.New("--text is required for this phase")
	ErrCmdMissing  = errors.New("--command is required for the command phase")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	url     string
	subject string
	phase   string
	kind    string
	session string
	text    string
	command string
	value   string
	timeout time.Duration
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	event, err := buildEvent(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	natsConnection, err := nats.Connect(flags.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", flags.url, err)
	}
	defer natsConnection.Close()

	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	replyMsg, err := natsConnection.Request(flags.subject, eventData, flags.timeout)
	if err != nil {
		return fmt.Errorf("request on %s failed: %w", flags.subject, err)
	}

	return printReply(replyMsg.Data)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.url, flagURL, defaultURL, flagURLDesc)
	flag.StringVar(&flags.subject, flagSubject, defaultSubject, flagSubjectDesc)
	flag.StringVar(&flags.phase, flagPhase, defaultPhase, flagPhaseDesc)
	flag.StringVar(&flags.kind, flagKind, defaultKind, flagKindDesc)
	flag.StringVar(&flags.session, flagSession, defaultSession, flagSessionDesc)
	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.command, flagCommand, "", flagCommandDesc)
	flag.StringVar(&flags.value, flagValue, "", flagValueDesc)
	flag.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flag.Parse()

	return flags
}

// buildEvent validates the flags and assembles the reply event to send.
func buildEvent(flags appFlags) (*worker.ReplyEvent, error) {
	kind := core.ConversationKind(flags.kind)
	if kind != core.KindUser && kind != core.KindGroup {
		return nil, fmt.Errorf("%w: got %q", ErrBadKind, flags.kind)
	}

	event := &worker.ReplyEvent{
		EventID:     uuid.NewString(),
		Phase:       flags.phase,
		SessionKind: kind,
		SessionID:   flags.session,
		FromLLM:     true,
		Text:        "",
		Segments:    nil,
		Command:     "",
		Value:       "",
	}

	switch flags.phase {
	case worker.PhaseLLMResponse:
		if flags.text == "" {
			return nil, ErrTextMissing
		}

		event.Text = flags.text
	case worker.PhaseDecorate:
		if flags.text == "" {
			return nil, ErrTextMissing
		}

		event.Segments = []core.Segment{core.TextSegment(flags.text)}
	case worker.PhaseCommand:
		if flags.command == "" {
			return nil, ErrCmdMissing
		}

		event.Command = flags.command
		event.Value = flags.value
	default:
		return nil, fmt.Errorf("%w: got %q", ErrBadPhase, flags.phase)
	}

	return event, nil
}

// printReply pretty-prints the decorated event to stdout.
func printReply(data []byte) error {
	var reply worker.DecoratedEvent

	err := json.Unmarshal(data, &reply)
	if err != nil {
		return fmt.Errorf("failed to unmarshal decorated event: %w", err)
	}

	pretty, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format decorated event: %w", err)
	}

	fmt.Fprintln(os.Stdout, string(pretty))

	return nil
}
