// Package worker bridges the reply pipeline to a host runtime over NATS.
// The host publishes outgoing replies on the decorate subject using the
// request/reply pattern; the worker runs the pipeline and responds with the
// rewritten segment list.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/tts-emotion-router/internal/core"
	"github.com/book-expert/tts-emotion-router/internal/router"
)

const handleMessageTimeout = 60 * time.Second

var (
	// ErrSubjectEmpty indicates that the decorate subject is not configured.
	ErrSubjectEmpty = errors.New("decorate subject cannot be empty")
	// ErrUnknownPhase indicates an event with an unrecognized phase field.
	ErrUnknownPhase = errors.New("unknown event phase")
	// ErrNoAdmin indicates a command event on a worker without an admin surface.
	ErrNoAdmin = errors.New("no admin surface configured")
)

// Event phases accepted on the decorate subject.
const (
	PhaseLLMResponse = "llm_response"
	PhaseDecorate    = "decorate"
	PhaseCommand     = "command"
)

// ReplyEvent is the host's request: a raw model response to strip
// (llm_response), an outgoing reply to decorate with audio (decorate), or an
// operator command to apply (command).
type ReplyEvent struct {
	EventID     string                `json:"event_id"`
	Phase       string                `json:"phase"`
	SessionKind core.ConversationKind `json:"session_kind"`
	SessionID   string                `json:"session_id"`
	FromLLM     bool                  `json:"from_llm"`
	Text        string                `json:"text,omitempty"`
	Segments    []core.Segment        `json:"segments,omitempty"`
	Command     string                `json:"command,omitempty"`
	Value       string                `json:"value,omitempty"`
}

// DecoratedEvent is the worker's response carrying the rewritten reply.
type DecoratedEvent struct {
	EventID  string         `json:"event_id"`
	Text     string         `json:"text,omitempty"`
	Segments []core.Segment `json:"segments,omitempty"`
}

// NatsWorker subscribes to the decorate subject and serves reply events.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	orchestrator   *router.Orchestrator
	admin          *router.Admin
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. admin may be nil;
// command events are then rejected.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	orchestrator *router.Orchestrator,
	admin *router.Admin,
	log *logger.Logger,
) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		orchestrator:   orchestrator,
		admin:          admin,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseEvent(msg)
	if err != nil {
		w.log.Error("failed to parse reply event: %v", err)

		return
	}

	reply, processErr := w.processEvent(ctx, event)
	if processErr != nil {
		w.log.Error("failed to process reply event %s: %v", event.EventID, processErr)

		return
	}

	respondErr := w.respond(msg, reply)
	if respondErr != nil {
		w.log.Error("failed to respond to reply event %s: %v", event.EventID, respondErr)
	}
}

// processEvent dispatches on the event phase.
func (w *NatsWorker) processEvent(ctx context.Context, event *ReplyEvent) (*DecoratedEvent, error) {
	key := core.ConversationKey{Kind: event.SessionKind, ID: event.SessionID}

	switch event.Phase {
	case PhaseLLMResponse:
		cleaned := w.orchestrator.OnLLMResponse(key, event.Text)

		return &DecoratedEvent{EventID: event.EventID, Text: cleaned, Segments: nil}, nil
	case PhaseDecorate:
		segments := w.orchestrator.DecorateReply(ctx, core.PendingReply{
			Key:      key,
			FromLLM:  event.FromLLM,
			Segments: event.Segments,
		})

		return &DecoratedEvent{EventID: event.EventID, Text: "", Segments: segments}, nil
	case PhaseCommand:
		if w.admin == nil {
			return nil, ErrNoAdmin
		}

		reply := w.runCommand(key, event.Command, event.Value)

		return &DecoratedEvent{EventID: event.EventID, Text: reply, Segments: nil}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, event.Phase)
	}
}

// runCommand maps a command name onto the admin surface. The returned text is
// the operator-facing reply.
func (w *NatsWorker) runCommand(key core.ConversationKey, command, value string) string {
	switch command {
	case "marker_on":
		return w.admin.MarkerOn()
	case "marker_off":
		return w.admin.MarkerOff()
	case "emote":
		return w.admin.Emote(key, value)
	case "global_on":
		return w.admin.GlobalOn()
	case "global_off":
		return w.admin.GlobalOff()
	case "session_on":
		return w.admin.SessionOn(key)
	case "session_off":
		return w.admin.SessionOff(key)
	case "prob":
		number, err := strconv.ParseFloat(value, 64)
		if err != nil {
			number = -1
		}

		return w.admin.SetProbability(number)
	case "limit":
		number, err := strconv.Atoi(value)
		if err != nil {
			number = -1
		}

		return w.admin.SetTextLimit(number)
	case "cooldown":
		number, err := strconv.Atoi(value)
		if err != nil {
			number = -1
		}

		return w.admin.SetCooldown(number)
	case "gain":
		number, err := strconv.ParseFloat(value, 64)
		if err != nil {
			number = -11
		}

		return w.admin.SetGain(number)
	case "mixed_on":
		return w.admin.MixedOn()
	case "mixed_off":
		return w.admin.MixedOff()
	case "text_voice_on":
		return w.admin.TextVoiceOn(key)
	case "text_voice_off":
		return w.admin.TextVoiceOff(key)
	case "text_voice_reset":
		return w.admin.TextVoiceReset(key)
	case "refs_on":
		return w.admin.RefsOn()
	case "refs_off":
		return w.admin.RefsOff()
	case "status":
		return w.admin.Status()
	default:
		return fmt.Sprintf("unknown command: %s", command)
	}
}

// respond marshals and sends the decorated event back on the reply inbox.
func (w *NatsWorker) respond(msg *nats.Msg, reply *DecoratedEvent) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal decorated event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish decorated event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseEvent(msg *nats.Msg) (*ReplyEvent, error) {
	var event ReplyEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply event: %w", err)
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	return &event, nil
}
