package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/howard-nolan/airouter/internal/provider"
)

// requestFile is the YAML shape accepted by --request. Field names match
// the router's JSON request.
type requestFile struct {
	Model             string             `yaml:"model"`
	SystemInstruction string             `yaml:"system_instruction"`
	Messages          []provider.Message `yaml:"messages"`
	Temperature       *float64           `yaml:"temperature"`
	MaxTokens         *int               `yaml:"max_tokens"`
	TopP              *float64           `yaml:"top_p"`
	Reasoning         bool               `yaml:"reasoning"`
	Stream            bool               `yaml:"stream"`
	Telemetry         *struct {
		UserID       string         `yaml:"userId"`
		UserEmail    string         `yaml:"userEmail"`
		EventType    string         `yaml:"eventType"`
		EventPayload map[string]any `yaml:"eventPayload"`
	} `yaml:"telemetry"`
}

func (f *requestFile) chatRequest() *provider.ChatRequest {
	req := &provider.ChatRequest{
		Model:             f.Model,
		SystemInstruction: f.SystemInstruction,
		Messages:          f.Messages,
		Temperature:       f.Temperature,
		MaxTokens:         f.MaxTokens,
		TopP:              f.TopP,
		Reasoning:         f.Reasoning,
		Stream:            f.Stream,
	}
	if f.Telemetry != nil {
		req.Telemetry = &provider.TelemetryMeta{
			UserID:       f.Telemetry.UserID,
			UserEmail:    f.Telemetry.UserEmail,
			EventType:    f.Telemetry.EventType,
			EventPayload: f.Telemetry.EventPayload,
		}
	}
	return req
}

type askOptions struct {
	model       string
	system      string
	temperature float64
	maxTokens   int
	topP        float64
	reasoning   bool
	stream      bool
	userID      string
	userEmail   string
	eventType   string
	requestPath string
	raw         bool
}

func newAskCommand(root *rootOptions) *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a prompt and print the answer",
		Long: `Send one chat request to the router. The prompt words become a user
message, appended after any messages from --request. Flags override the
values in the request file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.build(cmd, args)
			if err != nil {
				return err
			}
			c := root.client()
			out := cmd.OutOrStdout()

			if req.Stream {
				_, err := c.Stream(cmd.Context(), req, out)
				return err
			}

			reply, err := c.Chat(cmd.Context(), req)
			if opts.raw && len(reply.Raw) > 0 {
				fmt.Fprintln(out, string(reply.Raw))
				return nil
			}
			if err != nil {
				return describeFormatError(err)
			}
			fmt.Fprintln(out, reply.Text)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.model, "model", "m", "", "Model key (router default when empty)")
	f.StringVar(&opts.system, "system", "", "System instruction")
	f.Float64Var(&opts.temperature, "temperature", 0, "Sampling temperature (client default 0.7)")
	f.IntVar(&opts.maxTokens, "max-tokens", 0, "Output token limit (client default 2000)")
	f.Float64Var(&opts.topP, "top-p", 0, "Nucleus sampling")
	f.BoolVar(&opts.reasoning, "reasoning", false, "Ask OpenRouter models to reason")
	f.BoolVar(&opts.stream, "stream", false, "Print the raw event stream")
	f.StringVar(&opts.userID, "user-id", "", "Telemetry user id")
	f.StringVar(&opts.userEmail, "user-email", "", "Telemetry user email")
	f.StringVar(&opts.eventType, "event-type", "", "Telemetry event type (router default review)")
	f.StringVarP(&opts.requestPath, "request", "f", "", "YAML request file")
	f.BoolVar(&opts.raw, "raw", false, "Print the raw JSON response")
	return cmd
}

// build merges the request file, flags and prompt words into one request.
// Only flags the user actually set override the file.
func (o *askOptions) build(cmd *cobra.Command, args []string) (*provider.ChatRequest, error) {
	req := &provider.ChatRequest{}
	if o.requestPath != "" {
		data, err := os.ReadFile(o.requestPath)
		if err != nil {
			return nil, fmt.Errorf("reading request file: %w", err)
		}
		var rf requestFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("parsing request file: %w", err)
		}
		req = rf.chatRequest()
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		req.Model = o.model
	}
	if flags.Changed("system") {
		req.SystemInstruction = o.system
	}
	if flags.Changed("temperature") {
		req.Temperature = &o.temperature
	}
	if flags.Changed("max-tokens") {
		req.MaxTokens = &o.maxTokens
	}
	if flags.Changed("top-p") {
		req.TopP = &o.topP
	}
	if flags.Changed("reasoning") {
		req.Reasoning = o.reasoning
	}
	if flags.Changed("stream") {
		req.Stream = o.stream
	}

	if o.userID != "" || o.userEmail != "" || o.eventType != "" {
		if req.Telemetry == nil {
			req.Telemetry = &provider.TelemetryMeta{}
		}
		if o.userID != "" {
			req.Telemetry.UserID = o.userID
		}
		if o.userEmail != "" {
			req.Telemetry.UserEmail = o.userEmail
		}
		if o.eventType != "" {
			req.Telemetry.EventType = o.eventType
		}
	}

	if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
		req.Messages = append(req.Messages, provider.Message{Role: "user", Content: prompt})
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("nothing to send: give a prompt or a --request file with messages")
	}
	return req, nil
}
