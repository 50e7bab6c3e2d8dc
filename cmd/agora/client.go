package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/jllopis/agora/internal/app"
	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/a2a/agentcard"
	"github.com/jllopis/agora/pkg/a2a/jsonrpc"
	"github.com/jllopis/agora/pkg/a2a/jsonrpc/client"
	"github.com/jllopis/agora/pkg/routing"
)

type sendOptions struct {
	URL       string
	Text      string
	Stream    bool
	TaskID    string
	ContextID string
	Skills    []string
}

func parseSendArgs(args []string) (sendOptions, error) {
	var opts sendOptions
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--stream" || arg == "-s":
			opts.Stream = true
		case arg == "--task" || arg == "--context" || arg == "--skill":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value for %s", arg)
			}
			value := args[i+1]
			i++
			switch arg {
			case "--task":
				opts.TaskID = value
			case "--context":
				opts.ContextID = value
			default:
				opts.Skills = append(opts.Skills, value)
			}
		case strings.HasPrefix(arg, "--task="):
			opts.TaskID = strings.TrimPrefix(arg, "--task=")
		case strings.HasPrefix(arg, "--context="):
			opts.ContextID = strings.TrimPrefix(arg, "--context=")
		case strings.HasPrefix(arg, "--skill="):
			opts.Skills = append(opts.Skills, strings.TrimPrefix(arg, "--skill="))
		case strings.HasPrefix(arg, "-") && arg != "-":
			return opts, fmt.Errorf("unknown send flag %q", arg)
		default:
			positional = append(positional, arg)
		}
	}
	if len(positional) != 2 {
		return opts, fmt.Errorf("send requires <url> and <message>")
	}
	opts.URL = strings.TrimRight(positional[0], "/")
	opts.Text = positional[1]
	return opts, nil
}

// params builds the message/send params, carrying --skill values as
// routing metadata.
func (o sendOptions) params() *jsonrpc.SendParams {
	params := client.NewTextParams(o.Text, o.TaskID, o.ContextID)
	if len(o.Skills) > 0 {
		params.Message.Metadata = map[string]any{routing.MetadataSkills: o.Skills}
	}
	return params
}

func runSend(ctx context.Context, flags globalFlags, args []string, out io.Writer) error {
	opts, err := parseSendArgs(args)
	if err != nil {
		return NewInvalidArgumentError("send", err.Error())
	}
	endpoint := opts.URL + "/a2a"
	httpClient := &http.Client{Timeout: flags.Timeout}
	if opts.Stream {
		endpoint += "/stream"
		httpClient = &http.Client{}
	}
	c := client.New(opts.URL+"/a2a",
		client.WithHTTPClient(httpClient),
		client.WithStreamEndpoint(opts.URL+"/a2a/stream"),
	)

	if opts.Stream {
		events, err := c.SendStreamingMessage(ctx, opts.params())
		if err != nil {
			return remoteError(err, endpoint)
		}
		return printStream(events, flags.JSON, out)
	}
	res, err := c.SendMessage(ctx, opts.params())
	if err != nil {
		return remoteError(err, endpoint)
	}
	if flags.JSON {
		return json.NewEncoder(out).Encode(res)
	}
	for _, artifact := range res.Artifacts {
		fmt.Fprintln(out, partsText(artifact.Parts))
	}
	printStatus(out, res.TaskID, res.Status)
	return nil
}

// remoteError keeps JSON-RPC errors apart from transport failures.
func remoteError(err error, endpoint string) error {
	var rpcErr *jsonrpc.Error
	if stderrors.As(err, &rpcErr) {
		return NewRemoteError(rpcErr.Code, rpcErr.Message)
	}
	return WrapConnectionError(err, endpoint)
}

// printStream prints artifact text as it arrives and stops at the final
// status event.
func printStream(events <-chan client.StreamEvent, asJSON bool, out io.Writer) error {
	enc := json.NewEncoder(out)
	for ev := range events {
		if ev.Err != nil {
			var rpcErr *jsonrpc.Error
			if stderrors.As(ev.Err, &rpcErr) {
				return NewRemoteError(rpcErr.Code, rpcErr.Message)
			}
			return ev.Err
		}
		if asJSON {
			var err error
			if ev.Artifact != nil {
				err = enc.Encode(ev.Artifact)
			} else {
				err = enc.Encode(ev.Status)
			}
			if err != nil {
				return err
			}
			if ev.Final() {
				return nil
			}
			continue
		}
		if ev.Artifact != nil && ev.Artifact.Artifact != nil {
			fmt.Fprint(out, partsText(ev.Artifact.Artifact.Parts))
		}
		if ev.Final() {
			fmt.Fprintln(out)
			printStatus(out, ev.Status.TaskID, ev.Status.Status)
			return nil
		}
	}
	return fmt.Errorf("stream ended before the final event")
}

func printStatus(out io.Writer, taskID string, status jsonrpc.Status) {
	if msg := status.Message; msg != nil {
		if text := a2a.ExtractText(msg); text != "" {
			fmt.Fprintln(out, text)
		}
	}
	fmt.Fprintf(out, "[task %s %s]\n", taskID, status.State)
}

func partsText(parts []a2a.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Kind == a2a.PartKindText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func runDiscover(ctx context.Context, flags globalFlags, args []string, out io.Writer) error {
	if len(args) != 1 {
		return NewInvalidArgumentError("discover", "discover requires <url>")
	}
	card, err := agentcard.Fetch(ctx, &http.Client{Timeout: flags.Timeout}, args[0])
	if err != nil {
		return err
	}
	if flags.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(card)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", card.Name)
	fmt.Fprintf(tw, "Description:\t%s\n", card.Description)
	fmt.Fprintf(tw, "URL:\t%s\n", card.URL)
	fmt.Fprintf(tw, "Version:\t%s\n", card.Version)
	fmt.Fprintf(tw, "Protocol:\t%s\n", card.ProtocolVersion)
	fmt.Fprintf(tw, "Streaming:\t%t\n", card.Capabilities.Streaming)
	fmt.Fprintf(tw, "Push notifications:\t%t\n", card.Capabilities.PushNotifications)
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(card.Skills) == 0 {
		return nil
	}
	fmt.Fprintf(out, "\nSkills (%d):\n", len(card.Skills))
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTAGS")
	for _, s := range card.Skills {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Name, strings.Join(s.Tags, ", "))
	}
	return tw.Flush()
}

func runAdapters(flags globalFlags, args []string, out io.Writer) error {
	if len(args) > 0 {
		return NewInvalidArgumentError(args[0], "adapters takes no arguments")
	}
	reg := app.DefaultRegistry()
	if flags.JSON {
		listing := make(map[string][]string)
		for _, name := range reg.Names() {
			listing[name] = append([]string{}, reg.Aliases(name)...)
		}
		return json.NewEncoder(out).Encode(listing)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tALIASES")
	for _, name := range reg.Names() {
		aliases := strings.Join(reg.Aliases(name), ", ")
		if aliases == "" {
			aliases = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\n", name, aliases)
	}
	return tw.Flush()
}
