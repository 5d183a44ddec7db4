package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chrisboulton/fluxer-go"
	"github.com/chrisboulton/fluxer-go/gateway"
)

func newTailCmd(a *app) *cobra.Command {
	var (
		intents  []string
		shards   int
		compress bool
		events   []string
		payloads bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Connect to the gateway and print events as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			bits, err := fluxer.ParseIntents(intents...)
			if err != nil {
				return err
			}

			gwOpts := []gateway.Option{gateway.WithShardCount(shards)}
			if compress {
				gwOpts = append(gwOpts, gateway.WithCompression())
			}
			c, err := a.client(fluxer.WithIntents(bits), fluxer.WithGatewayOptions(gwOpts...))
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p := &eventPrinter{w: cmd.OutOrStdout(), payloads: payloads, only: upperSet(events)}
			c.Subscribe(p.print)

			if err := c.Connect(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&intents, "intents", []string{"default"}, "gateway intents by name")
	cmd.Flags().IntVar(&shards, "shards", 0, "shard count (0 uses the recommended count)")
	cmd.Flags().BoolVar(&compress, "compress", false, "enable zlib-stream compression")
	cmd.Flags().StringSliceVar(&events, "events", nil, "only print these dispatch events")
	cmd.Flags().BoolVar(&payloads, "payloads", false, "print dispatch payloads")
	return cmd
}

// eventPrinter writes one coloured line per event.
type eventPrinter struct {
	w        io.Writer
	payloads bool
	only     map[string]bool

	mu sync.Mutex
}

var (
	shardColor = color.New(color.FgCyan)
	nameColor  = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
	dimColor   = color.New(color.Faint)
)

func (p *eventPrinter) print(e gateway.Event) {
	var line string
	switch ev := e.(type) {
	case *gateway.DispatchEvent:
		if len(p.only) > 0 && !p.only[ev.Name] {
			return
		}
		line = nameColor.Sprint(ev.Name) + dimColor.Sprintf(" seq=%d", ev.Sequence)
		if p.payloads {
			line += " " + string(ev.Data)
		}
	case *gateway.ReadyEvent:
		line = nameColor.Sprint("session ready ") + ev.SessionID
	case *gateway.ResumedEvent:
		line = nameColor.Sprint("session resumed")
	case *gateway.DisconnectEvent:
		msg := fmt.Sprintf("disconnected code=%d", ev.Code)
		if ev.Fatal {
			line = errColor.Sprint(msg + " (fatal)")
		} else {
			line = warnColor.Sprint(msg)
		}
	case *gateway.ErrorEvent:
		line = errColor.Sprintf("error: %v", ev.Err)
	default:
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s %s\n",
		dimColor.Sprint(time.Now().Format("15:04:05.000")),
		shardColor.Sprintf("[shard %d]", e.Shard()),
		line,
	)
}

func upperSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToUpper(strings.TrimSpace(n))] = true
	}
	return set
}
