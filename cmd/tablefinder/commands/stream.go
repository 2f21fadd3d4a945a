package commands

import (
	"context"
	"io"
	"iter"
	"strings"

	"github.com/google/uuid"

	"github.com/tablefinder/tablefinder/pkg/cli"
	"github.com/tablefinder/tablefinder/pkg/convo"
	"github.com/tablefinder/tablefinder/pkg/retry"
)

// answerResult is the machine-readable result of ask and graph.
type answerResult struct {
	Session string         `json:"session" yaml:"session"`
	Updates []convo.Update `json:"updates" yaml:"updates"`
	Answer  string         `json:"answer" yaml:"answer"`
}

func (r *answerResult) String() string {
	return r.Answer + "\n"
}

func queryArg(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func sessionOrNew(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// seq lifts an infallible update stream.
func seq(s iter.Seq[convo.Update]) iter.Seq2[convo.Update, error] {
	return func(yield func(convo.Update, error) bool) {
		for u := range s {
			if !yield(u, nil) {
				return
			}
		}
	}
}

// render drains updates. Text output prints them as they arrive; other
// formats print one result at the end. A stream error after progress becomes
// the fallback answer, as the server does.
func render(ctx context.Context, w io.Writer, session string, updates iter.Seq2[convo.Update, error]) error {
	res := &answerResult{Session: session}
	var p *cli.Printer
	if outputFormat == cli.FormatText {
		p = cli.NewPrinter(w, cli.DefaultTheme)
	}
	for u, err := range updates {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u = convo.Final(retry.NoResponseMessage)
			if p != nil {
				cli.PrintWarning(w, "%v", err)
			}
		}
		res.Updates = append(res.Updates, u)
		if u.Complete {
			res.Answer = u.Content
		}
		if p != nil {
			p.Update(u)
		}
		if err != nil {
			break
		}
	}
	if p != nil {
		return nil
	}
	return output(w, res)
}
