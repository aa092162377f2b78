package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"

	"github.com/capitalize-ai/streamchat/internal/client"
	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/stream"
)

const maxImageBytes = 5 << 20

// printer shows streamed turns. On a terminal the answer is rendered as
// markdown once complete and only progress is shown while it streams;
// otherwise text is written as it arrives.
type printer struct {
	out    io.Writer
	status io.Writer
	render bool

	mu      sync.Mutex
	current string
	printed int
}

func newPrinter(out, status *os.File, raw bool) *printer {
	return &printer{
		out:    out,
		status: status,
		render: !raw && isatty.IsTerminal(out.Fd()),
	}
}

// update receives thread snapshots; only the trailing assistant turn is shown.
func (p *printer) update(turns []model.Turn) {
	if len(turns) == 0 {
		return
	}
	last := turns[len(turns)-1]
	if last.Role != model.RoleAssistant {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if last.ID != p.current {
		p.current = last.ID
		p.printed = 0
	}
	if p.render {
		fmt.Fprintf(p.status, "\r… %d characters", len(last.Content))
		return
	}
	if len(last.Content) > p.printed {
		io.WriteString(p.out, last.Content[p.printed:])
		p.printed = len(last.Content)
	}
}

func (p *printer) finish(final *model.Turn, conv *model.Conversation) error {
	if final == nil {
		fmt.Fprintln(p.status, "(empty response)")
		return nil
	}
	p.update([]model.Turn{*final})

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.render {
		fmt.Fprint(p.status, "\r\033[K")
		rendered, err := renderMarkdown(final.Content)
		if err != nil {
			return err
		}
		fmt.Fprint(p.out, rendered)
	} else {
		fmt.Fprintln(p.out)
	}

	if conv != nil {
		fmt.Fprintf(p.status, "conversation %s  turn %s\n", conv.ID, final.ID)
	}
	return nil
}

// turn prints one stored turn.
func (p *printer) turn(t model.Turn) error {
	header := string(t.Role)
	if t.Pinned {
		header += " (pinned)"
	}
	fmt.Fprintf(p.out, "## %s  %s  %s\n", header, t.CreatedAt.Local().Format("2006-01-02 15:04"), t.ID)
	for _, img := range t.Images {
		fmt.Fprintf(p.out, "[image] %s\n", truncate(img, 60))
	}

	if !p.render {
		fmt.Fprintf(p.out, "%s\n\n", t.Content)
		return nil
	}
	rendered, err := renderMarkdown(t.Content)
	if err != nil {
		return err
	}
	fmt.Fprint(p.out, rendered)
	return nil
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// loadImages turns local files into data URLs; links and data URLs pass
// through.
func loadImages(specs []string) ([]string, error) {
	var out []string
	for _, spec := range specs {
		if strings.HasPrefix(spec, "data:image/") ||
			strings.HasPrefix(spec, "https://") ||
			strings.HasPrefix(spec, "http://") {
			out = append(out, spec)
			continue
		}

		b, err := os.ReadFile(spec)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		if len(b) > maxImageBytes {
			return nil, fmt.Errorf("image %s is larger than %d bytes", spec, maxImageBytes)
		}
		mime := http.DetectContentType(b)
		if !strings.HasPrefix(mime, "image/") {
			return nil, fmt.Errorf("%s is not an image (%s)", spec, mime)
		}
		out = append(out, "data:"+mime+";base64,"+base64.StdEncoding.EncodeToString(b))
	}
	return out, nil
}

// describe turns an error into a line for the terminal.
func describe(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var remote *stream.RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	if errors.Is(err, context.Canceled) {
		return "interrupted"
	}
	return err.Error()
}
