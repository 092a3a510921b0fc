package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/tapwire/tapwire/internal/domain/model"
)

// FetchSnapshot reads the connection snapshot served on addr (host:port)
func FetchSnapshot(ctx context.Context, client *http.Client, addr string) ([]*model.HTTPTCPData, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u := url.URL{Scheme: "http", Host: addr, Path: SnapshotPath}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, model.WrapError(err, "build snapshot request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, model.WrapError(err, "fetch snapshot from %s", u.String())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewProxyError("snapshot request to %s returned %s", u.String(), resp.Status)
	}

	var sessions []*model.HTTPTCPData
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, model.WrapError(err, "decode snapshot")
	}
	return sessions, nil
}

// RenderSessions writes one table row per connection
func RenderSessions(w io.Writer, sessions []*model.HTTPTCPData) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatUpper
	t.Style().Format.Footer = text.FormatDefault

	t.AppendHeader(table.Row{"Connection", "Requests", "Responses", "Rejected", "Pending", "State", "Last Request"})
	for _, s := range sessions {
		state := "open"
		if s.Closed {
			state = "closed"
		}
		t.AppendRow(table.Row{
			s.ConnectionID,
			len(s.Requests),
			len(s.Responses),
			len(s.Rejected),
			len(s.PendingRequest) + len(s.PendingResponse),
			state,
			lastRequest(s),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", fmt.Sprintf("%d connections", len(sessions))})
	t.Render()
}

func lastRequest(s *model.HTTPTCPData) string {
	if len(s.Requests) == 0 {
		return "-"
	}
	h := s.Requests[len(s.Requests)-1].Header
	return h.Method + " " + h.URI
}
