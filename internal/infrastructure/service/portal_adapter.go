// Package service adapts infrastructure clients to the interfaces the
// application layer depends on.
package service

import (
	"context"
	"io"

	"github.com/studyhub/schedule-sync/internal/application/command"
	"github.com/studyhub/schedule-sync/internal/domain/session"
	"github.com/studyhub/schedule-sync/internal/infrastructure/external/portal"
)

// PortalFetcherAdapter adapts the portal.Client to the command.SessionFetcher interface.
type PortalFetcherAdapter struct {
	client *portal.Client
}

func NewPortalFetcherAdapter(client *portal.Client) *PortalFetcherAdapter {
	return &PortalFetcherAdapter{client: client}
}

func (a *PortalFetcherAdapter) SchedulePath(schoolID, studentID, weekKey string) string {
	return portal.SchedulePath(schoolID, studentID, weekKey)
}

func (a *PortalFetcherAdapter) Fetch(ctx context.Context, schoolID, path string, jar session.CookieJar) (*command.FetchedPage, error) {
	res, err := a.client.Fetch(ctx, schoolID, path, jar)
	if err != nil {
		return nil, err
	}
	return &command.FetchedPage{
		HTML:           res.HTML,
		UpdatedCookies: res.UpdatedCookies,
		Redirects:      res.Redirects,
	}, nil
}

// PortalParserAdapter adapts the portal.Parser to the command.ScheduleParser interface.
type PortalParserAdapter struct {
	parser *portal.Parser
}

func NewPortalParserAdapter(parser *portal.Parser) *PortalParserAdapter {
	return &PortalParserAdapter{parser: parser}
}

func (a *PortalParserAdapter) Parse(r io.Reader) (*command.ParsedSchedule, error) {
	res, err := a.parser.Parse(r)
	if err != nil {
		return nil, err
	}
	return &command.ParsedSchedule{Days: res.Days, Skipped: res.Skipped}, nil
}
