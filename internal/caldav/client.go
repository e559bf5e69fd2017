// Package caldav talks to a CalDAV server at the raw object level. Objects
// are fetched and stored as text, not parsed trees, so broken data can be
// repaired before any parser sees it.
package caldav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// basicAuthTransport adds Basic Auth and a User-Agent header to each request.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "icalfix/1.0")
	return t.Transport.RoundTrip(req)
}

// Client is a client for one calendar collection on a CalDAV server.
type Client struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	calendarPath string
}

// NewClient creates a Client for the named calendar at the given endpoint.
// An empty calendarName selects the first calendar the server advertises.
func NewClient(logger *slog.Logger, endpoint, username, password, calendarName string) (*Client, error) {
	transport := &basicAuthTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	c := &Client{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
	}

	logger.Info("Finding calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(context.Background(), calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found calendar", "path", calendarPath)

	return c, nil
}

// findCalendar discovers the user's calendars and returns the path of the
// one with the matching name.
func (c *Client) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if name == "" || cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// ListObjectPaths returns the server paths of every calendar object in the
// collection.
func (c *Client) ListObjectPaths(ctx context.Context) ([]string, error) {
	infos, err := c.webdavClient.ReadDir(ctx, c.calendarPath, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar collection: %w", err)
	}

	var paths []string
	for _, info := range infos {
		if info.IsDir || !strings.HasSuffix(info.Path, ".ics") {
			continue
		}
		paths = append(paths, info.Path)
	}
	return paths, nil
}

// GetRaw fetches one calendar object as raw text, exactly as the server
// hands it out.
func (c *Client) GetRaw(ctx context.Context, path string) (string, error) {
	c.logger.Debug("Fetching calendar object", "path", path)

	body, err := c.webdavClient.Open(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to fetch calendar object: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read calendar object body: %w", err)
	}
	return string(data), nil
}

// PutRaw stores text as the calendar object at path, overwriting whatever
// the server currently holds there.
func (c *Client) PutRaw(ctx context.Context, path, text string) error {
	writer, err := c.webdavClient.Create(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to store calendar object: %w", err)
	}

	if _, err := io.WriteString(writer, text); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write calendar object body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish calendar object upload: %w", err)
	}
	return nil
}
