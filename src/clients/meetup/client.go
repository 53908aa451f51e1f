package meetup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
)

const (
	DefaultTokenURL = "https://secure.meetup.com/oauth2/access"
	DefaultEndpoint = "https://api.meetup.com/gql"
	audience        = "api.meetup.com"
)

// Config holds the JWT-bearer credentials of an authorized member.
type Config struct {
	PrivateKey         string
	ConsumerKey        string
	AuthorizedMemberID string
	SigningKeyID       string

	// Optional overrides.
	TokenURL   string
	Endpoint   string
	HTTPClient *http.Client
}

// Client queries the Meetup GraphQL API.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.PrivateKey == "" || cfg.ConsumerKey == "" || cfg.AuthorizedMemberID == "" || cfg.SigningKeyID == "" {
		return nil, fmt.Errorf("meetup credentials are incomplete")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	conf := &jwt.Config{
		Email:        cfg.ConsumerKey,
		Subject:      cfg.AuthorizedMemberID,
		PrivateKey:   []byte(cfg.PrivateKey),
		PrivateKeyID: cfg.SigningKeyID,
		Audience:     audience,
		TokenURL:     tokenURL,
		Expires:      20 * time.Minute,
	}

	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	return &Client{
		endpoint: endpoint,
		http:     oauth2.NewClient(ctx, conf.TokenSource(ctx)),
	}, nil
}

// Event is one node of an upcomingEvents connection.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	EventURL    string `json:"eventUrl"`
	Description string `json:"description"`
	Venue       *struct {
		Name string `json:"name"`
	} `json:"venue"`
	DateTime string `json:"dateTime"`
	EndTime  string `json:"endTime"`
}

// VenueName returns "" when the event has no venue.
func (e Event) VenueName() string {
	if e.Venue == nil {
		return ""
	}
	return e.Venue.Name
}

const groupEventsQuery = `query($urlname: String!) {
  groupByUrlname(urlname: $urlname) {
    id
    name
    upcomingEvents(input: {first: 1000}) {
      count
      edges {
        node {
          id
          title
          eventUrl
          description
          venue { name }
          dateTime
          endTime
        }
      }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type groupEventsData struct {
	GroupByURLName *struct {
		UpcomingEvents struct {
			Edges []struct {
				Node Event `json:"node"`
			} `json:"edges"`
		} `json:"upcomingEvents"`
	} `json:"groupByUrlname"`
}

// GetCommunityEvents returns the upcoming events of the group with urlname.
// An unknown group yields no events.
func (c *Client) GetCommunityEvents(ctx context.Context, urlname string) ([]Event, error) {
	var data groupEventsData
	if err := c.query(ctx, groupEventsQuery, map[string]any{"urlname": urlname}, &data); err != nil {
		return nil, fmt.Errorf("query meetup group %s: %w", urlname, err)
	}
	if data.GroupByURLName == nil {
		return []Event{}, nil
	}
	edges := data.GroupByURLName.UpcomingEvents.Edges
	events := make([]Event, 0, len(edges))
	for _, edge := range edges {
		events = append(events, edge.Node)
	}
	return events, nil
}

func (c *Client) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read graphql response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graphql status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTime parses the ISO-8601 variants the API returns.
func ParseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised meetup time %q", raw)
}
