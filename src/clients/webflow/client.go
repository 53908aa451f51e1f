package webflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.webflow.com/v2"

// EventFields is the field data of one item in the events collection.
type EventFields struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Start        string `json:"event-date-start,omitempty"`
	End          string `json:"event-date-time-end,omitempty"`
	Summary      string `json:"summary-of-the-event,omitempty"`
	Description  string `json:"full-description,omitempty"`
	SignupLink   string `json:"event-signup-link,omitempty"`
	Organizer    string `json:"event-organizer,omitempty"`
	FeatureColor string `json:"event-featured-color,omitempty"`
}

type Item struct {
	ID         string      `json:"id,omitempty"`
	IsArchived bool        `json:"isArchived"`
	IsDraft    bool        `json:"isDraft"`
	FieldData  EventFields `json:"fieldData"`
}

type listItemsResponse struct {
	Items      []Item `json:"items"`
	Pagination struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
		Total  int `json:"total"`
	} `json:"pagination"`
}

// Client talks to one CMS collection.
type Client struct {
	baseURL      string
	token        string
	collectionID string
	http         *http.Client
}

// NewClient builds a client; baseURL may be empty for the public API.
func NewClient(token, collectionID, baseURL string, httpClient *http.Client) (*Client, error) {
	if token == "" || collectionID == "" {
		return nil, fmt.Errorf("webflow token and collection id are required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		collectionID: collectionID,
		http:         httpClient,
	}, nil
}

// ListItems pages through every item of the collection.
func (c *Client) ListItems(ctx context.Context) ([]Item, error) {
	const pageSize = 100
	items := make([]Item, 0)
	for offset := 0; ; offset += pageSize {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(pageSize))
		q.Set("offset", fmt.Sprint(offset))

		var page listItemsResponse
		if err := c.do(ctx, http.MethodGet, c.collectionPath("/items")+"?"+q.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("list webflow items: %w", err)
		}
		items = append(items, page.Items...)
		if len(page.Items) < pageSize || len(items) >= page.Pagination.Total {
			return items, nil
		}
	}
}

func (c *Client) CreateItem(ctx context.Context, fields EventFields) (Item, error) {
	var created Item
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/items"), Item{FieldData: fields}, &created); err != nil {
		return Item{}, fmt.Errorf("create webflow item %q: %w", fields.Name, err)
	}
	return created, nil
}

func (c *Client) PublishItems(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	body := map[string][]string{"itemIds": itemIDs}
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/items/publish"), body, nil); err != nil {
		return fmt.Errorf("publish webflow items: %w", err)
	}
	return nil
}

func (c *Client) collectionPath(suffix string) string {
	return c.baseURL + "/collections/" + url.PathEscape(c.collectionID) + suffix
}

func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9 -]`)
	slugSpace   = regexp.MustCompile(`\s+`)
	slugDashes  = regexp.MustCompile(`-+`)
	slugFold    = strings.NewReplacer(
		"à", "a", "á", "a", "ä", "a", "â", "a",
		"è", "e", "é", "e", "ë", "e", "ê", "e",
		"ì", "i", "í", "i", "ï", "i", "î", "i",
		"ò", "o", "ó", "o", "ö", "o", "ô", "o",
		"ù", "u", "ú", "u", "ü", "u", "û", "u",
		"ñ", "n", "ç", "c",
		"·", "-", "/", "-", "_", "-", ",", "-", ":", "-", ";", "-",
	)
)

// Slug turns an item name into a collection slug.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugFold.Replace(s)
	s = slugInvalid.ReplaceAllString(s, "")
	s = slugSpace.ReplaceAllString(s, "-")
	return slugDashes.ReplaceAllString(s, "-")
}
