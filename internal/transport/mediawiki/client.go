package mediawiki

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/samber/oops"
)

// UserProps are the user properties requested alongside the edit count
const UserProps = "blockinfo|groups|editcount"

const maxBodySize = 32 << 20

// Client queries the MediaWiki Action API of any site
type Client struct {
	client    *http.Client
	userAgent string
}

func New(userAgent string, timeout time.Duration) *Client {
	return &Client{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

type usersResponse struct {
	Query *struct {
		Users []struct {
			Name      string  `json:"name"`
			EditCount *int    `json:"editcount"`
			Invalid   *string `json:"invalid"`
		} `json:"users"`
	} `json:"query"`
}

type parseResponse struct {
	Parse *struct {
		Title    string             `json:"title"`
		RevID    int64              `json:"revid"`
		Wikitext map[string]*string `json:"wikitext"`
	} `json:"parse"`
}

// EditCount returns the edit count of username. A response without an edit
// count (the user was renamed, deleted or hidden after the event) is
// reported as ErrQueryRaceCondition. So is an anonymous editor, whose IP
// address the API rejects as an invalid username; that error carries
// the reason ReasonInvalidUser.
func (c *Client) EditCount(ctx context.Context, api, username string) (int, error) {
	params := url.Values{
		"format":  {"json"},
		"action":  {"query"},
		"list":    {"users"},
		"ususers": {username},
		"usprop":  {UserProps},
	}

	body, err := c.get(ctx, api, params)
	if err != nil {
		return 0, err
	}

	var resp usersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, raceCondition(api, "users", body, err)
	}
	if resp.Query == nil || len(resp.Query.Users) == 0 {
		return 0, raceCondition(api, "users", body, nil)
	}
	user := resp.Query.Users[0]
	if user.Invalid != nil {
		return 0, oops.In("mediawiki").
			Code(errors.CodeQueryRace).
			With("api", api, "query", "users", "body", string(body), "reason", errors.ReasonInvalidUser).
			Wrap(errors.ErrQueryRaceCondition)
	}
	if user.EditCount == nil {
		return 0, raceCondition(api, "users", body, nil)
	}

	return *user.EditCount, nil
}

// RevisionText returns the wikitext of a revision. A response without the
// text is reported as ErrQueryRaceCondition.
func (c *Client) RevisionText(ctx context.Context, api string, revid int64) (string, error) {
	params := url.Values{
		"format": {"json"},
		"action": {"parse"},
		"oldid":  {strconv.FormatInt(revid, 10)},
		"prop":   {"wikitext"},
	}

	body, err := c.get(ctx, api, params)
	if err != nil {
		return "", err
	}

	var resp parseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", raceCondition(api, "parse", body, err)
	}
	if resp.Parse == nil || resp.Parse.Wikitext["*"] == nil {
		return "", raceCondition(api, "parse", body, nil)
	}

	return *resp.Parse.Wikitext["*"], nil
}

func (c *Client) get(ctx context.Context, api string, params url.Values) ([]byte, error) {
	endpoint := api + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, oops.In("mediawiki").With("api", api).Wrap(err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, oops.In("mediawiki").With("api", api, "action", params.Get("action")).Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, oops.In("mediawiki").With("api", api, "context", "failed to read response").Wrap(err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, oops.In("mediawiki").
			With("api", api, "status", resp.StatusCode, "body", string(body)).
			Errorf("api returned status: %d", resp.StatusCode)
	}

	return body, nil
}

func raceCondition(api, query string, body []byte, cause error) error {
	builder := oops.In("mediawiki").
		Code(errors.CodeQueryRace).
		With("api", api, "query", query, "body", string(body))
	if cause != nil {
		builder = builder.With("cause", cause.Error())
	}
	return builder.Wrap(errors.ErrQueryRaceCondition)
}
