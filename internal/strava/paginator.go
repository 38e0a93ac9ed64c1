package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"
)

// ListActivities fetches every activity for one athlete inside (after,
// before], walking pages from 1 until a short or empty page. A strictly
// empty page is a definite stop; a short non-empty page is the natural end.
// The after cursor is the max UTC start time from the previous successful
// run, so late-arriving activities with older server timestamps are only
// picked up within one sync cycle of their upload — a known limitation.
//
// A restart re-requests from page 1; pages are not resumable mid-collection.
func (c *Client) ListActivities(ctx context.Context, accessToken string, after, before time.Time, perPage int) ([]Activity, error) {
	if perPage <= 0 {
		perPage = 100
	}

	var all []Activity
	for page := 1; ; page++ {
		params := url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(perPage)},
		}
		if !after.IsZero() {
			params.Set("after", strconv.FormatInt(after.Unix(), 10))
		}
		if !before.IsZero() {
			params.Set("before", strconv.FormatInt(before.Unix(), 10))
		}

		resp, err := c.get(ctx, c.cfg.BaseURL+activitiesPath, accessToken, params)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		if resp.StatusCode != 200 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("page %d: status %d: %s", page, resp.StatusCode, string(body))
		}

		var batch []Activity
		err = json.NewDecoder(resp.Body).Decode(&batch)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("page %d: decode: %w", page, err)
		}

		if len(batch) == 0 {
			return all, nil
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}
