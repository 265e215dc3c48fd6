package notification

import (
	"bytes"
	"context"
	"net/url"
	"strconv"

	"gigsync/internal/client"
)

const (
	notificationsPath = "/api/notifications"

	// notificationsCachePattern matches every cached notification read.
	notificationsCachePattern = `^/api/notifications`
)

// API is the notification REST surface reached through the request client.
type API struct {
	client    *client.Client
	pageLimit int
}

// NewAPI creates the REST adapter. pageLimit is sent as the limit query value.
func NewAPI(c *client.Client, pageLimit int) *API {
	if pageLimit <= 0 {
		pageLimit = 20
	}
	return &API{client: c, pageLimit: pageLimit}
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type listResponse struct {
	Data       []Partial   `json:"data"`
	Pagination *pagination `json:"pagination"`
}

// List fetches one page of history. With useCache a cached page may be served
// stale while it is refreshed in the background.
func (a *API) List(ctx context.Context, page int, useCache bool) (PageResult, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(a.pageLimit))

	raw, err := a.client.Get(ctx, notificationsPath+"?"+q.Encode(), useCache)
	if err != nil {
		return PageResult{}, err
	}

	// Some deployments return a bare array.
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		items, err := client.Decode[[]Partial](raw)
		if err != nil {
			return PageResult{}, err
		}
		return PageResult{Items: items, Page: page, HasMore: len(items) >= a.pageLimit}, nil
	}

	resp, err := client.Decode[listResponse](raw)
	if err != nil {
		return PageResult{}, err
	}
	result := PageResult{Items: resp.Data, Page: page, HasMore: len(resp.Data) >= a.pageLimit}
	if p := resp.Pagination; p != nil && p.TotalPages > 0 {
		result.HasMore = page < p.TotalPages
	}
	return result, nil
}

// MarkRead marks ids read. A single id uses the per-notification endpoint.
func (a *API) MarkRead(ctx context.Context, ids []string) error {
	var err error
	switch len(ids) {
	case 0:
		return nil
	case 1:
		_, err = a.client.Put(ctx, notificationsPath+"/"+url.PathEscape(ids[0])+"/read", nil)
	default:
		_, err = a.client.Put(ctx, notificationsPath+"/read", map[string][]string{"ids": ids})
	}
	if err != nil {
		return err
	}
	a.invalidate(ctx)
	return nil
}

// MarkAllRead marks every notification of the user read.
func (a *API) MarkAllRead(ctx context.Context) error {
	if _, err := a.client.Put(ctx, notificationsPath+"/read-all", nil); err != nil {
		return err
	}
	a.invalidate(ctx)
	return nil
}

// Delete removes one notification.
func (a *API) Delete(ctx context.Context, id string) error {
	if _, err := a.client.Delete(ctx, notificationsPath+"/"+url.PathEscape(id), nil); err != nil {
		return err
	}
	a.invalidate(ctx)
	return nil
}

// invalidate drops cached pages the mutation made stale.
func (a *API) invalidate(ctx context.Context) {
	_ = a.client.ClearCache(ctx, notificationsCachePattern)
}

var _ ReadAPI = (*API)(nil)
