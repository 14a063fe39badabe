// Package synoclient implements the remote photo API client.
//
// The remote library is partitioned into spaces (a personal space and a
// shared team space) with independent album and tag id namespaces. The
// client resolves the configured selection (tags take precedence over
// albums), fans out one concurrent fetch per (tag, space) or album,
// and de-duplicates the joined result.
//
// Every failure at the client boundary is logged and converted into an
// empty or false result. Callers uniformly see "no photos" instead of
// errors.
package synoclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/photokiosk/photokiosk/internal/errutil"
	"github.com/photokiosk/photokiosk/internal/photo"
)

// Config holds the remote connection and selection settings for one
// fetch cycle.
type Config struct {
	// BaseURL is the API root, e.g. "https://nas:5001/webapi".
	BaseURL  string
	Account  string
	Password string

	// SharePassphrase is a pre-shared album token. When set, session
	// authentication is skipped and the shared endpoint is used.
	SharePassphrase string

	// Album selects items by album name. "*" fetches every album.
	// Ignored when Tags is non-empty.
	Album string

	// Tags selects items carrying any of the named tags, resolved
	// independently in every space.
	Tags []string

	PageSize         int
	ThumbnailSize    string
	FetchConcurrency int
	DownloadTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.ThumbnailSize == "" {
		c.ThumbnailSize = "xl"
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 4
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 30 * time.Second
	}
}

// space is a logical partition of the remote library with its own
// album/tag id namespace.
type space struct {
	Name string
	API  string
	ID   *int
}

func personalSpace() space {
	return space{Name: "personal", API: "SYNO.Foto"}
}

func teamSpace() space {
	id := 1
	return space{Name: "shared", API: "SYNO.FotoTeam", ID: &id}
}

type tagRef struct {
	ID    int64
	Space space
}

type albumRef struct {
	ID   int64
	Name string
}

// Client talks to one remote photo library. Construct a fresh client
// per fetch cycle; resolved state is not meant to survive config
// changes.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	sid    string
	tags   []tagRef
	albums []albumRef
}

func New(cfg Config, httpClient *http.Client, log *slog.Logger) *Client {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, http: httpClient, log: log}
}

type apiError struct {
	Code int `json:"code"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

// call performs one GET against entry.cgi and decodes the response
// envelope into out.
func (c *Client) call(ctx context.Context, api, method string, version int, params url.Values, out any) error {
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("api", api)
	q.Set("method", method)
	q.Set("version", strconv.Itoa(version))
	if c.sid != "" && c.cfg.SharePassphrase == "" {
		q.Set("_sid", c.sid)
	}
	if c.cfg.SharePassphrase != "" {
		q.Set("passphrase", c.cfg.SharePassphrase)
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/entry.cgi?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		errutil.LogMsg(c.log, resp.Body.Close(), "Failed to close response body")
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !envelope.Success {
		code := 0
		if envelope.Error != nil {
			code = envelope.Error.Code
		}
		return fmt.Errorf("api %s.%s failed with code %d", api, method, code)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}

// Authenticate obtains a session id, reused on every subsequent call.
// With a share passphrase configured no session is needed and the call
// is a no-op returning true.
func (c *Client) Authenticate(ctx context.Context) bool {
	if c.cfg.SharePassphrase != "" {
		c.log.Debug("Share passphrase configured, skipping authentication")
		return true
	}

	params := url.Values{}
	params.Set("account", c.cfg.Account)
	params.Set("passwd", c.cfg.Password)
	params.Set("format", "sid")

	var data struct {
		Sid string `json:"sid"`
	}
	if err := c.call(ctx, "SYNO.API.Auth", "login", 7, params, &data); err != nil {
		c.log.Error("Authentication failed", "error", err)
		return false
	}
	c.sid = data.Sid
	c.log.Info("Authenticated", "account", c.cfg.Account)
	return true
}

// Logout releases the session. Best effort.
func (c *Client) Logout(ctx context.Context) {
	if c.sid == "" {
		return
	}
	err := c.call(ctx, "SYNO.API.Auth", "logout", 7, nil, nil)
	errutil.LogMsg(c.log, err, "Logout failed")
	c.sid = ""
}

// spaces returns every space the account can see. Shared-album mode
// uses the passphrase instead and never touches the team space.
func (c *Client) spaces() []space {
	if c.cfg.SharePassphrase != "" {
		return []space{personalSpace()}
	}
	return []space{personalSpace(), teamSpace()}
}

type tagRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ResolveTags looks up the configured tag names in every space.
// Failure in one space does not abort resolution in another; success
// requires at least one space to yield matching ids.
func (c *Client) ResolveTags(ctx context.Context) bool {
	if len(c.cfg.Tags) == 0 {
		return false
	}

	wanted := make(map[string]bool, len(c.cfg.Tags))
	for _, name := range c.cfg.Tags {
		wanted[strings.ToLower(name)] = true
	}

	c.tags = nil
	for _, sp := range c.spaces() {
		records, err := c.listTags(ctx, sp)
		if err != nil {
			c.log.Warn("Tag resolution failed in space", "space", sp.Name, "error", err)
			continue
		}
		for _, rec := range records {
			if wanted[strings.ToLower(rec.Name)] {
				c.tags = append(c.tags, tagRef{ID: rec.ID, Space: sp})
			}
		}
	}

	if len(c.tags) == 0 {
		c.log.Warn("No matching tags found in any space", "tags", c.cfg.Tags)
		return false
	}
	c.log.Info("Resolved tags", "count", len(c.tags))
	return true
}

func (c *Client) listTags(ctx context.Context, sp space) ([]tagRecord, error) {
	var all []tagRecord
	for offset := 0; ; offset += c.cfg.PageSize {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(c.cfg.PageSize))

		var data struct {
			List []tagRecord `json:"list"`
		}
		if err := c.call(ctx, sp.API+".Browse.GeneralTag", "list", 1, params, &data); err != nil {
			return nil, err
		}
		all = append(all, data.List...)
		if len(data.List) < c.cfg.PageSize {
			return all, nil
		}
	}
}

type albumRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ResolveAlbums lists albums and keeps those matching name. An empty
// name (or "*") keeps every album found.
func (c *Client) ResolveAlbums(ctx context.Context, name string) bool {
	var all []albumRecord
	for offset := 0; ; offset += c.cfg.PageSize {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(c.cfg.PageSize))

		var data struct {
			List []albumRecord `json:"list"`
		}
		if err := c.call(ctx, "SYNO.Foto.Browse.Album", "list", 2, params, &data); err != nil {
			c.log.Error("Album listing failed", "error", err)
			return false
		}
		all = append(all, data.List...)
		if len(data.List) < c.cfg.PageSize {
			break
		}
	}

	c.albums = nil
	for _, rec := range all {
		if name == "" || name == "*" || strings.EqualFold(rec.Name, name) {
			c.albums = append(c.albums, albumRef{ID: rec.ID, Name: rec.Name})
		}
	}

	if len(c.albums) == 0 {
		c.log.Warn("No matching albums found", "album", name)
		return false
	}
	c.log.Info("Resolved albums", "count", len(c.albums))
	return true
}

// Fetch retrieves the selected items. Priority: tags, then albums,
// then the whole personal space. All failures yield an empty list.
func (c *Client) Fetch(ctx context.Context) []photo.Item {
	var items []photo.Item

	switch {
	case c.cfg.SharePassphrase != "":
		items = c.fetchShared(ctx)
	case len(c.tags) > 0:
		items = c.fetchByTags(ctx)
	case len(c.albums) > 0:
		items = c.fetchByAlbums(ctx)
	default:
		var err error
		items, err = c.listItems(ctx, personalSpace(), nil)
		if err != nil {
			c.log.Error("Item listing failed", "error", err)
			return nil
		}
	}

	items = dedup(items)
	c.log.Info("Fetched photo list", "count", len(items))
	return items
}

func (c *Client) fetchShared(ctx context.Context) []photo.Item {
	items, err := c.listItems(ctx, personalSpace(), nil)
	if err != nil {
		c.log.Error("Shared album fetch failed", "error", err)
		return nil
	}
	return items
}

// fetchByTags fans out one fetch per (tag id, space id) pair. Results
// are joined in task order so the flattened list is deterministic.
func (c *Client) fetchByTags(ctx context.Context) []photo.Item {
	results := make([][]photo.Item, len(c.tags))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.FetchConcurrency)
	for i, ref := range c.tags {
		g.Go(func() error {
			filter := url.Values{}
			filter.Set("general_tag_id", strconv.FormatInt(ref.ID, 10))
			items, err := c.listItems(gctx, ref.Space, filter)
			if err != nil {
				c.log.Warn("Tag fetch failed", "tag_id", ref.ID, "space", ref.Space.Name, "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	return flatten(results)
}

func (c *Client) fetchByAlbums(ctx context.Context) []photo.Item {
	results := make([][]photo.Item, len(c.albums))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.FetchConcurrency)
	for i, ref := range c.albums {
		g.Go(func() error {
			filter := url.Values{}
			filter.Set("album_id", strconv.FormatInt(ref.ID, 10))
			items, err := c.listItems(gctx, personalSpace(), filter)
			if err != nil {
				c.log.Warn("Album fetch failed", "album_id", ref.ID, "album", ref.Name, "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	return flatten(results)
}

type itemRecord struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	Type        string `json:"type"`
	Time        int64  `json:"time"`
	IndexedTime int64  `json:"indexed_time"`
	Additional  struct {
		Thumbnail struct {
			CacheKey string `json:"cache_key"`
		} `json:"thumbnail"`
	} `json:"additional"`
}

// listItems pages through the item-listing endpoint for one space,
// applying the given filter params, and maps accepted records.
func (c *Client) listItems(ctx context.Context, sp space, filter url.Values) ([]photo.Item, error) {
	var all []photo.Item
	for offset := 0; ; offset += c.cfg.PageSize {
		params := url.Values{}
		for k, vs := range filter {
			params[k] = vs
		}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(c.cfg.PageSize))
		params.Set("additional", `["thumbnail"]`)

		var data struct {
			List []itemRecord `json:"list"`
		}
		if err := c.call(ctx, sp.API+".Browse.Item", "list", 1, params, &data); err != nil {
			return nil, err
		}
		for _, rec := range data.List {
			if item, ok := c.mapItem(rec, sp); ok {
				all = append(all, item)
			}
		}
		if len(data.List) < c.cfg.PageSize {
			return all, nil
		}
	}
}

// mapItem converts a raw record into a photo.Item. Only photo and live
// photo types are accepted; videos are excluded from the listing and
// handled out-of-band by extension sniffing once an item is selected.
func (c *Client) mapItem(rec itemRecord, sp space) (photo.Item, bool) {
	if rec.Type != "photo" && rec.Type != "live" {
		return photo.Item{}, false
	}

	sourceID := rec.ID
	if sourceID == 0 {
		// No stable source id; fall back to indexed time as a raw id.
		sourceID = rec.IndexedTime
	}

	now := time.Now().UnixMilli()
	created := rec.Time * 1000
	if created == 0 {
		created = now
	}
	modified := rec.IndexedTime
	if modified == 0 {
		modified = created
	}

	return photo.Item{
		Path:     sp.Name + "/" + rec.Filename,
		URL:      c.thumbnailURL(rec, sp),
		Created:  created,
		Modified: modified,
		SourceID: sourceID,
		SpaceID:  sp.ID,
	}, true
}

// thumbnailURL synthesizes the display URL from id, thumbnail cache
// key and space context, carrying either the session id or the share
// passphrase.
func (c *Client) thumbnailURL(rec itemRecord, sp space) string {
	q := url.Values{}
	q.Set("api", sp.API+".Thumbnail")
	q.Set("method", "get")
	q.Set("version", "2")
	q.Set("id", strconv.FormatInt(rec.ID, 10))
	q.Set("cache_key", rec.Additional.Thumbnail.CacheKey)
	q.Set("type", "unit")
	q.Set("size", c.cfg.ThumbnailSize)
	if c.cfg.SharePassphrase != "" {
		q.Set("passphrase", c.cfg.SharePassphrase)
	} else if c.sid != "" {
		q.Set("_sid", c.sid)
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/entry.cgi?" + q.Encode()
}

// DownloadPhoto fetches one thumbnail. Best effort with its own
// timeout; returns nil on any failure.
func (c *Client) DownloadPhoto(ctx context.Context, rawURL string) []byte {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, http.MethodGet, rawURL, nil)
	if err != nil {
		c.log.Warn("Download request failed", "error", err)
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("Download failed", "error", err)
		return nil
	}
	defer func() {
		errutil.LogMsg(c.log, resp.Body.Close(), "Failed to close download body")
	}()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("Download returned unexpected status", "status", resp.StatusCode)
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn("Download read failed", "error", err)
		return nil
	}
	return body
}

func flatten(results [][]photo.Item) []photo.Item {
	var out []photo.Item
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// dedup removes duplicate (sourceId, spaceId) pairs, preserving
// first-seen order.
func dedup(items []photo.Item) []photo.Item {
	seen := make(map[photo.DedupKey]bool, len(items))
	out := items[:0:0]
	for _, it := range items {
		k := photo.Key(it)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}
