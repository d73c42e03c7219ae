// Package spotify provides access to the Spotify Web API surface the sync
// engine depends on: the recently-played feed and the refresh-token
// exchange.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	oauth2spotify "golang.org/x/oauth2/spotify"
)

const (
	defaultBaseURL = "https://api.spotify.com/v1"
	userAgent      = "looped/1.0"

	// MaxRecentlyPlayed is the API's hard cap per request. There is no
	// follow-up pagination: plays older than the most recent 50 since the
	// cursor are lost, an accepted limitation inherited from the API
	// contract.
	MaxRecentlyPlayed = 50
)

// Sentinel errors.
var (
	// ErrUnauthorized is returned when the access token is invalid and the
	// API responds with 401.
	ErrUnauthorized = errors.New("access token rejected")

	// ErrRateLimited is returned when the rate limit is still exceeded
	// after retries.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// API is the capability the sync engine needs from the streaming service.
// Client is the production implementation; Fake is an in-memory test
// double.
type API interface {
	// RecentlyPlayed returns up to limit plays strictly after afterMillis
	// (Unix milliseconds). A nil afterMillis requests the most recent plays
	// with no lower bound.
	RecentlyPlayed(ctx context.Context, accessToken string, limit int, afterMillis *int64) ([]RecentItem, error)

	// RefreshToken exchanges a refresh token for a new access token.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// Client is an HTTP client for the Spotify Web API with a bounded timeout
// and retry on rate limiting.
type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a Spotify API client. The client credentials are only
// used for the refresh-token exchange.
func NewClient(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:  defaultBaseURL,
		tokenURL: oauth2spotify.Endpoint.TokenURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecentlyPlayed calls the recently-played endpoint. Results are capped at
// MaxRecentlyPlayed by the API and are exclusive-after the cursor.
func (c *Client) RecentlyPlayed(ctx context.Context, accessToken string, limit int, afterMillis *int64) ([]RecentItem, error) {
	if limit <= 0 || limit > MaxRecentlyPlayed {
		limit = MaxRecentlyPlayed
	}

	params := url.Values{"limit": {strconv.Itoa(limit)}}
	if afterMillis != nil {
		params.Set("after", strconv.FormatInt(*afterMillis, 10))
	}
	reqURL := c.baseURL + "/me/player/recently-played?" + params.Encode()

	body, err := c.doRequest(ctx, reqURL, accessToken)
	if err != nil {
		return nil, err
	}

	var resp recentlyPlayedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing recently played response: %w", err)
	}

	items := make([]RecentItem, 0, len(resp.Items))
	for _, item := range resp.Items {
		items = append(items, flattenItem(item))
	}
	return items, nil
}

// Me fetches the profile of the user the access token belongs to. Used by
// the login flow to identify the account.
func (c *Client) Me(ctx context.Context, accessToken string) (*UserProfile, error) {
	body, err := c.doRequest(ctx, c.baseURL+"/me", accessToken)
	if err != nil {
		return nil, err
	}

	var resp meResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing profile response: %w", err)
	}

	profile := &UserProfile{
		ID:          resp.ID,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
	}
	if resp.Country != "" {
		country := resp.Country
		profile.Country = &country
	}
	if len(resp.Images) > 0 {
		u := resp.Images[0].URL
		profile.ProfileImageURL = &u
	}
	return profile, nil
}

// RefreshToken exchanges a refresh token for a fresh access token via the
// accounts token endpoint. The response may rotate the refresh token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	conf := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  oauth2spotify.Endpoint.AuthURL,
			TokenURL: c.tokenURL,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	resp := &TokenResponse{
		AccessToken: token.AccessToken,
		Expiry:      token.Expiry,
	}
	// oauth2 carries the old refresh token forward when the server does not
	// rotate it; only report a rotation to the caller.
	if token.RefreshToken != refreshToken {
		resp.RefreshToken = token.RefreshToken
	}
	return resp, nil
}

// doRequest performs an authorized GET with retry on rate limit.
// Retries up to 3 times with exponential backoff (1s, 2s, 4s).
func (c *Client) doRequest(ctx context.Context, reqURL, accessToken string) ([]byte, error) {
	delays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	var lastErr error

	for attempt := 0; attempt <= len(delays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delays[attempt-1]):
			}
		}

		body, err := c.doSingleRequest(ctx, reqURL, accessToken)
		if err == nil {
			return body, nil
		}

		if errors.Is(err, ErrRateLimited) {
			lastErr = err
			continue
		}

		return nil, err
	}

	return nil, lastErr
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, reqURL, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		var apiErr apiErrorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Status != 0 {
			return nil, fmt.Errorf("API error %d: %s", apiErr.Error.Status, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// flattenItem converts a wire item to a RecentItem, joining artist names
// and taking the first album image.
func flattenItem(item recentlyPlayedItem) RecentItem {
	artists := make([]string, len(item.Track.Artists))
	for i, a := range item.Track.Artists {
		artists[i] = a.Name
	}

	out := RecentItem{
		TrackID:    item.Track.ID,
		TrackName:  item.Track.Name,
		ArtistName: strings.Join(artists, ", "),
		PlayedAt:   item.PlayedAt,
	}
	if item.Track.Album.Name != "" {
		name := item.Track.Album.Name
		out.AlbumName = &name
	}
	if len(item.Track.Album.Images) > 0 {
		u := item.Track.Album.Images[0].URL
		out.AlbumImageURL = &u
	}
	return out
}
