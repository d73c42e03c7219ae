package spotify

import "time"

// RecentItem is one entry from the recently-played endpoint, flattened to
// the fields the sync pipeline stores. PlayedAt is the raw wire timestamp
// string; parsing happens at ingestion so one malformed item cannot fail a
// whole batch.
type RecentItem struct {
	TrackID       string
	TrackName     string
	ArtistName    string
	AlbumName     *string
	AlbumImageURL *string
	PlayedAt      string
}

// TokenResponse is the outcome of a refresh-token exchange. RefreshToken is
// empty when the authorization server did not rotate it.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// UserProfile is the current user's account profile, fetched at login.
type UserProfile struct {
	ID              string
	Email           string
	DisplayName     string
	Country         *string
	ProfileImageURL *string
}

// Wire types for the recently-played response.

type recentlyPlayedResponse struct {
	Items []recentlyPlayedItem `json:"items"`
}

type recentlyPlayedItem struct {
	Track    trackObject `json:"track"`
	PlayedAt string      `json:"played_at"`
}

type trackObject struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Artists []artistObject `json:"artists"`
	Album   albumObject    `json:"album"`
}

type artistObject struct {
	Name string `json:"name"`
}

type albumObject struct {
	Name   string        `json:"name"`
	Images []imageObject `json:"images"`
}

type imageObject struct {
	URL string `json:"url"`
}

type meResponse struct {
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	DisplayName string        `json:"display_name"`
	Country     string        `json:"country"`
	Images      []imageObject `json:"images"`
}

type apiErrorResponse struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}
