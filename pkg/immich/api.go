package immich

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// User is a destination server account.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Album is a destination album with its owner and share members.
type Album struct {
	ID          string       `json:"id"`
	AlbumName   string       `json:"albumName"`
	Description string       `json:"description,omitempty"`
	OwnerID     string       `json:"ownerId,omitempty"`
	AssetCount  int          `json:"assetCount,omitempty"`
	Shared      bool         `json:"shared,omitempty"`
	AlbumUsers  []AlbumUser  `json:"albumUsers,omitempty"`
	Assets      []Asset      `json:"assets,omitempty"`
}

// AlbumUser is a share member entry on an album.
type AlbumUser struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Asset is a destination photo or video.
type Asset struct {
	ID               string     `json:"id"`
	OriginalFileName string     `json:"originalFileName"`
	OwnerID          string     `json:"ownerId,omitempty"`
	Type             string     `json:"type,omitempty"`
	FileCreatedAt    *time.Time `json:"fileCreatedAt,omitempty"`
}

// Tag is a destination tag.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// BulkResult reports per-id success for bulk membership operations.
type BulkResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ListUsers returns all accounts on the server.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUserRequest holds the fields for account creation.
type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateUser creates an account and returns it.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodPost, "/admin/users", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser updates an account's name or email.
func (c *Client) UpdateUser(ctx context.Context, id string, req CreateUserRequest) (*User, error) {
	body := struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
	}{Name: req.Name, Email: req.Email}

	var user User
	if err := c.do(ctx, http.MethodPut, "/admin/users/"+id, body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListAlbums returns all albums visible to the API key.
func (c *Client) ListAlbums(ctx context.Context) ([]Album, error) {
	var albums []Album
	if err := c.do(ctx, http.MethodGet, "/albums", nil, &albums); err != nil {
		return nil, err
	}
	return albums, nil
}

// GetAlbum returns one album including its asset list.
func (c *Client) GetAlbum(ctx context.Context, id string) (*Album, error) {
	var album Album
	if err := c.do(ctx, http.MethodGet, "/albums/"+id, nil, &album); err != nil {
		return nil, err
	}
	return &album, nil
}

// CreateAlbumRequest holds album creation fields.
type CreateAlbumRequest struct {
	AlbumName   string   `json:"albumName"`
	Description string   `json:"description,omitempty"`
	AssetIDs    []string `json:"assetIds,omitempty"`
}

// CreateAlbum creates an album and returns it.
func (c *Client) CreateAlbum(ctx context.Context, req CreateAlbumRequest) (*Album, error) {
	var album Album
	if err := c.do(ctx, http.MethodPost, "/albums", req, &album); err != nil {
		return nil, err
	}
	return &album, nil
}

// AddAlbumAssets adds assets to an album. Already-present assets report
// success=false in the result without failing the call.
func (c *Client) AddAlbumAssets(ctx context.Context, albumID string, assetIDs []string) ([]BulkResult, error) {
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: assetIDs}

	var results []BulkResult
	if err := c.do(ctx, http.MethodPut, "/albums/"+albumID+"/assets", body, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// AddAlbumMembers shares an album with the given users as viewers.
func (c *Client) AddAlbumMembers(ctx context.Context, albumID string, userIDs []string) error {
	users := make([]AlbumUser, 0, len(userIDs))
	for _, id := range userIDs {
		users = append(users, AlbumUser{UserID: id, Role: "viewer"})
	}
	body := struct {
		AlbumUsers []AlbumUser `json:"albumUsers"`
	}{AlbumUsers: users}

	return c.do(ctx, http.MethodPut, "/albums/"+albumID+"/users", body, nil)
}

// SearchAssetsRequest narrows a metadata search.
type SearchAssetsRequest struct {
	OriginalFileName string     `json:"originalFileName,omitempty"`
	TakenAfter       *time.Time `json:"takenAfter,omitempty"`
	TakenBefore      *time.Time `json:"takenBefore,omitempty"`
	Page             int        `json:"page,omitempty"`
	Size             int        `json:"size,omitempty"`
}

// SearchAssets finds assets by metadata. Used to match scraped photos to
// assets already uploaded through other channels.
func (c *Client) SearchAssets(ctx context.Context, req SearchAssetsRequest) ([]Asset, error) {
	var result struct {
		Assets struct {
			Items []Asset `json:"items"`
		} `json:"assets"`
	}
	if err := c.do(ctx, http.MethodPost, "/search/metadata", req, &result); err != nil {
		return nil, err
	}
	return result.Assets.Items, nil
}

// ReassignAssetOwner transfers an asset to another account.
func (c *Client) ReassignAssetOwner(ctx context.Context, assetID, ownerID string) error {
	body := struct {
		OwnerID string `json:"ownerId"`
	}{OwnerID: ownerID}

	return c.do(ctx, http.MethodPut, "/assets/"+assetID, body, nil)
}

// ListTags returns all tags.
func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	if err := c.do(ctx, http.MethodGet, "/tags", nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// UpsertTag creates a tag if missing and returns it. The server answers
// upsert requests with the full tag list, existing or created.
func (c *Client) UpsertTag(ctx context.Context, name string) (*Tag, error) {
	body := struct {
		Tags []string `json:"tags"`
	}{Tags: []string{name}}

	var tags []Tag
	if err := c.do(ctx, http.MethodPut, "/tags", body, &tags); err != nil {
		return nil, err
	}
	for i := range tags {
		if tags[i].Name == name || tags[i].Value == name {
			return &tags[i], nil
		}
	}
	if len(tags) == 1 {
		return &tags[0], nil
	}
	return nil, fmt.Errorf("tag %q missing from upsert response", name)
}

// TagAssets attaches a tag to the given assets.
func (c *Client) TagAssets(ctx context.Context, tagID string, assetIDs []string) ([]BulkResult, error) {
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: assetIDs}

	var results []BulkResult
	if err := c.do(ctx, http.MethodPut, "/tags/"+tagID+"/assets", body, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteTag removes a tag from the server. Assets keep their files, only
// the label association is dropped.
func (c *Client) DeleteTag(ctx context.Context, tagID string) error {
	return c.do(ctx, http.MethodDelete, "/tags/"+tagID, nil, nil)
}
