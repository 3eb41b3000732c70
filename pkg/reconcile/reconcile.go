// Package reconcile computes and applies the difference between the local
// store and the destination server. Planning is read-only; applying walks
// the plan in dependency stages and records every assigned destination id
// back into the store as soon as it is known, so an interrupted run never
// creates the same entity twice.
package reconcile

import (
	"context"

	"immichporter/pkg/immich"
	"immichporter/pkg/store"
)

// Destination is the server surface the reconciler drives. *immich.Client
// satisfies it; tests substitute a fake.
type Destination interface {
	ListUsers(ctx context.Context) ([]immich.User, error)
	CreateUser(ctx context.Context, req immich.CreateUserRequest) (*immich.User, error)
	UpdateUser(ctx context.Context, id string, req immich.CreateUserRequest) (*immich.User, error)
	ListAlbums(ctx context.Context) ([]immich.Album, error)
	GetAlbum(ctx context.Context, id string) (*immich.Album, error)
	CreateAlbum(ctx context.Context, req immich.CreateAlbumRequest) (*immich.Album, error)
	AddAlbumAssets(ctx context.Context, albumID string, assetIDs []string) ([]immich.BulkResult, error)
	AddAlbumMembers(ctx context.Context, albumID string, userIDs []string) error
	SearchAssets(ctx context.Context, req immich.SearchAssetsRequest) ([]immich.Asset, error)
	ReassignAssetOwner(ctx context.Context, assetID, ownerID string) error
	ListTags(ctx context.Context) ([]immich.Tag, error)
	UpsertTag(ctx context.Context, name string) (*immich.Tag, error)
	TagAssets(ctx context.Context, tagID string, assetIDs []string) ([]immich.BulkResult, error)
	DeleteTag(ctx context.Context, tagID string) error
}

// Source is the store surface the reconciler reads from and writes
// mappings to. *store.Store satisfies it.
type Source interface {
	Users() ([]store.User, error)
	Albums(filter store.AlbumFilter) ([]store.Album, error)
	Assets() ([]store.Asset, error)
	AlbumAssets(albumID int64) ([]store.Asset, error)
	AlbumUsers(albumID int64) ([]store.User, error)
	Tags() ([]store.Tag, error)
	TagAssets(tagID int64) ([]string, error)
	DestinationID(entity, sourceKey string) (string, bool, error)
	MapDestinationID(entity, sourceKey, destinationID string) error
	Mappings(entity string) (map[string]string, error)
	DeleteMapping(entity, sourceKey string) error
}

// Ref names an entity another mutation depends on.
type Ref struct {
	Entity    string
	SourceKey string
}

// Mutation is one pending change against the destination.
type Mutation struct {
	// Entity and SourceKey identify what this mutation creates or
	// modifies. On success the returned destination id is recorded
	// under this pair.
	Entity    string
	SourceKey string

	// ShardKey serializes mutations touching the same destination
	// entity. Mutations sharing a shard key never run concurrently.
	ShardKey string

	// DependsOn lists entities that must be mapped before this
	// mutation may run. A failed or unmapped dependency blocks it.
	DependsOn []Ref

	// Describe is a human-readable summary for dry runs and logs.
	Describe string

	// apply performs the change and returns the destination id to
	// record, or "" when the mutation maps nothing new.
	apply func(ctx context.Context) (string, error)
}

// Stage is an ordered group of independent mutations. Stages run in
// sequence; mutations within a stage may run concurrently subject to
// shard keys.
type Stage struct {
	Name      string
	Mutations []Mutation
}

// Plan is the full set of pending changes, in dependency order.
type Plan struct {
	Stages []Stage

	// Notes carries planner observations that do not become mutations,
	// such as entities matched to existing destination records or
	// users skipped for missing required fields.
	Notes []string
}

// Empty reports whether the plan contains no mutations.
func (p *Plan) Empty() bool {
	for _, s := range p.Stages {
		if len(s.Mutations) > 0 {
			return false
		}
	}
	return true
}

// Count returns the total number of pending mutations.
func (p *Plan) Count() int {
	n := 0
	for _, s := range p.Stages {
		n += len(s.Mutations)
	}
	return n
}
