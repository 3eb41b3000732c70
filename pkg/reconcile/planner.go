package reconcile

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	errs "immichporter/pkg/errors"
	"immichporter/pkg/immich"
	"immichporter/pkg/logger"
	"immichporter/pkg/store"
)

// Reconciler plans and applies changes against one destination server.
type Reconciler struct {
	src         Source
	dst         Destination
	logger      logger.Logger
	concurrency int
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithConcurrency bounds the number of mutations applied in parallel.
func WithConcurrency(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the reconciler logger.
func WithLogger(log logger.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = log }
}

// New creates a reconciler over the given source store and destination.
func New(src Source, dst Destination, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		src:         src,
		dst:         dst,
		logger:      logger.GetLogger(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan computes the pending changes. Entities that already exist on the
// destination are matched and mapped during planning, so only genuinely
// missing entities and associations become mutations.
func (r *Reconciler) Plan(ctx context.Context) (*Plan, error) {
	plan := &Plan{}

	userStage, pendingUsers, err := r.planUsers(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("planning users: %w", err)
	}

	albumStage, albums, err := r.planAlbums(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("planning albums: %w", err)
	}

	assetStage, err := r.planAssets(plan)
	if err != nil {
		return nil, fmt.Errorf("planning assets: %w", err)
	}

	assocStage, err := r.planAssociations(ctx, albums, pendingUsers)
	if err != nil {
		return nil, fmt.Errorf("planning associations: %w", err)
	}
	if err := r.planOwnership(&assocStage); err != nil {
		return nil, fmt.Errorf("planning ownership: %w", err)
	}

	tagStage, err := r.planTags(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("planning tags: %w", err)
	}

	plan.Stages = []Stage{userStage, albumStage, assetStage, assocStage, tagStage}

	r.logger.InfoWithFields("plan computed", map[string]interface{}{
		"mutations": plan.Count(),
		"notes":     len(plan.Notes),
	})
	return plan, nil
}

// planUsers also returns the names of users whose accounts will be
// created by this plan, so membership planning can count on them.
func (r *Reconciler) planUsers(ctx context.Context, plan *Plan) (Stage, map[string]bool, error) {
	stage := Stage{Name: "users"}
	pending := make(map[string]bool)

	destUsers, err := r.dst.ListUsers(ctx)
	if err != nil {
		return stage, pending, err
	}
	byName := make(map[string]immich.User, len(destUsers))
	byEmail := make(map[string]string, len(destUsers))
	for _, u := range destUsers {
		byName[strings.ToLower(u.Name)] = u
		if u.Email != "" {
			byEmail[strings.ToLower(u.Email)] = u.ID
		}
	}

	users, err := r.src.Users()
	if err != nil {
		return stage, pending, err
	}

	for _, u := range users {
		if !u.Include {
			continue
		}
		if _, mapped, err := r.src.DestinationID(store.EntityUser, u.Name); err != nil {
			return stage, pending, err
		} else if mapped {
			continue
		}

		// Match against existing destination accounts first
		if id, ok := byEmail[strings.ToLower(u.Email)]; ok && u.Email != "" {
			if err := r.src.MapDestinationID(store.EntityUser, u.Name, id); err != nil {
				return stage, pending, err
			}
			plan.Notes = append(plan.Notes, fmt.Sprintf("user %q matched existing account by email", u.Name))
			continue
		}
		if existing, ok := byName[strings.ToLower(u.Name)]; ok {
			if err := r.src.MapDestinationID(store.EntityUser, u.Name, existing.ID); err != nil {
				return stage, pending, err
			}
			plan.Notes = append(plan.Notes, fmt.Sprintf("user %q matched existing account by name", u.Name))

			// A recorded email the destination account lacks is the one
			// field worth pushing on a matched user
			if u.Email != "" && existing.Email == "" {
				user := u
				destID := existing.ID
				stage.Mutations = append(stage.Mutations, Mutation{
					Entity:    store.EntityUser,
					SourceKey: user.Name,
					ShardKey:  "user/" + user.Name,
					Describe:  fmt.Sprintf("set email of user %q to %s", user.Name, user.Email),
					apply: func(ctx context.Context) (string, error) {
						_, err := r.dst.UpdateUser(ctx, destID, immich.CreateUserRequest{Email: user.Email})
						return "", err
					},
				})
			}
			continue
		}

		if u.Email == "" {
			plan.Notes = append(plan.Notes, fmt.Sprintf("user %q skipped: no email on record, set one with db edit-user", u.Name))
			continue
		}

		user := u
		pending[user.Name] = true
		stage.Mutations = append(stage.Mutations, Mutation{
			Entity:    store.EntityUser,
			SourceKey: user.Name,
			ShardKey:  "user/" + user.Name,
			Describe:  fmt.Sprintf("create user %q (%s)", user.Name, user.Email),
			apply: func(ctx context.Context) (string, error) {
				created, err := r.dst.CreateUser(ctx, immich.CreateUserRequest{
					Name:     user.Name,
					Email:    user.Email,
					Password: uuid.NewString(),
				})
				if err != nil {
					return "", err
				}
				return created.ID, nil
			},
		})
	}

	return stage, pending, nil
}

func (r *Reconciler) planAlbums(ctx context.Context, plan *Plan) (Stage, []store.Album, error) {
	stage := Stage{Name: "albums"}

	destAlbums, err := r.dst.ListAlbums(ctx)
	if err != nil {
		return stage, nil, err
	}
	byName := make(map[string]string, len(destAlbums))
	for _, a := range destAlbums {
		if _, ok := byName[a.AlbumName]; !ok {
			byName[a.AlbumName] = a.ID
		}
	}

	albums, err := r.src.Albums(store.AlbumFilter{})
	if err != nil {
		return stage, nil, err
	}

	for _, a := range albums {
		if _, mapped, err := r.src.DestinationID(store.EntityAlbum, a.SourceID); err != nil {
			return stage, nil, err
		} else if mapped {
			continue
		}

		if id, ok := byName[a.Title]; ok {
			if err := r.src.MapDestinationID(store.EntityAlbum, a.SourceID, id); err != nil {
				return stage, nil, err
			}
			plan.Notes = append(plan.Notes, fmt.Sprintf("album %q matched existing album by name", a.Title))
			continue
		}

		album := a
		stage.Mutations = append(stage.Mutations, Mutation{
			Entity:    store.EntityAlbum,
			SourceKey: album.SourceID,
			ShardKey:  "album/" + album.SourceID,
			Describe:  fmt.Sprintf("create album %q", album.Title),
			apply: func(ctx context.Context) (string, error) {
				created, err := r.dst.CreateAlbum(ctx, immich.CreateAlbumRequest{
					AlbumName:   album.Title,
					Description: album.SourceURL,
				})
				if err != nil {
					return "", err
				}
				return created.ID, nil
			},
		})
	}

	return stage, albums, nil
}

func (r *Reconciler) planAssets(plan *Plan) (Stage, error) {
	stage := Stage{Name: "assets"}

	assets, err := r.src.Assets()
	if err != nil {
		return stage, err
	}

	for _, a := range assets {
		if _, mapped, err := r.src.DestinationID(store.EntityAsset, a.SourceID); err != nil {
			return stage, err
		} else if mapped {
			continue
		}

		asset := a
		stage.Mutations = append(stage.Mutations, Mutation{
			Entity:    store.EntityAsset,
			SourceKey: asset.SourceID,
			ShardKey:  "asset/" + asset.SourceID,
			Describe:  fmt.Sprintf("match asset %q", asset.Filename),
			apply: func(ctx context.Context) (string, error) {
				return r.matchAsset(ctx, asset)
			},
		})
	}

	return stage, nil
}

// matchAsset locates the destination asset corresponding to a scraped
// photo. Files are uploaded out of band, so matching is by original
// filename narrowed by capture time when one was scraped.
func (r *Reconciler) matchAsset(ctx context.Context, asset store.Asset) (string, error) {
	req := immich.SearchAssetsRequest{
		OriginalFileName: asset.Filename,
		Size:             100,
	}
	if asset.CapturedAt != nil {
		after := asset.CapturedAt.Add(-24 * time.Hour)
		before := asset.CapturedAt.Add(24 * time.Hour)
		req.TakenAfter = &after
		req.TakenBefore = &before
	}

	candidates, err := r.dst.SearchAssets(ctx, req)
	if err != nil {
		return "", err
	}

	for _, c := range candidates {
		if c.OriginalFileName == asset.Filename {
			return c.ID, nil
		}
	}
	return "", errs.Newf(errs.ErrorTypeNotFound, "no destination asset matches %q", asset.Filename)
}

// planAssociations diffs each album's recorded contents against the
// destination so a fully synced album plans nothing. Albums not yet
// mapped are treated as empty; members whose accounts do not exist and
// are not being created this run are left out rather than replanned
// forever.
func (r *Reconciler) planAssociations(ctx context.Context, albums []store.Album, pendingUsers map[string]bool) (Stage, error) {
	stage := Stage{Name: "associations"}

	for _, a := range albums {
		album := a
		albumRef := Ref{Entity: store.EntityAlbum, SourceKey: album.SourceID}

		presentAssets := make(map[string]bool)
		presentMembers := make(map[string]bool)
		destAlbumID, mapped, err := r.src.DestinationID(store.EntityAlbum, album.SourceID)
		if err != nil {
			return stage, err
		}
		if mapped {
			current, err := r.dst.GetAlbum(ctx, destAlbumID)
			if err != nil {
				return stage, err
			}
			for _, asset := range current.Assets {
				presentAssets[asset.ID] = true
			}
			for _, member := range current.AlbumUsers {
				presentMembers[member.UserID] = true
			}
		}

		assets, err := r.src.AlbumAssets(album.ID)
		if err != nil {
			return stage, err
		}
		missingAssets := 0
		for _, asset := range assets {
			if id, ok, err := r.src.DestinationID(store.EntityAsset, asset.SourceID); err != nil {
				return stage, err
			} else if !ok || !presentAssets[id] {
				missingAssets++
			}
		}
		if missingAssets > 0 {
			skip := presentAssets
			stage.Mutations = append(stage.Mutations, Mutation{
				Entity:    "album_assets",
				SourceKey: album.SourceID,
				ShardKey:  "album/" + album.SourceID,
				DependsOn: []Ref{albumRef},
				Describe:  fmt.Sprintf("add %d assets to album %q", missingAssets, album.Title),
				apply: func(ctx context.Context) (string, error) {
					return "", r.addAlbumAssets(ctx, album, skip)
				},
			})
		}

		members, err := r.src.AlbumUsers(album.ID)
		if err != nil {
			return stage, err
		}
		missingMembers := 0
		for _, u := range members {
			if !u.Include || u.Role == store.RoleOwner {
				continue
			}
			if id, ok, err := r.src.DestinationID(store.EntityUser, u.Name); err != nil {
				return stage, err
			} else if ok && !presentMembers[id] {
				missingMembers++
			} else if !ok && pendingUsers[u.Name] {
				missingMembers++
			}
		}
		if missingMembers > 0 {
			skip := presentMembers
			stage.Mutations = append(stage.Mutations, Mutation{
				Entity:    "album_members",
				SourceKey: album.SourceID,
				ShardKey:  "album/" + album.SourceID,
				DependsOn: []Ref{albumRef},
				Describe:  fmt.Sprintf("share album %q with %d users", album.Title, missingMembers),
				apply: func(ctx context.Context) (string, error) {
					return "", r.addAlbumMembers(ctx, album, skip)
				},
			})
		}
	}

	return stage, nil
}

// addAlbumAssets adds the album's mapped assets to the destination album,
// leaving out ids already present at plan time.
func (r *Reconciler) addAlbumAssets(ctx context.Context, album store.Album, present map[string]bool) error {
	destAlbumID, ok, err := r.src.DestinationID(store.EntityAlbum, album.SourceID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Newf(errs.ErrorTypeNotFound, "album %q has no destination mapping", album.Title)
	}

	assets, err := r.src.AlbumAssets(album.ID)
	if err != nil {
		return err
	}

	var ids []string
	for _, a := range assets {
		if id, mapped, err := r.src.DestinationID(store.EntityAsset, a.SourceID); err != nil {
			return err
		} else if mapped && !present[id] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	results, err := r.dst.AddAlbumAssets(ctx, destAlbumID, ids)
	if err != nil {
		return err
	}

	added := 0
	for _, res := range results {
		if res.Success {
			added++
		}
	}
	r.logger.DebugWithFields("album assets added", map[string]interface{}{
		"album": album.Title,
		"added": added,
		"total": len(ids),
	})
	return nil
}

func (r *Reconciler) addAlbumMembers(ctx context.Context, album store.Album, present map[string]bool) error {
	destAlbumID, ok, err := r.src.DestinationID(store.EntityAlbum, album.SourceID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Newf(errs.ErrorTypeNotFound, "album %q has no destination mapping", album.Title)
	}

	users, err := r.src.AlbumUsers(album.ID)
	if err != nil {
		return err
	}

	var ids []string
	for _, u := range users {
		if !u.Include || u.Role == store.RoleOwner {
			continue
		}
		if id, mapped, err := r.src.DestinationID(store.EntityUser, u.Name); err != nil {
			return err
		} else if mapped && !present[id] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	return r.dst.AddAlbumMembers(ctx, destAlbumID, ids)
}

// planOwnership adds reassignment mutations for assets contributed by a
// recorded user other than the account owner. They join the associations
// stage and depend on both the matched asset and the mapped user.
func (r *Reconciler) planOwnership(stage *Stage) error {
	users, err := r.src.Users()
	if err != nil {
		return err
	}
	byID := make(map[int64]store.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	assets, err := r.src.Assets()
	if err != nil {
		return err
	}

	for _, a := range assets {
		owner, ok := byID[a.OwnerID]
		if !ok || owner.Role == store.RoleOwner || !owner.Include {
			continue
		}
		// Already reassigned in an earlier run
		if _, done, err := r.src.DestinationID("asset_owner", a.SourceID); err != nil {
			return err
		} else if done {
			continue
		}

		asset := a
		ownerName := owner.Name
		stage.Mutations = append(stage.Mutations, Mutation{
			Entity:    "asset_owner",
			SourceKey: asset.SourceID,
			ShardKey:  "asset/" + asset.SourceID,
			DependsOn: []Ref{
				{Entity: store.EntityAsset, SourceKey: asset.SourceID},
				{Entity: store.EntityUser, SourceKey: ownerName},
			},
			Describe: fmt.Sprintf("reassign %q to %q", asset.Filename, ownerName),
			apply: func(ctx context.Context) (string, error) {
				assetID, ok, err := r.src.DestinationID(store.EntityAsset, asset.SourceID)
				if err != nil {
					return "", err
				}
				if !ok {
					return "", errs.Newf(errs.ErrorTypeNotFound, "asset %q has no destination mapping", asset.Filename)
				}
				userID, ok, err := r.src.DestinationID(store.EntityUser, ownerName)
				if err != nil {
					return "", err
				}
				if !ok {
					return "", errs.Newf(errs.ErrorTypeNotFound, "user %q has no destination mapping", ownerName)
				}
				if err := r.dst.ReassignAssetOwner(ctx, assetID, userID); err != nil {
					return "", err
				}
				// Recording the owner id marks the reassignment done so
				// later runs plan nothing for this asset
				return userID, nil
			},
		})
	}

	return nil
}

// entityTagAsset records per-asset tagging completion in the mapping
// table, keyed by label and asset source id.
const entityTagAsset = "tag_asset"

func tagAssetKey(label, sourceID string) string {
	return label + "/" + sourceID
}

// planTags matches local tags to existing destination tags by name and
// plans work only for assets not yet tagged. A tag whose assets are all
// marked done plans nothing.
func (r *Reconciler) planTags(ctx context.Context, plan *Plan) (Stage, error) {
	stage := Stage{Name: "tags"}

	destTags, err := r.dst.ListTags(ctx)
	if err != nil {
		return stage, err
	}
	byName := make(map[string]string, len(destTags))
	for _, t := range destTags {
		if _, ok := byName[t.Name]; !ok {
			byName[t.Name] = t.ID
		}
	}

	tags, err := r.src.Tags()
	if err != nil {
		return stage, err
	}

	local := make(map[string]bool, len(tags))
	for _, t := range tags {
		local[t.Label] = true
		tag := t

		destID, mapped, err := r.src.DestinationID(store.EntityTag, tag.Label)
		if err != nil {
			return stage, err
		}
		if !mapped {
			if id, ok := byName[tag.Label]; ok {
				if err := r.src.MapDestinationID(store.EntityTag, tag.Label, id); err != nil {
					return stage, err
				}
				plan.Notes = append(plan.Notes, fmt.Sprintf("tag %q matched existing tag by name", tag.Label))
				destID, mapped = id, true
			}
		}

		sourceIDs, err := r.src.TagAssets(tag.ID)
		if err != nil {
			return stage, err
		}
		var todo []string
		for _, sid := range sourceIDs {
			if _, done, err := r.src.DestinationID(entityTagAsset, tagAssetKey(tag.Label, sid)); err != nil {
				return stage, err
			} else if !done {
				todo = append(todo, sid)
			}
		}
		if mapped && len(todo) == 0 {
			continue
		}

		tagDestID := destID
		pending := todo
		stage.Mutations = append(stage.Mutations, Mutation{
			Entity:    store.EntityTag,
			SourceKey: tag.Label,
			ShardKey:  "tag/" + tag.Label,
			Describe:  fmt.Sprintf("apply tag %q to %d assets", tag.Label, len(pending)),
			apply: func(ctx context.Context) (string, error) {
				return r.applyTag(ctx, tag, tagDestID, pending)
			},
		})
	}

	// Tags mapped in an earlier run but since removed locally are deleted
	// at the destination too
	mapped, err := r.src.Mappings(store.EntityTag)
	if err != nil {
		return stage, err
	}
	for label, destID := range mapped {
		if local[label] {
			continue
		}
		label, destID := label, destID
		stage.Mutations = append(stage.Mutations, Mutation{
			Entity:    store.EntityTag,
			SourceKey: label,
			ShardKey:  "tag/" + label,
			Describe:  fmt.Sprintf("delete tag %q", label),
			apply: func(ctx context.Context) (string, error) {
				if err := r.dst.DeleteTag(ctx, destID); err != nil {
					var typed *errs.Error
					if !(stderrors.As(err, &typed) && typed.Type == errs.ErrorTypeNotFound) {
						return "", err
					}
				}
				// Stale per-asset markers go with the tag, so re-creating
				// the label later starts clean
				markers, err := r.src.Mappings(entityTagAsset)
				if err != nil {
					return "", err
				}
				for key := range markers {
					if strings.HasPrefix(key, label+"/") {
						if err := r.src.DeleteMapping(entityTagAsset, key); err != nil {
							return "", err
						}
					}
				}
				return "", r.src.DeleteMapping(store.EntityTag, label)
			},
		})
	}

	return stage, nil
}

// applyTag ensures the destination tag exists and attaches it to the
// pending assets, marking each one done as it is tagged.
func (r *Reconciler) applyTag(ctx context.Context, tag store.Tag, destID string, sourceIDs []string) (string, error) {
	if destID == "" {
		destTag, err := r.dst.UpsertTag(ctx, tag.Label)
		if err != nil {
			return "", err
		}
		destID = destTag.ID
	}

	ids := make([]string, 0, len(sourceIDs))
	sids := make([]string, 0, len(sourceIDs))
	for _, sid := range sourceIDs {
		if id, mapped, err := r.src.DestinationID(store.EntityAsset, sid); err != nil {
			return "", err
		} else if mapped {
			ids = append(ids, id)
			sids = append(sids, sid)
		}
	}
	if len(ids) > 0 {
		if _, err := r.dst.TagAssets(ctx, destID, ids); err != nil {
			return "", err
		}
		for i, sid := range sids {
			if err := r.src.MapDestinationID(entityTagAsset, tagAssetKey(tag.Label, sid), ids[i]); err != nil {
				return "", err
			}
		}
	}
	return destID, nil
}
