package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"immichporter/pkg/store"
)

var (
	// edit-user flags
	editEmail   string
	editInclude bool
	editExclude bool

	// add-tag flags
	addTagAlbum string
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and adjust the local store",
	Long: `Read-only reports over the local store, plus small adjustments such as
setting a user's email or excluding a user from reconciliation.`,
}

var showAlbumsCmd = &cobra.Command{
	Use:   "show-albums",
	Short: "List recorded albums with extraction progress",
	RunE:  runShowAlbums,
}

var showUsersCmd = &cobra.Command{
	Use:   "show-users",
	Short: "List recorded users",
	RunE:  runShowUsers,
}

var showStatsCmd = &cobra.Command{
	Use:   "show-stats",
	Short: "Show store totals and recorded extraction failures",
	RunE:  runShowStats,
}

var editUserCmd = &cobra.Command{
	Use:   "edit-user <name>",
	Short: "Set a user's email or reconciliation inclusion",
	Long: `Adjust a recorded user before reconciliation.

Users discovered through album sharing carry only a display name. Immich
requires an email to create an account, so set one here; users without an
email are skipped by 'immich create-album'. Use --exclude to keep a user
out of reconciliation entirely.`,
	Example: `  immichporter db edit-user "Alice Example" --email alice@example.com
  immichporter db edit-user "Bob" --exclude`,
	Args: cobra.ExactArgs(1),
	RunE: runEditUser,
}

var addTagCmd = &cobra.Command{
	Use:   "add-tag <label> [asset-source-id...]",
	Short: "Attach a tag to photos in the store",
	Long: `Create a tag in the local store and attach it to photos, named either
by their source ids or as a whole album with --album. The next
'immich import-photos' run carries the tag to the destination.`,
	Example: `  immichporter db add-tag takeout-2026 --album AF1QipM3xyz
  immichporter db add-tag favorites p1 p2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAddTag,
}

var deleteTagCmd = &cobra.Command{
	Use:   "delete-tag <label>",
	Short: "Remove a tag and its photo associations from the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteTag,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(showAlbumsCmd)
	dbCmd.AddCommand(showUsersCmd)
	dbCmd.AddCommand(showStatsCmd)
	dbCmd.AddCommand(editUserCmd)
	dbCmd.AddCommand(addTagCmd)
	dbCmd.AddCommand(deleteTagCmd)

	addTagCmd.Flags().StringVar(&addTagAlbum, "album", "", "tag every photo of the album with this source id")

	editUserCmd.Flags().StringVar(&editEmail, "email", "", "email address for the user")
	editUserCmd.Flags().BoolVar(&editInclude, "include", false, "include the user in reconciliation")
	editUserCmd.Flags().BoolVar(&editExclude, "exclude", false, "exclude the user from reconciliation")
}

// withStore opens the store for a db subcommand and closes it afterwards.
func withStore(fn func(st *store.Store) error) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func runShowAlbums(cmd *cobra.Command, args []string) error {
	return withStore(func(st *store.Store) error {
		albums, err := st.Albums(store.AlbumFilter{})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tITEMS\tDONE\tSHARED")
		for _, a := range albums {
			shared := ""
			if a.Shared {
				shared = "yes"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", a.ID, a.Title, a.Items, a.ProcessedItems, shared)
		}
		return w.Flush()
	})
}

func runShowUsers(cmd *cobra.Command, args []string) error {
	return withStore(func(st *store.Store) error {
		users, err := st.Users()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE\tINCLUDE")
		for _, u := range users {
			include := "yes"
			if !u.Include {
				include = "no"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role, include)
		}
		return w.Flush()
	})
}

func runShowStats(cmd *cobra.Command, args []string) error {
	return withStore(func(st *store.Store) error {
		stats, err := st.Stats()
		if err != nil {
			return err
		}

		fmt.Printf("Users:           %d\n", stats.Users)
		fmt.Printf("Albums:          %d (%d fully extracted)\n", stats.Albums, stats.FinishedAlbums)
		fmt.Printf("Photos:          %d\n", stats.Assets)
		fmt.Printf("Tags:            %d\n", stats.Tags)
		fmt.Printf("Recorded errors: %d\n", stats.Errors)

		if stats.Errors > 0 {
			recorded, err := st.Errors()
			if err != nil {
				return err
			}
			fmt.Println("\nExtraction failures:")
			for _, e := range recorded {
				fmt.Printf("  [album %d] %s (%s)\n", e.AlbumID, e.Message, e.CreatedAt.Format("2006-01-02 15:04"))
			}
		}
		return nil
	})
}

func runEditUser(cmd *cobra.Command, args []string) error {
	if editInclude && editExclude {
		return fmt.Errorf("--include and --exclude are mutually exclusive")
	}
	if editEmail == "" && !editInclude && !editExclude {
		return fmt.Errorf("nothing to change: pass --email, --include or --exclude")
	}

	name := args[0]
	return withStore(func(st *store.Store) error {
		if editEmail != "" {
			if err := st.SetUserEmail(name, editEmail); err != nil {
				return err
			}
			fmt.Printf("Set email of %q to %s\n", name, editEmail)
		}
		if editInclude || editExclude {
			if err := st.SetUserInclude(name, editInclude); err != nil {
				return err
			}
			fmt.Printf("User %q include=%v\n", name, editInclude)
		}
		return nil
	})
}

func runAddTag(cmd *cobra.Command, args []string) error {
	label := args[0]
	sourceIDs := args[1:]
	if addTagAlbum == "" && len(sourceIDs) == 0 {
		return fmt.Errorf("nothing to tag: pass asset source ids or --album")
	}

	return withStore(func(st *store.Store) error {
		tagged := 0
		if addTagAlbum != "" {
			n, err := st.TagAlbumAssets(label, addTagAlbum)
			if err != nil {
				return err
			}
			tagged += n
		}
		if len(sourceIDs) > 0 {
			if err := st.TagAssetsBySource(label, sourceIDs); err != nil {
				return err
			}
			tagged += len(sourceIDs)
		}
		fmt.Printf("Tagged %d photos with %q\n", tagged, label)
		return nil
	})
}

func runDeleteTag(cmd *cobra.Command, args []string) error {
	return withStore(func(st *store.Store) error {
		if err := st.DeleteTag(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted tag %q from the local store\n", args[0])
		return nil
	})
}
