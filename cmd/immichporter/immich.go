package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"immichporter/pkg/auth"
	"immichporter/pkg/config"
	"immichporter/pkg/immich"
	"immichporter/pkg/logger"
	"immichporter/pkg/reconcile"
)

var (
	// immich command flags
	immichEndpoint string
	immichAPIKey   string
	immichInsecure bool
	concurrency    int
	dryRun         bool
)

var immichCmd = &cobra.Command{
	Use:   "immich",
	Short: "Recreate the recorded structure on an Immich server",
	Long: `Reconcile the local store against an Immich server.

Credentials are resolved in order: command flags, environment variables
(IMMICH_ENDPOINT, IMMICH_API_KEY), then the stored server from
'immichporter auth login'.`,
}

var createAlbumCmd = &cobra.Command{
	Use:   "create-album",
	Short: "Create missing users and albums on the server",
	Long: `Create the users and albums recorded in the local store on the Immich
server. Users and albums that already exist (matched by email, name or
title) are mapped instead of recreated, so re-running changes nothing.

Users without an email are skipped; set one with 'immichporter db edit-user'.`,
	RunE: runCreateAlbum,
}

var importPhotosCmd = &cobra.Command{
	Use:   "import-photos",
	Short: "Fill albums with matched photos, members and tags",
	Long: `Run the full reconciliation: after users and albums, match each recorded
photo against the server's assets by filename and capture time, add the
matches to their albums, share albums with their recorded users, and apply
tags.

Photos must already be present on the server (for example imported from a
Takeout archive); this command links them, it does not upload files.`,
	RunE: runImportPhotos,
}

func init() {
	rootCmd.AddCommand(immichCmd)
	immichCmd.AddCommand(createAlbumCmd)
	immichCmd.AddCommand(importPhotosCmd)

	for _, cmd := range []*cobra.Command{createAlbumCmd, importPhotosCmd} {
		cmd.Flags().StringVar(&immichEndpoint, "endpoint", "", "Immich server URL")
		cmd.Flags().StringVar(&immichAPIKey, "api-key", "", "Immich API key")
		cmd.Flags().BoolVar(&immichInsecure, "insecure", false, "skip TLS certificate verification")
		cmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent mutations per stage")
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without applying it")
	}
}

func immichFlags() map[string]interface{} {
	return map[string]interface{}{
		"endpoint":    immichEndpoint,
		"api-key":     immichAPIKey,
		"insecure":    immichInsecure,
		"concurrency": concurrency,
	}
}

// resolveCredentials falls back to the stored server when neither flags nor
// environment provided an API key.
func resolveCredentials(cfg *config.Config) error {
	if cfg.Immich.APIKey != "" {
		return nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return err
	}
	server, err := manager.RetrieveDefault()
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			return fmt.Errorf("no Immich credentials: run 'immichporter auth login' or set IMMICH_API_KEY")
		}
		return err
	}

	cfg.Immich.Endpoint = server.Endpoint
	cfg.Immich.APIKey = server.APIKey
	if server.Insecure {
		cfg.Immich.Insecure = true
	}
	return nil
}

// runReconcile plans against the server and applies the named stages. An
// empty stages list applies everything.
func runReconcile(stages []string) error {
	cfg, err := loadConfig(immichFlags())
	if err != nil {
		return err
	}
	if err := resolveCredentials(cfg); err != nil {
		return err
	}
	log := logger.GetLogger()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := immich.NewClientFromConfig(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("cannot reach Immich server at %s: %w", cfg.Immich.Endpoint, err)
	}

	rec := reconcile.New(st, client,
		reconcile.WithConcurrency(cfg.Reconcile.Concurrency),
		reconcile.WithLogger(log))

	plan, err := rec.Plan(ctx)
	if err != nil {
		return err
	}
	plan.Stages = filterStages(plan.Stages, stages)

	for _, note := range plan.Notes {
		fmt.Println("Note:", note)
	}

	if plan.Empty() {
		fmt.Println("Nothing to do: the server already matches the store.")
		return nil
	}

	if dryRun {
		printPlan(plan)
		return nil
	}

	result, err := rec.Apply(ctx, plan)
	if result != nil {
		printApplyResult(result)
	}
	return err
}

func runCreateAlbum(cmd *cobra.Command, args []string) error {
	return runReconcile([]string{"users", "albums"})
}

func runImportPhotos(cmd *cobra.Command, args []string) error {
	return runReconcile(nil)
}

func filterStages(stages []reconcile.Stage, names []string) []reconcile.Stage {
	if len(names) == 0 {
		return stages
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	var out []reconcile.Stage
	for _, s := range stages {
		if keep[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

func printPlan(plan *reconcile.Plan) {
	fmt.Printf("Plan: %d pending changes\n", plan.Count())
	for _, stage := range plan.Stages {
		if len(stage.Mutations) == 0 {
			continue
		}
		fmt.Printf("\n%s (%d):\n", stage.Name, len(stage.Mutations))
		for _, m := range stage.Mutations {
			fmt.Printf("  - %s\n", m.Describe)
		}
	}
}

func printApplyResult(result *reconcile.Result) {
	fmt.Println()
	fmt.Printf("Applied: %d  Failed: %d  Blocked: %d\n", result.Applied, result.Failed, result.Blocked)
	for _, e := range result.Errors {
		fmt.Printf("  failed %s/%s: %v\n", e.Entity, e.SourceKey, e.Err)
	}
}
