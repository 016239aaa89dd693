// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/autobrr/licensegate/internal/models"
	"github.com/autobrr/licensegate/internal/services"
)

// storeFlags are shared by the commands that work on the database directly
type storeFlags struct {
	configDir string
	dataDir   string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	cmd.PersistentFlags().StringVar(&f.dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
}

// withServices opens the store and runs fn with the license services
func (f *storeFlags) withServices(fn func(projects *services.ProjectService, keys *services.LicenseKeyService) error) error {
	_, db, err := openStore(f.configDir, f.dataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	projects, err := services.NewProjectService(db)
	if err != nil {
		return err
	}
	defer projects.Close()

	return fn(projects, services.NewLicenseKeyService(db, projects))
}

// resolveProject accepts a numeric project ID or a slug
func resolveProject(ctx context.Context, projects *services.ProjectService, ref string) (*models.Project, error) {
	if id, err := strconv.Atoi(ref); err == nil {
		return projects.Get(ctx, id)
	}
	return projects.GetBySlug(ctx, ref)
}

// parseExpiry accepts an RFC 3339 timestamp, a YYYY-MM-DD date or a duration from now
func parseExpiry(value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		t = t.Add(24*time.Hour - time.Second).UTC()
		return &t, nil
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		t := now.Add(d).UTC()
		return &t, nil
	}
	return nil, fmt.Errorf("invalid expiry %q: use RFC 3339, YYYY-MM-DD or a duration like 720h", value)
}

func RunProjectsCommand() *cobra.Command {
	var flags storeFlags

	command := &cobra.Command{
		Use:   "projects",
		Short: "Manage projects whose downloads are gated by license keys",
	}
	flags.register(command)

	var downloadURL string
	add := &cobra.Command{
		Use:   "add <slug> <title>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withServices(func(projects *services.ProjectService, _ *services.LicenseKeyService) error {
				project, err := projects.Create(cmd.Context(), services.CreateProjectRequest{
					Slug:        args[0],
					Title:       args[1],
					DownloadURL: downloadURL,
				})
				if err != nil {
					return fmt.Errorf("failed to create project: %w", err)
				}

				cmd.Printf("Project '%s' created with ID: %d\n", project.Slug, project.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&downloadURL, "download-url", "", "link handed out after a successful redemption")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withServices(func(projects *services.ProjectService, _ *services.LicenseKeyService) error {
				all, err := projects.List(cmd.Context())
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSLUG\tTITLE\tDOWNLOAD URL")
				for _, p := range all {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.ID, p.Slug, p.Title, p.DownloadURL)
				}
				return tw.Flush()
			})
		},
	}

	command.AddCommand(add, list)
	return command
}

func RunKeysCommand() *cobra.Command {
	var flags storeFlags

	command := &cobra.Command{
		Use:   "keys",
		Short: "Issue, list and revoke license keys",
	}
	flags.register(command)

	command.AddCommand(
		runKeysGenerateCommand(&flags),
		runKeysListCommand(&flags),
		runKeysSetActiveCommand(&flags, "revoke", "Deactivate license keys", false),
		runKeysSetActiveCommand(&flags, "activate", "Reactivate license keys", true),
	)

	return command
}

func runKeysGenerateCommand(flags *storeFlags) *cobra.Command {
	var (
		project  string
		keyType  string
		maxUses  int
		expires  string
		notes    string
		quantity int
	)

	command := &cobra.Command{
		Use:   "generate",
		Short: "Generate license keys for a project",
		Long: `Generate license keys for a project.

Key types: single_use, multi_use (--max-uses), time_limited (--expires), unlimited.
--expires accepts an RFC 3339 timestamp, a YYYY-MM-DD date (end of day, UTC)
or a duration from now such as 720h. Generated codes are printed one per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedType, err := models.ParseKeyType(keyType)
			if err != nil {
				return err
			}

			expiresAt, err := parseExpiry(expires, time.Now())
			if err != nil {
				return err
			}

			return flags.withServices(func(projects *services.ProjectService, keys *services.LicenseKeyService) error {
				p, err := resolveProject(cmd.Context(), projects, project)
				if err != nil {
					return fmt.Errorf("failed to find project %q: %w", project, err)
				}

				created, err := keys.CreateKeys(cmd.Context(), services.CreateKeyRequest{
					ProjectID: p.ID,
					KeyType:   parsedType,
					MaxUses:   maxUses,
					ExpiresAt: expiresAt,
					Notes:     notes,
					Quantity:  quantity,
				})
				for _, key := range created {
					fmt.Fprintln(cmd.OutOrStdout(), key.KeyCode)
				}
				if err != nil {
					return fmt.Errorf("failed to generate keys (%d created): %w", len(created), err)
				}
				return nil
			})
		},
	}

	command.Flags().StringVar(&project, "project", "", "project ID or slug")
	command.Flags().StringVar(&keyType, "type", string(models.KeyTypeSingleUse), "key type")
	command.Flags().IntVar(&maxUses, "max-uses", 0, "maximum redemptions for multi_use keys")
	command.Flags().StringVar(&expires, "expires", "", "expiry for time_limited keys")
	command.Flags().StringVar(&notes, "notes", "", "free-form notes stored with each key")
	command.Flags().IntVar(&quantity, "quantity", 1, "number of keys to generate")
	command.MarkFlagRequired("project")

	return command
}

func runKeysListCommand(flags *storeFlags) *cobra.Command {
	var project, keyType, active, search string

	command := &cobra.Command{
		Use:   "list",
		Short: "List license keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter models.ListFilter

			if keyType != "" {
				parsed, err := models.ParseKeyType(keyType)
				if err != nil {
					return err
				}
				filter.KeyType = &parsed
			}

			if active != "" {
				parsed, err := strconv.ParseBool(active)
				if err != nil {
					return fmt.Errorf("invalid --active value %q", active)
				}
				filter.IsActive = &parsed
			}

			return flags.withServices(func(projects *services.ProjectService, keys *services.LicenseKeyService) error {
				if project != "" {
					p, err := resolveProject(cmd.Context(), projects, project)
					if err != nil {
						return fmt.Errorf("failed to find project %q: %w", project, err)
					}
					filter.ProjectID = &p.ID
				}

				found, err := keys.ListKeys(cmd.Context(), filter, search)
				if err != nil {
					return err
				}

				return writeKeyTable(cmd.OutOrStdout(), found)
			})
		},
	}

	command.Flags().StringVar(&project, "project", "", "project ID or slug")
	command.Flags().StringVar(&keyType, "type", "", "filter by key type")
	command.Flags().StringVar(&active, "active", "", "filter by active state (true or false)")
	command.Flags().StringVar(&search, "search", "", "fuzzy match on code, project title and notes")

	return command
}

func writeKeyTable(w io.Writer, keys []*models.LicenseKey) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tPROJECT\tTYPE\tUSES\tEXPIRES\tACTIVE\tNOTES")
	for _, k := range keys {
		uses := fmt.Sprintf("%d/%d", k.CurrentUses, k.MaxUses)
		if k.KeyType == models.KeyTypeUnlimited {
			uses = fmt.Sprintf("%d/-", k.CurrentUses)
		}

		expiresAt := "-"
		if k.ExpiresAt != nil {
			expiresAt = k.ExpiresAt.UTC().Format(time.RFC3339)
		}

		notes := ""
		if k.Notes != nil {
			notes = *k.Notes
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			k.ID, k.KeyCode, k.ProjectTitle, k.KeyType, uses, expiresAt, k.IsActive, notes)
	}
	return tw.Flush()
}

func runKeysSetActiveCommand(flags *storeFlags, use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <key-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int, 0, len(args))
			for _, arg := range args {
				id, err := strconv.Atoi(arg)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid key ID %q", arg)
				}
				ids = append(ids, id)
			}

			return flags.withServices(func(_ *services.ProjectService, keys *services.LicenseKeyService) error {
				for _, id := range ids {
					key, err := keys.SetKeyActive(cmd.Context(), id, active)
					if err != nil {
						return fmt.Errorf("failed to update key %d: %w", id, err)
					}
					cmd.Printf("Key %d (%s) active=%t\n", key.ID, key.KeyCode, key.IsActive)
				}
				return nil
			})
		},
	}
}

func RunAnalyticsCommand() *cobra.Command {
	var (
		flags   storeFlags
		project string
	)

	command := &cobra.Command{
		Use:   "analytics",
		Short: "Show redemption analytics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withServices(func(projects *services.ProjectService, keys *services.LicenseKeyService) error {
				var projectID *int
				if project != "" {
					p, err := resolveProject(cmd.Context(), projects, project)
					if err != nil {
						return fmt.Errorf("failed to find project %q: %w", project, err)
					}
					projectID = &p.ID
				}

				analytics, err := keys.GetAnalytics(cmd.Context(), projectID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total redemptions: %d\n", analytics.TotalRedemptions)
				fmt.Fprintf(out, "Total downloads: %d\n", analytics.TotalDownloads)

				if len(analytics.RedemptionsByType) > 0 {
					fmt.Fprintln(out, "\nRedemptions by key type:")
					for _, t := range models.KeyTypes {
						if n, ok := analytics.RedemptionsByType[t.String()]; ok {
							fmt.Fprintf(out, "  %-14s %d\n", t, n)
						}
					}
					if n, ok := analytics.RedemptionsByType[models.UnknownKeyType]; ok {
						fmt.Fprintf(out, "  %-14s %d\n", models.UnknownKeyType, n)
					}
				}

				if len(analytics.RecentRedemptions) > 0 {
					fmt.Fprintln(out, "\nRecent redemptions:")
					tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "REDEEMED AT\tCODE\tPROJECT\tEMAIL\tDOWNLOADS")
					for _, r := range analytics.RecentRedemptions {
						email := ""
						if r.RedeemedByEmail != nil {
							email = *r.RedeemedByEmail
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
							r.RedeemedAt.UTC().Format(time.RFC3339), r.KeyCode, r.ProjectTitle, email, r.DownloadCount)
					}
					return tw.Flush()
				}

				return nil
			})
		},
	}

	flags.register(command)
	command.Flags().StringVar(&project, "project", "", "limit to one project (ID or slug)")

	return command
}
