package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justbri/shelfmark/services"
)

func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the Audiobookshelf library used for duplicate detection",
	}
	cmd.AddCommand(newCatalogRefreshCommand(rootOpts))
	cmd.AddCommand(newCatalogCheckCommand(rootOpts))
	return cmd
}

func newCatalogCache(rootOpts *RootOptions) (*services.LibraryCache, error) {
	cfg := rootOpts.Config()
	source := catalogSource(cfg)
	if source == nil {
		return nil, errors.New("AUDIOBOOK_LIBRARY_URL and ABS_API_TOKEN must both be set")
	}
	return services.NewLibraryCache(source, libraryCacheConfig(cfg), nil), nil
}

func newCatalogRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the whole catalog and report how many audiobooks it holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := newCatalogCache(rootOpts)
			if err != nil {
				return err
			}
			n, err := cache.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d audiobooks\n", n)
			return nil
		},
	}
}

func newCatalogCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var title, author string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether an audiobook is already in the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := newCatalogCache(rootOpts)
			if err != nil {
				return err
			}
			if _, err := cache.Refresh(cmd.Context()); err != nil {
				return err
			}

			match := cache.FindMatch(cmd.Context(), title, author)
			if match == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No match")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(match.Summary())
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "book title")
	cmd.Flags().StringVarP(&author, "author", "a", "", "author (optional)")
	cmd.MarkFlagRequired("title")
	return cmd
}
