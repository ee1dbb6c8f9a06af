package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var mangaCmd = &cobra.Command{
	Use:   "manga",
	Short: "Manage the manga registry",
}

var flagTrackedOnly bool

var mangaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered manga with their per-site progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, stores, err := openStores()
		if err != nil {
			return err
		}
		defer stores.Close()

		list := stores.Sources.AllMangas
		if flagTrackedOnly {
			list = stores.Sources.TrackedMangas
		}

		mangas, err := list(cmd.Context())
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(os.Stdout, mangas)
		}
		return printMangaTable(os.Stdout, mangas)
	},
}

var flagAliases []string

var mangaAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a manga to track",
	Example: `  mangatrack manga add "Solo Leveling" --alias "Only I Level Up"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, stores, err := openStores()
		if err != nil {
			return err
		}
		defer stores.Close()

		manga, err := stores.Registry.AddManga(args[0], flagAliases)
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(os.Stdout, manga)
		}
		fmt.Printf("Added manga %q (ID %d)\n", manga.PrimaryName, manga.ID)
		return nil
	},
}

var mangaDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a manga and its tracking state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		_, stores, err := openStores()
		if err != nil {
			return err
		}
		defer stores.Close()

		if err := stores.Registry.DeleteManga(id); err != nil {
			return err
		}

		fmt.Printf("Deleted manga %d\n", id)
		return nil
	},
}

func init() {
	mangaListCmd.Flags().BoolVar(&flagTrackedOnly, "tracked", false, "only manga found on at least one site")
	mangaAddCmd.Flags().StringSliceVar(&flagAliases, "alias", nil, "alternative title (repeatable)")

	mangaCmd.AddCommand(mangaListCmd, mangaAddCmd, mangaDeleteCmd)
	rootCmd.AddCommand(mangaCmd)
}
