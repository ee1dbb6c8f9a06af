package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pevans/mangatrack/scraper"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage the sites that are scanned for updates",
}

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sites with the last card seen on each",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, stores, err := openStores()
		if err != nil {
			return err
		}
		defer stores.Close()

		list, err := stores.Sites.ListWithLastSeen()
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(os.Stdout, list)
		}
		return printSitesTable(os.Stdout, list)
	},
}

var addSite struct {
	baseURL  string
	latest   string
	card     string
	title    string
	chapter  string
	mode     string
	loadMore string
}

var sitesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a site",
	Example: `  mangatrack sites add Asura --base-url https://asura.example --latest /latest \
    --card "div.card" --title "h3 a" --chapter "span.chapter"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, stores, err := openStores()
		if err != nil {
			return err
		}
		defer stores.Close()

		site := scraper.NewSite(args[0], addSite.baseURL, addSite.latest, addSite.card, addSite.title, addSite.chapter)
		if addSite.mode != "" {
			site.NavigationMode = scraper.NavigationMode(addSite.mode)
		}
		site.LoadMoreButtonText = addSite.loadMore

		created, err := stores.Sites.CreateSite(site)
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(os.Stdout, created)
		}
		fmt.Printf("Added site %q (ID %d)\n", created.Name, created.ID)
		return nil
	},
}

var sitesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a site and everything tracked on it",
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

		if err := stores.Sites.DeleteSite(id); err != nil {
			return err
		}

		fmt.Printf("Removed site %d\n", id)
		return nil
	},
}

func init() {
	f := sitesAddCmd.Flags()
	f.StringVar(&addSite.baseURL, "base-url", "", "site base URL (required)")
	f.StringVar(&addSite.latest, "latest", "", "latest-updates path relative to the base URL")
	f.StringVar(&addSite.card, "card", "", "CSS selector for one manga card")
	f.StringVar(&addSite.title, "title", "", "CSS selector for the title within a card")
	f.StringVar(&addSite.chapter, "chapter", "", "CSS selector for the chapter within a card")
	f.StringVar(&addSite.mode, "mode", "", "navigation mode: pagination, load_more or feed")
	f.StringVar(&addSite.loadMore, "load-more-text", "", "label of the load-more control")
	_ = sitesAddCmd.MarkFlagRequired("base-url")

	sitesCmd.AddCommand(sitesListCmd, sitesAddCmd, sitesRemoveCmd)
	rootCmd.AddCommand(sitesCmd)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid ID: %q", s)
	}
	return id, nil
}
