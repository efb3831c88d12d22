package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pressbote/pressbote/internal/archive"
	"github.com/pressbote/pressbote/internal/backfill"
	"github.com/pressbote/pressbote/internal/cloudfolder"
	"github.com/pressbote/pressbote/internal/config"
	"github.com/pressbote/pressbote/internal/deliver"
	"github.com/pressbote/pressbote/internal/fault"
	"github.com/pressbote/pressbote/internal/importer"
	"github.com/pressbote/pressbote/internal/mail"
	"github.com/pressbote/pressbote/internal/portal"
	"github.com/pressbote/pressbote/internal/reconcile"
	"github.com/pressbote/pressbote/internal/store"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pressbote",
	Short:   "Newsletter edition delivery",
	Long:    "Pressbote discovers new newsletter editions on a subscriber portal and delivers them to recipients via email, cloud folders and a durable archive.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(publicationsCmd)
	rootCmd.AddCommand(recipientsCmd)
	rootCmd.AddCommand(recordsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pressbote", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/pressbote/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the portal, mail, cloud and archive settings.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracking store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Editions:")
		fmt.Printf("  Tracked: %d\n", stats.Editions)
		fmt.Printf("  Downloaded: %d\n", stats.Downloaded)
		fmt.Printf("  Emailed: %d\n", stats.Emailed)
		fmt.Printf("  Uploaded: %d\n", stats.Uploaded)
		fmt.Printf("  Archived: %d\n", stats.Archived)
		fmt.Println("\nCatalog:")
		fmt.Printf("  Publications: %d (%d active)\n", stats.Publications, stats.ActivePublications)
		fmt.Printf("  Recipients: %d (%d active)\n", stats.Recipients, stats.ActiveRecipients)
		fmt.Printf("  Preferences: %d\n", stats.Preferences)
		return nil
	},
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a delivery pass: reconcile subscriptions, then process every active publication",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		mailer := buildMailer()

		client, err := loginPortal(ctx)
		if err != nil {
			notifyAdmin(mailer, err)
			return err
		}

		subs, err := client.Subscriptions(ctx)
		if err != nil {
			notifyAdmin(mailer, err)
			return fmt.Errorf("listing subscriptions: %w", err)
		}
		rec, err := reconcile.Reconcile(db, subs)
		if err != nil {
			return fmt.Errorf("reconciling catalog: %w", err)
		}
		fmt.Printf("Catalog: %d new, %d renewed, %d refreshed, %d deactivated\n",
			rec.New, rec.Renewed, rec.Refreshed, rec.Deactivated)

		pubs, err := db.ListPublications(true)
		if err != nil {
			return fmt.Errorf("listing publications: %w", err)
		}

		var drive cloudfolder.Drive
		if cfg.CloudConfigured() {
			drive = cloudfolder.New(
				cfg.Cloud.DriveURL, cfg.Cloud.TokenURL,
				os.Getenv(cfg.Cloud.ClientIDEnv), os.Getenv(cfg.Cloud.ClientSecretEnv),
				os.Getenv(cfg.Cloud.RefreshTokenEnv),
				time.Duration(cfg.Cloud.TimeoutSeconds)*time.Second,
			)
		}
		sink := buildSink(ctx)

		result := deliver.New(db, client, mailer, drive, sink).Run(ctx, pubs)

		summary := result.Markdown()
		fmt.Println()
		fmt.Print(summary)

		if mailer != nil && cfg.Mail.AdminAddress != "" {
			subject := "pressbote delivery run"
			var sendErr error
			switch {
			case result.Worst() == deliver.OutcomeFailed && result.TransientOnly():
				// Expected to self-heal on the next scheduled run.
				sendErr = mailer.SendWarning(cfg.Mail.AdminAddress, subject, summary)
			case result.Worst() == deliver.OutcomeFailed:
				sendErr = mailer.SendError(cfg.Mail.AdminAddress, subject, summary)
			case result.Worst() == deliver.OutcomeSucceeded:
				sendErr = mailer.SendSuccess(cfg.Mail.AdminAddress, subject, summary)
			default:
				// Nothing new this run; stay quiet.
			}
			if sendErr != nil {
				log.Printf("sending run summary: %v", sendErr)
			}
		}

		if result.Fatal != nil {
			notifyAdmin(mailer, result.Fatal)
			return result.Fatal
		}
		return nil
	},
}

// --- backfill command ---

var (
	backfillPublication string
	backfillMaxPages    int
	backfillDryRun      bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Bulk-ingest historical editions into the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.ArchiveConfigured() {
			return &fault.ConfigError{Setting: "archive.bucket", Reason: "backfill needs the archive sink"}
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		client, err := loginPortal(ctx)
		if err != nil {
			return err
		}
		sink := buildSink(ctx)
		if sink == nil {
			return &fault.ConfigError{Setting: "archive.bucket", Reason: "archive sink unavailable"}
		}

		pubs, err := resolvePublications(db, backfillPublication)
		if err != nil {
			return err
		}

		ck, err := backfill.LoadCheckpoint(filepath.Join(cfg.GetDataDir(), "backfill-checkpoint.json"))
		if err != nil {
			return err
		}

		maxPages := backfillMaxPages
		if maxPages == 0 {
			maxPages = cfg.Backfill.MaxPages
		}
		runner := &backfill.Runner{
			DB:         db,
			Source:     client,
			Sink:       sink,
			Checkpoint: ck,
			Delay:      time.Duration(cfg.Backfill.RequestDelaySeconds) * time.Second,
			MaxPages:   maxPages,
			DryRun:     backfillDryRun,
		}

		for _, pub := range pubs {
			fmt.Printf("Backfilling %s...\n", pub.Name)
			res, err := runner.Run(ctx, pub)
			if err != nil {
				if fault.Fatal(err) {
					return err
				}
				fmt.Printf("  aborted: %v\n", err)
			}
			if res != nil {
				fmt.Printf("  %d pages, %d seen, %d ingested, %d skipped, %d failed, %d unparsable\n",
					res.Pages, res.Seen, res.Ingested, res.Skipped, res.Failed, res.Unparsable)
			}
		}
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillPublication, "publication", "", "Restrict to one publication (id or name)")
	backfillCmd.Flags().IntVar(&backfillMaxPages, "max-pages", 0, "Override the archive page ceiling")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Report what would be ingested without writing")
}

// --- import command ---

var importWatch bool

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Import local edition PDFs into the archive",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Import.Dir
		if len(args) > 0 {
			dir = args[0]
		}
		if dir == "" {
			return &fault.ConfigError{Setting: "import.dir", Reason: "no import directory given"}
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		sink := buildSink(ctx)
		if sink == nil {
			return &fault.ConfigError{Setting: "archive.bucket", Reason: "import needs the archive sink"}
		}

		im := &importer.Importer{DB: db, Sink: sink}
		res, err := im.ImportDir(ctx, dir)
		if err != nil {
			return err
		}
		fmt.Printf("Import: %d seen, %d imported, %d skipped, %d failed, %d unparsable\n",
			res.Seen, res.Imported, res.Skipped, res.Failed, res.Unparsable)

		if importWatch {
			return im.Watch(ctx, dir)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importWatch, "watch", false, "Keep running and import files as they appear")
}

// --- publications command ---

var publicationsCmd = &cobra.Command{
	Use:   "publications",
	Short: "Manage the publication catalog",
}

var publicationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		pubs, err := db.ListPublications(false)
		if err != nil {
			return err
		}
		if len(pubs) == 0 {
			fmt.Println("No publications. Run 'pressbote run' to discover subscriptions.")
			return nil
		}
		for _, p := range pubs {
			state := " "
			if p.IsActive {
				state = "*"
			}
			fmt.Printf("%s %s  email=%v upload=%v folder=%q\n", state, p.Name, p.EmailEnabled, p.UploadEnabled, p.Folder)
		}
		return nil
	},
}

var publicationsShowCmd = &cobra.Command{
	Use:   "show [publication]",
	Short: "Show one catalog entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		p, err := findPublication(db, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Name: %s\n", p.Name)
		fmt.Printf("Catalog id: %s\n", p.ID)
		fmt.Printf("Subscription: id=%s number=%s\n", strOr(p.SubscriptionID), strOr(p.SubscriptionNumber))
		fmt.Printf("Active window: %s .. %s\n", strOr(p.ValidFrom), strOr(p.ValidUntil))
		fmt.Printf("Email: %v  Upload: %v\n", p.EmailEnabled, p.UploadEnabled)
		fmt.Printf("Folder: %q  Organize by year: %v\n", p.Folder, p.OrganizeByYear)
		fmt.Printf("Active: %v  First seen: %s  Last seen: %s\n", p.IsActive, strOr(p.FirstSeen), strOr(p.LastSeen))
		return nil
	},
}

var publicationsEnableCmd = &cobra.Command{
	Use:   "enable [publication]",
	Short: "Mark a publication active",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPublicationActive(args[0], true) },
}

var publicationsDisableCmd = &cobra.Command{
	Use:   "disable [publication]",
	Short: "Mark a publication inactive",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPublicationActive(args[0], false) },
}

func setPublicationActive(ref string, active bool) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := findPublication(db, ref)
	if err != nil {
		return err
	}
	if err := db.SetPublicationActive(p.ID, active); err != nil {
		return err
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("%s: %s\n", p.Name, state)
	return nil
}

var (
	pubSetEmail    bool
	pubSetUpload   bool
	pubSetOrganize bool
	pubSetFolder   string
)

var publicationsSetCmd = &cobra.Command{
	Use:   "set [publication]",
	Short: "Adjust a publication's delivery defaults",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		p, err := findPublication(db, args[0])
		if err != nil {
			return err
		}

		var email, upload, organize *bool
		var folder *string
		if cmd.Flags().Changed("email") {
			email = &pubSetEmail
		}
		if cmd.Flags().Changed("upload") {
			upload = &pubSetUpload
		}
		if cmd.Flags().Changed("organize-by-year") {
			organize = &pubSetOrganize
		}
		if cmd.Flags().Changed("folder") {
			folder = &pubSetFolder
		}
		if email == nil && upload == nil && organize == nil && folder == nil {
			return fmt.Errorf("nothing to change; pass --email, --upload, --organize-by-year or --folder")
		}

		if err := db.UpdatePublication(p.ID, email, upload, organize, folder); err != nil {
			return err
		}
		fmt.Printf("Updated %s\n", p.Name)
		return nil
	},
}

func init() {
	publicationsSetCmd.Flags().BoolVar(&pubSetEmail, "email", false, "Enable or disable the email default")
	publicationsSetCmd.Flags().BoolVar(&pubSetUpload, "upload", false, "Enable or disable the upload default")
	publicationsSetCmd.Flags().BoolVar(&pubSetOrganize, "organize-by-year", false, "Enable or disable per-year subfolders")
	publicationsSetCmd.Flags().StringVar(&pubSetFolder, "folder", "", "Default destination folder")

	publicationsCmd.AddCommand(publicationsListCmd)
	publicationsCmd.AddCommand(publicationsShowCmd)
	publicationsCmd.AddCommand(publicationsEnableCmd)
	publicationsCmd.AddCommand(publicationsDisableCmd)
	publicationsCmd.AddCommand(publicationsSetCmd)
}

// --- recipients command ---

var recipientsCmd = &cobra.Command{
	Use:   "recipients",
	Short: "Manage recipients and their delivery preferences",
}

var recipientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recipients and their opted-in publications",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		recipients, err := db.ListRecipients(false)
		if err != nil {
			return err
		}
		if len(recipients) == 0 {
			fmt.Println("No recipients. Add one with: pressbote recipients add <email>")
			return nil
		}
		for _, r := range recipients {
			state := " "
			if r.IsActive {
				state = "*"
			}
			fmt.Printf("%s %s\n", state, r.Email)

			prefs, err := db.GetPreferences(r.ID)
			if err != nil {
				return err
			}
			for _, p := range prefs {
				pub, err := db.GetPublication(p.PublicationID)
				if err != nil {
					return err
				}
				name := p.PublicationID
				if pub != nil {
					name = pub.Name
				}
				mark := "-"
				if p.Enabled {
					mark = "+"
				}
				fmt.Printf("    %s %s (sent %d)\n", mark, name, p.SendCount)
			}
		}
		return nil
	},
}

var recipientsAddCmd = &cobra.Command{
	Use:   "add [email]",
	Short: "Add a recipient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.InsertRecipient(args[0])
		if err != nil {
			return err
		}
		if id == "" {
			fmt.Printf("Recipient %s already exists\n", args[0])
			return nil
		}
		fmt.Printf("Added %s\n", args[0])
		fmt.Println("Recipients receive nothing until opted in: pressbote recipients allow <email> <publication>")
		return nil
	},
}

var recipientsRemoveCmd = &cobra.Command{
	Use:   "remove [email]",
	Short: "Remove a recipient and all their preferences",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := findRecipient(db, args[0])
		if err != nil {
			return err
		}
		if err := db.DeleteRecipient(r.ID); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", r.Email)
		return nil
	},
}

var recipientsEnableCmd = &cobra.Command{
	Use:   "enable [email]",
	Short: "Reactivate a recipient",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRecipientActive(args[0], true) },
}

var recipientsDisableCmd = &cobra.Command{
	Use:   "disable [email]",
	Short: "Deactivate a recipient without losing their preferences",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRecipientActive(args[0], false) },
}

func setRecipientActive(email string, active bool) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	r, err := findRecipient(db, email)
	if err != nil {
		return err
	}
	if err := db.SetRecipientActive(r.ID, active); err != nil {
		return err
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("%s: %s\n", r.Email, state)
	return nil
}

var (
	allowNoEmail  bool
	allowNoUpload bool
	allowFolder   string
	allowOrganize bool
)

var recipientsAllowCmd = &cobra.Command{
	Use:   "allow [email] [publication]",
	Short: "Opt a recipient in to a publication",
	Long:  "Opt a recipient in to a publication. Delivery is strictly opt-in; without an allow entry a recipient receives nothing.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := findRecipient(db, args[0])
		if err != nil {
			return err
		}
		p, err := findPublication(db, args[1])
		if err != nil {
			return err
		}

		pref := store.Preference{RecipientID: r.ID, PublicationID: p.ID, Enabled: true}
		if allowNoEmail {
			off := false
			pref.EmailEnabled = &off
		}
		if allowNoUpload {
			off := false
			pref.UploadEnabled = &off
		}
		if allowFolder != "" {
			pref.Folder = &allowFolder
		}
		if cmd.Flags().Changed("organize-by-year") {
			pref.OrganizeByYear = &allowOrganize
		}

		if err := db.UpsertPreference(pref); err != nil {
			return err
		}
		fmt.Printf("%s now receives %s\n", r.Email, p.Name)
		return nil
	},
}

var recipientsDenyCmd = &cobra.Command{
	Use:   "deny [email] [publication]",
	Short: "Opt a recipient out of a publication",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := findRecipient(db, args[0])
		if err != nil {
			return err
		}
		p, err := findPublication(db, args[1])
		if err != nil {
			return err
		}

		removed, err := db.RemovePreference(r.ID, p.ID)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Printf("%s had no entry for %s\n", r.Email, p.Name)
			return nil
		}
		fmt.Printf("%s no longer receives %s\n", r.Email, p.Name)
		return nil
	},
}

func init() {
	recipientsAllowCmd.Flags().BoolVar(&allowNoEmail, "no-email", false, "Opt in without the email channel")
	recipientsAllowCmd.Flags().BoolVar(&allowNoUpload, "no-upload", false, "Opt in without the upload channel")
	recipientsAllowCmd.Flags().StringVar(&allowFolder, "folder", "", "Custom destination folder for this recipient")
	recipientsAllowCmd.Flags().BoolVar(&allowOrganize, "organize-by-year", false, "Override per-year subfolders for this recipient")

	recipientsCmd.AddCommand(recipientsListCmd)
	recipientsCmd.AddCommand(recipientsAddCmd)
	recipientsCmd.AddCommand(recipientsRemoveCmd)
	recipientsCmd.AddCommand(recipientsEnableCmd)
	recipientsCmd.AddCommand(recipientsDisableCmd)
	recipientsCmd.AddCommand(recipientsAllowCmd)
	recipientsCmd.AddCommand(recipientsDenyCmd)
}

// --- records command ---

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and correct delivery records",
}

var (
	recordsTitle   string
	recordsSince   string
	recordsMissing string
	recordsLimit   int
)

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivery records",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.ListRecords(store.RecordFilter{
			TitleLike:      recordsTitle,
			Since:          recordsSince,
			MissingChannel: recordsMissing,
			Limit:          recordsLimit,
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No matching records.")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %s\n", r.EditionKey, r.Title)
			fmt.Printf("    source=%s downloaded=%s emailed=%s uploaded=%s archived=%s\n",
				strOr(r.IngestSource), mark(r.DownloadedAt), mark(r.EmailSentAt), mark(r.UploadedAt), mark(r.ArchivedAt))
		}
		return nil
	},
}

var recordsClearCmd = &cobra.Command{
	Use:   "clear [edition-key]",
	Short: "Delete one record so the edition is redone from scratch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		existed, err := db.ForceClear(args[0])
		if err != nil {
			return err
		}
		if !existed {
			fmt.Printf("No record for %s\n", args[0])
			return nil
		}
		fmt.Printf("Cleared %s; the next run redoes this edition\n", args[0])
		return nil
	},
}

var recordsFetchOut string

var recordsFetchCmd = &cobra.Command{
	Use:   "fetch [edition-key]",
	Short: "Write an archived edition's payload back to a local file",
	Long:  "Fetch retrieves an edition from the archive sink, e.g. to resend it manually or to inspect a delivered payload.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		rec, err := db.GetRecord(args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no record for %s", args[0])
		}
		if rec.ArchivePath == nil || *rec.ArchivePath == "" {
			return fmt.Errorf("%s was never archived", args[0])
		}

		ctx := context.Background()
		sink := buildSink(ctx)
		if sink == nil {
			return &fault.ConfigError{Setting: "archive.bucket", Reason: "fetch needs the archive sink"}
		}

		dest := archive.DestFromPath(cfg.Archive.Prefix, *rec.ArchivePath)
		data, found, err := sink.FetchCached(ctx, dest)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("archive object %s is gone", *rec.ArchivePath)
		}

		out := recordsFetchOut
		if out == "" {
			out = filepath.Base(*rec.ArchivePath)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		fmt.Printf("Wrote %s (%d bytes)\n", out, len(data))
		return nil
	},
}

var purgeOlderThan int

var recordsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete records older than a retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if purgeOlderThan <= 0 {
			return fmt.Errorf("pass --older-than with a positive number of days")
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.PurgeOlderThan(purgeOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d record(s) older than %d days\n", n, purgeOlderThan)
		return nil
	},
}

func init() {
	recordsListCmd.Flags().StringVar(&recordsTitle, "publication", "", "Filter by title substring")
	recordsListCmd.Flags().StringVar(&recordsSince, "since", "", "Only records processed on or after this ISO date")
	recordsListCmd.Flags().StringVar(&recordsMissing, "missing", "", "Only records missing a channel (download, email, upload, archive)")
	recordsListCmd.Flags().IntVar(&recordsLimit, "limit", 50, "Maximum records to show")
	recordsPurgeCmd.Flags().IntVar(&purgeOlderThan, "older-than", 0, "Retention window in days")
	recordsFetchCmd.Flags().StringVarP(&recordsFetchOut, "output", "o", "", "Output file (defaults to the archived filename)")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsClearCmd)
	recordsCmd.AddCommand(recordsFetchCmd)
	recordsCmd.AddCommand(recordsPurgeCmd)
}

// --- helpers ---

func openStore() (*store.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.Open(filepath.Join(dataDir, "pressbote.db"))
}

// loginPortal builds an authenticated portal client from the configured
// credentials.
func loginPortal(ctx context.Context) (*portal.Client, error) {
	client := portal.New(cfg.Portal.BaseURL, time.Duration(cfg.Portal.TimeoutSeconds)*time.Second)
	user := os.Getenv(cfg.Portal.UsernameEnv)
	pass := os.Getenv(cfg.Portal.PasswordEnv)
	if err := client.Login(ctx, user, pass); err != nil {
		return nil, err
	}
	return client, nil
}

func buildMailer() mail.Sender {
	if !cfg.MailConfigured() {
		return nil
	}
	return mail.New(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.From,
		os.Getenv(cfg.Mail.UsernameEnv), os.Getenv(cfg.Mail.PasswordEnv))
}

func buildSink(ctx context.Context) archive.Sink {
	if !cfg.ArchiveConfigured() {
		return nil
	}
	sink, err := archive.New(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.CredentialsFile)
	if err != nil {
		log.Printf("archive sink unavailable: %v", err)
		return nil
	}
	return sink
}

// notifyAdmin mails a run-fatal error to the administrator.
func notifyAdmin(mailer mail.Sender, runErr error) {
	if mailer == nil || cfg.Mail.AdminAddress == "" || runErr == nil {
		return
	}
	body := fmt.Sprintf("The delivery run aborted:\n\n```\n%v\n```\n", runErr)
	if err := mailer.SendError(cfg.Mail.AdminAddress, "pressbote run aborted", body); err != nil {
		log.Printf("notifying admin: %v", err)
	}
}

func resolvePublications(db *store.DB, ref string) ([]store.Publication, error) {
	if ref == "" {
		return db.ListPublications(true)
	}
	p, err := findPublication(db, ref)
	if err != nil {
		return nil, err
	}
	return []store.Publication{*p}, nil
}

func findPublication(db *store.DB, ref string) (*store.Publication, error) {
	p, err := db.FindPublication(ref)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("publication %q not found", ref)
	}
	return p, nil
}

func findRecipient(db *store.DB, email string) (*store.Recipient, error) {
	r, err := db.GetRecipientByEmail(email)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("recipient %q not found", email)
	}
	return r, nil
}

func strOr(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func mark(ts *string) string {
	if ts == nil {
		return "no"
	}
	return *ts
}
