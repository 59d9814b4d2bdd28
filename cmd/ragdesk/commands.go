package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ragdesk/internal/backend"
	"github.com/kalambet/ragdesk/internal/chat"
	"github.com/kalambet/ragdesk/internal/config"
	"github.com/kalambet/ragdesk/internal/library"
	"github.com/kalambet/ragdesk/internal/studio"
	"github.com/kalambet/ragdesk/internal/upload"
)

// errReported marks a failure whose message was already shown as a notification.
var errReported = errors.New("failed")

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload documents to the backend",
	Long: `Upload documents to the backend, one at a time.

Examples:
  ragdesk upload handbook.pdf
  ragdesk upload reports/*.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		var files []upload.File
		for _, path := range args {
			f, err := upload.FileFromPath(path)
			if err != nil {
				printError("%v", err)
				continue
			}
			files = append(files, f)
		}
		if len(files) == 0 {
			return fmt.Errorf("no readable files")
		}

		orch := upload.NewOrchestrator(a.client, upload.NewStore(), a.uploadRules(), a.notifier)
		orch.OnUpdate = uploadProgressPrinter()

		res, err := orch.UploadBatch(cmd.Context(), files)
		if errors.Is(err, upload.ErrNoValidFiles) {
			return errReported
		}
		if err != nil {
			return err
		}
		if n := res.Failed(); n > 0 {
			printWarning("%d of %d uploads failed", n, len(res.Items))
			return errReported
		}
		return nil
	},
}

// uploadProgressPrinter prints a line when an item starts, crosses a
// quarter of its transfer, or moves to processing.
func uploadProgressPrinter() func(upload.Item) {
	lastQuarter := make(map[string]int)
	lastStatus := make(map[string]upload.Status)
	return func(it upload.Item) {
		prev := lastStatus[it.ID]
		lastStatus[it.ID] = it.Status
		switch it.Status {
		case upload.StatusUploading:
			if prev != upload.StatusUploading {
				printStep("Uploading %s (%s)", it.File.Name(), humanSize(it.File.Size()))
			}
			if q := it.Progress / 25; q > lastQuarter[it.ID] && it.Progress < 100 {
				lastQuarter[it.ID] = q
				printStatus(it.File.Name(), "%d%%", it.Progress)
			}
		case upload.StatusProcessing:
			if prev != upload.StatusProcessing {
				printStatus(it.File.Name(), "100%%, processing")
			}
		}
	}
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List or delete uploaded documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		docs, err := library.New(a.client, a.notifier).Refresh(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(docs) == 0 {
			fmt.Fprintln(out, "No documents uploaded.")
			return nil
		}
		for _, d := range docs {
			size := ""
			if d.Size != nil {
				size = "  " + humanSize(*d.Size)
			}
			fmt.Fprintf(out, "%s  %s  %d chunks  %s%s\n",
				colorize(colorCyan, d.ID),
				d.Filename,
				d.Chunks,
				d.UploadDate,
				size,
			)
		}
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		lib := library.New(a.client, a.notifier)
		// Best effort: the listing only supplies the filename for messages.
		if _, err := lib.Refresh(cmd.Context()); err != nil {
			printWarning("could not list documents: %v", err)
		}
		if err := lib.Delete(cmd.Context(), args[0]); err != nil {
			return errReported
		}
		return nil
	},
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about your documents",
	Long: `Ask a question answered from your uploaded documents.

Examples:
  ragdesk ask "How many vacation days do I get?"
  ragdesk ask --doc doc-3 "Summarize the refund policy"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, _ := cmd.Flags().GetString("doc")
		topK, _ := cmd.Flags().GetInt("top-k")

		a, err := newApp()
		if err != nil {
			return err
		}

		orch := chat.NewOrchestrator(a.client, chat.NewStore(), a.notifier)
		orch.TopK = topK
		orch.SetScope(docID)

		ex, err := orch.Submit(cmd.Context(), strings.Join(args, " "))
		if errors.Is(err, chat.ErrEmptyQuery) {
			return err
		}
		if err != nil {
			return errReported
		}
		printAnswer(cmd.OutOrStdout(), ex.Answer, a.cfg.Chat.MaxSources)
		return nil
	},
}

func init() {
	askCmd.Flags().String("doc", "", "restrict the answer to one document id")
	askCmd.Flags().Int("top-k", 0, "number of chunks to retrieve (default from config)")
}

func printAnswer(out io.Writer, m chat.Message, maxSources int) {
	fmt.Fprintln(out, m.Content)
	shown, more := chat.InlineSources(m.Sources, maxSources)
	if len(shown) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, colorize(colorBold, "Sources:"))
	for i, s := range shown {
		label := fmt.Sprintf("[%d]", i+1)
		if s.Page != nil {
			label += fmt.Sprintf(" p.%d", *s.Page)
		}
		if s.Score != nil {
			label += fmt.Sprintf(" (%.2f)", *s.Score)
		}
		text := strings.Join(strings.Fields(s.Content), " ")
		if r := []rune(text); len(r) > 200 {
			text = string(r[:200]) + "..."
		}
		fmt.Fprintf(out, "  %s %s\n", colorize(colorCyan, label), colorize(colorDim, text))
	}
	if more > 0 {
		fmt.Fprintf(out, "  ... and %d more\n", more)
	}
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question session",
	Long: `Start an interactive question session. Each line is a question.

Commands:
  /doc <id>   restrict questions to one document
  /doc        search all documents again
  /clear      clear the conversation
  /quit       leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, _ := cmd.Flags().GetString("doc")

		a, err := newApp()
		if err != nil {
			return err
		}

		orch := chat.NewOrchestrator(a.client, chat.NewStore(), a.notifier)
		orch.SetScope(docID)
		return runChat(cmd, orch, a.cfg.Chat.MaxSources)
	},
}

func init() {
	chatCmd.Flags().String("doc", "", "start scoped to one document id")
}

func runChat(cmd *cobra.Command, orch *chat.Orchestrator, maxSources int) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())

	for {
		fmt.Fprint(errOut, colorize(colorBold, "> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/clear":
			orch.Store().Clear()
			printSuccess("Conversation cleared")
			continue
		case line == "/doc":
			orch.SetScope("")
			printSuccess("Searching all documents")
			continue
		case strings.HasPrefix(line, "/doc "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/doc "))
			orch.SetScope(id)
			printSuccess("Questions now limited to %s", id)
			continue
		case strings.HasPrefix(line, "/"):
			printWarning("unknown command %s", line)
			continue
		}

		if err := cmd.Context().Err(); err != nil {
			return nil
		}
		ex, err := orch.Submit(cmd.Context(), line)
		if err != nil {
			// Already shown as a notification; the session goes on.
			continue
		}
		printAnswer(out, ex.Answer, maxSources)
		fmt.Fprintln(out)
	}
}

// --- studio ---

var studioCmd = &cobra.Command{
	Use:   "studio",
	Short: "Generate content from a document",
}

var studioGenerateCmd = &cobra.Command{
	Use:       "generate <audio|video|briefing|study_guide>",
	Short:     "Generate an overview, briefing, or study guide",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"audio", "video", "briefing", "study_guide"},
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, _ := cmd.Flags().GetString("doc")
		if docID == "" {
			return fmt.Errorf("--doc is required")
		}

		a, err := newApp()
		if err != nil {
			return err
		}

		tracker := studio.NewTracker(a.client, studio.NewStore(), a.cfg.Studio.Enabled, a.notifier)
		job, err := tracker.Generate(cmd.Context(), backend.StudioAction(args[0]), docID, nil)
		switch {
		case errors.Is(err, studio.ErrStudioDisabled), errors.Is(err, backend.ErrUnknownAction):
			return err
		case err != nil, job.Status == studio.StatusError:
			return errReported
		}

		out := cmd.OutOrStdout()
		if job.Status == studio.StatusProcessing {
			printStatus("Job", "%s", job.BackendJobID)
			if job.Message != "" {
				printStatus("Message", "%s", job.Message)
			}
			return nil
		}
		if job.Result != nil {
			if job.Result.URL != "" {
				fmt.Fprintln(out, job.Result.URL)
			}
			if job.Result.Content != "" {
				fmt.Fprintln(out, job.Result.Content)
			}
		}
		return nil
	},
}

func init() {
	studioGenerateCmd.Flags().String("doc", "", "document id (required)")
	studioCmd.AddCommand(studioGenerateCmd)
}

// --- health / status ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		status, err := a.client.HealthCheck(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Backend is %s", status)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend and configuration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			// Still show partial status even if config fails.
			printError("config error: %v", err)
			return nil
		}

		var (
			health    string
			healthErr error
			docs      []backend.Document
			docsErr   error
		)
		// Best effort: each check reports its own failure below and must not
		// cancel the other, so neither goroutine returns an error.
		ctx := cmd.Context()
		var g errgroup.Group
		g.Go(func() error {
			health, healthErr = a.client.HealthCheck(ctx)
			return nil
		})
		g.Go(func() error {
			docs, docsErr = a.client.GetDocuments(ctx)
			return nil
		})
		_ = g.Wait()

		printStatus("Backend", "%s", a.cfg.API.BaseURL)
		if healthErr != nil {
			printStatus("Health", "%s", colorize(colorRed, healthErr.Error()))
		} else {
			printStatus("Health", "%s", colorize(colorGreen, health))
		}
		if docsErr != nil {
			printStatus("Documents", "unknown (%v)", docsErr)
		} else {
			printStatus("Documents", "%d", len(docs))
		}
		printStatus("Studio", "%s", enabledLabel(a.cfg.Studio.Enabled))
		printStatus("Retries", "%d (base delay %s)", a.cfg.Retry.Attempts, a.cfg.RetryBaseDelay())
		printStatus("Config file", "%s", config.Path())
		return nil
	},
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
