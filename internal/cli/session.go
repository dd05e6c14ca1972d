package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"medihelp/internal/conversation"
	"medihelp/internal/extraction"
	"medihelp/internal/models"
	"medihelp/internal/report"
	"medihelp/internal/service/ai"
	"medihelp/internal/workspace"
)

var (
	sessionDocument   string
	sessionAudio      string
	sessionReportFile string
	sessionServer     string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Extract a report and chat about it from the terminal",
	Long: `Uploads a medical document (JPEG, PNG, WEBP or PDF) or a speech recording
(MP3, WAV, OGG or WEBM) to a running MediHelp server, shows the extracted
report for review, then starts a chat that uses the confirmed report.

Type "exit" or press Ctrl-D to leave the chat.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func init() {
	sessionCmd.Flags().StringVar(&sessionDocument, "document", "", "report image or PDF to extract")
	sessionCmd.Flags().StringVar(&sessionAudio, "audio", "", "speech recording to extract")
	sessionCmd.Flags().StringVar(&sessionReportFile, "report-file", "", "text file with extra details appended to the report")
	sessionCmd.Flags().StringVar(&sessionServer, "server", "", "server base URL (defaults to client.server_url)")
	sessionCmd.MarkFlagsMutuallyExclusive("document", "audio")
	rootCmd.AddCommand(sessionCmd)
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	serverURL := sessionServer
	if serverURL == "" {
		serverURL = cfg.Client.ServerURL
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())
	httpClient := &http.Client{}

	holder := report.NewHolder()
	sessionID := uuid.NewString()
	sess := conversation.NewSession(sessionID, conversation.NewHTTPTransport(serverURL, sessionID, httpClient), holder, log.Named("session"))
	notifier := workspace.NotifierFunc(func(n workspace.Notification) {
		fmt.Fprintf(cmd.ErrOrStderr(), "! %s\n", n.Message)
	})
	ws := workspace.New(extraction.NewClient(serverURL, httpClient, log.Named("extraction")), holder, sess, notifier, log.Named("workspace"))

	if err := uploadAndExtract(ctx, ws, out); err != nil {
		return err
	}
	if sessionReportFile != "" {
		extra, err := loadReportFile(ctx, sessionReportFile)
		if err != nil {
			return err
		}
		ws.Edit(joinReport(ws.Draft(), extra))
	}
	if err := reviewDraft(ws, in, out); err != nil {
		return err
	}
	ws.Confirm()
	fmt.Fprintf(out, "[%s]\n\n", ws.ReportStatus())

	return chatLoop(ctx, ws, in, out)
}

func uploadAndExtract(ctx context.Context, ws *workspace.Workspace, out io.Writer) error {
	path, selectFn := sessionDocument, ws.SelectDocument
	if sessionAudio != "" {
		path, selectFn = sessionAudio, ws.SelectAudio
	}
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	// no declared type: the normalizer sniffs local files
	if err := selectFn(models.UploadedFile{Name: filepath.Base(path), Data: data}); err != nil {
		return err
	}
	ws.WaitEncoded()

	fmt.Fprintln(out, "extracting...")
	// a failed extraction is reported by the notifier; the user can still
	// type the report by hand
	if _, err := ws.Extract(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func loadReportFile(ctx context.Context, path string) (string, error) {
	loader, err := ai.NewReportLoader(ctx)
	if err != nil {
		return "", err
	}
	return loader.Load(ctx, path)
}

func joinReport(draft, extra string) string {
	switch {
	case draft == "":
		return extra
	case extra == "":
		return draft
	default:
		return draft + "\n\n" + extra
	}
}

// reviewDraft shows the draft and lets the user keep it or type a
// replacement on one line.
func reviewDraft(ws *workspace.Workspace, in *bufio.Reader, out io.Writer) error {
	draft := ws.Draft()
	if draft == "" {
		fmt.Fprintln(out, "No report extracted.")
	} else {
		fmt.Fprintf(out, "--- report ---\n%s\n--------------\n", draft)
	}
	fmt.Fprint(out, "Press Enter to confirm, or type a replacement report: ")
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if replacement := strings.TrimSpace(line); replacement != "" {
		ws.Edit(replacement)
	}
	return nil
}

func chatLoop(ctx context.Context, ws *workspace.Workspace, in *bufio.Reader, out io.Writer) error {
	sess := ws.Session()
	printed := 0
	sess.OnChange(func() {
		msgs := sess.Messages()
		if len(msgs) == 0 {
			return
		}
		last := msgs[len(msgs)-1]
		if last.Role != models.RoleAssistant {
			printed = 0
			return
		}
		if len(last.Content) > printed {
			fmt.Fprint(out, last.Content[printed:])
			printed = len(last.Content)
		}
	})

	for {
		fmt.Fprint(out, "> ")
		line, err := in.ReadString('\n')
		input := strings.TrimSpace(line)
		if input == "exit" || input == "quit" {
			return nil
		}
		if input != "" {
			// failures reach the user through the notifier
			_ = ws.Ask(ctx, input)
			fmt.Fprintln(out)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
