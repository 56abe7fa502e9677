package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/yangwenmai/draftflow/internal/lifecycle"
	"github.com/yangwenmai/draftflow/internal/model"
)

var (
	listStatus  string
	listType    string
	listQuery   string
	listFlagged bool
	listLimit   uint64
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List new items awaiting a decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd, func(a *app) listFunc { return a.svc.ListInbox })
	},
}

var refinementCmd = &cobra.Command{
	Use:   "refinement",
	Short: "List staged and ready items",
	Long: `List items in the refinement view (staged and ready).

Example:
  draftflow refinement
  draftflow refinement --status ready
  draftflow refinement --type post,thread --flagged`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd, func(a *app) listFunc { return a.svc.ListRefinement })
	},
}

var showCmd = &cobra.Command{
	Use:   "show [item-id]",
	Short: "Show an item and its refinement rounds",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var (
	ingestSource string
	ingestType   string
	ingestTitle  string
	ingestFile   string
	ingestURL    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a new draft from a file, stdin or a URL",
	Long: `Ingest creates a new item in the inbox.

Example:
  draftflow ingest --source ep7 --type post --file draft.md
  cat draft.md | draftflow ingest --source ep7 --type thread
  draftflow ingest --url https://example.com/essay`,
	RunE: runIngest,
}

func init() {
	for _, c := range []*cobra.Command{inboxCmd, refinementCmd} {
		c.Flags().StringVar(&listStatus, "status", "", "comma-separated statuses within the view")
		c.Flags().StringVar(&listType, "type", "", "comma-separated content types")
		c.Flags().StringVar(&listQuery, "q", "", "match title or id")
		c.Flags().BoolVar(&listFlagged, "flagged", false, "only flagged items")
		c.Flags().Uint64Var(&listLimit, "limit", 0, "maximum number of results (0 = no limit)")
	}

	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source id")
	ingestCmd.Flags().StringVar(&ingestType, "type", "", "content type (post, thread, article, quote, note, title)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "item title")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "read the draft from file instead of stdin")
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "extract the draft from a web page")
}

type listFunc func(context.Context, model.ItemFilter) ([]model.ContentItem, error)

func runList(cmd *cobra.Command, pick func(*app) listFunc) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	f := model.ItemFilter{Query: listQuery, Limit: listLimit}
	for _, raw := range splitList(listStatus) {
		st, err := model.ParseStatus(raw)
		if err != nil {
			return err
		}
		f.Status = append(f.Status, st)
	}
	for _, raw := range splitList(listType) {
		t, err := model.ParseContentType(raw)
		if err != nil {
			return err
		}
		f.Types = append(f.Types, t)
	}
	if listFlagged {
		f.Flagged = &listFlagged
	}

	items, err := pick(a)(ctx, f)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(items)
	}
	printItems(items)
	return nil
}

// printItems prints one row per item: id, status and visual badges, flag, title.
func printItems(items []model.ContentItem) {
	if len(items) == 0 {
		fmt.Println(dimStyle.Render("no items"))
		return
	}
	idWidth := len("ID")
	for _, it := range items {
		idWidth = max(idWidth, len(it.ID))
	}
	col := lipgloss.NewStyle().Width(idWidth + 2)
	badge := lipgloss.NewStyle().Width(9)

	fmt.Println(headerStyle.Render(col.Render("ID") + badge.Render("STATUS") + badge.Render("VISUAL") + "  TITLE"))
	for _, it := range items {
		flag := " "
		if it.Flagged {
			flag = flagStyle.Render("!")
		}
		fmt.Println(col.Render(it.ID) + badge.Render(statusBadge(it.Status)) + badge.Render(visualBadge(it.VisualStatus)) + flag + " " + it.Title)
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := a.svc.Get(ctx, args[0])
	if err != nil {
		return err
	}
	doc, err := a.svc.Document(ctx, item.ID)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(map[string]any{"item": item, "rounds": doc.Rounds(), "current_text": doc.CurrentText()})
	}

	fmt.Println(headerStyle.Render(item.ID) + "  " + statusBadge(item.Status) + "  " + dimStyle.Render(item.Type.Class().String()))
	if item.Title != "" {
		fmt.Println(item.Title)
	}
	fmt.Printf("visual: %s  refine: %s  revision: %d\n", visualBadge(item.VisualStatus), item.RefineStatus, item.Revision)
	for _, info := range []*model.ErrorInfo{item.RefineError, item.VisualError} {
		if info != nil {
			fmt.Println(errorStyle.Render(fmt.Sprintf("%s failed: %s", info.FailedStep, info.Message)))
		}
	}
	if item.Artifact != nil && item.Artifact.Primary != "" {
		fmt.Printf("artifact: %s (%s)\n", item.Artifact.Primary, item.Artifact.Shape)
	}

	for _, r := range doc.Rounds() {
		score := dimStyle.Render("unjudged")
		if r.Overall != nil {
			score = fmt.Sprintf("%.2f", *r.Overall)
		}
		fmt.Printf("\n%s  %s  %s\n", headerStyle.Render(fmt.Sprintf("round %d", r.Round)), score, dimStyle.Render(r.CreatedAt))
		if len(r.Edits) > 0 {
			fmt.Println(dimStyle.Render(fmt.Sprintf("%d edit(s)", len(r.Edits))))
		}
	}
	fmt.Println()
	fmt.Println(doc.CurrentText())
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var item *model.ContentItem
	if ingestURL != "" {
		item, err = a.svc.IngestURL(ctx, ingestURL, ingestType)
	} else {
		var text []byte
		if ingestFile != "" {
			text, err = os.ReadFile(ingestFile)
		} else {
			text, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("read draft: %w", err)
		}
		item, err = a.svc.Ingest(ctx, lifecycle.IngestRequest{
			SourceID: ingestSource,
			Type:     ingestType,
			Title:    ingestTitle,
			Text:     string(text),
		})
	}
	if err != nil {
		return err
	}
	return printItem(item)
}

func printItem(item *model.ContentItem) error {
	if flagJSON {
		return printJSON(item)
	}
	fmt.Println(item.ID + "  " + statusBadge(item.Status) + "  " + visualBadge(item.VisualStatus))
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
