package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/draftflow/internal/model"
	"github.com/yangwenmai/draftflow/internal/worker"
)

type itemFunc func(a *app, ctx context.Context, id string) (*model.ContentItem, error)

type jobFunc func(a *app, ctx context.Context, id string) (*worker.Ticket, error)

// actionCommands builds one subcommand per lifecycle action.
func actionCommands() []*cobra.Command {
	cmds := []*cobra.Command{
		itemCommand("approve", "Approve a new item (multi-step types are staged, single-step are done)",
			func(a *app, ctx context.Context, id string) (*model.ContentItem, error) { return a.svc.Approve(ctx, id) }),
		itemCommand("done", "Mark a single-step item done",
			func(a *app, ctx context.Context, id string) (*model.ContentItem, error) { return a.svc.MarkDone(ctx, id) }),
		itemCommand("skip", "Skip an item",
			func(a *app, ctx context.Context, id string) (*model.ContentItem, error) { return a.svc.Skip(ctx, id) }),
		itemCommand("publish", "Publish a ready item",
			func(a *app, ctx context.Context, id string) (*model.ContentItem, error) { return a.svc.Publish(ctx, id) }),
		itemCommand("flag", "Flag an item for attention",
			func(a *app, ctx context.Context, id string) (*model.ContentItem, error) { return a.svc.SetFlag(ctx, id, true) }),
		itemCommand("unflag", "Clear an item's flag",
			func(a *app, ctx context.Context, id string) (*model.ContentItem, error) { return a.svc.SetFlag(ctx, id, false) }),
		jobCommand("refine", "Run one refinement round on a staged item",
			func(a *app, ctx context.Context, id string) (*worker.Ticket, error) { return a.svc.TriggerRefinement(ctx, id) }),
		jobCommand("artifacts", "Generate artifacts for a staged item",
			func(a *app, ctx context.Context, id string) (*worker.Ticket, error) { return a.svc.GenerateArtifacts(ctx, id) }),
		editCmd,
	}
	return cmds
}

func itemCommand(use, short string, fn itemFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [item-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			item, err := fn(a, ctx, args[0])
			if err != nil {
				return err
			}
			return printItem(item)
		},
	}
}

// jobCommand submits background work and waits for it, since the process
// exits once the command returns.
func jobCommand(use, short string, fn jobFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [item-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.claimJobs(ctx); err != nil {
				return fmt.Errorf("%w; use the HTTP API while serve is running", err)
			}

			t, err := fn(a, ctx, args[0])
			if err != nil {
				return err
			}
			if !flagJSON {
				fmt.Println(dimStyle.Render(fmt.Sprintf("%s job %s submitted, waiting", t.Kind, t.ID)))
			}
			if err := a.pool.Shutdown(ctx); err != nil {
				return fmt.Errorf("wait for %s: %w", t.Kind, err)
			}

			item, err := a.svc.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if err := printItem(item); err != nil {
				return err
			}
			for _, info := range []*model.ErrorInfo{item.RefineError, item.VisualError} {
				if info != nil {
					return fmt.Errorf("%s failed: %s", info.FailedStep, info.Message)
				}
			}
			return nil
		},
	}
}

var editFile string

var editCmd = &cobra.Command{
	Use:   "edit [item-id]",
	Short: "Save an operator edit from a file or stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var (
			text []byte
			err  error
		)
		if editFile != "" {
			text, err = os.ReadFile(editFile)
		} else {
			text, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("read edit: %w", err)
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		item, edit, err := a.svc.SaveEdit(ctx, args[0], string(text))
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(map[string]any{"item": item, "edit": edit})
		}
		fmt.Println(dimStyle.Render(fmt.Sprintf("saved edit %d", edit.Number)))
		return printItem(item)
	},
}

func init() {
	editCmd.Flags().StringVar(&editFile, "file", "", "read the edited text from file instead of stdin")
}
