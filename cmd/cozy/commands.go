// cmd/cozy/commands.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"cozy/internal/site"
)

func statusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show chairs, staff and occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openController(cmd.Context())
			if err != nil {
				return err
			}
			printSite(cmd.OutOrStdout(), c.Site())
			return nil
		},
	}
}

func occupyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "occupy <chair> <client>",
		Short: "Seat a client in a chair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChair(args[0])
			if err != nil {
				return err
			}
			c, err := a.openController(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.OccupyChair(cmd.Context(), id, args[1]); err != nil {
				return err
			}
			chair, err := c.Site().Chair(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chair %d: %s\n", chair.ID, chair)
			return nil
		},
	}
}

func freeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "free <chair>",
		Short: "Free a chair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChair(args[0])
			if err != nil {
				return err
			}
			c, err := a.openController(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.FreeChair(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chair %d: Empty\n", id)
			return nil
		},
	}
}

func staffCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage the staff roster",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Add a staff member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openController(cmd.Context())
			if err != nil {
				return err
			}
			added, err := c.AddStaff(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !added {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already on staff\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func resizeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resize <capacity>",
		Short: "Change the number of chairs, relocating clients as needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("capacity %q: %w", args[0], site.ErrInvalidCapacity)
			}
			c, err := a.openController(cmd.Context())
			if err != nil {
				return err
			}
			moves, err := c.ResizeSite(cmd.Context(), capacity)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range moves {
				fmt.Fprintf(out, "moved chair %d -> chair %d\n", m.From, m.To)
			}
			fmt.Fprintf(out, "capacity %d\n", capacity)
			return nil
		},
	}
}

func eventsCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openController(cmd.Context())
			if err != nil {
				return err
			}
			l := c.EventLog()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(l)
			}
			events, err := l.Events()
			if err != nil {
				return err
			}
			for _, ev := range events {
				by := "-"
				if actor := ev.Actor(); actor != nil {
					by = actor.Name
				}
				fmt.Fprintf(out, "%s  %-14s  %-10s  %s\n",
					ev.OccurredAt().Local().Format("2006-01-02 15:04:05"), ev.Kind(), by, ev.EventID())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full log as JSON")
	return cmd
}

func verifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay the event log and compare it with the stored site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openController(cmd.Context())
			if err != nil {
				return err
			}
			l := c.EventLog()
			replayed, err := l.Replay()
			if err != nil {
				return err
			}
			if !replayed.Equal(c.Site()) {
				return fmt.Errorf("replay of %d events does not reproduce the stored site", l.Len())
			}
			if err := l.Verify(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d events replay to the stored site\n", l.Len())
			return nil
		},
	}
}

func parseChair(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("chair %q: %w", arg, site.ErrChairNotFound)
	}
	return id, nil
}

func printSite(w io.Writer, s *site.Site) {
	fmt.Fprintf(w, "%s: %d/%d chairs busy\n", s.Name, s.BusyCount(), s.Capacity)
	for _, c := range s.Chairs {
		fmt.Fprintf(w, "  %3d  %s\n", c.ID, c)
	}
	if len(s.Staff) == 0 {
		fmt.Fprintln(w, "staff: none")
		return
	}
	fmt.Fprint(w, "staff:")
	for _, st := range s.Staff {
		fmt.Fprintf(w, " %s", st.Name)
	}
	fmt.Fprintln(w)
}
