package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"tvbot/internal/app"
	"tvbot/internal/config"
	"tvbot/internal/schedule"
	"tvbot/internal/storage"
	logx "tvbot/pkg/logx"
)

// CheckReport summarizes a config and store check.
type CheckReport struct {
	Config           string   `json:"config"`
	Driver           string   `json:"driver"`
	Timezone         string   `json:"timezone"`
	Owners           int      `json:"owners"`
	Recipients       int      `json:"recipients"`
	ActiveRecipients int      `json:"active_recipients"`
	Schedules        int      `json:"schedules"`
	Pending          int      `json:"pending"`
	Sent             int      `json:"sent"`
	Malformed        []string `json:"malformed,omitempty"`
	NextUp           []string `json:"next_up,omitempty"`
}

func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and read both stores",
		Long: `Validate the config file, then load and summarize recipients and
schedules from the configured store. Exits non-zero on the first problem.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := runCheck(cmd.Context(), rootOpts.ConfigPath, !offline, time.Now())
			if err != nil {
				return err
			}
			return writeCheck(cmd.OutOrStdout(), rootOpts.Format, rep)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "do not require a telegram token")
	return cmd
}

func runCheck(ctx context.Context, cfgPath string, requireToken bool, now time.Time) (CheckReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m := config.NewManager(cfgPath)
	m.SetRequireToken(requireToken)
	cfg, err := m.Parse()
	if err != nil {
		return CheckReport{}, err
	}
	rt, err := app.Resolve(cfg)
	if err != nil {
		return CheckReport{}, err
	}

	st, err := storage.Open(rt.Storage, logx.Nop())
	if err != nil {
		return CheckReport{}, err
	}
	defer st.Close()

	users, err := st.LoadRecipients(ctx)
	if err != nil {
		return CheckReport{}, fmt.Errorf("recipients: %w", err)
	}
	scheds, err := st.LoadSchedules(ctx)
	if err != nil {
		return CheckReport{}, fmt.Errorf("schedules: %w", err)
	}

	rep := CheckReport{
		Config:           cfgPath,
		Driver:           cfg.Storage.Driver,
		Timezone:         rt.Location.String(),
		Owners:           len(rt.Owners),
		Recipients:       len(users.Users),
		ActiveRecipients: len(users.Active()),
		Schedules:        len(scheds.Schedules),
	}
	if rep.Driver == "" {
		rep.Driver = "file"
	}
	for _, e := range scheds.Schedules {
		switch {
		case e.Sent:
			rep.Sent++
		case e.Active:
			rep.Pending++
		}
		if _, err := e.Instant(rt.Location); err != nil {
			rep.Malformed = append(rep.Malformed, e.ID)
		}
	}
	for i, e := range schedule.Upcoming(scheds.Schedules, now, 7, rt.Location) {
		if i == 5 {
			break
		}
		rep.NextUp = append(rep.NextUp, fmt.Sprintf("%s %s %s", e.Date, e.Time, e.ID))
	}
	return rep, nil
}

func writeCheck(w io.Writer, format string, rep CheckReport) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(w, "✓ config %s is valid\n", rep.Config)
	fmt.Fprintf(w, "  storage:    %s\n", rep.Driver)
	fmt.Fprintf(w, "  timezone:   %s\n", rep.Timezone)
	fmt.Fprintf(w, "  owners:     %d\n", rep.Owners)
	fmt.Fprintf(w, "  recipients: %d (%d active)\n", rep.Recipients, rep.ActiveRecipients)
	fmt.Fprintf(w, "  schedules:  %d (%d pending, %d sent)\n", rep.Schedules, rep.Pending, rep.Sent)
	if len(rep.Malformed) > 0 {
		fmt.Fprintf(w, "  malformed:  %v\n", rep.Malformed)
	}
	for _, s := range rep.NextUp {
		fmt.Fprintf(w, "  next:       %s\n", s)
	}
	return nil
}
