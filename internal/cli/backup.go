package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"tvbot/internal/admin"
	"tvbot/internal/app"
	"tvbot/internal/config"
	"tvbot/internal/dispatch"
	"tvbot/internal/storage"
	logx "tvbot/pkg/logx"
)

func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a backup of recipients and schedules",
		Long: `Write backup_YYYYMMDD_HHMMSS.json with both stores. This opens the store
directly; while the bot is running prefer the /backup command, which is
serialized with dispatch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := runBackup(cmd.Context(), rootOpts.ConfigPath, dir)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"path": path})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "✓ backup written to %s\n", path)
			return err
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "backup directory (default admin.backup_dir)")
	return cmd
}

func runBackup(ctx context.Context, cfgPath, dir string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m := config.NewManager(cfgPath)
	m.SetRequireToken(false)
	cfg, err := m.Parse()
	if err != nil {
		return "", err
	}
	rt, err := app.Resolve(cfg)
	if err != nil {
		return "", err
	}
	if dir != "" {
		rt.Admin.BackupDir = dir
	}

	st, err := storage.Open(rt.Storage, logx.Nop())
	if err != nil {
		return "", err
	}
	defer st.Close()

	// no delivery client: the gate is all admin needs for a backup
	disp := dispatch.New(rt.Dispatch, dispatch.Deps{Recipients: st, Schedules: st})
	return admin.New(rt.Admin, st, disp, logx.Nop()).Backup(ctx, admin.Actor{Username: "cli"})
}
