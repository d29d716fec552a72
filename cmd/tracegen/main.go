package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yourorg/tracegen/internal/config"
	"github.com/yourorg/tracegen/internal/extract"
	"github.com/yourorg/tracegen/internal/har"
	"github.com/yourorg/tracegen/internal/recorder"
	"github.com/yourorg/tracegen/internal/server"
	"github.com/yourorg/tracegen/internal/store"
	"github.com/yourorg/tracegen/internal/synth"
)

const defaultConfigContent = `filter:
  ignore_extensions:
    - .js
    - .css
    - .html
    - .png
    - .jpg
    - .jpeg
    - .gif
    - .svg
    - .woff
    - .woff2
    - .ttf
    - .ico
    - .map
  ignore_paths:
    - /static/
    - /assets/
    - /favicon
    - analytics
    - telemetry
    - gtag
    - google-analytics
    - segment.io
    - sentry
    - hotjar
    - beacon
  api_markers:
    - /api/
    - /v1/
    - /v2/
    - /v3/
    - /graphql
    - /rest/
  capture_get: false
  allow_unknown: true

extract:
  auth_headers:
    - Authorization
    - X-Auth-Token
    - X-Api-Key
    - X-Session-Token
  id_patterns:
    - id
    - token
    - session
    - uuid
    - key
  max_depth: 8

synth:
  output_dir: "./generated"
  assert_bodies: false
  replay_cost_ms: 50

server:
  host: "127.0.0.1"
  port: 4023
  cors_origin: ""

log:
  level: "info"
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "tracegen",
		Short: "Capture browser API traffic and synthesize replay tests",
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	root.AddCommand(newInitCmd())
	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newImportCmd(&cfgPath))
	root.AddCommand(newSynthCmd(&cfgPath))
	root.AddCommand(newListCmd(&cfgPath))
	root.AddCommand(newShowCmd(&cfgPath))
	root.AddCommand(newDeleteCmd(&cfgPath))

	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.tracegen directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			baseDir := filepath.Join(home, ".tracegen")
			if err := os.MkdirAll(baseDir, 0o755); err != nil {
				return err
			}

			cfgFile := filepath.Join(baseDir, "config.yaml")
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			dbPath := filepath.Join(baseDir, "tracegen.db")
			s, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database ready", dbPath)
			return nil
		},
	}
}

func newServeCmd(cfgPath *string) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the capture server for the browser driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			st, err := store.NewSQLiteStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			rec := newRecorder(cfg, st)
			srv, err := server.New(cfg, rec, st)
			if err != nil {
				return err
			}
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			fmt.Fprintln(cmd.OutOrStdout(), "listening on", addr)
			return srv.ListenAndServe(addr)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "server host")
	cmd.Flags().IntVar(&port, "port", 0, "server port")
	return cmd
}

func newImportCmd(cfgPath *string) *cobra.Command {
	var harPath, name string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replay a HAR file as a capture session and synthesize a test",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			res, err := har.Replay(newRecorder(cfg, st), harPath, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s: %d exchange(s), artifact %s\n",
				res.SessionID, res.ExchangeCount, res.ArtifactPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&harPath, "har", "", "HAR file path")
	cmd.Flags().StringVar(&name, "name", "imported", "session name")
	_ = cmd.MarkFlagRequired("har")
	return cmd
}

func newSynthCmd(cfgPath *string) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Re-synthesize the replay test for a stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			sess, err := st.GetSession(sessionID)
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			sy := synth.New(cfg.Synth, extract.New(cfg.Extract))
			src, err := sy.Generate(sess)
			if err != nil {
				return err
			}
			artifact := filepath.Join(cfg.Synth.OutputDir, sy.Filename(sess.Name))
			if err := os.WriteFile(artifact, []byte(src), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", artifact)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			sessions, err := st.ListSessions()
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s  %s\n", s.ID, s.Name, s.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newShowCmd(cfgPath *string) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a stored session as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			sess, err := st.GetSession(sessionID)
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sess)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newDeleteCmd(cfgPath *string) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.DeleteSession(sessionID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", sessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newRecorder(cfg *config.Config, st store.Store) *recorder.Recorder {
	ex := extract.New(cfg.Extract)
	sy := synth.New(cfg.Synth, ex)
	return recorder.New(cfg, ex, sy, st)
}

func openStore(cfgPath *string) (*store.SQLiteStore, error) {
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
