package main

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syntrise/dropcore/internal/record"
)

func urlEncode(s string) string { return url.QueryEscape(s) }

var (
	flagAddr  string
	flagToken string
)

func api() *client {
	token := flagToken
	if token == "" {
		token = os.Getenv("DROPCORE_TOKEN")
	}
	return newClient(flagAddr, token)
}

func main() {
	root := &cobra.Command{
		Use:           "dropctl",
		Short:         "Control a running dropcore daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagAddr, "addr", "http://127.0.0.1:8474", "daemon address")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (or DROPCORE_TOKEN)")

	root.AddCommand(unlockCmd(), lockCmd(), rotateCmd(), addCmd(), getCmd(),
		listCmd(), searchCmd(), syncCmd(), auditCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func unlockCmd() *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the store and print a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				fmt.Fprint(os.Stderr, "passphrase: ")
				sc := bufio.NewScanner(os.Stdin)
				if sc.Scan() {
					passphrase = strings.TrimSpace(sc.Text())
				}
			}
			var resp struct {
				Token string `json:"token"`
			}
			err := api().do(cmd.Context(), http.MethodPost, "/api/unlock",
				map[string]string{"passphrase": passphrase}, &resp)
			if err != nil {
				return err
			}
			fmt.Println(resp.Token)
			fmt.Fprintln(os.Stderr, `export DROPCORE_TOKEN to use it:  export DROPCORE_TOKEN="$(dropctl unlock ...)"`)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "master passphrase (prompted if omitted)")
	return cmd
}

func lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Discard the in-memory key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return api().do(cmd.Context(), http.MethodPost, "/api/lock", map[string]string{}, nil)
		},
	}
}

func rotateCmd() *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Replace the master key and re-encrypt local records",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Token       string `json:"token"`
				Reencrypted int    `json:"reencrypted"`
			}
			err := api().do(cmd.Context(), http.MethodPost, "/api/key/rotate",
				map[string]string{"passphrase": passphrase}, &resp)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "re-encrypted %d records; new session token:\n", resp.Reencrypted)
			fmt.Println(resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "new master passphrase")
	return cmd
}

func addCmd() *cobra.Command {
	var category, text, note, privacy string
	var tags []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Capture a new drop",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"category": category,
				"text":     text,
				"note":     note,
				"tags":     tags,
			}
			if privacy != "" {
				body["privacy"] = privacy
			}
			var d record.Drop
			if err := api().do(cmd.Context(), http.MethodPost, "/api/drops", body, &d); err != nil {
				return err
			}
			fmt.Println(d.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "note", "record category")
	cmd.Flags().StringVar(&text, "text", "", "record text")
	cmd.Flags().StringVar(&note, "note", "", "attached note")
	cmd.Flags().StringVar(&privacy, "privacy", "", "privacy level: standard, high, maximum")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch and decrypt one drop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d record.Drop
			if err := api().do(cmd.Context(), http.MethodGet, "/api/drops/"+args[0], nil, &d); err != nil {
				return err
			}
			return printJSON(d)
		},
	}
}

func listCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drops, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/drops"
			if category != "" {
				path += "?category=" + category
			}
			var drops []record.Drop
			if err := api().do(cmd.Context(), http.MethodGet, path, nil, &drops); err != nil {
				return err
			}
			for _, d := range drops {
				line := d.Text
				if d.DecryptFailed {
					line = "(undecryptable)"
				}
				if len(line) > 60 {
					line = line[:60] + "..."
				}
				fmt.Printf("%s  %-12s  %s\n", d.ID, d.Category, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	return cmd
}

func searchCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search drops without exposing the query to storage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args, " ")
			path := "/api/search?q=" + urlEncode(q)
			if strict {
				path += "&strict=true"
			}
			var hits []struct {
				Drop    record.Drop `json:"drop"`
				Matches int         `json:"matches"`
			}
			if err := api().do(cmd.Context(), http.MethodGet, path, nil, &hits); err != nil {
				return err
			}
			for _, h := range hits {
				fmt.Printf("%d  %s  %s\n", h.Matches, h.Drop.ID, h.Drop.Text)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "require every query token to match")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push, pull, merge, and drain the retry queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := api().do(cmd.Context(), http.MethodPost, "/api/sync", map[string]string{}, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the tamper-evident activity ledger",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "verify",
			Short: "Recheck the whole hash chain",
			RunE: func(cmd *cobra.Command, args []string) error {
				var report map[string]any
				if err := api().do(cmd.Context(), http.MethodGet, "/api/audit/verify", nil, &report); err != nil {
					return err
				}
				return printJSON(report)
			},
		},
		&cobra.Command{
			Use:   "export",
			Short: "Export the chain for third-party verification",
			RunE: func(cmd *cobra.Command, args []string) error {
				var bundle map[string]any
				if err := api().do(cmd.Context(), http.MethodGet, "/api/audit/export", nil, &bundle); err != nil {
					return err
				}
				return printJSON(bundle)
			},
		},
		pruneSubCmd(),
	)
	return cmd
}

func pruneSubCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop ledger entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]int
			err := api().do(cmd.Context(), http.MethodPost, "/api/audit/prune",
				map[string]int{"retention_days": days}, &resp)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d entries\n", resp["removed"])
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (daemon default when 0)")
	return cmd
}
