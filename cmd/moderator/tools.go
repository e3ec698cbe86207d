package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/whisper/guardbot/internal/messaging"
	"github.com/whisper/guardbot/internal/moderation"
	"github.com/whisper/guardbot/internal/ocr"
	"github.com/whisper/guardbot/internal/reward"
)

func newOCRCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ocr <image>",
		Short: "Run an image through the OCR provider chain",
		Long:  "Run an image through the OCR provider chain. The image may be a local path or an http(s)://, base64:// or file:// reference.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			fetcher := ocr.NewFetcher(cfg.OCR.FetchTimeout, cfg.OCR.MaxImageBytes)
			ref := args[0]
			var image []byte
			switch {
			case strings.HasPrefix(ref, "file://"):
				image, err = fetcher.ReadFile(strings.TrimPrefix(ref, "file://"))
			case strings.Contains(ref, "://"):
				image, err = fetcher.Fetch(cmd.Context(), ref)
			default:
				image, err = fetcher.ReadFile(ref)
			}
			if err != nil {
				return err
			}

			res := newResolver(cfg, logger).Recognize(cmd.Context(), image)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provider: %s\n", valueOr(res.Provider, "none"))
			if res.Diagnostics != "" {
				fmt.Fprintf(out, "diagnostics: %s\n", res.Diagnostics)
			}
			fmt.Fprintln(out, res.Text)
			return nil
		},
	}
}

func newProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Check which OCR providers are reachable with the configured credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			resolver := newResolver(cfg, logger)
			status := resolver.CheckAvailability(cmd.Context())
			out := cmd.OutOrStdout()
			if len(status) == 0 {
				fmt.Fprintln(out, "no ocr providers configured")
				return nil
			}
			for _, name := range resolver.Providers() {
				state := "unavailable"
				if status[name] {
					state = "available"
				}
				fmt.Fprintf(out, "%-10s %s\n", name, state)
			}
			return nil
		},
	}
}

func newRestockCommand() *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "restock [code...]",
		Short: "Append reward codes to the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := args
			if fromFile != "" {
				fileCodes, err := reward.ReadPoolFile(fromFile)
				if err != nil {
					return err
				}
				codes = append(codes, fileCodes...)
			}
			if len(codes) == 0 {
				return errors.New("no codes given")
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, sqlStore, closeStore, err := rewardStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			out := cmd.OutOrStdout()
			// Bulk loads into SQLite go through one transaction.
			if sqlStore != nil && fromFile != "" {
				added, err := sqlStore.Import(cmd.Context(), codes)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "added %d of %d codes\n", added, len(codes))
				return nil
			}

			ledger, err := newLedger(cmd.Context(), cfg, store, logger)
			if err != nil {
				return err
			}
			added := 0
			for _, code := range codes {
				err := ledger.Restock(cmd.Context(), code)
				switch {
				case err == nil:
					added++
				case errors.Is(err, reward.ErrDuplicateCode), errors.Is(err, reward.ErrInvalidCode):
					fmt.Fprintf(out, "skipped %q: %v\n", code, err)
				default:
					return err
				}
			}
			remaining, err := ledger.Remaining(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "added %d of %d codes, %d in pool\n", added, len(codes), remaining)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFile, "file", "", "Read newline-delimited codes from a file")
	return cmd
}

func newReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask running moderators to reload the keyword document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			natsConfig := messaging.DefaultNATSConfig()
			natsConfig.URL = cfg.NATSURL
			natsConfig.Name = "guardbot-cli"
			natsConfig.MaxReconnects = 0
			nc, err := messaging.NewNATSClient(natsConfig, logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			data, err := json.Marshal(moderation.ReloadRequest{
				RequestedBy: "cli",
				Ts:          time.Now().UnixMilli(),
			})
			if err != nil {
				return err
			}
			if err := nc.PublishReload(data); err != nil {
				return err
			}
			if err := nc.Flush(5 * time.Second); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reload requested")
			return nil
		},
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func newKeywordsCommand() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "keywords [path]",
		Short: "Validate a keyword document and list its categories",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("keywords.path")
			if len(args) == 1 {
				path = args[0]
			}
			categories := moderation.Categories
			if category != "" {
				cat, err := moderation.ParseCategory(category)
				if err != nil {
					return err
				}
				categories = []moderation.Category{cat}
			}

			doc, err := moderation.LoadDocument(path)
			if err != nil {
				return err
			}
			d := moderation.New(moderation.Config{MatchCount: viper.GetInt("reward.match_count")}, doc)

			out := cmd.OutOrStdout()
			for _, cat := range categories {
				words := d.Keywords(cat)
				fmt.Fprintf(out, "%-15s %3d  %s\n", cat, len(words), strings.Join(words, ", "))
			}
			fmt.Fprintf(out, "matchCount      %d\n", d.MatchCountRequired())
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only list one category (reward, image-filter, message-filter)")
	return cmd
}
