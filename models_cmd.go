package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arre-reader/arre/internal/models"
	"github.com/arre-reader/arre/internal/tts"
)

var voicesLanguage string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage downloaded voice models",
	Args:  cobra.NoArgs,
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloaded voice models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *tts.Service, _ settings) error {
			ids, err := svc.Models(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		})
	},
}

var modelsDownloadCmd = &cobra.Command{
	Use:     "download [VOICE]",
	Short:   "Download a voice model",
	Example: paragraph("arre models download\narre models download de_DE-thorsten-medium"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *tts.Service, s settings) error {
			voice := s.Voice
			if len(args) > 0 {
				voice = args[0]
			}
			out := cmd.ErrOrStderr()
			err := svc.DownloadModel(ctx, voice, func(p models.Progress) {
				fmt.Fprintf(out, "\r%s %s / %s", voice, humanize.IBytes(uint64(max(p.Loaded, 0))), humanize.IBytes(uint64(max(p.Total, 0))))
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Downloaded", keyword(voice))
			return nil
		})
	},
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete every downloaded voice model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *tts.Service, _ settings) error {
			if err := svc.DeleteModels(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted all voice models")
			return nil
		})
	},
}

var voicesCmd = &cobra.Command{
	Use:     "voices",
	Short:   "List the voices that can be downloaded",
	Example: paragraph("arre voices\narre voices --lang de"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *tts.Service, _ settings) error {
			voices, err := svc.Voices(ctx)
			if err != nil {
				return err
			}
			stored, err := svc.Models(ctx)
			if err != nil {
				return err
			}
			return printVoices(cmd.OutOrStdout(), filterVoices(voices, voicesLanguage), stored)
		})
	},
}

// filterVoices keeps the voices whose language code or family starts with
// lang.
func filterVoices(voices []models.Voice, lang string) []models.Voice {
	if lang == "" {
		return voices
	}
	lang = strings.ToLower(lang)
	var out []models.Voice
	for _, v := range voices {
		if strings.HasPrefix(strings.ToLower(v.Language.Code), lang) || strings.ToLower(v.Language.Family) == lang {
			out = append(out, v)
		}
	}
	return out
}

func printVoices(w io.Writer, voices []models.Voice, stored []string) error {
	have := make(map[string]bool, len(stored))
	for _, id := range stored {
		have[id] = true
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VOICE\tLANGUAGE\tQUALITY\tSTORED")
	for _, v := range voices {
		mark := ""
		if have[v.Key] {
			mark = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Key, v.Language.NameEnglish, v.Quality, mark)
	}
	return tw.Flush()
}

// withService runs fn against a service without audio output.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *tts.Service, s settings) error) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	// Management needs a single pool worker besides the control one.
	s.Workers = 1
	svc, closeSvc, err := newService(ctx, s, nil)
	if err != nil {
		return err
	}
	defer closeSvc()
	return fn(ctx, svc, s)
}

func init() {
	voicesCmd.Flags().StringVarP(&voicesLanguage, "lang", "l", "", "only list voices of this language")
	modelsCmd.AddCommand(modelsListCmd, modelsDownloadCmd, modelsDeleteCmd)
}
