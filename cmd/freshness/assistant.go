package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/franckalain/freshness/internal/chat"
	"github.com/franckalain/freshness/internal/chatui"
	"github.com/franckalain/freshness/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const healthTimeout = 5 * time.Second

var askRaw bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the food safety assistant one question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return answer(cmd.OutOrStdout(), strings.Join(args, " "), askRaw)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the food safety assistant in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		// The UI owns the terminal, so the responder stays quiet
		return chatui.Run(cmd.Context(),
			chat.WithDelay(cfg.Chat.MinDelay.Duration, cfg.Chat.MaxDelay.Duration),
			chat.WithLogger(zap.NewNop()),
		)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the classifier service is up",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		model, err := loadModel(ctx)
		if err != nil {
			return err
		}
		health, err := model.Health(ctx)
		if err != nil {
			return fmt.Errorf("classifier at %s is unreachable: %w", cfg.Classifier.Endpoint, err)
		}

		w := cmd.OutOrStdout()
		status := freshStyle.Render(health.Status)
		if !health.ModelLoaded {
			status = rottenStyle.Render(health.Status + " (model not loaded)")
		}
		fmt.Fprintln(w, labelStyle.Render("Classifier")+cfg.Classifier.Endpoint)
		fmt.Fprintln(w, labelStyle.Render("Status")+status)
		if len(health.Classes) > 0 {
			fmt.Fprintln(w, labelStyle.Render("Classes")+strings.Join(health.Classes, ", "))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "print the Markdown answer without rendering")
}

// answer classifies a question and prints the reply
func answer(w io.Writer, question string, raw bool) error {
	rule, ok := chat.DefaultRules.Match(question)
	response := chat.DefaultResponse
	if ok {
		response = rule.Response
		logging.OrNop(logger).Debug("question matched", zap.String("topic", rule.Name))
	}

	if raw {
		_, err := fmt.Fprintln(w, response)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	out, err := renderer.Render(response)
	if err != nil {
		return fmt.Errorf("failed to render answer: %w", err)
	}
	_, err = fmt.Fprint(w, out)
	return err
}
