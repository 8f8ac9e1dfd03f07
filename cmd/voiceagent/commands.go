package main

import (
	"fmt"
	"time"

	"ai-voice-agent/internal/app"
	"ai-voice-agent/internal/config"
	"ai-voice-agent/internal/voice"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "voiceagent",
		Short:         "LiveKit voice agent with pluggable realtime backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       app.Version,
	}

	cmd.AddCommand(
		newStartCmd(),
		newDevCmd(),
		newConnectCmd(),
		newTokenCmd(),
	)
	return cmd
}

// loadConfig loads configuration and checks LiveKit credentials.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateLiveKit(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the agent worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return app.New(cfg).RunWorker(cmd.Context())
		},
	}
}

func newDevCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dev",
		Short: "Run the agent worker with console logs at debug level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Service.LogLevel = "debug"
			cfg.Service.LogFormat = "console"
			return app.New(cfg).RunWorker(cmd.Context())
		},
	}
}

func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run a single session in a named room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			roomName, _ := cmd.Flags().GetString("room")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return app.New(cfg).RunSession(cmd.Context(), roomName)
		},
	}

	cmd.Flags().String("room", "", "Room to join")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a participant token with voice preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			roomName, _ := flags.GetString("room")
			identity, _ := flags.GetString("identity")
			provider, _ := flags.GetString("provider")
			prompt, _ := flags.GetString("prompt")
			ttl, _ := flags.GetDuration("ttl")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Service.LogLevel = "warn"

			token, err := app.New(cfg).MintToken(roomName, identity, voice.Metadata{
				VoiceProvider: provider,
				SystemPrompt:  prompt,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("room", "", "Room the token grants access to")
	cmd.Flags().String("identity", "", "Participant identity")
	cmd.Flags().String("provider", "", "Voice provider preference (primary or secondary)")
	cmd.Flags().String("prompt", "", "System prompt for the agent")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}
