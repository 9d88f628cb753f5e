package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/models"
	"github.com/kimhsiao/driverq/internal/offline"
)

// withManager runs fn against the process manager built from the
// configuration and shuts it down afterwards.
func withManager(cmd *cobra.Command, v *viper.Viper, fn func(*offline.Manager) error) error {
	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return err
	}
	mgr, err := openManager(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	runErr := fn(mgr)
	if err := offline.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newQueueCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue a driver action",
	}

	queued := func(cmd *cobra.Command, id models.UUID, err error) error {
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}

	var lat, lng float64
	location := &cobra.Command{
		Use:   "location",
		Short: "Queue a location update",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, func(m *offline.Manager) error {
				id, err := m.QueueLocationUpdate(cmd.Context(), lat, lng)
				return queued(cmd, id, err)
			})
		},
	}
	location.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	location.Flags().Float64Var(&lng, "lng", 0, "Longitude")
	location.MarkFlagRequired("lat")
	location.MarkFlagRequired("lng")

	availability := &cobra.Command{
		Use:   "availability <online|offline|busy>",
		Short: "Queue an availability change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, func(m *offline.Manager) error {
				id, err := m.QueueAvailabilityUpdate(cmd.Context(), args[0])
				return queued(cmd, id, err)
			})
		},
	}

	claim := &cobra.Command{
		Use:   "claim <job-id>",
		Short: "Queue a job claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, func(m *offline.Manager) error {
				id, err := m.QueueJobClaim(cmd.Context(), args[0])
				return queued(cmd, id, err)
			})
		},
	}

	var reason string
	decline := &cobra.Command{
		Use:   "decline <job-id>",
		Short: "Queue a job decline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, func(m *offline.Manager) error {
				id, err := m.QueueJobDecline(cmd.Context(), args[0], reason)
				return queued(cmd, id, err)
			})
		},
	}
	decline.Flags().StringVar(&reason, "reason", "", "Decline reason")

	var payload string
	progress := &cobra.Command{
		Use:   "progress <job-id> <step>",
		Short: "Queue a job progress step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra map[string]interface{}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &extra); err != nil {
					return apperrors.Wrap(apperrors.ErrInvalid, "--payload must be a JSON object", err)
				}
			}
			return withManager(cmd, v, func(m *offline.Manager) error {
				id, err := m.QueueJobProgress(cmd.Context(), args[0], args[1], extra)
				return queued(cmd, id, err)
			})
		},
	}
	progress.Flags().StringVar(&payload, "payload", "", "Extra JSON object merged into the request body")

	cmd.AddCommand(location, availability, claim, decline, progress)
	return cmd
}

func newPendingCommand(v *viper.Viper) *cobra.Command {
	var actionType string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List queued actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, func(m *offline.Manager) error {
				if actionType == "" {
					return printJSON(cmd.OutOrStdout(), m.GetState().PendingActions)
				}
				t := models.ActionType(actionType)
				if !t.Valid() {
					return apperrors.Newf(apperrors.ErrInvalid, "unknown action type %q", actionType)
				}
				return printJSON(cmd.OutOrStdout(), m.GetPendingActionsByType(t))
			})
		},
	}
	cmd.Flags().StringVar(&actionType, "type", "", "Only list actions of this type")
	return cmd
}

func newSyncCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one drain pass and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, func(m *offline.Manager) error {
				return printJSON(cmd.OutOrStdout(), m.SyncPendingActions(cmd.Context()))
			})
		},
	}
}

func newClearCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every queued action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, func(m *offline.Manager) error {
				return m.ClearAllActions(cmd.Context())
			})
		},
	}
}
