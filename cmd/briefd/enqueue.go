package main

import (
	"fmt"

	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/pipeline"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// requestFlags collects a JobRequest from the command line.
type requestFlags struct {
	requestID string
	userID    string
	email     string
	interests []string
	briefType string
	force     bool
	state     string
	district  string
}

func (f *requestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.requestID, "request-id", "", "idempotency key (default generated)")
	cmd.Flags().StringVar(&f.userID, "user", "", "subscriber id")
	cmd.Flags().StringVar(&f.email, "email", "", "subscriber email")
	cmd.Flags().StringSliceVar(&f.interests, "interests", nil, "policy interests, comma separated")
	cmd.Flags().StringVar(&f.briefType, "type", string(model.BriefDaily), "brief type (daily|weekly)")
	cmd.Flags().BoolVar(&f.force, "force", false, "regenerate even if the request id was seen before")
	cmd.Flags().StringVar(&f.state, "state", "", "subscriber state")
	cmd.Flags().StringVar(&f.district, "district", "", "subscriber district")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("interests")
}

func (f *requestFlags) request(prefix string) (model.JobRequest, error) {
	req := model.JobRequest{
		RequestID:       f.requestID,
		UserID:          f.userID,
		UserEmail:       f.email,
		PolicyInterests: f.interests,
		ForceRegenerate: f.force,
		BriefType:       model.BriefType(f.briefType),
	}
	if req.RequestID == "" {
		req.RequestID = prefix + ":" + uuid.NewString()
	}
	if f.state != "" || f.district != "" {
		req.Location = &model.Location{State: f.state, District: f.district}
	}
	if err := validator.New().Struct(req); err != nil {
		return req, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

func enqueueCmd() *cobra.Command {
	var f requestFlags
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit one brief request to the orchestrator queue",
		Long: `Submit one brief request. Workers pick it up asynchronously;
poll GET /v1/jobs/{id} once the orchestrator has assigned a job id.

Examples:
  briefd enqueue --user u-42 --interests healthcare,education
  briefd enqueue --user u-42 --interests climate --type weekly --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request("cli")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			be, err := openBackends(ctx, false)
			if err != nil {
				return err
			}
			defer be.Close()

			if err := pipeline.Requests(be.broker).Send(ctx, req); err != nil {
				return err
			}
			fmt.Println(req.RequestID)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}
