package app

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/lambda"

	"S2CoastalBot/internal/usecase"
)

// LambdaResult is returned to the invoker (typically an EventBridge schedule).
type LambdaResult struct {
	Outcome       string   `json:"outcome"`
	AcquisitionID string   `json:"acquisition_id,omitempty"`
	Caption       string   `json:"caption,omitempty"`
	PostURLs      []string `json:"post_urls,omitempty"`
}

// HandleInvocation runs the pipeline once. The non-failure early exits map
// to a nil error so the invocation is not retried.
func (a *Application) HandleInvocation(ctx context.Context) (LambdaResult, error) {
	result, err := a.Run(ctx)
	switch {
	case errors.Is(err, usecase.ErrNothingToPost):
		return LambdaResult{Outcome: "nothing_to_post"}, nil
	case errors.Is(err, usecase.ErrLockHeld):
		return LambdaResult{Outcome: "lock_held"}, nil
	}

	out := LambdaResult{
		Outcome:       "posted",
		AcquisitionID: result.Candidate.ID,
		Caption:       result.Caption,
	}
	for _, record := range result.Records {
		out.PostURLs = append(out.PostURLs, record.PostURL)
	}
	if err != nil {
		out.Outcome = "failed"
		return out, err
	}
	return out, nil
}

// RunLambda hands control to the AWS Lambda runtime; it does not return.
func (a *Application) RunLambda() {
	lambda.Start(a.HandleInvocation)
}
