// Package batch wraps the compute backend: admission-controlled job
// submission and classification of job state-change events.
package batch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"

	"granule-reprocessing/internal/models"
)

// activeStatuses are the non-terminal job states counted for admission
// control.
var activeStatuses = []types.JobStatus{
	types.JobStatusSubmitted,
	types.JobStatusPending,
	types.JobStatusRunnable,
	types.JobStatusStarting,
	types.JobStatusRunning,
}

type api interface {
	SubmitJob(ctx context.Context, params *awsbatch.SubmitJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.SubmitJobOutput, error)
	ListJobs(ctx context.Context, params *awsbatch.ListJobsInput, optFns ...func(*awsbatch.Options)) (*awsbatch.ListJobsOutput, error)
}

// Client submits granule processing jobs to one queue and job definition.
type Client struct {
	api           api
	queue         string
	jobDefinition string
	outputBucket  string
}

// NewClient wraps an SDK batch client.
func NewClient(client *awsbatch.Client, queue, jobDefinition, outputBucket string) *Client {
	return newClient(client, queue, jobDefinition, outputBucket)
}

func newClient(a api, queue, jobDefinition, outputBucket string) *Client {
	return &Client{api: a, queue: queue, jobDefinition: jobDefinition, outputBucket: outputBucket}
}

// HasCapacity reports whether the count of active jobs on the queue is
// strictly below threshold. This is admission control against our own
// flooding, not a cap the backend enforces; counting stops as soon as the
// threshold is reached.
func (c *Client) HasCapacity(ctx context.Context, threshold int) (bool, error) {
	count := 0
	for _, status := range activeStatuses {
		paginator := awsbatch.NewListJobsPaginator(c.api, &awsbatch.ListJobsInput{
			JobQueue:  aws.String(c.queue),
			JobStatus: status,
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return false, fmt.Errorf("list %s jobs: %w", status, err)
			}
			count += len(page.JobSummaryList)
			if count >= threshold {
				return false, nil
			}
		}
	}
	return count < threshold, nil
}

// Submit submits one granule processing event as a job, returning the
// backend-assigned job ID. The job name encodes the granule and attempt so
// duplicate submissions are obvious in the backend's console; the backend
// does not deduplicate by name. Fire-and-forget: completion is observed via
// state-change events, never awaited here.
func (c *Client) Submit(ctx context.Context, event models.GranuleProcessingEvent) (string, error) {
	jobName := JobName(event)

	env := event.ToEnv()
	if c.outputBucket != "" {
		env["OUTPUT_BUCKET"] = c.outputBucket
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]types.KeyValuePair, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, types.KeyValuePair{
			Name:  aws.String(name),
			Value: aws.String(env[name]),
		})
	}

	resp, err := c.api.SubmitJob(ctx, &awsbatch.SubmitJobInput{
		JobDefinition: aws.String(c.jobDefinition),
		JobName:       aws.String(jobName),
		JobQueue:      aws.String(c.queue),
		ContainerOverrides: &types.ContainerOverrides{
			Environment: pairs,
		},
	})
	if err != nil {
		return "", fmt.Errorf("submit %s attempt %d: %w", event.GranuleID, event.Attempt, err)
	}
	return aws.ToString(resp.JobId), nil
}

// JobName builds the deterministic, human-diagnosable job name for an
// event: the granule ID with dots replaced (job names forbid them) plus the
// attempt number.
func JobName(event models.GranuleProcessingEvent) string {
	return strings.ReplaceAll(event.GranuleID, ".", "-") + "_" + strconv.Itoa(event.Attempt)
}
