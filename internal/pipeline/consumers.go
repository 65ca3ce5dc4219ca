package pipeline

import (
	"context"
	"fmt"

	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/infra/worker"
)

// Runner is a started-on-demand stage consumer.
type Runner interface {
	Stage() string
	Run(ctx context.Context) error
}

func (p *Pipeline) consumerConfig(stage model.Stage) worker.ConsumerConfig {
	sc := p.cfg.Pipeline.Stage(string(stage))
	return worker.ConsumerConfig{
		Stage:        string(stage),
		Queue:        stage.Queue(),
		Workers:      sc.Workers,
		MaxAttempts:  sc.MaxAttempts,
		PollWait:     p.cfg.Pipeline.PollWait,
		ReapInterval: p.cfg.Pipeline.ReapInterval,
		RetryDelay:   p.retryDelay(stage),
	}
}

// Consumers builds one consumer per requested stage; no stages means all of them.
func (p *Pipeline) Consumers(b queue.Broker, stages ...model.Stage) ([]Runner, error) {
	if len(stages) == 0 {
		stages = model.Stages
	}
	out := make([]Runner, 0, len(stages))
	for _, s := range stages {
		cfg := p.consumerConfig(s)
		switch s {
		case model.StageOrchestrate:
			out = append(out, worker.NewConsumer[model.JobRequest](cfg, b, p.Orchestrate, p.log))
		case model.StageFetch:
			out = append(out, worker.NewConsumer[model.FetchMessage](cfg, b, p.Fetch, p.log))
		case model.StageScript:
			out = append(out, worker.NewConsumer[model.JobMessage](cfg, b, p.Script, p.log))
		case model.StageSynthesize:
			out = append(out, worker.NewConsumer[model.JobMessage](cfg, b, p.Synthesize, p.log))
		case model.StagePublish:
			out = append(out, worker.NewConsumer[model.JobMessage](cfg, b, p.Publish, p.log))
		default:
			return nil, fmt.Errorf("unknown stage %q", s)
		}
	}
	return out, nil
}
