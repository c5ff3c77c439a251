package interview

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"interview-agent/internal/domain"
)

const (
	DefaultThreshold  = 3
	DefaultTurnBudget = 12
)

// State is the lifecycle position of an interview session.
type State string

const (
	StateInit       State = "init"
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

// Config fixes the cadence, budget and agent wiring of a session. Threshold and
// TurnBudget only apply to new sessions; a resumed session keeps the values
// recorded in its snapshot.
type Config struct {
	// Threshold is the re-evaluation cadence in turns.
	Threshold int
	// TurnBudget ends the interview automatically once that many turns completed; zero disables it.
	TurnBudget int

	Questioner AgentConfig
	Evaluator  AgentConfig
	Criticizer AgentConfig

	Retry  RetryPolicy
	Logger *slog.Logger
}

// Orchestrator runs the turn protocol between the three agents.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	questioner  *Questioner
	evaluator   *Evaluator
	criticizer  *Criticizer
	ledger      *Ledger
	counter     int
	termination *Termination
}

// New builds an orchestrator from a snapshot, or a fresh session when snap is nil.
func New(cfg Config, snap *Snapshot) (*Orchestrator, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.TurnBudget < 0 {
		return nil, errors.New("interview: turn budget must not be negative")
	}
	if cfg.Questioner.Generator == nil || cfg.Evaluator.Generator == nil || cfg.Criticizer.Generator == nil {
		return nil, errors.New("interview: every agent needs a generator")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	state := NewSnapshot()
	state.Threshold, state.TurnBudget = cfg.Threshold, cfg.TurnBudget
	if snap != nil {
		if err := snap.Validate(); err != nil {
			return nil, err
		}
		state = *snap
	}

	o := &Orchestrator{cfg: cfg, logger: cfg.Logger}
	if err := o.restore(state); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, corrupt("rehydrate agents", err)
		}
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) restore(s Snapshot) error {
	q, err := newQuestioner(s.QuestionerLog, o.cfg.Questioner, o.cfg.Retry, o.logger)
	if err != nil {
		return err
	}
	e, err := newEvaluator(s.EvaluatorLog, s.Evaluation, o.cfg.Evaluator, o.cfg.Retry, o.logger)
	if err != nil {
		return err
	}
	c, err := newCriticizer(s.CriticizerLog, o.cfg.Criticizer, o.cfg.Retry, o.logger)
	if err != nil {
		return err
	}
	o.questioner, o.evaluator, o.criticizer = q, e, c
	o.ledger = newLedger(s.Questions, s.Answers)
	o.counter = s.TurnCounter
	o.cfg.Threshold, o.cfg.TurnBudget = s.Threshold, s.TurnBudget
	o.termination = newTermination(s.TurnBudget, s.Terminated)
	return nil
}

// Snapshot captures everything needed to resume the session in another process.
func (o *Orchestrator) Snapshot() Snapshot {
	return Snapshot{
		SchemaVersion: SchemaVersion,
		QuestionerLog: o.questioner.Log(),
		EvaluatorLog:  o.evaluator.Log(),
		CriticizerLog: o.criticizer.Log(),
		Evaluation:    o.evaluator.Evaluation(),
		Questions:     o.ledger.Questions(),
		Answers:       o.ledger.Answers(),
		TurnCounter:   o.counter,
		Terminated:    o.termination.Done(),
		Threshold:     o.cfg.Threshold,
		TurnBudget:    o.cfg.TurnBudget,
	}
}

func (o *Orchestrator) State() State {
	switch {
	case o.termination.Done():
		return StateTerminated
	case o.counter == 0:
		return StateInit
	default:
		return StateActive
	}
}

func (o *Orchestrator) Counter() int {
	return o.counter
}

func (o *Orchestrator) Evaluation() string {
	return o.evaluator.Evaluation()
}

// Turn consumes one user response and returns the next question. A failed turn
// leaves the session exactly as it was before the call.
func (o *Orchestrator) Turn(ctx context.Context, response string) (string, error) {
	if o.termination.Done() {
		return Closing, nil
	}
	if IsStart(response) {
		if o.State() != StateInit {
			return "", invalid("response", "must not be empty once the interview has started")
		}
		greeting := o.questioner.Open(response)
		o.complete("greeting")
		return greeting, nil
	}
	response = strings.TrimSpace(response)

	checkpoint := o.Snapshot()
	question, branch, err := o.exchange(ctx, response)
	if err != nil {
		if restoreErr := o.restore(checkpoint); restoreErr != nil {
			return "", errors.Join(err, restoreErr)
		}
		o.logger.Warn("turn aborted", "turn", o.counter+1, "err", err)
		return "", err
	}
	o.complete(branch)
	return question, nil
}

func (o *Orchestrator) exchange(ctx context.Context, response string) (string, string, error) {
	draft, err := o.questioner.Generate(ctx, response, "")
	if err != nil {
		return "", "", err
	}
	o.ledger.appendAnswer(response)

	var critique, branch string
	if o.reevaluationDue() {
		branch = "reevaluate"
		if err := o.evaluator.UpdateEvaluation(ctx, o.ledger.Window(o.cfg.Threshold)); err != nil {
			return "", "", err
		}
		critique = PivotDirective
	} else {
		branch = "critique"
		feedback, err := o.evaluator.Generate(ctx)
		if err != nil {
			return "", "", err
		}
		critique, err = o.criticizer.Generate(ctx, draft, feedback)
		if err != nil {
			return "", "", err
		}
	}

	question, err := o.questioner.Generate(ctx, response, critique)
	if err != nil {
		return "", "", err
	}
	o.ledger.appendQuestion(question)
	return question, branch, nil
}

func (o *Orchestrator) reevaluationDue() bool {
	return o.counter > 0 && o.counter%o.cfg.Threshold == 0
}

func (o *Orchestrator) complete(branch string) {
	o.counter++
	done := o.termination.Check(o.counter)
	o.logger.Info("turn completed", "turn", o.counter, "branch", branch, "terminated", done)
}

// Terminate ends the interview and assembles its record.
func (o *Orchestrator) Terminate(id, name string, at time.Time) domain.InterviewRecord {
	o.termination.markDone()
	return Terminate(id, name, at, o.ledger.questions, o.ledger.answers, o.evaluator.Evaluation())
}
