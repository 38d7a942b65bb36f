// Package reading turns a reading request into rendered prompts, runs them
// against the configured LLM and records every generation.
package reading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"cheonkimoon/internal/db"
	"cheonkimoon/internal/prompt"
	"cheonkimoon/internal/provider"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Variant string

const (
	VariantFullReading     Variant = "full-reading"
	VariantFirstImpression Variant = "first-impression"
	VariantStep            Variant = "step"
	VariantSection         Variant = "section"
)

// PlaceholderUserName is what clients send when the user gave no name.
const PlaceholderUserName = "사용자"

const fallbackUserName = "테스트"

const firstImpressionStep = "step_2_first_impression"

// ParseVariant accepts the variant names used in routes and session bodies.
func ParseVariant(s string) (Variant, bool) {
	switch v := Variant(s); v {
	case VariantFullReading, VariantFirstImpression, VariantStep, VariantSection:
		return v, true
	}
	return "", false
}

// Request is the body shared by every reading route.
type Request struct {
	Variant     Variant         `json:"variant,omitempty"`
	TopicID     string          `json:"topic_id,omitempty"`
	StepName    string          `json:"step_name,omitempty"`
	SectionName string          `json:"section_name,omitempty"`
	UserName    string          `json:"user_name,omitempty"`
	SajuData    json.RawMessage `json:"saju_data,omitempty"`
	SplitParts  bool            `json:"split_parts,omitempty"`
}

// Target is the step or section name the variant addresses, if any.
func (r Request) Target() string {
	switch r.Variant {
	case VariantStep:
		return r.StepName
	case VariantSection:
		return r.SectionName
	case VariantFirstImpression:
		return firstImpressionStep
	}
	return ""
}

// Prepared holds the final prompts for one generation.
type Prepared struct {
	Variant  Variant
	Target   string
	UserName string
	System   string
	User     string
}

type Result struct {
	Messages     []string       `json:"messages"`
	RawText      string         `json:"raw_text"`
	Model        string         `json:"model"`
	ResponseTime float64        `json:"response_time"`
	Usage        provider.Usage `json:"usage"`
}

type SectionResult struct {
	Name string `json:"name"`
	Result
}

// Recorder persists reading logs; *stats.Manager implements it.
type Recorder interface {
	Record(ctx context.Context, entry db.ReadingLog) error
}

type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxParallel int

	DefaultSaju     []byte
	DefaultUserName string
}

type Service struct {
	provider provider.Provider
	readings *prompt.Loader
	sections *prompt.Loader
	opts     Options
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(p provider.Provider, readings, sections *prompt.Loader, opts Options, recorder Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.DefaultUserName == "" {
		opts.DefaultUserName = gjson.GetBytes(opts.DefaultSaju, "meta.이름").String()
	}
	if opts.DefaultUserName == "" {
		opts.DefaultUserName = fallbackUserName
	}
	return &Service{
		provider: p,
		readings: readings,
		sections: sections,
		opts:     opts,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// LoadDefaultSaju reads the fallback saju document used when a request
// carries none.
func LoadDefaultSaju(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: invalid JSON", path)
	}
	return data, nil
}

func (s *Service) Model() string           { return s.opts.Model }
func (s *Service) ProviderName() string    { return s.provider.Name() }
func (s *Service) DefaultLoaded() bool     { return len(s.opts.DefaultSaju) > 0 }
func (s *Service) DefaultUserName() string { return s.opts.DefaultUserName }

// PromptsLoaded reports whether the reading prompt file is present.
func (s *Service) PromptsLoaded() bool { return s.readings.Exists() }

func absent(raw json.RawMessage) bool {
	r := gjson.ParseBytes(raw)
	if !r.Exists() || r.Type == gjson.Null {
		return true
	}
	return r.IsObject() && len(r.Map()) == 0
}

func (s *Service) resolve(req Request) ([]byte, string) {
	saju := []byte(req.SajuData)
	if absent(req.SajuData) {
		saju = s.opts.DefaultSaju
	}
	name := req.UserName
	if name == "" || name == PlaceholderUserName {
		name = s.opts.DefaultUserName
	}
	return saju, name
}

// Prepare selects the template for req.Variant and renders both prompts.
func (s *Service) Prepare(req Request) (*Prepared, error) {
	saju, name := s.resolve(req)
	vars := prompt.Variables(saju, name)

	var system, user string
	switch req.Variant {
	case VariantFullReading, VariantFirstImpression, VariantStep:
		set, err := s.readings.Load()
		if err != nil {
			return nil, notLoaded(s.readings.Label(), err)
		}
		var tpl prompt.Template
		switch req.Variant {
		case VariantFullReading:
			if set.UnifiedPrompt.IsZero() {
				return nil, internal("unified_prompt not found in yaml")
			}
			tpl = set.UnifiedPrompt
		case VariantFirstImpression:
			if tpl, err = set.Step(firstImpressionStep); err != nil {
				return nil, internal("step_2 prompt not found")
			}
		default:
			if tpl, err = set.Step(req.StepName); err != nil {
				return nil, notFound("step not found: "+req.StepName, err)
			}
		}
		system = tpl.System
		user = prompt.Render(tpl.UserTemplate, vars)

	case VariantSection:
		set, err := s.sections.Load()
		if err != nil {
			return nil, notLoaded(s.sections.Label(), err)
		}
		tpl, err := set.Section(req.SectionName)
		if err != nil {
			return nil, notFound("section not found: "+req.SectionName, err)
		}
		system = prompt.Render(tpl.System, map[string]string{"common_system": set.CommonSystem})
		user = prompt.Render(tpl.UserTemplate, map[string]string{"common_data_template": set.CommonDataTemplate})
		user = prompt.Render(user, vars)

	default:
		return nil, notFound(fmt.Sprintf("unknown variant: %s", req.Variant), nil)
	}

	return &Prepared{
		Variant:  req.Variant,
		Target:   req.Target(),
		UserName: name,
		System:   prompt.WithTimestamp(system, s.now()),
		User:     user,
	}, nil
}

func (s *Service) request(p *Prepared) provider.Request {
	return provider.UserRequest(s.opts.Model, p.System, p.User, s.opts.MaxTokens, s.opts.Temperature)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// Generate runs req without streaming and splits the answer into bubbles.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	p, err := s.Prepare(req)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, p)
}

func (s *Service) complete(ctx context.Context, p *Prepared) (*Result, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	completion, err := s.provider.Complete(ctx, s.request(p))
	if err != nil {
		s.record(ctx, p, false, provider.Usage{}, 0, start, err)
		return nil, err
	}
	s.record(ctx, p, false, completion.Usage, utf8.RuneCountInString(completion.Text), start, nil)

	return &Result{
		Messages:     prompt.SplitBubbles(completion.Text),
		RawText:      completion.Text,
		Model:        s.opts.Model,
		ResponseTime: time.Since(start).Seconds(),
		Usage:        completion.Usage,
	}, nil
}

// Stream relays the upstream chunks of p into out. It does not close out.
func (s *Service) Stream(ctx context.Context, p *Prepared, out chan<- provider.StreamChunk) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	s.logger.Info("stream started",
		zap.String("variant", string(p.Variant)),
		zap.String("target", p.Target),
		zap.Int("system_chars", utf8.RuneCountInString(p.System)),
		zap.Int("user_chars", utf8.RuneCountInString(p.User)),
	)

	inner := make(chan provider.StreamChunk)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.provider.Stream(ctx, s.request(p), inner)
	}()

	var usage provider.Usage
	outChars := 0
	for {
		select {
		case chunk := <-inner:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			outChars += utf8.RuneCountInString(chunk.Text)
			if err := provider.Send(ctx, out, chunk); err != nil {
				cancel()
				<-errCh
				s.record(ctx, p, true, usage, outChars, start, err)
				return err
			}
		case err := <-errCh:
			s.record(ctx, p, true, usage, outChars, start, err)
			return err
		}
	}
}

// GenerateSections renders every named section concurrently and returns
// the results in the order given. Unknown sections fail before any call.
func (s *Service) GenerateSections(ctx context.Context, names []string, base Request) ([]SectionResult, error) {
	prepared := make([]*Prepared, len(names))
	for i, name := range names {
		req := base
		req.Variant = VariantSection
		req.SectionName = name
		p, err := s.Prepare(req)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}

	results := make([]SectionResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallel)
	for i, p := range prepared {
		g.Go(func() error {
			res, err := s.complete(gctx, p)
			if err != nil {
				return fmt.Errorf("section %s: %w", p.Target, err)
			}
			results[i] = SectionResult{Name: p.Target, Result: *res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) record(ctx context.Context, p *Prepared, streamed bool, usage provider.Usage, outChars int, start time.Time, err error) {
	elapsed := time.Since(start)
	status := "ok"
	errMsg := ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = "cancelled"
		errMsg = err.Error()
	default:
		status = "error"
		errMsg = err.Error()
	}

	fields := []zap.Field{
		zap.String("variant", string(p.Variant)),
		zap.String("target", p.Target),
		zap.Bool("streamed", streamed),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Duration("duration", elapsed),
	}
	if err != nil {
		s.logger.Warn("generation failed", append(fields, zap.String("status", status), zap.Error(err))...)
	} else {
		s.logger.Info("generation finished", fields...)
	}

	if s.recorder == nil {
		return
	}
	entry := db.ReadingLog{
		Variant:      string(p.Variant),
		Target:       p.Target,
		Provider:     s.provider.Name(),
		Model:        s.opts.Model,
		UserName:     p.UserName,
		Streamed:     streamed,
		SystemChars:  utf8.RuneCountInString(p.System),
		UserChars:    utf8.RuneCountInString(p.User),
		OutputChars:  outChars,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		DurationMs:   elapsed.Milliseconds(),
		Status:       status,
		Error:        errMsg,
	}
	// the request context may already be cancelled
	if err := s.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Debug("reading log not stored", zap.String("variant", entry.Variant), zap.Error(err))
	}
}
