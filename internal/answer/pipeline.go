package answer

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemosyne-notes/mnemo/internal/citation"
	"github.com/mnemosyne-notes/mnemo/internal/confidence"
	mnerrors "github.com/mnemosyne-notes/mnemo/internal/errors"
	"github.com/mnemosyne-notes/mnemo/internal/genai"
	"github.com/mnemosyne-notes/mnemo/internal/prompt"
	"github.com/mnemosyne-notes/mnemo/internal/query"
	"github.com/mnemosyne-notes/mnemo/internal/retrieval"
	"github.com/mnemosyne-notes/mnemo/internal/store"
	"github.com/mnemosyne-notes/mnemo/internal/telemetry"
)

// tenantPattern is the accepted tenant identifier shape.
var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Retriever is the retrieval surface the pipeline depends on.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID string, analysis *query.Analysis, opts retrieval.Options) (*retrieval.Result, error)
}

// Config tunes the pipeline. Zero fields take defaults.
type Config struct {
	// SnippetLength caps source previews (default: 200).
	SnippetLength int

	// MaxQuestionLength caps the question in runes (default: 2000).
	MaxQuestionLength int

	// Tier selects the prompt tier (default: structured).
	Tier prompt.Tier

	// DisableRepair skips the repair generation pass.
	DisableRepair bool

	// Validator tunes citation validation.
	Validator citation.ValidatorConfig
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		SnippetLength:     citation.DefaultSnippetLength,
		MaxQuestionLength: 2000,
		Tier:              prompt.TierStructured,
	}
}

// Deps are the pipeline's collaborators. Analyzer, Retriever, and Client
// are required; the rest may be nil.
type Deps struct {
	Analyzer  *query.Analyzer
	Retriever Retriever
	Client    genai.Client

	// PairScorer enables per-citation verification when a request asks
	// for it.
	PairScorer *confidence.PairScorer

	Observer *telemetry.Observer
	Logger   *slog.Logger
}

// Pipeline answers one question end to end. Safe for concurrent use.
type Pipeline struct {
	analyzer  *query.Analyzer
	retriever Retriever
	client    genai.Client
	builder   *prompt.Builder
	validator *citation.Validator
	pairs     *confidence.PairScorer
	observer  *telemetry.Observer
	logger    *slog.Logger
	config    Config
	stopWords map[string]struct{}
	now       func() time.Time
}

// NewPipeline wires the answering pipeline together.
func NewPipeline(deps Deps, config Config) *Pipeline {
	def := DefaultConfig()
	if config.SnippetLength <= 0 {
		config.SnippetLength = def.SnippetLength
	}
	if config.MaxQuestionLength <= 0 {
		config.MaxQuestionLength = def.MaxQuestionLength
	}
	if config.Tier == "" {
		config.Tier = def.Tier
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		analyzer:  deps.Analyzer,
		retriever: deps.Retriever,
		client:    deps.Client,
		builder:   prompt.NewBuilder(config.Tier),
		validator: citation.NewValidator(config.Validator),
		pairs:     deps.PairScorer,
		observer:  deps.Observer,
		logger:    logger,
		config:    config,
		stopWords: store.BuildStopWordMap(store.DefaultStopWords),
		now:       time.Now,
	}
}

// Ask answers one question against the tenant's notes.
func (p *Pipeline) Ask(ctx context.Context, req Request) (*Response, error) {
	start := p.now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := p.validateRequest(req); err != nil {
		return nil, err
	}

	ov := req.Overrides
	if ov == nil {
		ov = &Overrides{}
	}

	analysis := p.analyzer.Analyze(req.Question)

	opts := retrieval.Options{Filters: req.Filters}
	if ov.TopK > 0 {
		opts.K = ov.TopK
	}
	if ov.MinRelevance > 0 {
		opts.MinRelevance = ov.MinRelevance
	}

	result, err := p.retriever.Retrieve(ctx, req.TenantID, analysis, opts)
	if err != nil {
		if mnerrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, mnerrors.New(mnerrors.ErrCodeRetrievalFailed, "retrieval failed", err)
	}

	if result.EmptyCorpus {
		return p.deterministic(ctx, req, analysis, result, nil, emptyCorpusAnswer, start), nil
	}

	pack := citation.BuildSourcesPack(result.Chunks, analysis.Keywords, p.config.SnippetLength)
	if pack.Size() == 0 {
		return p.deterministic(ctx, req, analysis, result, pack, noResultsAnswer, start), nil
	}

	preq := prompt.Request{
		Question:     analysis.Normalized,
		Analysis:     analysis,
		Pack:         pack,
		Format:       req.Format,
		History:      req.History,
		Language:     ov.Language,
		CustomSystem: ov.SystemPrompt,
	}
	built := p.builder.Build(preq)

	genStart := p.now()
	comp, err := p.client.Complete(ctx, genai.CompletionRequest{
		System:      built.System,
		Prompt:      built.User,
		Temperature: ov.Temperature,
		MaxTokens:   ov.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	genElapsed := p.now().Sub(genStart)

	valStart := p.now()
	text := citation.Canonicalize(comp.Text, pack)
	var mods []string
	if text != comp.Text {
		mods = append(mods, "canonicalized_markers")
	}
	vres := p.validator.Validate(text, pack)
	valElapsed := p.now().Sub(valStart)

	uncertainty := confidence.IsUncertaintyAcknowledgement(vres.Text)

	// One repair attempt, never for honest uncertainty.
	repairAttempted, repairAccepted := false, false
	if !uncertainty && !p.config.DisableRepair && p.validator.NeedsRepair(vres, pack.Size()) {
		repairAttempted = true
		repairStart := p.now()
		rebuilt := p.builder.BuildRepair(preq, vres.Text)
		rcomp, rerr := p.client.Complete(ctx, genai.CompletionRequest{
			System:      rebuilt.System,
			Prompt:      rebuilt.User,
			Temperature: ov.Temperature,
			MaxTokens:   ov.MaxTokens,
		})
		genElapsed += p.now().Sub(repairStart)
		if rerr != nil {
			// Local recovery: keep the original answer.
			p.logger.Warn("repair generation failed",
				slog.String("requestId", req.RequestID),
				slog.String("error", rerr.Error()))
		} else {
			rvalStart := p.now()
			rres := p.validator.Validate(citation.Canonicalize(rcomp.Text, pack), pack)
			valElapsed += p.now().Sub(rvalStart)
			if citation.AcceptRepair(vres, rres) && rres.ContractCompliant {
				vres = rres
				repairAccepted = true
			}
		}
	}

	// Evidence gap: sources were offered but nothing survived validation
	// and the model did not acknowledge uncertainty itself.
	fallbackUsed := false
	if len(vres.Citations) == 0 && !uncertainty {
		vres = &citation.ValidationResult{
			Text:              noEvidenceAnswer(pack, p.stopWords),
			Overlaps:          map[string]float64{},
			ContractCompliant: true,
		}
		fallbackUsed = true
	}

	text = vres.Text
	if !fallbackUsed {
		if clipped := citation.ClipTrailingCitationLine(text); clipped != text {
			text = clipped
			mods = append(mods, "clipped_trailing_citations")

			// The clip can remove markers, so surviving citations and
			// coverage must be re-derived from the shipping text. The
			// first pass keeps the removal counts and compliance verdict.
			rvalStart := p.now()
			cres := p.validator.Validate(text, pack)
			valElapsed += p.now().Sub(rvalStart)
			cres.Invalid = vres.Invalid
			cres.Dropped = vres.Dropped
			cres.Suspicious = vres.Suspicious
			cres.ContractCompliant = vres.ContractCompliant
			vres = cres
			text = vres.Text

			if len(vres.Citations) == 0 && !uncertainty {
				vres = &citation.ValidationResult{
					Text:              noEvidenceAnswer(pack, p.stopWords),
					Overlaps:          map[string]float64{},
					ContractCompliant: true,
				}
				text = vres.Text
				fallbackUsed = true
			}
		}
	}
	if !fallbackUsed {
		if normalized := citation.NormalizeListStyle(text); normalized != text {
			text = normalized
			mods = append(mods, "normalized_list_style")
		}
	}
	style := citation.ScoreStyle(text)
	risks := citation.DetectHallucinationRisks(text)

	breakdown := confidence.Score(confidence.Input{
		Text:      text,
		Citations: vres.Citations,
		Intent:    analysis.Intent,
	})

	var pairScores []confidence.PairScore
	if ov.VerifyCitations && p.pairs != nil {
		pairScores = p.pairs.Score(ctx, text, pack)
	}

	ext := citation.Externalize(text, pack)
	sources := make([]Source, len(ext.Citations))
	for i, c := range ext.Citations {
		sources[i] = sourceFrom(i+1, c)
	}
	var contextSources []Source
	for _, c := range pack.Citations {
		if _, cited := ext.Mapping[c.ID]; !cited {
			contextSources = append(contextSources, sourceFrom(len(sources)+len(contextSources)+1, c))
		}
	}

	total := p.now().Sub(start)

	rec := p.baseRecord(ctx, req, analysis, result)
	rec.Citations = citationRecords(vres.Citations)
	rec.Timings = telemetry.TimingsFrom(result.Timings, genElapsed, valElapsed, total)
	rec.Quality = telemetry.Quality{
		CoveragePercent:       vres.Coverage * 100,
		InvalidsRemoved:       len(vres.Invalid),
		DroppedCitations:      len(vres.Dropped),
		SuspiciousCitations:   len(vres.Suspicious),
		RegenerationAttempted: repairAttempted,
		RegenerationAccepted:  repairAccepted,
		FallbackUsed:          fallbackUsed,
		Uncertainty:           uncertainty,
		HallucinationFlags:    len(risks),
	}
	rec.Confidence = string(breakdown.Level)
	rec.SourceCount = len(sources)
	rec.AnswerLength = len(ext.Text)
	rec.Stamp(p.now())
	p.observer.Observe(ctx, rec)

	model := comp.Model
	if model == "" {
		model = p.client.ModelName()
	}

	return &Response{
		Answer:         ext.Text,
		Sources:        sources,
		ContextSources: contextSources,
		Metadata: Metadata{
			Model:       model,
			RequestID:   req.RequestID,
			ElapsedMs:   total.Milliseconds(),
			Intent:      string(analysis.Intent),
			Confidence:  string(breakdown.Level),
			SourceCount: len(sources),
			Debug: &Debug{
				RetrievalMode: string(result.Mode),
				Candidates:    result.Counts,
				RerankCount:   result.Counts.Reranked,
				Confidence:    breakdown,
				Quality: CitationQuality{
					Valid:           len(vres.Citations),
					Invalid:         len(vres.Invalid),
					Dropped:         len(vres.Dropped),
					Suspicious:      len(vres.Suspicious),
					CoveragePercent: vres.Coverage * 100,
				},
				PostProcessing: mods,
				Validation: ValidationStats{
					ContractCompliant: vres.ContractCompliant,
					RepairAttempted:   repairAttempted,
					RepairAccepted:    repairAccepted,
				},
				PairScores:     pairScores,
				Hallucinations: risks,
				Style:          style,
			},
		},
	}, nil
}

// deterministic builds the canned response for the empty-corpus and
// no-results cases, with full telemetry.
func (p *Pipeline) deterministic(ctx context.Context, req Request, analysis *query.Analysis, result *retrieval.Result, pack *citation.SourcesPack, text string, start time.Time) *Response {
	total := p.now().Sub(start)

	rec := p.baseRecord(ctx, req, analysis, result)
	rec.Timings = telemetry.TimingsFrom(result.Timings, 0, 0, total)
	rec.Quality = telemetry.Quality{FallbackUsed: true}
	rec.Confidence = string(confidence.LevelNone)
	rec.AnswerLength = len(text)
	rec.Stamp(p.now())
	p.observer.Observe(ctx, rec)

	var contextSources []Source
	if pack != nil {
		for i, c := range pack.Citations {
			contextSources = append(contextSources, sourceFrom(i+1, c))
		}
	}

	return &Response{
		Answer:         text,
		Sources:        []Source{},
		ContextSources: contextSources,
		Metadata: Metadata{
			Model:       p.client.ModelName(),
			RequestID:   req.RequestID,
			ElapsedMs:   total.Milliseconds(),
			Intent:      string(analysis.Intent),
			Confidence:  string(confidence.LevelNone),
			SourceCount: 0,
			Debug: &Debug{
				RetrievalMode: string(result.Mode),
				Candidates:    result.Counts,
				Validation:    ValidationStats{ContractCompliant: true},
			},
		},
	}
}

// baseRecord fills the request-scoped record fields shared by all paths.
func (p *Pipeline) baseRecord(ctx context.Context, req Request, analysis *query.Analysis, result *retrieval.Result) *telemetry.Record {
	rec := &telemetry.Record{
		RequestID:     req.RequestID,
		TraceID:       telemetry.TraceIDFrom(ctx),
		TenantID:      req.TenantID,
		Intent:        string(analysis.Intent),
		RetrievalMode: string(result.Mode),
		Candidates:    result.Counts,
		Scores:        telemetry.Distribution(result.Chunks),
		RerankMethod:  rerankMethod(result),
	}
	rec.SetQuery(analysis.Normalized)
	return rec
}

func (p *Pipeline) validateRequest(req Request) error {
	if !tenantPattern.MatchString(req.TenantID) {
		return mnerrors.New(mnerrors.ErrCodeInvalidTenant, "tenant id must match [A-Za-z0-9_-]{1,64}", nil)
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return mnerrors.New(mnerrors.ErrCodeQueryEmpty, "question must not be empty", nil)
	}
	if len([]rune(question)) > p.config.MaxQuestionLength {
		return mnerrors.New(mnerrors.ErrCodeQueryTooLong, "question exceeds the maximum length", nil)
	}
	return nil
}

func rerankMethod(result *retrieval.Result) string {
	if result.Counts.Reranked > 0 {
		return "cross_encoder"
	}
	return "none"
}

func citationRecords(citations []*citation.Citation) []telemetry.CitationRecord {
	recs := make([]telemetry.CitationRecord, len(citations))
	for i, c := range citations {
		recs[i] = telemetry.CitationRecord{
			ID:         c.ID,
			NotePrefix: notePrefix(c.NoteID),
			Score:      c.Score,
		}
	}
	return recs
}

func notePrefix(noteID string) string {
	if len(noteID) > 8 {
		return noteID[:8]
	}
	return noteID
}
