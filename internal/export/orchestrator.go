package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"cardexport/internal/assets"
	"cardexport/internal/cards"
	"cardexport/internal/records"
)

// Rasterizer draws one card. *cards.Raster satisfies it.
type Rasterizer interface {
	Rasterize(c cards.Card) (image.Image, error)
}

// Observer is notified of every card that made it into an artifact.
type Observer interface {
	CardRendered(template string)
}

type assembler interface {
	Add(index int, name string, jpeg []byte) error
	Finish() ([]byte, error)
	Discard()
	Pages() int
}

// Orchestrator drives batch exports: resolve assets, build cards, rasterize, assemble.
type Orchestrator struct {
	assets  assets.Source
	raster  Rasterizer
	log     *zap.Logger
	obs     Observer
	now     func() time.Time
	quality int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source for "generated on" stamps and archive timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithObserver attaches a render observer (metrics).
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

// WithJPEGQuality sets the card encoding quality.
func WithJPEGQuality(q int) Option {
	return func(o *Orchestrator) {
		if q > 0 && q <= 100 {
			o.quality = q
		}
	}
}

// New builds an orchestrator. src resolves images; each batch wraps it in its own cache.
func New(src assets.Source, raster Rasterizer, log *zap.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{assets: src, raster: raster, log: log, now: time.Now, quality: 92}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Export renders job.Records strictly in order into a PDF or ZIP artifact. progress (may be nil)
// gets {i+1, N} after record i is appended. The first record that fails to rasterize or append
// aborts the job with a *RecordError and no artifact; a canceled ctx aborts with ErrCanceled.
func (o *Orchestrator) Export(ctx context.Context, job Job, progress ProgressFunc) (*Artifact, error) {
	d, err := cards.Lookup(job.Template)
	if err != nil {
		return nil, err
	}
	if len(job.Records) == 0 {
		return nil, ErrNoRecords
	}
	now := o.now()

	var asm assembler
	switch job.Format {
	case PDF:
		asm = newPDFAssembler(d.Page)
	case ZIP:
		asm = newZIPAssembler(now)
	default:
		return nil, fmt.Errorf("%w for batch: %q", ErrUnsupportedFormat, job.Format)
	}

	log := o.log.With(zap.String("job_id", job.ID), zap.String("template", string(d.ID)), zap.String("format", string(job.Format)))
	log.Info("export started", zap.Int("records", len(job.Records)))
	start := time.Now()

	cache := assets.NewBatchCache(o.assets)
	logo := cache.Resolve(ctx, job.Institute.LogoURL)

	names := newEntryNames()
	total := len(job.Records)
	for i, p := range job.Records {
		if err := ctx.Err(); err != nil {
			asm.Discard()
			log.Warn("export canceled", zap.Int("index", i), zap.Error(err))
			return nil, fmt.Errorf("%w after %d of %d: %w", ErrCanceled, i, total, err)
		}
		card := cards.NewCard(d, p, job.Institute, job.Event, now)
		card.Logo = logo
		card.Photo = cache.Resolve(ctx, p.PhotoURL)

		data, err := o.encode(card)
		if err == nil {
			err = asm.Add(i, names.next(p, i), data)
		}
		if err != nil {
			asm.Discard()
			rerr := &RecordError{Index: i, Name: p.DisplayName(), Err: err}
			log.Error("export failed", zap.Int("index", i), zap.Error(rerr))
			return nil, rerr
		}
		if o.obs != nil {
			o.obs.CardRendered(string(d.ID))
		}
		if progress != nil {
			progress(Progress{Current: i + 1, Total: total})
		}
	}

	out, err := asm.Finish()
	if err != nil {
		log.Error("export finalize failed", zap.Error(err))
		return nil, err
	}
	name := job.OutputName
	if name == "" {
		name = DefaultOutputName(d, job.Records, job.Event)
	}
	art := &Artifact{
		Name:        FileName(name, job.Format),
		ContentType: job.Format.ContentType(),
		Data:        out,
		Cards:       total,
		Pages:       asm.Pages(),
	}
	log.Info("export finished",
		zap.String("artifact", art.Name),
		zap.Int("bytes", len(out)),
		zap.Int("pages", art.Pages),
		zap.Int("distinct_assets", cache.Len()),
		zap.Duration("took", time.Since(start)),
	)
	return art, nil
}

func (o *Orchestrator) encode(c cards.Card) ([]byte, error) {
	img, err := o.raster.Rasterize(c)
	if err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}
	if img == nil {
		return nil, errors.New("rasterize: empty image")
	}
	return cards.EncodeJPEG(img, o.quality)
}

// Single describes a one-card download.
type Single struct {
	Person    records.Person
	Institute records.Institute
	Event     *records.AdmitEvent
	Template  string
	Format    Format
}

// ExportSingle renders one card as JPG, single-page PDF or HTML markup.
func (o *Orchestrator) ExportSingle(ctx context.Context, s Single) (*Artifact, error) {
	d, err := cards.Lookup(s.Template)
	if err != nil {
		return nil, err
	}
	card := cards.NewCard(d, s.Person, s.Institute, s.Event, o.now())
	card.Logo = o.assets.Resolve(ctx, s.Institute.LogoURL)
	card.Photo = o.assets.Resolve(ctx, s.Person.PhotoURL)
	name := SingleName(d, s.Person)

	var data []byte
	pages := 0
	switch s.Format {
	case HTML:
		markup, err := cards.Markup(card)
		if err != nil {
			return nil, err
		}
		data = []byte(markup)
	case JPG:
		if data, err = o.encode(card); err != nil {
			return nil, err
		}
	case PDF:
		jpeg, err := o.encode(card)
		if err != nil {
			return nil, err
		}
		asm := newPDFAssembler(d.Page)
		if err := asm.Add(0, name, jpeg); err != nil {
			asm.Discard()
			return nil, err
		}
		if data, err = asm.Finish(); err != nil {
			return nil, err
		}
		pages = asm.Pages()
	default:
		return nil, fmt.Errorf("%w for single card: %q", ErrUnsupportedFormat, s.Format)
	}
	if o.obs != nil {
		o.obs.CardRendered(string(d.ID))
	}
	return &Artifact{
		Name:        FileName(name, s.Format),
		ContentType: s.Format.ContentType(),
		Data:        data,
		Cards:       1,
		Pages:       pages,
	}, nil
}
