package http

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/geosot/gridindex/aggregate"
	"github.com/geosot/gridindex/config"
	apperrors "github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/filter"
	"github.com/geosot/gridindex/geo"
	"github.com/geosot/gridindex/geometry"
	"github.com/geosot/gridindex/gridcode"
	"github.com/geosot/gridindex/gridset"
	"github.com/geosot/gridindex/logging"
	"github.com/geosot/gridindex/store"
	"github.com/geosot/gridindex/validation"
)

// WKBContentType is the media type of geometry request bodies.
const WKBContentType = "application/wkb"

// Settings are the request defaults and limits of the service.
type Settings struct {
	// Extent is the rectangle index keys and filters are relative to.
	Extent           geo.Rect
	Filter           filter.Options
	CoverCells       int
	Aggregate        aggregate.Options
	MaxGeometryBytes int64
	// CellSetTTL expires saved cell sets; 0 keeps them.
	CellSetTTL time.Duration
	// CacheTTL expires cached aggregation results; 0 disables the cache.
	CacheTTL time.Duration
}

// DefaultSettings returns the settings of an unconfigured service.
func DefaultSettings() Settings {
	return Settings{
		Extent:           geo.RectFromCorners(-180, 90, 180, -90),
		Filter:           filter.DefaultOptions(),
		CoverCells:       filter.DefaultCoverCells,
		Aggregate:        aggregate.DefaultOptions(),
		MaxGeometryBytes: 4 << 20,
	}
}

// SettingsFromConfig maps the service configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	s.Filter = filter.Options{
		MaxLevel:  cfg.FilterMaxLevel,
		MaxNodes:  cfg.FilterMaxNodes,
		MaxTerms:  cfg.FilterMaxTerms,
		Threshold: cfg.FilterThreshold,
		Weights:   cfg.FilterWeights,
	}
	if len(s.Filter.Weights) == 0 {
		s.Filter.Weights = filter.DefaultWeights()
	}
	s.CoverCells = cfg.CoverCells
	s.Aggregate = aggregate.Options{
		LevelMin:         cfg.AggregateLevelMin,
		LevelMax:         cfg.AggregateLevelMax,
		DensityThreshold: cfg.DensityThreshold,
		MaxCells:         cfg.AggregateMaxCells,
		Timeout:          cfg.AggregateTimeout,
		Parallelism:      cfg.AggregateParallel,
	}
	if cfg.MaxGeometryBodySize > 0 {
		s.MaxGeometryBytes = cfg.MaxGeometryBodySize
	}
	s.CellSetTTL = cfg.CellSetTTL
	s.CacheTTL = cfg.AggregateCacheTTL
	return s
}

// Handler serves the grid operations.
type Handler struct {
	synth    *filter.Synthesizer
	agg      *aggregate.Aggregator
	stores   *store.Registry
	settings Settings
}

// NewHandler creates a Handler. A nil registry serves the stateless
// endpoints only; the storage endpoints answer 503.
func NewHandler(synth *filter.Synthesizer, agg *aggregate.Aggregator, stores *store.Registry, settings Settings) *Handler {
	if stores == nil {
		stores = &store.Registry{}
	}
	return &Handler{synth: synth, agg: agg, stores: stores, settings: settings}
}

// Encode returns the cell of a point.
func (h *Handler) Encode(w http.ResponseWriter, r *http.Request) {
	var req EncodeRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	if req.Height != nil {
		c, err := gridcode.Encode3D(req.Lon, req.Lat, *req.Height, req.Level)
		if err != nil {
			Error(w, r, err)
			return
		}
		resp, err := decode3D(c, req.Level)
		if err != nil {
			Error(w, r, err)
			return
		}
		OK(w, resp)
		return
	}

	if req.Level > gridcode.MaxTaggedLevel {
		Error(w, r, apperrors.InvalidLevel(req.Level, gridcode.MaxTaggedLevel))
		return
	}
	c, err := gridcode.Encode2D(req.Lon, req.Lat, req.Level)
	if err != nil {
		Error(w, r, err)
		return
	}
	OK(w, cellResponse(c))
}

// Decode describes the cell of a textual code.
func (h *Handler) Decode(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	op, err := parseOperand(req.Text)
	if err != nil {
		Error(w, r, err)
		return
	}
	switch v := op.(type) {
	case gridcode.Code2D:
		OK(w, cellResponse(v))
	case gridset.Cell3D:
		resp, err := decode3D(v.Code, v.Level)
		if err != nil {
			Error(w, r, err)
			return
		}
		OK(w, resp)
	}
}

// Truncate coarsens a textual code.
func (h *Handler) Truncate(w http.ResponseWriter, r *http.Request) {
	var req TruncateRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	op, err := parseOperand(req.Text)
	if err != nil {
		Error(w, r, err)
		return
	}
	switch v := op.(type) {
	case gridcode.Code2D:
		c, err := gridset.Truncate2D(v, req.Level)
		if err != nil {
			Error(w, r, err)
			return
		}
		OK(w, cellResponse(c))
	case gridset.Cell3D:
		c, err := gridset.Truncate3D(v.Code, v.Level, req.Level)
		if err != nil {
			Error(w, r, err)
			return
		}
		resp, err := decode3D(c, req.Level)
		if err != nil {
			Error(w, r, err)
			return
		}
		OK(w, resp)
	}
}

// Compare orders two textual codes of the same dimension.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	a, err := parseOperand(req.A)
	if err != nil {
		Error(w, r, err)
		return
	}
	b, err := parseOperand(req.B)
	if err != nil {
		Error(w, r, err)
		return
	}

	order, err := gridset.CompareAny(a, b)
	if err != nil {
		Error(w, r, err)
		return
	}
	setA, setB := asSet(a), asSet(b)
	overlap, err := gridset.OverlapAny(setA, setB)
	if err != nil {
		Error(w, r, err)
		return
	}
	spanOverlap, err := gridset.SpanOverlapAny(setA, setB)
	if err != nil {
		Error(w, r, err)
		return
	}
	OK(w, CompareResponse{Order: order, Overlap: overlap, SpanOverlap: spanOverlap})
}

// Filter synthesizes a key filter for a query rectangle and optionally
// runs it against the key index.
func (h *Handler) Filter(w http.ResponseWriter, r *http.Request) {
	extent := boundsOf(h.settings.Extent)
	opts := h.settings.Filter
	req := FilterRequest{Variant: filter.FewestTerms, Extent: &extent, Options: &opts}
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	ext := req.Extent.Rect()
	f, err := h.synth.Build(r.Context(), req.Variant, ext, req.Query.Rect(), *req.Options)
	if err != nil {
		Error(w, r, err)
		return
	}

	resp := FilterResponse{Variant: req.Variant, Terms: make([]QuadrantResponse, 0, len(f.Terms))}
	for _, t := range f.Terms {
		q, err := quadrantResponse(ext, t.Kind.String(), t.Code, t.Level, t.Coverage)
		if err != nil {
			Error(w, r, err)
			return
		}
		resp.Terms = append(resp.Terms, q)
	}
	resp.Where, resp.Args = f.SQL("key", 1)

	if req.Execute {
		index := h.stores.KeyIndex()
		if index == nil {
			Error(w, r, apperrors.Unavailable("no key index configured"))
			return
		}
		if ext != h.settings.Extent {
			Error(w, r, apperrors.Validation("only filters over the service extent can be executed"))
			return
		}
		hits, err := index.Query(r.Context(), f)
		if err != nil {
			Error(w, r, err)
			return
		}
		resp.Hits = make([]HitResponse, len(hits))
		for i, hit := range hits {
			resp.Hits[i] = HitResponse{ID: hit.ID, Exact: hit.Exact}
		}
	}
	OK(w, resp)
}

// Cover returns the coarse quadrant cover of a query rectangle.
func (h *Handler) Cover(w http.ResponseWriter, r *http.Request) {
	extent := boundsOf(h.settings.Extent)
	req := CoverRequest{Extent: &extent, MaxCells: h.settings.CoverCells}
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	ext := req.Extent.Rect()
	cover, err := filter.ComputeGeoHash(ext, req.Query.Rect(), req.MaxCells)
	if err != nil {
		Error(w, r, err)
		return
	}
	out := make([]QuadrantResponse, 0, len(cover))
	for _, q := range cover {
		qr, err := quadrantResponse(ext, "", q.Code, q.Level, q.Coverage)
		if err != nil {
			Error(w, r, err)
			return
		}
		out = append(out, qr)
	}
	OKWithMeta(w, out, &Meta{Count: len(out)})
}

// AddIndexEntries adds points to the key index.
func (h *Handler) AddIndexEntries(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}
	index := h.stores.KeyIndex()
	if index == nil {
		Error(w, r, apperrors.Unavailable("no key index configured"))
		return
	}

	entries := make([]store.Entry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entry, err := store.NewEntry(h.settings.Extent, e.ID, e.Lon, e.Lat)
		if err != nil {
			Error(w, r, err)
			return
		}
		entries = append(entries, entry)
	}
	if err := index.Add(r.Context(), entries...); err != nil {
		Error(w, r, err)
		return
	}
	Created(w, map[string]int{"added": len(entries)})
}

// Aggregate covers a WKB polygon with cells. Query parameters override the
// aggregation defaults; save=<name> stores the result as a cell set.
func (h *Handler) Aggregate(w http.ResponseWriter, r *http.Request) {
	opts, err := h.aggregateOptions(r)
	if err != nil {
		Error(w, r, err)
		return
	}
	name := r.URL.Query().Get("save")
	if name != "" && h.stores.Cells == nil {
		Error(w, r, apperrors.Unavailable("no cell store configured"))
		return
	}

	body, ok := h.readGeometry(w, r)
	if !ok {
		return
	}
	shape, err := geometry.FromWKB(body)
	if err != nil {
		Error(w, r, err)
		return
	}

	res, err := h.aggregate(w, r, body, shape, opts)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			err = apperrors.Timeout("request deadline reached before aggregation finished")
		}
		Error(w, r, err)
		return
	}

	if name != "" {
		if err := h.stores.Cells.Save(r.Context(), name, res.Cells, h.settings.CellSetTTL); err != nil {
			Error(w, r, err)
			return
		}
	}

	OKWithMeta(w, AggregateResponse{
		Cells:          setCells(res.Cells),
		LevelMin:       res.LevelMin,
		Rounds:         res.Rounds,
		PredicateCalls: res.PredicateCalls,
		Saved:          name,
	}, &Meta{Count: len(res.Cells)})
}

// aggregate runs the aggregation or answers it from the result cache. The
// X-Cache header reports which one happened.
func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request, body []byte, shape *geometry.Shape, opts aggregate.Options) (*aggregate.Result, error) {
	cache := h.stores.Results
	if cache == nil || h.settings.CacheTTL <= 0 {
		return h.agg.Run(r.Context(), shape, shape, opts)
	}

	logger := logging.FromContext(r.Context())
	key := store.ResultKey(body, opts)
	if b, err := cache.Get(r.Context(), key); err != nil {
		logger.WithError(err).Warn("aggregate cache lookup failed")
	} else if b != nil {
		res, err := store.UnmarshalResult(b)
		if err == nil {
			w.Header().Set("X-Cache", "hit")
			return res, nil
		}
		logger.WithError(err).Warn("discarding unreadable cached aggregate")
	}

	res, err := h.agg.Run(r.Context(), shape, shape, opts)
	if err != nil {
		return nil, err
	}
	w.Header().Set("X-Cache", "miss")
	if b, err := store.MarshalResult(res); err != nil {
		logger.WithError(err).Warn("failed to encode aggregate for cache")
	} else if err := cache.Set(r.Context(), key, b, h.settings.CacheTTL); err != nil {
		logger.WithError(err).Warn("failed to cache aggregate")
	}
	return res, nil
}

func (h *Handler) aggregateOptions(r *http.Request) (aggregate.Options, error) {
	opts := h.settings.Aggregate
	q := r.URL.Query()

	ints := []struct {
		key string
		dst *int
	}{
		{"level_min", &opts.LevelMin},
		{"level_max", &opts.LevelMax},
		{"max_cells", &opts.MaxCells},
		{"parallelism", &opts.Parallelism},
	}
	for _, p := range ints {
		if v := q.Get(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return opts, apperrors.BadRequest(fmt.Sprintf("%s must be an integer", p.key))
			}
			*p.dst = n
		}
	}
	if v := q.Get("density_threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, apperrors.BadRequest("density_threshold must be a number")
		}
		opts.DensityThreshold = f
	}
	if v := q.Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return opts, apperrors.BadRequest("timeout must be a duration such as 10s")
		}
		if h.settings.Aggregate.Timeout > 0 && (d <= 0 || d > h.settings.Aggregate.Timeout) {
			d = h.settings.Aggregate.Timeout
		}
		opts.Timeout = d
	}
	return opts, opts.Validate()
}

func (h *Handler) readGeometry(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != WKBContentType && mediaType != "application/octet-stream") {
			apperrors.WriteErrorWithStatus(w, http.StatusUnsupportedMediaType, apperrors.CodeBadRequest,
				"content type must be "+WKBContentType)
			return nil, false
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.settings.MaxGeometryBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			apperrors.WriteErrorWithStatus(w, http.StatusRequestEntityTooLarge, apperrors.CodeResourceExceeded,
				fmt.Sprintf("geometry larger than %d bytes", tooLarge.Limit))
			return nil, false
		}
		Error(w, r, apperrors.BadRequest("failed to read geometry body"))
		return nil, false
	}
	if len(body) == 0 {
		Error(w, r, apperrors.BadRequest("empty geometry body"))
		return nil, false
	}
	return body, true
}

// GetCellSet returns a stored cell set, as JSON or as binary records when
// the client accepts application/octet-stream. level=<n> downsamples it.
func (h *Handler) GetCellSet(w http.ResponseWriter, r *http.Request) {
	cells, ok := h.loadCellSet(w, r, chi.URLParam(r, "name"))
	if !ok {
		return
	}

	if v := r.URL.Query().Get("level"); v != "" {
		level, err := strconv.Atoi(v)
		if err != nil {
			Error(w, r, apperrors.BadRequest("level must be an integer"))
			return
		}
		if cells, err = gridset.Downsample2D(cells, level); err != nil {
			Error(w, r, err)
			return
		}
	}

	if strings.Contains(r.Header.Get("Accept"), "application/octet-stream") {
		buf, err := store.MarshalCells2D(cells)
		if err != nil {
			Error(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf)
		return
	}
	OKWithMeta(w, setCells(cells), &Meta{Count: len(cells)})
}

// PutCellSet stores a cell set sent as binary 2D records.
func (h *Handler) PutCellSet(w http.ResponseWriter, r *http.Request) {
	if h.stores.Cells == nil {
		Error(w, r, apperrors.Unavailable("no cell store configured"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.settings.MaxGeometryBytes))
	if err != nil {
		Error(w, r, apperrors.ResourceExceeded("cell set body too large"))
		return
	}
	cells, err := store.UnmarshalCells2D(body)
	if err != nil {
		Error(w, r, err)
		return
	}
	if err := h.stores.Cells.Save(r.Context(), chi.URLParam(r, "name"), cells, h.settings.CellSetTTL); err != nil {
		Error(w, r, err)
		return
	}
	NoContent(w)
}

// DeleteCellSet removes a stored cell set.
func (h *Handler) DeleteCellSet(w http.ResponseWriter, r *http.Request) {
	if h.stores.Cells == nil {
		Error(w, r, apperrors.Unavailable("no cell store configured"))
		return
	}
	if err := h.stores.Cells.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		Error(w, r, err)
		return
	}
	NoContent(w)
}

// RelateCellSets compares two stored cell sets.
func (h *Handler) RelateCellSets(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadCellSet(w, r, chi.URLParam(r, "name"))
	if !ok {
		return
	}
	b, ok := h.loadCellSet(w, r, chi.URLParam(r, "other"))
	if !ok {
		return
	}
	OK(w, RelateResponse{
		Overlap:     gridset.Overlap(a, b),
		SpanOverlap: gridset.SpanOverlap(a, b),
		Contains:    gridset.Contains(a, b),
	})
}

func (h *Handler) loadCellSet(w http.ResponseWriter, r *http.Request, name string) ([]gridset.Cell2D, bool) {
	if h.stores.Cells == nil {
		Error(w, r, apperrors.Unavailable("no cell store configured"))
		return nil, false
	}
	cells, err := h.stores.Cells.Load(r.Context(), name)
	if err != nil {
		Error(w, r, err)
		return nil, false
	}
	return cells, true
}

// parseOperand parses a textual code into a gridcode.Code2D or, when it
// has an altitude part, a gridset.Cell3D.
func parseOperand(text string) (any, error) {
	if strings.Contains(text, ",") {
		level, c, err := gridcode.TextToCode3D(text)
		if err != nil {
			return nil, err
		}
		return gridset.Cell3D{Code: c, Level: level}, nil
	}
	if !strings.HasPrefix(text, gridcode.TextPrefix) {
		return nil, apperrors.Validation(fmt.Sprintf("code %q must start with %s", text, gridcode.TextPrefix))
	}
	level, position, err := gridcode.TextToCode(text)
	if err != nil {
		return nil, err
	}
	if level > gridcode.MaxTaggedLevel {
		return nil, apperrors.InvalidLevel(level, gridcode.MaxTaggedLevel)
	}
	return gridcode.NewCode2D(position, level), nil
}

func asSet(op any) any {
	switch v := op.(type) {
	case gridcode.Code2D:
		return []gridset.Cell2D{gridset.NewCell2D(v)}
	case gridset.Cell3D:
		return []gridset.Cell3D{v}
	}
	return op
}

func decode3D(c gridcode.Code3D, level int) (CellResponse, error) {
	_, height, err := gridcode.Decode3D(c, level)
	if err != nil {
		return CellResponse{}, err
	}
	return cell3DResponse(c, level, height), nil
}
