package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/cart/cache"
	"github.com/fjod/go_cart/settlement-service/internal/cart/repository"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("settlement/cart")

// loadTimeout bounds a shared cart load.
const loadTimeout = 5 * time.Second

// ProductSource is the authoritative price list.
type ProductSource interface {
	GetProduct(ctx context.Context, itemID string, itemType domain.ItemType) (*domain.Product, error)
}

type StockSource interface {
	Available(ctx context.Context, itemID string, itemType domain.ItemType) (int, error)
}

type SyncRequest struct {
	OwnerID       string
	Lines         []domain.CartLine
	IsUpdate      bool
	ClientVersion string
}

type SyncResult struct {
	Lines   []domain.CartLine `json:"lines"`
	Version string            `json:"version"`
}

type Service struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	products ProductSource
	stock    StockSource
	metrics  *metrics.Metrics
	log      *zap.Logger
	sfg      singleflight.Group
	now      func() time.Time
}

func NewService(repo repository.CartRepository, c cache.CartCache, products ProductSource, stock StockSource, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    c,
		products: products,
		stock:    stock,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Sync applies a client's view of the cart. It never partially applies:
// every rejection leaves the stored cart untouched.
func (s *Service) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	ctx, span := tracer.Start(ctx, "cart.Sync")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", req.OwnerID), attribute.Bool("is_update", req.IsUpdate))

	res, err := s.sync(ctx, req)
	s.metrics.CartSyncs.WithLabelValues(syncOutcome(err)).Inc()
	return res, err
}

func (s *Service) sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if req.OwnerID == "" {
		return nil, domain.Validationf("owner id is required")
	}

	if len(req.Lines) == 0 {
		if err := s.repo.DeleteCart(ctx, req.OwnerID); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
			return nil, err
		}
		s.invalidateCache(req.OwnerID)
		return &SyncResult{Lines: []domain.CartLine{}, Version: domain.EmptyCartVersion}, nil
	}

	incoming, err := normalize(req.OwnerID, req.Lines)
	if err != nil {
		return nil, err
	}

	current, err := s.load(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	if req.ClientVersion != "" && !current.IsEmpty() && req.ClientVersion != current.Version() {
		return nil, s.staleConflict(ctx, current)
	}

	var next []domain.CartLine
	if req.IsUpdate {
		next = incoming
	} else {
		next = merge(current.Lines, incoming)
	}

	if family, attempted, ok := domain.CheckExclusiveFamily(next); !ok {
		return nil, &domain.ConflictError{
			Kind:            domain.ConflictExclusiveFamily,
			CurrentLines:    s.priceOrRaw(ctx, current.Lines),
			CurrentVersion:  current.Version(),
			CurrentFamily:   family,
			AttemptedFamily: attempted,
		}
	}

	if err := s.price(ctx, next, true); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	if !now.After(current.UpdatedAt) {
		now = current.UpdatedAt.Add(time.Millisecond)
	}
	updated := &domain.Cart{
		OwnerID:   req.OwnerID,
		Lines:     next,
		CreatedAt: current.CreatedAt,
		UpdatedAt: now,
	}
	for i := range updated.Lines {
		if updated.Lines[i].AddedAt.IsZero() {
			updated.Lines[i].AddedAt = now
		}
	}

	if err := s.repo.SaveCart(ctx, updated, current.UpdatedAt); err != nil {
		if errors.Is(err, repository.ErrStaleCart) {
			latest, loadErr := s.load(ctx, req.OwnerID)
			if loadErr != nil {
				return nil, loadErr
			}
			return nil, s.staleConflict(ctx, latest)
		}
		return nil, err
	}

	s.invalidateCache(req.OwnerID)
	return &SyncResult{Lines: updated.Lines, Version: updated.Version()}, nil
}

// GetCart returns the cart with every line priced from the catalog.
// Concurrent readers of one owner share a single load, which is detached
// from any one caller's cancellation.
func (s *Service) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(ownerID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		cart, err := s.cache.Get(ctx, ownerID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cart cache get failed", zap.String("owner_id", ownerID), zap.Error(err))
		}

		gen, genErr := s.cache.Generation(ctx, ownerID)
		cart, err = s.load(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if genErr != nil {
			s.log.Warn("cart cache generation failed", zap.String("owner_id", ownerID), zap.Error(genErr))
			return cart, nil
		}
		if !cart.IsEmpty() {
			s.fill(ownerID, gen, cart)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.(*domain.Cart)
	cart := *shared
	cart.Lines = make([]domain.CartLine, len(shared.Lines))
	copy(cart.Lines, shared.Lines)
	cart.Lines = s.priceOrRaw(ctx, cart.Lines)
	return &cart, nil
}

// fill caches a loaded cart in the background. A write or clear since gen
// makes the cache refuse it.
func (s *Service) fill(ownerID string, gen int64, cart *domain.Cart) {
	snapshot := *cart
	snapshot.Lines = append([]domain.CartLine(nil), cart.Lines...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		stored, err := s.cache.Fill(ctx, ownerID, gen, &snapshot)
		if err != nil {
			s.log.Warn("cart cache fill failed", zap.String("owner_id", ownerID), zap.Error(err))
			return
		}
		if !stored {
			s.log.Debug("stale cart fill refused", zap.String("owner_id", ownerID))
		}
	}()
}

// Lines returns the priced lines of the owner's cart. Pricing and quoting
// read the store of record, never the cache.
func (s *Service) Lines(ctx context.Context, ownerID string) ([]domain.CartLine, error) {
	cart, err := s.load(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.priceOrRaw(ctx, cart.Lines), nil
}

// ClearCart empties the cart unless it was modified after cutoff, so a
// late clear never wipes a cart the owner has started again.
func (s *Service) ClearCart(ctx context.Context, ownerID string, cutoff time.Time) (bool, error) {
	deleted, err := s.repo.DeleteCartIfUnchangedSince(ctx, ownerID, cutoff)
	if err != nil {
		return false, err
	}
	s.invalidateCache(ownerID)
	return deleted, nil
}

func (s *Service) load(ctx context.Context, ownerID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, ownerID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return &domain.Cart{OwnerID: ownerID, Lines: []domain.CartLine{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Service) staleConflict(ctx context.Context, current *domain.Cart) error {
	return &domain.ConflictError{
		Kind:           domain.ConflictStaleVersion,
		CurrentLines:   s.priceOrRaw(ctx, current.Lines),
		CurrentVersion: current.Version(),
		CurrentFamily:  current.ExclusiveFamily(),
	}
}

// price fills price, name and flags of each line from the catalog and, when
// checkStock is set, rejects quantities above the available stock.
func (s *Service) price(ctx context.Context, lines []domain.CartLine, checkStock bool) error {
	for i := range lines {
		l := &lines[i]
		p, err := s.products.GetProduct(ctx, l.ItemID, l.ItemType)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Validationf("unknown item %s %s", l.ItemType, l.ItemID)
		}
		if err != nil {
			return fmt.Errorf("load product %s: %w", l.ItemID, err)
		}
		if !p.Price.IsPositive() {
			return domain.Validationf("item %s %s has no price", l.ItemType, l.ItemID)
		}
		l.Name = p.Name
		l.UnitPrice = p.Price
		l.ListPrice = p.ListPrice
		l.ManualProcessing = p.ManualProcessing

		if !l.ItemType.TracksStock() {
			l.StockHint = nil
			continue
		}
		available, err := s.stock.Available(ctx, l.ItemID, l.ItemType)
		if err != nil {
			return fmt.Errorf("load stock %s: %w", l.ItemID, err)
		}
		l.StockHint = &available
		if checkStock && l.Quantity > available {
			return &domain.InsufficientStockError{
				ItemID:    l.ItemID,
				ItemType:  l.ItemType,
				Available: available,
				Requested: l.Quantity,
			}
		}
	}
	return nil
}

// priceOrRaw prices lines for display. A line whose product vanished keeps no
// price, which later fails the calculation instead of charging a stale amount.
func (s *Service) priceOrRaw(ctx context.Context, lines []domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, len(lines))
	copy(out, lines)
	for i := range out {
		single := out[i : i+1]
		if err := s.price(ctx, single, false); err != nil {
			s.log.Warn("cannot price cart line",
				zap.String("owner_id", out[i].OwnerID),
				zap.String("item_id", out[i].ItemID),
				zap.Error(err))
			out[i].Name = ""
			out[i].UnitPrice = decimal.Zero
		}
	}
	return out
}

func (s *Service) invalidateCache(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerID); err != nil {
		s.log.Warn("cart cache invalidate failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

// normalize validates incoming lines and folds duplicates of the same key.
func normalize(ownerID string, lines []domain.CartLine) ([]domain.CartLine, error) {
	index := make(map[domain.LineKey]int, len(lines))
	out := make([]domain.CartLine, 0, len(lines))
	for _, l := range lines {
		if l.ItemID == "" {
			return nil, domain.Validationf("cart line without item id")
		}
		if !l.ItemType.Valid() {
			return nil, domain.Validationf("cart line %s has unknown item type %q", l.ItemID, l.ItemType)
		}
		if l.Quantity <= 0 {
			return nil, domain.Validationf("cart line %s has quantity %d", l.ItemID, l.Quantity)
		}
		clean := domain.CartLine{OwnerID: ownerID, ItemID: l.ItemID, ItemType: l.ItemType, Quantity: l.Quantity}
		if i, ok := index[clean.Key()]; ok {
			out[i].Quantity += clean.Quantity
			continue
		}
		index[clean.Key()] = len(out)
		out = append(out, clean)
	}
	return out, nil
}

// merge adds incoming quantities onto the stored lines.
func merge(stored, incoming []domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(stored)+len(incoming))
	index := make(map[domain.LineKey]int, len(stored))
	for _, l := range stored {
		index[l.Key()] = len(out)
		out = append(out, l)
	}
	for _, l := range incoming {
		if i, ok := index[l.Key()]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.Key()] = len(out)
		out = append(out, l)
	}
	return out
}

func syncOutcome(err error) string {
	var conflict *domain.ConflictError
	var stock *domain.InsufficientStockError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &conflict):
		return string(conflict.Kind)
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
